package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Header renders the title bar with the run being shown.
type Header struct {
	width    int
	pipeline string
	trigger  string
	runID    string

	titleStyle lipgloss.Style
	infoStyle  lipgloss.Style
	sepStyle   lipgloss.Style
}

// NewHeader creates a new Header.
func NewHeader() *Header {
	return &Header{
		width: 80,
		titleStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true),
		infoStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		sepStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("236")),
	}
}

// SetWidth sets the header width.
func (h *Header) SetWidth(width int) {
	h.width = width
}

// Set records the run shown in the title bar.
func (h *Header) Set(pipeline, trigger, runID string) {
	h.pipeline = pipeline
	h.trigger = trigger
	h.runID = runID
}

// View renders the header.
func (h *Header) View() string {
	sep := h.sepStyle.Render(" │ ")
	line := h.titleStyle.Render("tierci")
	if h.pipeline != "" {
		line += sep + h.infoStyle.Render(h.pipeline)
	}
	if h.trigger != "" {
		line += sep + h.infoStyle.Render(h.trigger)
	}
	if h.runID != "" {
		line += sep + h.infoStyle.Render(shortID(h.runID))
	}
	return lipgloss.NewStyle().
		Width(h.width).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(lipgloss.Color("240")).
		Render(line)
}
