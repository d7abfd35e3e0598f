package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/tierci/pkg/models"
)

// JobCounts holds the number of jobs in each state shown in the footer.
type JobCounts struct {
	Succeeded int
	Failed    int
	Running   int
}

// Footer renders the status bar and keyboard hints.
type Footer struct {
	counts  JobCounts
	done    bool
	verdict models.Verdict
	err     error

	successStyle   lipgloss.Style
	errorStyle     lipgloss.Style
	warnStyle      lipgloss.Style
	hintStyle      lipgloss.Style
	separatorStyle lipgloss.Style
}

// NewFooter creates a new Footer instance.
func NewFooter() *Footer {
	return &Footer{
		successStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")).
			Bold(true),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		warnStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		separatorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("236")),
	}
}

// SetCounts updates the job counts for display.
func (f *Footer) SetCounts(c JobCounts) {
	f.counts = c
}

// SetDone marks the run as finished.
func (f *Footer) SetDone(verdict models.Verdict, err error) {
	f.done = true
	f.verdict = verdict
	f.err = err
}

// View renders the footer.
func (f *Footer) View() string {
	left := fmt.Sprintf("✓%d", f.counts.Succeeded)
	if f.counts.Failed > 0 {
		left += f.errorStyle.Render(fmt.Sprintf(" ✗%d", f.counts.Failed))
	}
	if f.counts.Running > 0 {
		left += fmt.Sprintf(" ⏳%d", f.counts.Running)
	}

	if f.done {
		switch {
		case f.err != nil:
			left = f.errorStyle.Render("✗ run could not start")
		case f.verdict == models.VerdictSucceeded:
			left += " " + f.successStyle.Render("✓ "+string(f.verdict))
		case f.verdict == models.VerdictFailed:
			left += " " + f.errorStyle.Render("✗ "+string(f.verdict))
		default:
			left += " " + f.warnStyle.Render("- "+string(f.verdict))
		}
	}

	hint := "q quit"
	if f.done {
		hint = "Press q to exit"
	}
	return left + f.separatorStyle.Render(" │ ") + f.hintStyle.Render(hint)
}
