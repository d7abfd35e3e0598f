package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/tierci/internal/coordinator"
	"github.com/ShayCichocki/tierci/pkg/models"
)

// EventMsg wraps a coordinator event for the TUI.
type EventMsg struct {
	Event coordinator.Event
}

// RunDoneMsg signals that the run has its verdict, or failed to start.
type RunDoneMsg struct {
	Run *models.PipelineRun
	Err error
}

// DebugLogMsg is sent to add a debug message to the log.
type DebugLogMsg struct {
	Message string
}

// LogEntry is one line of the activity log.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// maxLogEntries bounds the activity log kept in memory.
const maxLogEntries = 200

// tierView is the display state of one tier.
type tierView struct {
	ordinal   int
	name      string
	running   bool
	aggregate models.TierAggregate
	reason    string
	jobs      []models.Job
}

func (t *tierView) upsert(job models.Job) {
	for i := range t.jobs {
		if t.jobs[i].ID == job.ID {
			t.jobs[i] = job
			return
		}
	}
	t.jobs = append(t.jobs, job)
}

// App is the bubbletea model for a single run.
type App struct {
	runID    string
	pipeline string
	trigger  string

	tiers []*tierView
	logs  []LogEntry

	spinner spinner.Model
	header  *Header
	footer  *Footer

	width  int
	height int

	quitting bool
	done     bool
	verdict  models.Verdict
	summary  string
	err      error

	mutedStyle lipgloss.Style
	nameStyle  lipgloss.Style
	errorStyle lipgloss.Style
}

// New creates a new App instance.
func New() *App {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))

	return &App{
		spinner:    s,
		header:     NewHeader(),
		footer:     NewFooter(),
		width:      80,
		height:     24,
		mutedStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
		nameStyle:  lipgloss.NewStyle().Bold(true),
		errorStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// NewProgram creates a Bubbletea program for the App. Events are delivered
// with Send, usually through Forward. A positive refresh sets the spinner
// frame interval.
func NewProgram(refresh time.Duration) (*tea.Program, *App) {
	app := New()
	if refresh > 0 {
		app.spinner.Spinner.FPS = refresh
	}
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}

// Forward converts coordinator events to TUI messages until events closes.
func Forward(p *tea.Program, events <-chan coordinator.Event) {
	for ev := range events {
		p.Send(EventMsg{Event: ev})
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.header.SetWidth(msg.Width)

	case spinner.TickMsg:
		if a.done {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.handleEvent(msg.Event)

	case RunDoneMsg:
		a.done = true
		a.err = msg.Err
		if msg.Run != nil {
			a.verdict = msg.Run.Verdict
			a.syncRun(msg.Run)
		}
		a.footer.SetDone(a.verdict, msg.Err)

	case DebugLogMsg:
		a.addLog("DEBUG", msg.Message, time.Now())
	}

	return a, nil
}

func (a *App) handleEvent(ev coordinator.Event) {
	switch ev.Type {
	case coordinator.EventRunStarted:
		a.runID = ev.RunID
		a.pipeline = ev.Pipeline
		a.trigger = ev.Trigger
		a.tiers = make([]*tierView, ev.TierCount)
		for i := range a.tiers {
			a.tiers[i] = &tierView{ordinal: i + 1}
		}
		a.header.Set(ev.Pipeline, ev.Trigger, ev.RunID)
		a.addLog("INFO", fmt.Sprintf("run %s started: %s", shortID(ev.RunID), ev.Trigger), ev.Timestamp)

	case coordinator.EventTierStarted:
		t := a.tier(ev.Tier, ev.TierName)
		t.running = true
		a.addLog("INFO", fmt.Sprintf("tier %d (%s) started", ev.Tier, ev.TierName), ev.Timestamp)

	case coordinator.EventJobUpdated:
		if ev.Job == nil {
			return
		}
		t := a.tier(ev.Tier, ev.TierName)
		t.upsert(*ev.Job)
		switch ev.Job.Result {
		case models.JobFailure, models.JobInfraError:
			a.addLog("ERROR", fmt.Sprintf("%s/%s %s: %s", ev.TierName, ev.Job.Name, ev.Job.Result, ev.Job.Detail), ev.Timestamp)
		case models.JobSuccess:
			a.addLog("INFO", fmt.Sprintf("%s/%s succeeded", ev.TierName, ev.Job.Name), ev.Timestamp)
		}

	case coordinator.EventTierFinished:
		t := a.tier(ev.Tier, ev.TierName)
		t.running = false
		t.aggregate = ev.Aggregate
		t.reason = ev.Message
		level := "INFO"
		if ev.Aggregate.Blocking() {
			level = "ERROR"
		}
		a.addLog(level, fmt.Sprintf("tier %d (%s) %s", ev.Tier, ev.TierName, ev.Aggregate), ev.Timestamp)

	case coordinator.EventArtifactsPublished:
		if ev.Publication != nil {
			kind := "published"
			if ev.Publication.Draft {
				kind = "staged as draft"
			}
			a.addLog("INFO", fmt.Sprintf("%d deliveries %s", len(ev.Publication.Deliveries), kind), ev.Timestamp)
		}

	case coordinator.EventRunFinished:
		a.done = true
		a.verdict = ev.Verdict
		a.summary = ev.Message
		a.footer.SetDone(ev.Verdict, nil)
		a.addLog("INFO", fmt.Sprintf("run finished: %s", ev.Verdict), ev.Timestamp)
	}
	a.footer.SetCounts(a.counts())
}

// tier returns the view for an ordinal, growing the list when events
// arrive before run_started.
func (a *App) tier(ordinal int, name string) *tierView {
	for len(a.tiers) < ordinal {
		a.tiers = append(a.tiers, &tierView{ordinal: len(a.tiers) + 1})
	}
	t := a.tiers[ordinal-1]
	if name != "" {
		t.name = name
	}
	return t
}

// syncRun fills tier results the event stream did not carry, such as
// tiers skipped without being dispatched.
func (a *App) syncRun(run *models.PipelineRun) {
	for _, res := range run.Tiers {
		t := a.tier(res.Tier, res.Name)
		t.running = false
		t.aggregate = res.Aggregate
		t.reason = res.Reason
		for _, j := range res.Jobs {
			t.upsert(j)
		}
	}
	a.footer.SetCounts(a.counts())
}

func (a *App) addLog(level, msg string, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	a.logs = append(a.logs, LogEntry{Timestamp: ts, Level: level, Message: msg})
	if len(a.logs) > maxLogEntries {
		a.logs = a.logs[len(a.logs)-maxLogEntries:]
	}
}

func (a *App) counts() JobCounts {
	var c JobCounts
	for _, t := range a.tiers {
		for _, j := range t.jobs {
			switch j.Result {
			case models.JobSuccess:
				c.Succeeded++
			case models.JobFailure, models.JobInfraError:
				c.Failed++
			case models.JobRunning:
				c.Running++
			}
		}
	}
	return c
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return "Goodbye!\n"
	}

	layout := CalculateLayout(a.height)
	sections := []string{
		a.header.View(),
		clip(a.viewTiers(), layout.TiersHeight),
		a.viewLogs(layout.LogHeight),
	}
	if a.done && a.err != nil {
		sections = append(sections, a.errorStyle.Render("error: "+a.err.Error()))
	}
	sections = append(sections, a.footer.View())
	return strings.Join(sections, "\n\n")
}

func (a *App) viewTiers() string {
	if len(a.tiers) == 0 {
		return a.mutedStyle.Render("Waiting for run to start...")
	}

	var b strings.Builder
	for _, t := range a.tiers {
		fmt.Fprintf(&b, "%s %s", a.tierIcon(t), a.nameStyle.Render(fmt.Sprintf("%d. %s", t.ordinal, t.name)))
		if t.aggregate != "" {
			fmt.Fprintf(&b, " %s", t.aggregate)
		}
		if t.reason != "" {
			b.WriteString(a.mutedStyle.Render(" (" + t.reason + ")"))
		}
		b.WriteString("\n")
		for _, j := range t.jobs {
			fmt.Fprintf(&b, "    %s %s", a.jobIcon(j.Result), j.Name)
			if j.Result.Terminal() && j.Detail != "" {
				b.WriteString(a.mutedStyle.Render(" " + j.Detail))
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) viewLogs(height int) string {
	if len(a.logs) == 0 {
		return a.mutedStyle.Render("No activity")
	}
	start := 0
	if len(a.logs) > height {
		start = len(a.logs) - height
	}
	var lines []string
	for _, e := range a.logs[start:] {
		line := fmt.Sprintf("%s [%s] %s", e.Timestamp.Format("15:04:05"), e.Level, e.Message)
		if e.Level == "ERROR" {
			line = a.errorStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (a *App) tierIcon(t *tierView) string {
	switch {
	case t.running:
		return a.spinner.View()
	case t.aggregate == models.TierSuccess:
		return "✓"
	case t.aggregate.Blocking():
		return "✗"
	case t.aggregate == models.TierSkipped:
		return "-"
	default:
		return "·"
	}
}

func (a *App) jobIcon(r models.JobResult) string {
	switch r {
	case models.JobRunning:
		return a.spinner.View()
	case models.JobSuccess:
		return "✓"
	case models.JobFailure:
		return "✗"
	case models.JobInfraError:
		return "⚠"
	case models.JobCanceled:
		return "⊘"
	case models.JobSkipped:
		return "-"
	default:
		return "·"
	}
}

// Summary returns the final run summary once the run has finished.
func (a *App) Summary() string {
	return a.summary
}

// Verdict returns the verdict shown, empty while the run is in flight.
func (a *App) Verdict() models.Verdict {
	return a.verdict
}

func clip(s string, lines int) string {
	parts := strings.Split(s, "\n")
	if len(parts) <= lines {
		return s
	}
	return strings.Join(parts[:lines-1], "\n") + fmt.Sprintf("\n... %d more", len(parts)-lines+1)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
