package publish

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ShayCichocki/tierci/pkg/models"
)

// infraHint is appended to infra_error jobs: the fix is a retry, not a code change.
const infraHint = "infrastructure problem: retry, not fix"

// Summarize renders a plain-text status for a run. A failed run always
// names its earliest failing tier and that tier's failing jobs.
func Summarize(run *models.PipelineRun) string {
	var b strings.Builder
	writeSummary(&b, run, plain{})
	return b.String()
}

// RenderSummary writes a colored status for terminals.
func RenderSummary(w io.Writer, run *models.PipelineRun) {
	writeSummary(w, run, colored{})
}

// styler decorates summary fragments.
type styler interface {
	verdict(v models.Verdict) string
	job(r models.JobResult) string
	dim(s string) string
}

type plain struct{}

func (plain) verdict(v models.Verdict) string { return strings.ToUpper(string(v)) }
func (plain) job(r models.JobResult) string   { return string(r) }
func (plain) dim(s string) string             { return s }

type colored struct{}

func (colored) verdict(v models.Verdict) string {
	s := strings.ToUpper(string(v))
	switch v {
	case models.VerdictSucceeded:
		return color.GreenString(s)
	case models.VerdictFailed:
		return color.RedString(s)
	case models.VerdictSuperseded, models.VerdictSkipped:
		return color.YellowString(s)
	default:
		return color.CyanString(s)
	}
}

func (colored) job(r models.JobResult) string {
	switch r {
	case models.JobSuccess:
		return color.GreenString(string(r))
	case models.JobFailure:
		return color.RedString(string(r))
	case models.JobInfraError:
		return color.MagentaString(string(r))
	case models.JobCanceled, models.JobSkipped:
		return color.YellowString(string(r))
	default:
		return color.CyanString(string(r))
	}
}

func (colored) dim(s string) string {
	return color.New(color.Faint).Sprint(s)
}

func writeSummary(w io.Writer, run *models.PipelineRun, st styler) {
	fmt.Fprintf(w, "Run %s [%s] %s: %s\n", run.ID, run.Trigger.Pipeline, run.Trigger, st.verdict(run.Verdict))
	if run.Trigger.CommitSHA != "" {
		fmt.Fprintf(w, "Commit: %s\n", run.Trigger.CommitSHA)
	}

	if run.FailedTier > 0 {
		if tier, ok := run.Tier(run.FailedTier); ok {
			fmt.Fprintf(w, "\nFailed at tier %d (%s): %s\n", tier.Tier, tier.Name, tier.Aggregate)
			for _, j := range tier.FailedJobs() {
				fmt.Fprintf(w, "  x %s: %s", j.Name, st.job(j.Result))
				if j.Detail != "" {
					fmt.Fprintf(w, " (%s)", j.Detail)
				}
				fmt.Fprintln(w)
				if j.LogURL != "" {
					fmt.Fprintf(w, "    log: %s\n", j.LogURL)
				}
				if j.Result == models.JobInfraError {
					fmt.Fprintf(w, "    %s\n", st.dim(infraHint))
				}
			}
		}
	}

	if len(run.Tiers) > 0 {
		fmt.Fprintln(w, "\nTiers:")
	}
	for _, t := range run.Tiers {
		line := fmt.Sprintf("  %d %-14s %s", t.Tier, t.Name, t.Aggregate)
		if t.Reason != "" {
			line += st.dim(" (" + t.Reason + ")")
		}
		if n := len(t.Jobs); n > 0 {
			line += st.dim(fmt.Sprintf(" [%d jobs]", n))
		}
		fmt.Fprintln(w, line)
	}

	if p := run.Publication; p != nil {
		mode := "published"
		if p.Draft {
			mode = "staged as draft"
		}
		fmt.Fprintf(w, "\nArtifacts %s:\n", mode)
		for _, d := range p.Deliveries {
			if d.Error != "" {
				fmt.Fprintf(w, "  x %s -> %s: %s\n", d.Artifact, d.Target.Destination, d.Error)
				continue
			}
			fmt.Fprintf(w, "  - %s -> %s\n", d.Artifact, d.Location)
		}
	}
}
