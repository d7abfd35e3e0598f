package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tierci/internal/publish"
	"github.com/ShayCichocki/tierci/internal/state"
	"github.com/ShayCichocki/tierci/pkg/models"
)

var (
	statusPipeline string
	statusVerdict  string
	statusRef      string
	statusLimit    int
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show recorded runs",
	Long: `Show runs recorded in the state database.

With a run ID, prints that run's summary: every tier, every job and the
publication outcome. Without one, lists recent runs, newest first.

Examples:
  tierci status
  tierci status --verdict failed --limit 5
  tierci status 3f2c9a1e-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPipeline, "pipeline-name", "", "Only runs of this pipeline")
	statusCmd.Flags().StringVar(&statusVerdict, "verdict", "", "Only runs with this verdict")
	statusCmd.Flags().StringVar(&statusRef, "ref", "", "Only runs for this branch, tag or change")
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 20, "Maximum number of runs to list")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openState(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()

	if len(args) == 1 {
		run, err := db.GetRun(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get run: %w", err)
		}
		if run == nil {
			return fmt.Errorf("run %s not found", args[0])
		}
		publish.RenderSummary(os.Stdout, run)
		return nil
	}

	runs, err := db.ListRuns(ctx, state.RunFilter{
		Pipeline: statusPipeline,
		Verdict:  models.Verdict(statusVerdict),
		Ref:      statusRef,
		Limit:    statusLimit,
	})
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded. Run 'tierci run --kind push --ref main' to start.")
		return nil
	}
	displayRuns(os.Stdout, runs, time.Now())
	return nil
}

// displayRuns prints one line per run.
func displayRuns(w io.Writer, runs []models.PipelineRun, now time.Time) {
	for _, r := range runs {
		line := fmt.Sprintf("%s  %-10s  %-24s  %s ago",
			shortRunID(r.ID), verdictLabel(r.Verdict), r.Trigger.String(), formatDuration(now.Sub(r.CreatedAt)))
		if r.FinishedAt != nil {
			line += fmt.Sprintf(", took %s", formatDuration(r.FinishedAt.Sub(r.CreatedAt)))
		}
		if r.FailedTier > 0 {
			name := fmt.Sprintf("tier %d", r.FailedTier)
			if t, ok := r.Tier(r.FailedTier); ok && t.Name != "" {
				name = t.Name
			}
			line += fmt.Sprintf(" (failed at %s)", name)
		}
		fmt.Fprintln(w, line)
	}
}

func verdictLabel(v models.Verdict) string {
	s := fmt.Sprintf("%-10s", v)
	switch v {
	case models.VerdictSucceeded:
		return color.GreenString(s)
	case models.VerdictFailed:
		return color.RedString(s)
	case models.VerdictRunning, models.VerdictPending:
		return color.YellowString(s)
	default:
		return s
	}
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
