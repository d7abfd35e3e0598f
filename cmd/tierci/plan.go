package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tierci/internal/pipeline"
	"github.com/ShayCichocki/tierci/internal/trigger"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show which tiers and jobs an event would run",
	Long: `Evaluate an event against the pipeline without executing anything.

Takes the same event flags as 'tierci run'. Chained events (--upstream) are
resolved against the state database.

Examples:
  tierci plan --kind push --ref main --paths docs/README.md
  tierci plan --kind tag --ref v1.4.0`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&runEventFile, "event", "e", "", "Event descriptor file (YAML or JSON)")
	planCmd.Flags().StringVar(&runKind, "kind", "", "Event kind: push, proposed_change, tag, scheduled or manual")
	planCmd.Flags().StringVar(&runRef, "ref", "", "Branch, tag or proposed change number")
	planCmd.Flags().StringSliceVar(&runPaths, "paths", nil, "Changed paths, comma separated")
	planCmd.Flags().BoolVar(&runDraft, "draft", false, "Mark the proposed change as a draft")
	planCmd.Flags().StringVar(&runUpstream, "upstream", "", "ID of the finished run that chains into this one")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ev, err := eventFromFlags()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pcfg, err := pipeline.Load(cfg.Pipeline.Path)
	if err != nil {
		return err
	}

	eval := trigger.New(nil)
	if ev.UpstreamRunID != "" {
		db, err := openState(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		eval.Upstream = db
	}

	plan, err := eval.Evaluate(context.Background(), pcfg, ev)
	if err != nil {
		return err
	}
	writePlan(os.Stdout, pcfg, plan)
	return nil
}

// writePlan prints the eligibility decision for every tier and job.
func writePlan(w io.Writer, cfg *pipeline.Config, plan *trigger.Plan) {
	green := color.New(color.FgGreen).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(w, "%s  %s\n", bold(cfg.Name), plan.Trigger)
	fmt.Fprintf(w, "concurrency key: %s\n\n", plan.Trigger.ConcurrencyKey())

	for _, d := range plan.Tiers {
		if !d.Eligible {
			fmt.Fprintf(w, "%s %d. %s %s\n", dim("-"), d.Ordinal, d.Name, dim("("+d.Reason+")"))
			continue
		}
		runner := ""
		if tier, ok := cfg.Tier(d.Ordinal); ok {
			runner = string(tier.Runner)
		}
		fmt.Fprintf(w, "%s %d. %s %s\n", green("✓"), d.Ordinal, d.Name, dim("["+runner+"]"))
		for _, j := range d.Jobs {
			if j.Eligible {
				fmt.Fprintf(w, "    %s %s\n", green("✓"), j.Name)
			} else {
				fmt.Fprintf(w, "    %s %s %s\n", dim("-"), j.Name, dim("("+j.Reason+")"))
			}
		}
	}

	if plan.Skipped() {
		fmt.Fprintf(w, "\nNothing to run: %s\n", plan.SkipReason)
	}
}
