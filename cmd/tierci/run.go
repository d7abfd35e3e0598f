package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tierci/internal/config"
	"github.com/ShayCichocki/tierci/internal/coordinator"
	"github.com/ShayCichocki/tierci/internal/git"
	"github.com/ShayCichocki/tierci/internal/logging"
	"github.com/ShayCichocki/tierci/internal/pipeline"
	"github.com/ShayCichocki/tierci/internal/publish"
	"github.com/ShayCichocki/tierci/internal/trigger"
	"github.com/ShayCichocki/tierci/pkg/models"
)

var (
	errRunFailed     = errors.New("run failed")
	errRunSuperseded = errors.New("run superseded")
)

var (
	runEventFile string
	runKind      string
	runRef       string
	runPaths     []string
	runDraft     bool
	runUpstream  string
	runSHA       string
	runTUI       bool
	runNoState   bool
	runDiffBase  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline for one change event",
	Long: `Run the pipeline for a change event and wait for its verdict.

The event is read from a YAML or JSON file (--event) or built from flags:

  tierci run --kind push --ref main --paths cmd/main.go,go.mod
  tierci run --kind proposed_change --ref 42 --draft
  tierci run --kind tag --ref v1.4.0
  tierci run --event event.yaml --tui
  tierci run --kind push --diff-base origin/main

With --diff-base, anything the flags leave out is read from the git checkout
in workdir: the ref from the current branch (or tag), the commit SHA from
HEAD and the changed paths from the diff against the base.

Exit status is non-zero when the run fails or is superseded. Skipped runs
(nothing eligible) succeed.`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVarP(&runEventFile, "event", "e", "", "Event descriptor file (YAML or JSON)")
	runCmd.Flags().StringVar(&runKind, "kind", "", "Event kind: push, proposed_change, tag, scheduled or manual")
	runCmd.Flags().StringVar(&runRef, "ref", "", "Branch, tag or proposed change number")
	runCmd.Flags().StringSliceVar(&runPaths, "paths", nil, "Changed paths, comma separated")
	runCmd.Flags().BoolVar(&runDraft, "draft", false, "Mark the proposed change as a draft")
	runCmd.Flags().StringVar(&runUpstream, "upstream", "", "ID of the finished run that chains into this one")
	runCmd.Flags().StringVar(&runSHA, "sha", "", "Commit SHA shown in the summary")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show live progress in a terminal UI")
	runCmd.Flags().BoolVar(&runNoState, "no-state", false, "Do not record the run in the state database")
	runCmd.Flags().StringVar(&runDiffBase, "diff-base", "", "Fill ref, SHA and changed paths from the git checkout, diffing against this ref")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ev, err := eventFromFlags()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runDiffBase != "" {
		if err := fillFromCheckout(&ev, git.NewRunner(cfg.WorkDir), runDiffBase); err != nil {
			return err
		}
	}
	return executeEvent(cfg, ev, runTUI, !runNoState)
}

// eventFromFlags builds the event from --event or the individual flags.
func eventFromFlags() (models.Event, error) {
	if runEventFile != "" {
		if runKind != "" || runRef != "" {
			return models.Event{}, errors.New("--event cannot be combined with --kind or --ref")
		}
		return trigger.LoadEvent(runEventFile)
	}
	if runKind == "" {
		return models.Event{}, errors.New("either --event or --kind is required")
	}
	kind, err := models.ParseEventKind(runKind)
	if err != nil {
		return models.Event{}, err
	}
	return models.Event{
		Kind:          kind,
		Ref:           runRef,
		ChangedPaths:  runPaths,
		Draft:         runDraft,
		UpstreamRunID: runUpstream,
		CommitSHA:     runSHA,
	}, nil
}

// fillFromCheckout completes an event from the local checkout. Fields that
// were set explicitly are kept.
func fillFromCheckout(ev *models.Event, g git.Inspector, base string) error {
	if ev.Ref == "" {
		switch ev.Kind {
		case models.EventTag:
			tag, err := g.ExactTag()
			if err != nil {
				return err
			}
			if tag == "" {
				return errors.New("no tag points at HEAD; pass --ref")
			}
			ev.Ref = tag
		case models.EventProposedChange:
			return errors.New("proposed changes need --ref with the change number")
		default:
			branch, err := g.CurrentBranch()
			if err != nil {
				return err
			}
			if branch == "HEAD" {
				return errors.New("detached HEAD; pass --ref")
			}
			ev.Ref = branch
		}
	}

	if ev.CommitSHA == "" {
		sha, err := g.HeadSHA()
		if err != nil {
			return err
		}
		ev.CommitSHA = sha
	}

	if len(ev.ChangedPaths) == 0 && ev.Kind != models.EventTag {
		paths, err := g.ChangedFilesRelative("HEAD", base)
		if err != nil {
			return fmt.Errorf("diff against %s: %w", base, err)
		}
		ev.ChangedPaths = paths
	}
	return nil
}

// executeEvent runs one event to completion in this process.
func executeEvent(cfg *config.Config, ev models.Event, useTUI, useState bool) error {
	pcfg, err := pipeline.Load(cfg.Pipeline.Path)
	if err != nil {
		return err
	}
	pool, err := buildPool(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []coordinator.Option{coordinator.WithPublisher(buildPublisher(ctx, cfg))}
	if useState {
		db, err := openState(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, coordinator.WithStore(db), coordinator.WithUpstream(db))
	}

	var emitter *coordinator.EventEmitter
	if useTUI {
		emitter = coordinator.NewEventEmitter(256)
		opts = append(opts, coordinator.WithEmitter(emitter))
	} else {
		opts = append(opts, coordinator.WithSummaryWriter(os.Stdout))
	}

	coord := coordinator.New(pipeline.Static{Config: pcfg}, pool, opts...)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := coord.Shutdown(shutdownCtx); err != nil {
			logging.Debugf("[run] shutdown: %v", err)
		}
		if emitter != nil {
			emitter.Close()
		}
	}()

	var run *models.PipelineRun
	if useTUI {
		run, err = runWithTUI(ctx, coord, emitter, ev, cfg.TUI.RefreshRate)
		if run != nil {
			publish.RenderSummary(os.Stdout, run)
		}
	} else {
		run, err = runHeadless(ctx, coord, ev)
	}
	if err != nil {
		return err
	}
	return verdictError(run)
}

// runHeadless waits for the verdict. An interrupt supersedes the run
// instead of abandoning it, so its jobs are canceled and recorded.
func runHeadless(ctx context.Context, coord *coordinator.Coordinator, ev models.Event) (*models.PipelineRun, error) {
	h, err := coord.Start(ctx, ev)
	if err != nil {
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nInterrupted, canceling run...")
			_ = coord.Cancel(h.RunID())
		case <-h.Done():
		}
	}()

	return h.Wait(context.Background())
}

// verdictError maps a verdict to the command's exit status.
func verdictError(run *models.PipelineRun) error {
	switch run.Verdict {
	case models.VerdictSucceeded, models.VerdictSkipped:
		return nil
	case models.VerdictFailed:
		return fmt.Errorf("%w at tier %d", errRunFailed, run.FailedTier)
	case models.VerdictSuperseded:
		return errRunSuperseded
	default:
		return fmt.Errorf("run ended with verdict %s", run.Verdict)
	}
}
