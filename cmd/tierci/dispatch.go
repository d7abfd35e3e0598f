package main

import (
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tierci/pkg/models"
)

var (
	dispatchRef string
	dispatchSHA string
	dispatchTUI bool
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <pipeline>",
	Short: "Run a pipeline manually",
	Long: `Run a pipeline as a manual event.

Manual runs ignore branch, tag and path filters; tiers restricted to other
event kinds are still skipped. Without --ref the pipeline's default branch
is used.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ev := models.Event{
			Kind:      models.EventManual,
			Ref:       dispatchRef,
			Pipeline:  args[0],
			CommitSHA: dispatchSHA,
		}
		return executeEvent(cfg, ev, dispatchTUI, true)
	},
}

func init() {
	dispatchCmd.Flags().StringVar(&dispatchRef, "ref", "", "Branch to run on (default: the pipeline's default branch)")
	dispatchCmd.Flags().StringVar(&dispatchSHA, "sha", "", "Commit SHA shown in the summary")
	dispatchCmd.Flags().BoolVar(&dispatchTUI, "tui", false, "Show live progress in a terminal UI")
}
