package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tierci/internal/pipeline"
)

var errInvalidPipeline = errors.New("invalid pipeline definition")

var validateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Check pipeline definitions",
	Long: `Load pipeline definitions and report errors.

Without arguments the configured pipeline is checked. Files may be YAML,
HCL or TOML; the format is chosen by extension.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := args
		if len(paths) == 0 {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			paths = []string{cfg.Pipeline.Path}
		}
		if !validateFiles(os.Stdout, paths) {
			return errInvalidPipeline
		}
		return nil
	},
}

// validateFiles reports on each file and returns false if any is invalid.
func validateFiles(w io.Writer, paths []string) bool {
	ok := true
	for _, path := range paths {
		cfg, err := pipeline.Load(path)
		if err != nil {
			ok = false
			fmt.Fprintf(w, "%s %s: %v\n", color.RedString("✗"), path, err)
			continue
		}
		jobs := 0
		for _, t := range cfg.Tiers {
			jobs += len(t.Jobs)
		}
		fmt.Fprintf(w, "%s %s: pipeline %s, %d tiers, %d jobs\n",
			color.GreenString("✓"), path, cfg.Name, len(cfg.Tiers), jobs)
	}
	return ok
}
