package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tierci/internal/config"
	"github.com/ShayCichocki/tierci/internal/logging"
)

var (
	configPath   string
	pipelinePath string
	noColor      bool
	debugStderr  bool
)

var rootCmd = &cobra.Command{
	Use:   "tierci",
	Short: "Cost-aware tiered CI gating engine",
	Long: `tierci runs a pipeline of ordered verification tiers for each change
event. Cheap tiers run first; a tier only starts once every earlier tier
passed, so a failing lint never pays for the integration suite.

Each event is checked against the pipeline's eligibility rules, serialized
per branch, tag or change (a newer event supersedes an older one) and,
when the final tier succeeds on a publication ref, its artifacts are handed
to object storage or a release channel.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads configuration from --config or the standard locations,
// validates it and enables the debug log when configured.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if pipelinePath != "" {
		cfg.Pipeline.Path = pipelinePath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dl, err := debugLogger(cfg.Logging.DebugFile, debugStderr, os.Stderr)
	if err != nil {
		return nil, err
	}
	if dl != nil {
		logging.SetGlobal(dl)
	}
	return cfg, nil
}

// debugLogger picks the debug log destination. --debug sends it to stderr
// and wins over a configured file. Returns nil when debug logging is off.
func debugLogger(file string, toStderr bool, stderr io.Writer) (*logging.DebugLogger, error) {
	switch {
	case toStderr:
		return logging.NewWriterLogger(stderr), nil
	case file != "":
		dl, err := logging.NewDebugLogger(file)
		if err != nil {
			return nil, fmt.Errorf("open debug log: %w", err)
		}
		return dl, nil
	default:
		return nil, nil
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/tierci/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&pipelinePath, "pipeline", "p", "", "Pipeline definition file (.yaml, .hcl or .toml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debugStderr, "debug", false, "Write debug logging to stderr")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
