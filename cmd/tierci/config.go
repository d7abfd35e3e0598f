package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tierci/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify tierci configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Runner classes are addressed as runners.<class>.<field>, for example
runners.large.executor or runners.large.image.

Configuration is stored at ~/.config/tierci/config.yaml
Project-specific overrides can be placed in .tierci.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
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
			return fmt.Errorf("load config: %w", err)
		}

		switch len(args) {
		case 0:
			displayAllConfig(os.Stdout, cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		default:
			return setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "pipeline.path: %s\n", cfg.Pipeline.Path)
	fmt.Fprintf(w, "state.driver: %s\n", cfg.State.Driver)
	fmt.Fprintf(w, "state.dsn: %s (%s)\n", config.MaskDSN(cfg.State.DSN), config.GetDSNSource(cfg))
	fmt.Fprintf(w, "logging.debug_file: %s\n", cfg.Logging.DebugFile)
	fmt.Fprintf(w, "server.addr: %s\n", cfg.Server.Addr)
	fmt.Fprintf(w, "server.shutdown_timeout: %s\n", cfg.Server.ShutdownTimeout)
	for _, class := range cfg.RunnerClasses() {
		rc := cfg.Runners[class]
		fmt.Fprintf(w, "runners.%s.executor: %s\n", class, rc.Executor)
		if rc.Image != "" {
			fmt.Fprintf(w, "runners.%s.image: %s\n", class, rc.Image)
			fmt.Fprintf(w, "runners.%s.always_pull: %t\n", class, rc.AlwaysPull)
		}
		fmt.Fprintf(w, "runners.%s.cost: %d\n", class, rc.Cost)
	}
	fmt.Fprintf(w, "storage.object_store.region: %s\n", cfg.Storage.ObjectStore.Region)
	fmt.Fprintf(w, "storage.object_store.profile: %s\n", cfg.Storage.ObjectStore.Profile)
	fmt.Fprintf(w, "storage.object_store.endpoint: %s\n", cfg.Storage.ObjectStore.Endpoint)
	fmt.Fprintf(w, "storage.object_store.path_style: %t\n", cfg.Storage.ObjectStore.PathStyle)
	fmt.Fprintf(w, "storage.release_root: %s\n", cfg.Storage.ReleaseRoot)
	fmt.Fprintf(w, "logs.dir: %s\n", cfg.Logs.Dir)
	fmt.Fprintf(w, "tui.refresh_rate: %s\n", cfg.TUI.RefreshRate)
	fmt.Fprintf(w, "workdir: %s\n", cfg.WorkDir)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) error {
	if err := setConfigValue(cfg, key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var err error
	if configPath != "" {
		err = config.SaveTo(cfg, configPath)
	} else {
		err = config.Save(cfg)
	}
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	key = strings.ToLower(key)
	if class, field, ok := runnerKey(key); ok {
		rc, exists := cfg.Runners[class]
		if !exists {
			return "", fmt.Errorf("unknown runner class: %s", class)
		}
		switch field {
		case "executor":
			return rc.Executor, nil
		case "image":
			return rc.Image, nil
		case "always_pull":
			return strconv.FormatBool(rc.AlwaysPull), nil
		case "cost":
			return strconv.Itoa(rc.Cost), nil
		}
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}

	switch key {
	case "pipeline.path":
		return cfg.Pipeline.Path, nil
	case "state.driver":
		return cfg.State.Driver, nil
	case "state.dsn":
		return config.MaskDSN(cfg.State.DSN), nil
	case "logging.debug_file":
		return cfg.Logging.DebugFile, nil
	case "server.addr":
		return cfg.Server.Addr, nil
	case "server.shutdown_timeout":
		return cfg.Server.ShutdownTimeout.String(), nil
	case "storage.object_store.region":
		return cfg.Storage.ObjectStore.Region, nil
	case "storage.object_store.profile":
		return cfg.Storage.ObjectStore.Profile, nil
	case "storage.object_store.endpoint":
		return cfg.Storage.ObjectStore.Endpoint, nil
	case "storage.object_store.path_style":
		return strconv.FormatBool(cfg.Storage.ObjectStore.PathStyle), nil
	case "storage.release_root":
		return cfg.Storage.ReleaseRoot, nil
	case "logs.dir":
		return cfg.Logs.Dir, nil
	case "tui.refresh_rate":
		return cfg.TUI.RefreshRate.String(), nil
	case "workdir":
		return cfg.WorkDir, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	key = strings.ToLower(key)
	if class, field, ok := runnerKey(key); ok {
		if cfg.Runners == nil {
			cfg.Runners = make(map[string]config.RunnerConfig)
		}
		rc := cfg.Runners[class]
		switch field {
		case "executor":
			rc.Executor = value
		case "image":
			rc.Image = value
		case "always_pull":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid boolean for %s: %w", key, err)
			}
			rc.AlwaysPull = b
		case "cost":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			rc.Cost = n
		default:
			return fmt.Errorf("unknown configuration key: %s", key)
		}
		cfg.Runners[class] = rc
		return nil
	}

	switch key {
	case "pipeline.path":
		cfg.Pipeline.Path = value
	case "state.driver":
		cfg.State.Driver = value
	case "state.dsn":
		cfg.State.DSN = value
	case "logging.debug_file":
		cfg.Logging.DebugFile = value
	case "server.addr":
		cfg.Server.Addr = value
	case "server.shutdown_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for server.shutdown_timeout: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	case "storage.object_store.region":
		cfg.Storage.ObjectStore.Region = value
	case "storage.object_store.profile":
		cfg.Storage.ObjectStore.Profile = value
	case "storage.object_store.endpoint":
		cfg.Storage.ObjectStore.Endpoint = value
	case "storage.object_store.path_style":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for storage.object_store.path_style: %w", err)
		}
		cfg.Storage.ObjectStore.PathStyle = b
	case "storage.release_root":
		cfg.Storage.ReleaseRoot = value
	case "logs.dir":
		cfg.Logs.Dir = value
	case "tui.refresh_rate":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for refresh_rate: %w", err)
		}
		cfg.TUI.RefreshRate = d
	case "workdir":
		cfg.WorkDir = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

// runnerKey splits "runners.<class>.<field>".
func runnerKey(key string) (class, field string, ok bool) {
	parts := strings.Split(key, ".")
	if len(parts) != 3 || parts[0] != "runners" || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
