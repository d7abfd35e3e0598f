// Package config handles configuration loading and management for tierci.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/tierci/pkg/models"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Executor kinds a runner class can use.
const (
	ExecutorLocal  = "local"
	ExecutorDocker = "docker"
)

// Config holds all configuration for tierci.
type Config struct {
	Pipeline PipelineConfig          `mapstructure:"pipeline"`
	State    StateConfig             `mapstructure:"state"`
	Logging  LoggingConfig           `mapstructure:"logging"`
	Server   ServerConfig            `mapstructure:"server"`
	Runners  map[string]RunnerConfig `mapstructure:"runners"`
	Storage  StorageConfig           `mapstructure:"storage"`
	Logs     LogsConfig              `mapstructure:"logs"`
	TUI      TUIConfig               `mapstructure:"tui"`
	// WorkDir is the checkout jobs run in and artifacts are resolved against.
	WorkDir string `mapstructure:"workdir"`
}

// PipelineConfig locates the pipeline definition.
type PipelineConfig struct {
	Path string `mapstructure:"path"`
}

// StateConfig selects the run history database.
type StateConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// DebugFile enables the debug log when set.
	DebugFile string `mapstructure:"debug_file"`
}

// ServerConfig holds HTTP ingress settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RunnerConfig binds a runner class to an executor.
type RunnerConfig struct {
	Executor string `mapstructure:"executor"`
	// Image is required for docker executors.
	Image      string `mapstructure:"image"`
	AlwaysPull bool   `mapstructure:"always_pull"`
	// Cost is the relative cost of the class, used for display.
	Cost int `mapstructure:"cost"`
}

// StorageConfig holds artifact storage settings.
type StorageConfig struct {
	ObjectStore ObjectStoreConfig `mapstructure:"object_store"`
	ReleaseRoot string            `mapstructure:"release_root"`
}

// ObjectStoreConfig holds S3 settings. Credentials come from the standard
// AWS chain.
type ObjectStoreConfig struct {
	Region    string `mapstructure:"region"`
	Profile   string `mapstructure:"profile"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

// LogsConfig holds job log settings.
type LogsConfig struct {
	Dir string `mapstructure:"dir"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (TIERCI_*, DATABASE_URL for state.dsn)
// 2. Project config (.tierci.yaml in current directory or parent)
// 3. User config (~/.config/tierci/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TIERCI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("state.dsn", "TIERCI_STATE_DSN", "DATABASE_URL")
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.State.DSN = os.ExpandEnv(cfg.State.DSN)
	cfg.Logging.DebugFile = expandPath(cfg.Logging.DebugFile)
	cfg.Logs.Dir = expandPath(cfg.Logs.Dir)
	cfg.Storage.ReleaseRoot = expandPath(cfg.Storage.ReleaseRoot)
	if cfg.State.Driver != "postgres" {
		cfg.State.DSN = expandPath(cfg.State.DSN)
	}
	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveTo(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveTo writes the configuration to path.
func SaveTo(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	v.Set("pipeline.path", cfg.Pipeline.Path)
	v.Set("state.driver", cfg.State.Driver)
	v.Set("state.dsn", cfg.State.DSN)
	v.Set("logging.debug_file", cfg.Logging.DebugFile)
	v.Set("server.addr", cfg.Server.Addr)
	v.Set("server.shutdown_timeout", cfg.Server.ShutdownTimeout.String())
	for class, rc := range cfg.Runners {
		v.Set("runners."+class+".executor", rc.Executor)
		v.Set("runners."+class+".image", rc.Image)
		v.Set("runners."+class+".always_pull", rc.AlwaysPull)
		v.Set("runners."+class+".cost", rc.Cost)
	}
	v.Set("storage.object_store.region", cfg.Storage.ObjectStore.Region)
	v.Set("storage.object_store.profile", cfg.Storage.ObjectStore.Profile)
	v.Set("storage.object_store.endpoint", cfg.Storage.ObjectStore.Endpoint)
	v.Set("storage.object_store.path_style", cfg.Storage.ObjectStore.PathStyle)
	v.Set("storage.release_root", cfg.Storage.ReleaseRoot)
	v.Set("logs.dir", cfg.Logs.Dir)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())
	v.Set("workdir", cfg.WorkDir)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// Validate checks the configuration for values tierci cannot run with.
func (c *Config) Validate() error {
	switch c.State.Driver {
	case "sqlite", "sqlite3", "postgres":
	default:
		return fmt.Errorf("%w: state.driver %q must be sqlite, sqlite3 or postgres", ErrInvalidConfig, c.State.Driver)
	}
	if c.State.DSN == "" {
		return fmt.Errorf("%w: state.dsn is empty", ErrInvalidConfig)
	}
	if c.Pipeline.Path == "" {
		return fmt.Errorf("%w: pipeline.path is empty", ErrInvalidConfig)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is empty", ErrInvalidConfig)
	}
	if len(c.Runners) == 0 {
		return fmt.Errorf("%w: no runners configured", ErrInvalidConfig)
	}
	for _, class := range c.RunnerClasses() {
		rc := c.Runners[class]
		if !models.RunnerClass(class).Valid() {
			return fmt.Errorf("%w: unknown runner class %q", ErrInvalidConfig, class)
		}
		switch rc.Executor {
		case ExecutorLocal:
		case ExecutorDocker:
			if rc.Image == "" {
				return fmt.Errorf("%w: runners.%s uses docker but has no image", ErrInvalidConfig, class)
			}
		default:
			return fmt.Errorf("%w: runners.%s.executor %q must be local or docker", ErrInvalidConfig, class, rc.Executor)
		}
		if rc.Cost < 0 {
			return fmt.Errorf("%w: runners.%s.cost is negative", ErrInvalidConfig, class)
		}
	}
	return nil
}

// RunnerClasses returns the configured runner classes in sorted order.
func (c *Config) RunnerClasses() []string {
	classes := make([]string, 0, len(c.Runners))
	for class := range c.Runners {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	return classes
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	data := getDataDir()

	v.SetDefault("pipeline.path", filepath.Join(".tierci", "pipeline.yaml"))

	v.SetDefault("state.driver", "sqlite")
	v.SetDefault("state.dsn", filepath.Join(data, "tierci.db"))

	v.SetDefault("logging.debug_file", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "30s")

	for class, rc := range defaultRunners() {
		v.SetDefault("runners."+class+".executor", rc.Executor)
		v.SetDefault("runners."+class+".image", rc.Image)
		v.SetDefault("runners."+class+".always_pull", rc.AlwaysPull)
		v.SetDefault("runners."+class+".cost", rc.Cost)
	}

	v.SetDefault("storage.object_store.region", "")
	v.SetDefault("storage.object_store.profile", "")
	v.SetDefault("storage.object_store.endpoint", "")
	v.SetDefault("storage.object_store.path_style", false)
	v.SetDefault("storage.release_root", filepath.Join(data, "releases"))

	v.SetDefault("logs.dir", filepath.Join(data, "logs"))

	v.SetDefault("tui.refresh_rate", "100ms")

	v.SetDefault("workdir", ".")
}

func defaultRunners() map[string]RunnerConfig {
	return map[string]RunnerConfig{
		string(models.RunnerShared): {Executor: ExecutorLocal, Cost: 1},
		string(models.RunnerSmall):  {Executor: ExecutorLocal, Cost: 2},
		string(models.RunnerLarge):  {Executor: ExecutorLocal, Cost: 8},
	}
}

// getUserConfigDir returns the XDG config directory for tierci.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "tierci")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "tierci")
	}
	return filepath.Join(home, ".config", "tierci")
}

// getDataDir returns the XDG data directory for tierci.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "tierci")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", "tierci")
	}
	return filepath.Join(home, ".local", "share", "tierci")
}

// findProjectConfig searches for .tierci.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".tierci.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandPath expands ${VAR} references and a leading ~.
func expandPath(s string) string {
	s = os.ExpandEnv(s)
	if s == "~" || strings.HasPrefix(s, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			s = filepath.Join(home, strings.TrimPrefix(s, "~"))
		}
	}
	return s
}

// Default returns a Config with default values.
func Default() *Config {
	data := getDataDir()
	return &Config{
		Pipeline: PipelineConfig{
			Path: filepath.Join(".tierci", "pipeline.yaml"),
		},
		State: StateConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(data, "tierci.db"),
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Runners: defaultRunners(),
		Storage: StorageConfig{
			ReleaseRoot: filepath.Join(data, "releases"),
		},
		Logs: LogsConfig{
			Dir: filepath.Join(data, "logs"),
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
		WorkDir: ".",
	}
}
