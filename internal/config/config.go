// Package config loads devcoord configuration.
//
// Values come from hardcoded defaults, then the workspace config file
// (<workspace>/.devcoord/config.yaml, or an explicit path), then
// DEVCOORD_* environment variables. Relative paths resolve against the
// workspace root.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config holds the complete devcoord configuration.
type Config struct {
	Workspace       string          `koanf:"workspace"`
	CoordinatorRole string          `koanf:"coordinator_role"`
	Paths           PathsConfig     `koanf:"paths"`
	Store           StoreConfig     `koanf:"store"`
	Git             GitConfig       `koanf:"git"`
	Render          RenderConfig    `koanf:"render"`
	Watch           WatchConfig     `koanf:"watch"`
	Logging         LoggingConfig   `koanf:"logging"`
	Telemetry       TelemetryConfig `koanf:"telemetry"`
	Secrets         SecretsConfig   `koanf:"secrets"`
}

// PathsConfig locates state and rendered artifacts.
type PathsConfig struct {
	StateDir     string   `koanf:"state_dir"`
	DocsDir      string   `koanf:"docs_dir"`
	LogsDir      string   `koanf:"logs_dir"`
	ProgressFile string   `koanf:"progress_file"`
	LegacyDirs   []string `koanf:"legacy_dirs"` // old layouts that block every operation
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Backend     string   `koanf:"backend"`
	Path        string   `koanf:"path"`
	BusyTimeout Duration `koanf:"busy_timeout"`
}

// GitConfig selects the commit resolver.
type GitConfig struct {
	Backend string `koanf:"backend"` // gogit or cli
}

// RenderConfig controls optional projections.
type RenderConfig struct {
	MetricsTextfile bool `koanf:"metrics_textfile"`
}

// WatchConfig controls watch mode.
type WatchConfig struct {
	Debounce Duration `koanf:"debounce"`
}

// LoggingConfig is the subset of logging settings exposed to users.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	Protocol    string `koanf:"protocol"` // grpc or http/protobuf
	ServiceName string `koanf:"service_name"`
	Insecure    bool   `koanf:"insecure"`
}

// SecretsConfig configures redaction of free-text fields.
type SecretsConfig struct {
	Enabled   bool     `koanf:"enabled"`
	Engine    string   `koanf:"engine"` // regex or gitleaks
	AllowList []string `koanf:"allow_list"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		CoordinatorRole: "pm",
		Paths: PathsConfig{
			StateDir:     ".devcoord",
			DocsDir:      "dev_docs",
			LogsDir:      filepath.Join("dev_docs", "logs"),
			ProgressFile: filepath.Join("dev_docs", "progress", "project_progress.md"),
			LegacyDirs:   []string{filepath.Join("dev_docs", "devcoord")},
		},
		Store: StoreConfig{
			Backend:     StoreSQLite,
			BusyTimeout: Duration(5 * time.Second),
		},
		Git:    GitConfig{Backend: "gogit"},
		Render: RenderConfig{MetricsTextfile: false},
		Watch:  WatchConfig{Debounce: Duration(250 * time.Millisecond)},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			ServiceName: "devcoord",
			Insecure:    true,
		},
		Secrets: SecretsConfig{Enabled: true, Engine: "regex"},
	}
}

// applyDefaults fills values left empty by the file or environment and
// resolves relative paths against the workspace.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.CoordinatorRole == "" {
		cfg.CoordinatorRole = def.CoordinatorRole
	}
	if cfg.Paths.StateDir == "" {
		cfg.Paths.StateDir = def.Paths.StateDir
	}
	if cfg.Paths.DocsDir == "" {
		cfg.Paths.DocsDir = def.Paths.DocsDir
	}
	if cfg.Paths.LogsDir == "" {
		cfg.Paths.LogsDir = filepath.Join(cfg.Paths.DocsDir, "logs")
	}
	if cfg.Paths.ProgressFile == "" {
		cfg.Paths.ProgressFile = filepath.Join(cfg.Paths.DocsDir, "progress", "project_progress.md")
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = def.Store.Backend
	}
	if cfg.Store.BusyTimeout == 0 {
		cfg.Store.BusyTimeout = def.Store.BusyTimeout
	}
	if cfg.Git.Backend == "" {
		cfg.Git.Backend = def.Git.Backend
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = def.Watch.Debounce
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Secrets.Engine == "" {
		cfg.Secrets.Engine = def.Secrets.Engine
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}

	if cfg.Workspace == "" {
		return
	}
	cfg.Paths.StateDir = cfg.abs(cfg.Paths.StateDir)
	cfg.Paths.DocsDir = cfg.abs(cfg.Paths.DocsDir)
	cfg.Paths.LogsDir = cfg.abs(cfg.Paths.LogsDir)
	cfg.Paths.ProgressFile = cfg.abs(cfg.Paths.ProgressFile)
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.Paths.StateDir, "devcoord.db")
	}
	cfg.Store.Path = cfg.abs(cfg.Store.Path)
}

func (c *Config) abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Workspace, p)
}

// LockPath returns the process-wide lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "devcoord.lock")
}

// ConfigFile returns the workspace config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.Paths.StateDir, "config.yaml")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return errors.New("workspace is required")
	}
	if c.CoordinatorRole == "" {
		return errors.New("coordinator_role is required")
	}
	switch c.Store.Backend {
	case StoreSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite backend")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q (want sqlite or memory)", c.Store.Backend)
	}
	switch c.Git.Backend {
	case "gogit", "cli":
	default:
		return fmt.Errorf("unknown git backend %q (want gogit or cli)", c.Git.Backend)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	switch c.Secrets.Engine {
	case "regex", "gitleaks":
	default:
		return fmt.Errorf("unknown secrets engine %q (want regex or gitleaks)", c.Secrets.Engine)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry.endpoint is required when telemetry is enabled")
	}
	if c.Watch.Debounce.Duration() <= 0 {
		return errors.New("watch.debounce must be positive")
	}
	return nil
}
