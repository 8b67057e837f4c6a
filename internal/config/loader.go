package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/devcoord/pkg/git"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "DEVCOORD_"
)

// Top-level keys that contain an underscore and must not be split into
// a section.
var topLevelKeys = map[string]bool{
	"workspace":        true,
	"coordinator_role": true,
}

// Options selects the workspace and config file. Empty fields are
// discovered.
type Options struct {
	Workspace  string
	ConfigPath string
}

// Load builds the configuration.
//
// Precedence (highest to lowest):
//  1. Options.Workspace
//  2. Environment variables (DEVCOORD_PATHS_LOGS_DIR -> paths.logs_dir)
//  3. The config file
//  4. Defaults
//
// Without an explicit workspace, DEVCOORD_WORKSPACE is used, then the
// enclosing git worktree, then the working directory. An explicit
// ConfigPath must exist; the workspace file is optional.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	ws, err := discoverWorkspace(opts.Workspace)
	if err != nil {
		return nil, err
	}

	path := opts.ConfigPath
	explicit := path != ""
	if !explicit {
		path = filepath.Join(ws, ".devcoord", "config.yaml")
	}
	content, err := readConfigFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	case err != nil:
		return nil, err
	default:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if opts.Workspace != "" || cfg.Workspace == "" {
		cfg.Workspace = ws
	}
	if !filepath.IsAbs(cfg.Workspace) {
		if cfg.Workspace, err = filepath.Abs(cfg.Workspace); err != nil {
			return nil, fmt.Errorf("resolving workspace: %w", err)
		}
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps DEVCOORD_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if topLevelKeys[lower] {
		return lower
	}
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func discoverWorkspace(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Abs(explicit)
	}
	if env := os.Getenv(EnvPrefix + "WORKSPACE"); env != "" {
		return filepath.Abs(env)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	if top, err := git.Toplevel(cwd); err == nil {
		return top, nil
	}
	return cwd, nil
}

// readConfigFile reads path through a single descriptor, rejecting
// directories and oversized files.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", path, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
