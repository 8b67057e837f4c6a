package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devcoord/internal/config"
	"github.com/fyrsmithlabs/devcoord/internal/coord"
	"github.com/fyrsmithlabs/devcoord/internal/lock"
	"github.com/fyrsmithlabs/devcoord/internal/logging"
	"github.com/fyrsmithlabs/devcoord/internal/render"
	"github.com/fyrsmithlabs/devcoord/internal/secrets"
	"github.com/fyrsmithlabs/devcoord/internal/store"
	"github.com/fyrsmithlabs/devcoord/internal/telemetry"
	"github.com/fyrsmithlabs/devcoord/pkg/git"
)

const shutdownTimeout = 5 * time.Second

// app holds the services one command invocation needs.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	store     store.Store
	engine    *coord.Engine
}

// newApp loads configuration and wires the engine.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(config.Options{Workspace: workspaceDir, ConfigPath: configPath})
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return nil, err
	}

	scrubber, err := newScrubber(cfg)
	if err != nil {
		return nil, err
	}

	logCfg, err := loggingConfig(cfg, tel.IsEnabled(), scrubber)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	for _, d := range tel.Degraded() {
		logger.Warn(ctx, "telemetry degraded", zap.String("component", d))
	}

	a := &app{cfg: cfg, logger: logger, telemetry: tel}
	if err := a.wire(ctx, scrubber); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, scrubber secrets.Scrubber) error {
	cfg := a.cfg

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	a.store = st

	resolver, err := openResolver(cfg)
	if err != nil {
		return err
	}

	clock := coord.NewMonotonicClock(nil)
	renderer := render.New(render.Config{
		LogsDir:         cfg.Paths.LogsDir,
		ProgressFile:    cfg.Paths.ProgressFile,
		Coordinator:     cfg.CoordinatorRole,
		MetricsTextfile: cfg.Render.MetricsTextfile,
		Workspace:       cfg.Workspace,
	}, clock.Now)

	engine, err := coord.New(st,
		coord.WithLocker(lock.New(cfg.LockPath())),
		coord.WithClock(clock),
		coord.WithResolver(resolver),
		coord.WithRenderer(renderer),
		coord.WithScrubber(scrubber),
		coord.WithCoordinator(cfg.CoordinatorRole),
		coord.WithWorkspace(cfg.Workspace),
		coord.WithLegacyDirs(cfg.Paths.LegacyDirs...),
		coord.WithLogger(a.logger.Underlying()),
		coord.WithTelemetry(a.telemetry.TracerProvider(), a.telemetry.MeterProvider()),
	)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	a.engine = engine
	return nil
}

// Close releases the store and flushes logs and telemetry.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn(context.Background(), "closing store", zap.Error(err))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	var st store.Store
	switch cfg.Store.Backend {
	case config.StoreMemory:
		st = store.NewMemoryStore()
	default:
		s, err := store.NewSQLiteStore(store.SQLiteConfig{
			Path:        cfg.Store.Path,
			BusyTimeout: cfg.Store.BusyTimeout.Duration(),
		})
		if err != nil {
			return nil, coord.MissingTooling("record store", err)
		}
		st = s
	}
	if err := st.Init(ctx); err != nil {
		_ = st.Close()
		return nil, coord.MissingTooling("record store", err)
	}
	return st, nil
}

// openResolver falls back to NopResolver outside a repository. A missing
// git binary for the cli backend is a tooling error.
func openResolver(cfg *config.Config) (git.Resolver, error) {
	r, err := git.NewResolver(cfg.Git.Backend, cfg.Workspace)
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, git.ErrNotGitRepo):
		return git.NopResolver{}, nil
	case errors.Is(err, git.ErrMissingBinary):
		return nil, coord.MissingTooling("git", err)
	}
	return nil, err
}

func newScrubber(cfg *config.Config) (secrets.Scrubber, error) {
	sc := secrets.DefaultConfig()
	sc.Enabled = cfg.Secrets.Enabled
	sc.Engine = cfg.Secrets.Engine
	sc.AllowList = cfg.Secrets.AllowList
	s, err := secrets.New(sc)
	if err != nil {
		return nil, fmt.Errorf("creating secret scrubber: %w", err)
	}
	return s, nil
}

func loggingConfig(cfg *config.Config, otel bool, scrubber secrets.Scrubber) (*logging.Config, error) {
	lc := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	lc.Format = cfg.Logging.Format
	lc.Output.OTEL = otel
	if scrubber.IsEnabled() {
		// Log lines always use the regex engine; gitleaks builds a
		// detector per call.
		if cfg.Secrets.Engine == secrets.EngineGitleaks {
			scrubber = secrets.MustNew(secrets.DefaultConfig())
		}
		lc.Redaction.Scrub = func(s string) string { return scrubber.Scrub(s).Scrubbed }
	}
	return lc, nil
}

func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	tc.Endpoint = cfg.Telemetry.Endpoint
	tc.Protocol = cfg.Telemetry.Protocol
	tc.ServiceName = cfg.Telemetry.ServiceName
	tc.ServiceVersion = version
	tc.Insecure = cfg.Telemetry.Insecure
	return tc
}

// withApp builds the app for one command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithInvocation(ctx, logging.Invocation{Surface: "cli"})
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(logging.WithLogger(ctx, a.logger), a)
}
