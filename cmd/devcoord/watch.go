package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devcoord/internal/lock"
	"github.com/fyrsmithlabs/devcoord/internal/mcp"
	"github.com/fyrsmithlabs/devcoord/internal/render"
)

// watchIgnore lists state-directory files whose changes do not trigger a
// render: the lock is touched by every operation and the sqlite
// shared-memory file changes on reads.
var watchIgnore = []string{lock.FileName, "devcoord.db-shm"}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [milestone]",
		Short: "Re-render a milestone whenever the record store changes",
		Long: `Render a milestone, then keep re-rendering it as the record store changes
until interrupted.

Examples:
  devcoord watch m7`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			milestone := milestoneArg(cmd, args)
			return withApp(cmd, func(ctx context.Context, a *app) error {
				dirs := []string{filepath.Dir(a.cfg.Store.Path)}
				w, err := render.NewWatcher(dirs, watchIgnore, a.cfg.Watch.Debounce.Duration(),
					func(ctx context.Context) error {
						_, err := a.engine.Render(ctx, milestone)
						return err
					}, a.logger.Underlying())
				if err != nil {
					return err
				}
				a.logger.Info(ctx, "watching record store",
					zap.String("milestone", milestone),
					zap.Strings("dirs", dirs))
				return w.Run(ctx)
			})
		},
	}
	cmd.Flags().String("milestone", "", "milestone identifier")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve coordination tools over MCP on stdio",
		Long: `Start an MCP server on stdin/stdout exposing one tool per operation,
plus render, audit, apply and tool search.

Examples:
  devcoord mcp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withApp(cmd, func(ctx context.Context, a *app) error {
				srv, err := mcp.NewServer(&mcp.Config{
					Name:          "devcoord",
					Version:       version,
					Logger:        a.logger.Underlying(),
					MeterProvider: a.telemetry.MeterProvider(),
				}, a.engine)
				if err != nil {
					return err
				}
				return srv.Run(ctx)
			})
		},
	}
}
