// Package main implements the devcoord CLI, the coordination control plane
// for multi-role development milestones.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath overrides <workspace>/.devcoord/config.yaml
	configPath string
	// workspaceDir overrides workspace discovery
	workspaceDir string
	// jsonOutput switches command output to JSON
	jsonOutput bool
	// version information
	version = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCmd assembles the command tree. Defining the persistent flags
// resets the package-level flag variables to their defaults.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "devcoord",
		Short: "Coordinate gates, acknowledgements and heartbeats across roles",
		Long: `devcoord records the coordination protocol of a development milestone:
gates opened by the coordinator, acknowledgements and heartbeats from roles,
reviews, and the watchdog signals that flag stalled work. Every change is
written to the record store under a workspace lock; "render" projects the
store into the milestone's ledger, gate table, watchdog table and progress
block.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <workspace>/.devcoord/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&workspaceDir, "workspace", "", "workspace root (default: enclosing git worktree)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(opCommands()...)
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(renderCmd())
	rootCmd.AddCommand(applyCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the devcoord version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "devcoord %s\n", version)
			return nil
		},
	}
}
