package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fyrsmithlabs/devcoord/internal/coord"
)

// opRunner invokes one engine operation with the request bound to flags.
type opRunner func(ctx context.Context, cmd *cobra.Command, e *coord.Engine) (*coord.Result, error)

// newOpCommand builds a mutating command. bind registers the request flags.
func newOpCommand(use, short, long string, bind func(f *pflag.FlagSet), run opRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := run(ctx, cmd, a.engine)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), res)
			})
		},
	}
	bind(cmd.Flags())
	return cmd
}

// printResult writes res as JSON with --json, otherwise as one line.
func printResult(w io.Writer, res *coord.Result) error {
	if jsonOutput {
		return outputJSON(w, res)
	}
	prefix := res.Action
	if res.Noop {
		prefix += " (no-op)"
	}
	_, err := fmt.Fprintf(w, "%s: %s\n", prefix, res.Message)
	return err
}

func milestoneFlag(f *pflag.FlagSet, p *string) {
	f.StringVar(p, "milestone", "", "milestone identifier (for example m7)")
}

func taskFlag(f *pflag.FlagSet, p *string) {
	f.StringVar(p, "task", "", "free-text task description")
}

// optionalInt returns a pointer to v only when the flag was set.
func optionalInt(cmd *cobra.Command, name string, v int) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

func opCommands() []*cobra.Command {
	return []*cobra.Command{
		initCmd(),
		openGateCmd(),
		ackCmd(),
		heartbeatCmd(),
		phaseCompleteCmd(),
		recoveryCheckCmd(),
		stateSyncOKCmd(),
		pingCmd(),
		unconfirmedInstructionCmd(),
		logPendingCmd(),
		staleDetectedCmd(),
		gateReviewCmd(),
		gateCloseCmd(),
	}
}

func initCmd() *cobra.Command {
	var req coord.InitRequest
	return newOpCommand("init", "Start a milestone and register its roles",
		`Start a milestone and register the roles taking part in it.

Re-running init for an existing milestone adds new roles without
rewriting the run date.

Examples:
  devcoord init --milestone m7 --roles backend,tester`,
		func(f *pflag.FlagSet) {
			milestoneFlag(f, &req.Milestone)
			f.StringVar(&req.RunDate, "run-date", "", "run date as YYYY-MM-DD (default today)")
			f.StringSliceVar(&req.Roles, "roles", nil, "comma-separated roles")
		},
		func(ctx context.Context, _ *cobra.Command, e *coord.Engine) (*coord.Result, error) {
			return e.Init(ctx, req)
		})
}

func openGateCmd() *cobra.Command {
	var req coord.OpenGateRequest
	return newOpCommand("open-gate", "Open a gate for a role at a target commit",
		`Open a gate and send GATE_OPEN to the allowed role.

Examples:
  devcoord open-gate --milestone m7 --phase p1 --gate G1 --role backend --target-commit abc1234`,
		func(f *pflag.FlagSet) {
			milestoneFlag(f, &req.Milestone)
			f.StringVar(&req.Phase, "phase", "", "phase the gate belongs to")
			f.StringVar(&req.GateID, "gate", "", "gate identifier (for example G1)")
			f.StringVar(&req.AllowedRole, "role", "", "role allowed to start the gate")
			f.StringVar(&req.TargetCommit, "target-commit", "", "commit the gate is pinned to")
			taskFlag(f, &req.Task)
		},
		func(ctx context.Context, _ *cobra.Command, e *coord.Engine) (*coord.Result, error) {
			return e.OpenGate(ctx, req)
		})
}

func ackCmd() *cobra.Command {
	var req coord.AckRequest
	return newOpCommand("ack", "Acknowledge a GATE_OPEN or PING",
		`Acknowledge the oldest pending message of a command for a role.

The commit must match the gate's target commit.

Examples:
  devcoord ack --milestone m7 --role backend --command GATE_OPEN --gate G1 --commit abc1234`,
		func(f *pflag.FlagSet) {
			milestoneFlag(f, &req.Milestone)
			f.StringVar(&req.Role, "role", "", "acknowledging role")
			f.StringVar(&req.Command, "command", "", "acknowledged command (GATE_OPEN or PING)")
			f.StringVar(&req.GateID, "gate", "", "gate the message concerns")
			f.StringVar(&req.Commit, "commit", "", "commit the role is working from")
			f.StringVar(&req.Phase, "phase", "", "phase (default: the gate's phase)")
			taskFlag(f, &req.Task)
		},
		func(ctx context.Context, _ *cobra.Command, e *coord.Engine) (*coord.Result, error) {
			return e.Ack(ctx, req)
		})
}

func heartbeatCmd() *cobra.Command {
	var req coord.HeartbeatRequest
	return newOpCommand("heartbeat", "Report a role's progress",
		`Record a heartbeat for a role.

The branch is detected from the workspace when --branch is omitted.

Examples:
  devcoord heartbeat --milestone m7 --role backend --status working --gate G1 --eta-min 30`,
		func(f *pflag.FlagSet) {
			milestoneFlag(f, &req.Milestone)
			f.StringVar(&req.Role, "role", "", "reporting role")
			f.StringVar(&req.Phase, "phase", "", "current phase")
			f.StringVar(&req.Status, "status", "", "free-text status such as working or blocked")
			f.IntVar(&req.EtaMin, "eta-min", 0, "estimated minutes to completion")
			f.StringVar(&req.GateID, "gate", "", "gate being worked on")
			f.StringVar(&req.TargetCommit, "target-commit", "", "commit being worked on")
			f.StringVar(&req.Branch, "branch", "", "branch (default: detected)")
			taskFlag(f, &req.Task)
		},
		func(ctx context.Context, _ *cobra.Command, e *coord.Engine) (*coord.Result, error) {
			return e.Heartbeat(ctx, req)
		})
}

func phaseCompleteCmd() *cobra.Command {
	var req coord.PhaseCompleteRequest
	return newOpCommand("phase-complete", "Submit a completed phase for review",
		`Mark a role's phase complete at a commit.

Examples:
  devcoord phase-complete --milestone m7 --role backend --phase p1 --gate G1 --commit def5678`,
		func(f *pflag.FlagSet) {
			milestoneFlag(f, &req.Milestone)
			f.StringVar(&req.Role, "role", "", "submitting role")
			f.StringVar(&req.Phase, "phase", "", "completed phase")
			f.StringVar(&req.GateID, "gate", "", "gate the work was done under")
			f.StringVar(&req.Commit, "commit", "", "commit containing the work")
			f.StringVar(&req.Branch, "branch", "", "branch (default: detected)")
			taskFlag(f, &req.Task)
		},
		func(ctx context.Context, _ *cobra.Command, e *coord.Engine) (*coord.Result, error) {
			return e.PhaseComplete(ctx, req)
		})
}

func recoveryCheckCmd() *cobra.Command {
	var req coord.RecoveryCheckRequest
	return newOpCommand("recovery-check", "Announce that a role lost context and is recovering",
		`Record that a role is recovering and anchor it to its last known gate.

Examples:
  devcoord recovery-check --milestone m7 --role backend --last-seen-gate G1`,
		func(f *pflag.FlagSet) {
			milestoneFlag(f, &req.Milestone)
			f.StringVar(&req.Role, "role", "", "recovering role")
			f.StringVar(&req.LastSeenGate, "last-seen-gate", "", "last gate the role remembers")
			taskFlag(f, &req.Task)
		},
		func(ctx context.Context, _ *cobra.Command, e *coord.Engine) (*coord.Result, error) {
			return e.RecoveryCheck(ctx, req)
		})
}

func stateSyncOKCmd() *cobra.Command {
	var req coord.StateSyncOKRequest
	return newOpCommand("state-sync-ok", "Confirm a recovering role is back in sync",
		`Confirm a recovering role is in sync with a gate at a commit.

Examples:
  devcoord state-sync-ok --milestone m7 --role backend --gate G1 --target-commit abc1234`,
		func(f *pflag.FlagSet) {
			milestoneFlag(f, &req.Milestone)
			f.StringVar(&req.Role, "role", "", "recovered role")
			f.StringVar(&req.GateID, "gate", "", "gate the role resumes")
			f.StringVar(&req.TargetCommit, "target-commit", "", "commit the role resumes from")
			taskFlag(f, &req.Task)
		},
		func(ctx context.Context, _ *cobra.Command, e *coord.Engine) (*coord.Result, error) {
			return e.StateSyncOK(ctx, req)
		})
}

func pingCmd() *cobra.Command {
	var req coord.PingRequest
	return newOpCommand("ping", "Ping a role that has gone quiet",
		`Send PING to a role on a gate.

Examples:
  devcoord ping --milestone m7 --role backend --gate G1`,
		func(f *pflag.FlagSet) {
			milestoneFlag(f, &req.Milestone)
			f.StringVar(&req.Role, "role", "", "pinged role")
			f.StringVar(&req.GateID, "gate", "", "gate the ping concerns")
			f.StringVar(&req.Phase, "phase", "", "phase (default: the gate's phase)")
			f.StringVar(&req.TargetCommit, "target-commit", "", "commit (default: the gate's target commit)")
			taskFlag(f, &req.Task)
		},
		func(ctx context.Context, _ *cobra.Command, e *coord.Engine) (*coord.Result, error) {
			return e.Ping(ctx, req)
		})
}

func unconfirmedInstructionCmd() *cobra.Command {
	var (
		req       coord.UnconfirmedInstructionRequest
		pingCount int
	)
	return newOpCommand("unconfirmed-instruction", "Flag an instruction a role has not acknowledged",
		`Record that a role has not acknowledged a command.

The ping count is taken from the ledger when --ping-count is omitted.

Examples:
  devcoord unconfirmed-instruction --milestone m7 --role backend --command GATE_OPEN --gate G1`,
		func(f *pflag.FlagSet) {
			milestoneFlag(f, &req.Milestone)
			f.StringVar(&req.Role, "role", "", "role that has not acknowledged")
			f.StringVar(&req.Command, "command", "", "unacknowledged command")
			f.StringVar(&req.GateID, "gate", "", "gate the instruction concerns")
			f.StringVar(&req.Phase, "phase", "", "phase (default: the gate's phase)")
			f.StringVar(&req.TargetCommit, "target-commit", "", "commit (default: the gate's target commit)")
			f.IntVar(&pingCount, "ping-count", 0, "pings sent so far (default: counted from the ledger)")
			taskFlag(f, &req.Task)
		},
		func(ctx context.Context, cmd *cobra.Command, e *coord.Engine) (*coord.Result, error) {
			req.PingCount = optionalInt(cmd, "ping-count", pingCount)
			return e.UnconfirmedInstruction(ctx, req)
		})
}

func logPendingCmd() *cobra.Command {
	var req coord.LogPendingRequest
	return newOpCommand("log-pending", "Flag events missing from the ledger",
		`Record that received events have not been written to the ledger.

Examples:
  devcoord log-pending --milestone m7 --gate G1`,
		func(f *pflag.FlagSet) {
			milestoneFlag(f, &req.Milestone)
			f.StringVar(&req.Phase, "phase", "", "current phase")
			f.StringVar(&req.GateID, "gate", "", "current gate")
			f.StringVar(&req.TargetCommit, "target-commit", "", "current commit")
			taskFlag(f, &req.Task)
		},
		func(ctx context.Context, _ *cobra.Command, e *coord.Engine) (*coord.Result, error) {
			return e.LogPending(ctx, req)
		})
}

func staleDetectedCmd() *cobra.Command {
	var (
		req       coord.StaleDetectedRequest
		pingCount int
	)
	return newOpCommand("stale-detected", "Mark a role as suspected stale",
		`Record that a role has stopped responding.

The ping count is taken from the ledger when --ping-count is omitted.

Examples:
  devcoord stale-detected --milestone m7 --role backend --gate G1`,
		func(f *pflag.FlagSet) {
			milestoneFlag(f, &req.Milestone)
			f.StringVar(&req.Role, "role", "", "suspected role")
			f.StringVar(&req.GateID, "gate", "", "gate the role holds")
			f.StringVar(&req.Phase, "phase", "", "phase (default: the gate's phase)")
			f.StringVar(&req.TargetCommit, "target-commit", "", "commit (default: the gate's target commit)")
			f.IntVar(&pingCount, "ping-count", 0, "pings sent so far (default: counted from the ledger)")
			taskFlag(f, &req.Task)
		},
		func(ctx context.Context, cmd *cobra.Command, e *coord.Engine) (*coord.Result, error) {
			req.PingCount = optionalInt(cmd, "ping-count", pingCount)
			return e.StaleDetected(ctx, req)
		})
}

func gateReviewCmd() *cobra.Command {
	var req coord.GateReviewRequest
	return newOpCommand("gate-review", "Record a review verdict for a gate",
		`Record a review of a gate with a report committed to the repository.

Examples:
  devcoord gate-review --milestone m7 --role tester --gate G1 --result PASS \
    --report-commit def5678 --report-path docs/reviews/g1.md`,
		func(f *pflag.FlagSet) {
			milestoneFlag(f, &req.Milestone)
			f.StringVar(&req.Role, "role", "", "reviewing role")
			f.StringVar(&req.GateID, "gate", "", "reviewed gate")
			f.StringVar(&req.Phase, "phase", "", "phase (default: the gate's phase)")
			f.StringVar(&req.Result, "result", "", "verdict such as PASS or FAIL")
			f.StringVar(&req.ReportCommit, "report-commit", "", "commit containing the report")
			f.StringVar(&req.ReportPath, "report-path", "", "repository-relative report path")
			taskFlag(f, &req.Task)
		},
		func(ctx context.Context, _ *cobra.Command, e *coord.Engine) (*coord.Result, error) {
			return e.GateReview(ctx, req)
		})
}

func gateCloseCmd() *cobra.Command {
	var req coord.GateCloseRequest
	return newOpCommand("gate-close", "Close a reviewed gate",
		`Close a gate once its review is recorded and the ledger is reconciled.

Examples:
  devcoord gate-close --milestone m7 --gate G1 --result PASS \
    --report-commit def5678 --report-path docs/reviews/g1.md`,
		func(f *pflag.FlagSet) {
			milestoneFlag(f, &req.Milestone)
			f.StringVar(&req.GateID, "gate", "", "gate to close")
			f.StringVar(&req.Phase, "phase", "", "phase (default: the gate's phase)")
			f.StringVar(&req.Result, "result", "", "verdict matching the review")
			f.StringVar(&req.ReportCommit, "report-commit", "", "commit containing the report")
			f.StringVar(&req.ReportPath, "report-path", "", "repository-relative report path")
			taskFlag(f, &req.Task)
		},
		func(ctx context.Context, _ *cobra.Command, e *coord.Engine) (*coord.Result, error) {
			return e.GateClose(ctx, req)
		})
}
