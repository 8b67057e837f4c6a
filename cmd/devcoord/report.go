package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/devcoord/internal/coord"
	"github.com/fyrsmithlabs/devcoord/internal/render"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func milestoneArg(cmd *cobra.Command, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	m, _ := cmd.Flags().GetString("milestone")
	return m
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit [milestone]",
		Short: "Compare recorded events with the rendered ledger",
		Long: `Report reconciliation between the record store and the milestone ledger,
along with open gates, pending acknowledgements and events not yet logged.

Examples:
  devcoord audit m7
  devcoord audit --milestone m7 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.engine.Audit(ctx, milestoneArg(cmd, args))
				if err != nil {
					return err
				}
				if jsonOutput {
					return outputJSON(cmd.OutOrStdout(), report)
				}
				return printAudit(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().String("milestone", "", "milestone identifier")
	return cmd
}

func printAudit(w io.Writer, r *coord.AuditReport) error {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("devcoord audit %s (%s)", r.Milestone, r.RunDate)))

	state := okStyle.Render("reconciled")
	if !r.Reconciled {
		state = warnStyle.Render("not reconciled")
	}
	fmt.Fprintf(w, "Events: %d received (latest seq %d), %d logged (latest seq %d) - %s\n",
		r.ReceivedEvents, r.LatestReceivedSeq, r.LoggedEvents, r.LatestLoggedSeq, state)

	open := "none"
	if len(r.OpenGates) > 0 {
		open = strings.Join(r.OpenGates, ", ")
	}
	fmt.Fprintf(w, "Open gates: %s\n", open)

	if len(r.PendingAcks) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, sectionStyle.Render("Pending acknowledgements"))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "COMMAND\tROLE\tGATE\tPHASE\tSENT")
		for _, p := range r.PendingAcks {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Command, p.Role, p.Gate, p.Phase, p.SentAt)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(r.LogPending) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, sectionStyle.Render("Not yet logged"))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tEVENT\tROLE\tGATE")
		for _, l := range r.LogPending {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", l.EventSeq, l.Event, l.Role, l.Gate)
		}
		return tw.Flush()
	}
	return nil
}

func renderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render [milestone]",
		Short: "Re-render the ledger, tables and progress block",
		Long: `Rewrite every projection of a milestone from the record store.

Examples:
  devcoord render m7`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				sum, err := a.engine.Render(ctx, milestoneArg(cmd, args))
				if err != nil {
					return err
				}
				return printSummary(cmd.OutOrStdout(), sum)
			})
		},
	}
	cmd.Flags().String("milestone", "", "milestone identifier")
	return cmd
}

func printSummary(w io.Writer, sum *render.Summary) error {
	if jsonOutput {
		return outputJSON(w, sum)
	}
	_, err := fmt.Fprintf(w, "render: %s %s (%d events, latest seq %d) -> %s\n",
		sum.Milestone, sum.Status, sum.Events, sum.LatestSeq, sum.LedgerPath)
	return err
}
