package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/devcoord/internal/coord"
	"github.com/fyrsmithlabs/devcoord/internal/render"
)

// maxPayloadSize bounds payloads read from files or stdin.
const maxPayloadSize = 1024 * 1024

func applyCmd() *cobra.Command {
	var payloadPath string
	cmd := &cobra.Command{
		Use:   "apply --payload <file|->",
		Short: "Run an operation described by a JSON payload",
		Long: `Validate a JSON payload and run the operation named by its "action" field.

The payload carries the same fields as the matching subcommand, in
snake_case, plus "action".

Examples:
  # From a file
  devcoord apply --payload ack.json

  # From stdin
  echo '{"action":"ping","milestone":"m7","role":"backend","gate_id":"G1"}' | devcoord apply --payload -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPayload(cmd.InOrStdin(), payloadPath)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				d, err := coord.NewDispatcher(a.engine)
				if err != nil {
					return err
				}
				out, err := d.Apply(ctx, data)
				if err != nil {
					return err
				}
				switch v := out.(type) {
				case *coord.Result:
					return printResult(cmd.OutOrStdout(), v)
				case *render.Summary:
					return printSummary(cmd.OutOrStdout(), v)
				case *coord.AuditReport:
					if jsonOutput {
						return outputJSON(cmd.OutOrStdout(), v)
					}
					return printAudit(cmd.OutOrStdout(), v)
				}
				return outputJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&payloadPath, "payload", "", "payload file, or - for stdin")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

func readPayload(stdin io.Reader, path string) ([]byte, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open payload: %w", err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, maxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	if len(data) > maxPayloadSize {
		return nil, coord.MalformedPayload("payload exceeds %d bytes", maxPayloadSize)
	}
	return data, nil
}
