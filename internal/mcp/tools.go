package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devcoord/internal/coord"
	"github.com/fyrsmithlabs/devcoord/internal/logging"
	"github.com/fyrsmithlabs/devcoord/internal/render"
)

type applyInput struct {
	Payload string `json:"payload" jsonschema:"required,JSON object with an action field and that action's arguments"`
}

type applyOutput struct {
	Result any `json:"result"`
}

type toolsInput struct {
	Query    string `json:"query,omitempty" jsonschema:"Substring or regular expression matched against tool names and descriptions"`
	Category string `json:"category,omitempty" jsonschema:"Restrict to gate, report, watchdog, projection or discovery"`
}

type toolsOutput struct {
	Tools []*ToolMetadata `json:"tools"`
}

func (s *Server) registerTools() {
	e := s.engine

	addOp(s, &ToolMetadata{
		Name:        "coord_init",
		Description: "Create a milestone and its agents. Repeating it is a no-op.",
		Category:    CategoryGate,
		Action:      "init",
		Keywords:    []string{"milestone", "roles", "start"},
	}, e.Init)
	addOp(s, &ToolMetadata{
		Name:        "coord_open_gate",
		Description: "Open a gate for a phase and send GATE_OPEN to its allowed role.",
		Category:    CategoryGate,
		Action:      "open-gate",
		Keywords:    []string{"gate", "phase", "assign"},
	}, e.OpenGate)
	addOp(s, &ToolMetadata{
		Name:        "coord_ack",
		Description: "Acknowledge a pending coordinator instruction. Acknowledging GATE_OPEN makes the gate effective.",
		Category:    CategoryReport,
		Action:      "ack",
		Keywords:    []string{"acknowledge", "confirm"},
	}, e.Ack)
	addOp(s, &ToolMetadata{
		Name:        "coord_heartbeat",
		Description: "Report that a role is alive and working.",
		Category:    CategoryReport,
		Action:      "heartbeat",
		Keywords:    []string{"alive", "progress", "eta"},
	}, e.Heartbeat)
	addOp(s, &ToolMetadata{
		Name:        "coord_phase_complete",
		Description: "Report that the work for a gate is done at a commit.",
		Category:    CategoryReport,
		Action:      "phase-complete",
		Keywords:    []string{"done", "submit", "commit"},
	}, e.PhaseComplete)
	addOp(s, &ToolMetadata{
		Name:        "coord_recovery_check",
		Description: "Ask the coordinator to resync after a restart or context loss.",
		Category:    CategoryReport,
		Action:      "recovery-check",
		Keywords:    []string{"recover", "resync", "restart"},
	}, e.RecoveryCheck)
	addOp(s, &ToolMetadata{
		Name:        "coord_state_sync_ok",
		Description: "Confirm a recovering role is back in sync with the gate target.",
		Category:    CategoryGate,
		Action:      "state-sync-ok",
		Keywords:    []string{"recover", "resync"},
	}, e.StateSyncOK)
	addOp(s, &ToolMetadata{
		Name:        "coord_ping",
		Description: "Ping a role that has gone quiet. The role must ack the PING.",
		Category:    CategoryWatchdog,
		Action:      "ping",
		Keywords:    []string{"liveness", "nudge"},
	}, e.Ping)
	addOp(s, &ToolMetadata{
		Name:        "coord_unconfirmed_instruction",
		Description: "Record that an instruction went unacknowledged.",
		Category:    CategoryWatchdog,
		Action:      "unconfirmed-instruction",
		Keywords:    []string{"timeout", "unacked"},
	}, e.UnconfirmedInstruction)
	addOp(s, &ToolMetadata{
		Name:        "coord_log_pending",
		Description: "Record that events are waiting to be rendered into the ledger.",
		Category:    CategoryWatchdog,
		Action:      "log-pending",
		Keywords:    []string{"ledger", "backlog"},
	}, e.LogPending)
	addOp(s, &ToolMetadata{
		Name:        "coord_stale_detected",
		Description: "Mark a role stale after repeated missed pings.",
		Category:    CategoryWatchdog,
		Action:      "stale-detected",
		Keywords:    []string{"stale", "unresponsive"},
	}, e.StaleDetected)
	addOp(s, &ToolMetadata{
		Name:        "coord_gate_review",
		Description: "Record the review verdict and report for a gate.",
		Category:    CategoryGate,
		Action:      "gate-review",
		Keywords:    []string{"review", "verdict", "report"},
	}, e.GateReview)
	addOp(s, &ToolMetadata{
		Name:        "coord_gate_close",
		Description: "Close a reviewed gate once the ledger is rendered and the commit and report are visible.",
		Category:    CategoryGate,
		Action:      "gate-close",
		Keywords:    []string{"close", "finish", "merge"},
	}, e.GateClose)

	addTool(s, &ToolMetadata{
		Name:        "coord_render",
		Description: "Rebuild the ledger, gate and watchdog logs, and the progress summary for a milestone.",
		Category:    CategoryProjection,
		Action:      "render",
		Keywords:    []string{"ledger", "progress", "markdown"},
	}, func(ctx context.Context, in coord.MilestoneRequest) (*render.Summary, error) {
		return e.Render(ctx, in.Milestone)
	}, func(sum *render.Summary) string {
		return fmt.Sprintf("rendered %d events for %s (latest seq %d)", sum.Events, sum.Milestone, sum.LatestSeq)
	})
	addTool(s, &ToolMetadata{
		Name:        "coord_audit",
		Description: "Compare recorded events with the rendered ledger and list open gates and pending acks.",
		Category:    CategoryProjection,
		Action:      "audit",
		Keywords:    []string{"reconcile", "pending", "check"},
	}, func(ctx context.Context, in coord.MilestoneRequest) (*coord.AuditReport, error) {
		return e.Audit(ctx, in.Milestone)
	}, func(r *coord.AuditReport) string {
		return fmt.Sprintf("%s: reconciled=%t received=%d logged=%d open_gates=%d pending_acks=%d",
			r.Milestone, r.Reconciled, r.ReceivedEvents, r.LoggedEvents, len(r.OpenGates), len(r.PendingAcks))
	})

	addTool(s, &ToolMetadata{
		Name:        "coord_apply",
		Description: "Apply a raw JSON payload such as {\"action\":\"heartbeat\",...}.",
		Category:    CategoryDiscovery,
		Keywords:    []string{"payload", "json", "batch"},
	}, s.apply, func(out *applyOutput) string {
		if res, ok := out.Result.(*coord.Result); ok {
			return res.Message
		}
		data, _ := json.Marshal(out.Result)
		return string(data)
	})
	addTool(s, &ToolMetadata{
		Name:        "coord_tools",
		Description: "Search the coordination tools by name, description or keyword.",
		Category:    CategoryDiscovery,
		Keywords:    []string{"help", "discover", "list"},
	}, s.searchTools, func(out *toolsOutput) string {
		return fmt.Sprintf("%d tools", len(out.Tools))
	})
}

func (s *Server) apply(ctx context.Context, in applyInput) (*applyOutput, error) {
	out, err := s.dispatcher.Apply(ctx, []byte(in.Payload))
	if err != nil {
		return nil, err
	}
	return &applyOutput{Result: out}, nil
}

func (s *Server) searchTools(_ context.Context, in toolsInput) (*toolsOutput, error) {
	var tools []*ToolMetadata
	if in.Query == "" {
		tools = s.registry.List()
	} else {
		for _, r := range s.registry.Search(in.Query) {
			tools = append(tools, r.Tool)
		}
	}
	if in.Category != "" {
		filtered := tools[:0:0]
		for _, t := range tools {
			if string(t.Category) == in.Category {
				filtered = append(filtered, t)
			}
		}
		tools = filtered
	}
	if tools == nil {
		tools = []*ToolMetadata{}
	}
	return &toolsOutput{Tools: tools}, nil
}

// addOp registers an engine operation returning a *coord.Result.
func addOp[In any](s *Server, meta *ToolMetadata, op func(context.Context, In) (*coord.Result, error)) {
	addTool(s, meta, op, func(r *coord.Result) string {
		if r.Message != "" {
			return r.Message
		}
		return fmt.Sprintf("%s applied to %s", r.Action, r.Milestone)
	})
}

// addTool registers fn under meta with metrics, logging and error
// mapping. Coordination errors become tool errors prefixed with their
// code.
func addTool[In, Out any](s *Server, meta *ToolMetadata, fn func(context.Context, In) (*Out, error), text func(*Out) string) {
	s.registry.Register(meta)
	name := meta.Name

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: meta.Description,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		var zero Out
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, name)
			s.metrics.RecordInvocation(ctx, name, time.Since(start), toolErr)
		}()

		ctx = logging.WithInvocation(ctx, logging.Invocation{Surface: "mcp"})
		out, err := fn(ctx, args)
		if err != nil {
			toolErr = err
			s.logger.Debug("tool failed", zap.String("tool", name), zap.Error(err))
			return nil, zero, toolError(err)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text(out)}},
		}, *out, nil
	})
}

func toolError(err error) error {
	if code := coord.CodeOf(err); code != "" {
		return fmt.Errorf("[%s] %w", code, err)
	}
	return err
}
