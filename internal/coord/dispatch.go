package coord

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fyrsmithlabs/devcoord/internal/payload"
)

// Dispatcher routes validated JSON payloads to engine operations.
type Dispatcher struct {
	engine    *Engine
	validator *payload.Validator
}

// NewDispatcher compiles the payload schemas.
func NewDispatcher(e *Engine) (*Dispatcher, error) {
	v, err := payload.NewValidator()
	if err != nil {
		return nil, err
	}
	return &Dispatcher{engine: e, validator: v}, nil
}

// Apply validates data and runs its action. The returned value is a
// *Result, an *AuditReport or a render summary.
func (d *Dispatcher) Apply(ctx context.Context, data []byte) (any, error) {
	action, err := d.validator.Validate(data)
	if err != nil {
		var perr *payload.Error
		if errors.As(err, &perr) {
			return nil, MalformedPayload("%s", perr.Error())
		}
		return nil, MalformedPayload("%v", err)
	}

	e := d.engine
	switch action {
	case "init":
		return run(ctx, data, e.Init)
	case "open-gate":
		return run(ctx, data, e.OpenGate)
	case "ack":
		return run(ctx, data, e.Ack)
	case "heartbeat":
		return run(ctx, data, e.Heartbeat)
	case "phase-complete":
		return run(ctx, data, e.PhaseComplete)
	case "recovery-check":
		return run(ctx, data, e.RecoveryCheck)
	case "state-sync-ok":
		return run(ctx, data, e.StateSyncOK)
	case "ping":
		return run(ctx, data, e.Ping)
	case "unconfirmed-instruction":
		return run(ctx, data, e.UnconfirmedInstruction)
	case "log-pending":
		return run(ctx, data, e.LogPending)
	case "stale-detected":
		return run(ctx, data, e.StaleDetected)
	case "gate-review":
		return run(ctx, data, e.GateReview)
	case "gate-close":
		return run(ctx, data, e.GateClose)
	case "render":
		var req MilestoneRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, MalformedPayload("%v", err)
		}
		return e.Render(ctx, req.Milestone)
	case "audit":
		var req MilestoneRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, MalformedPayload("%v", err)
		}
		return e.Audit(ctx, req.Milestone)
	}
	return nil, MalformedPayload("unsupported action %q", action)
}

func run[R any](ctx context.Context, data []byte, op func(context.Context, R) (*Result, error)) (any, error) {
	var req R
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, MalformedPayload("%v", err)
	}
	res, err := op(ctx, req)
	if err != nil {
		return nil, err
	}
	return res, nil
}
