package coord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/devcoord/internal/entity"
	"github.com/fyrsmithlabs/devcoord/internal/render"
)

// Init creates the milestone and one agent per role, or refreshes them.
// Existing agents keep their state.
func (e *Engine) Init(ctx context.Context, req InitRequest) (*Result, error) {
	roles := normalizeRoles(req.Roles)
	if len(roles) == 0 {
		return nil, invalidArgument("at least one role is required")
	}
	runDate := strings.TrimSpace(req.RunDate)
	if runDate != "" {
		if _, err := time.Parse(time.DateOnly, runDate); err != nil {
			return nil, invalidArgument("run date %q is not YYYY-MM-DD", runDate)
		}
	}

	return e.mutate(ctx, "init", req.Milestone, func(tx *txn) error {
		existed := tx.ix.Milestone != nil
		if runDate == "" {
			if existed && tx.ix.Milestone.RunDate != "" {
				runDate = tx.ix.Milestone.RunDate
			} else {
				runDate = tx.date()
			}
		}
		if _, err := tx.saveMilestone(entity.MilestonePatch{RunDate: &runDate}); err != nil {
			return err
		}

		var created []string
		for _, role := range roles {
			if tx.ix.Agent(role) != nil {
				continue
			}
			if _, err := tx.saveAgent(role, entity.AgentPatch{}); err != nil {
				return err
			}
			created = append(created, role)
		}
		tx.result.Role = ""
		tx.result.AgentState = ""

		if existed && len(created) == 0 {
			tx.noop("milestone %s already initialized", tx.m)
			return nil
		}
		tx.result.Message = fmt.Sprintf("initialized %s (run date %s) with roles %s", tx.m, runDate, strings.Join(roles, ", "))
		return nil
	})
}

// OpenGate creates or refreshes a gate, sends a GATE_OPEN message to the
// allowed role and records GATE_OPEN_SENT.
func (e *Engine) OpenGate(ctx context.Context, req OpenGateRequest) (*Result, error) {
	if err := firstErr(
		required("phase", req.Phase),
		required("gate_id", req.GateID),
		required("allowed_role", req.AllowedRole),
		required("target_commit", req.TargetCommit),
	); err != nil {
		return nil, err
	}

	return e.mutate(ctx, "open-gate", req.Milestone, func(tx *txn) error {
		if _, err := tx.requireMilestone(); err != nil {
			return err
		}
		phase := strings.TrimSpace(req.Phase)
		gateID := strings.TrimSpace(req.GateID)
		role := entity.NormalizeRole(req.AllowedRole)
		commit := e.canonicalize(ctx, req.TargetCommit)
		task := e.scrub(req.Task)

		existing := tx.ix.Gate(gateID)
		if existing != nil && existing.State == entity.GateClosed {
			return errorf(CodeInvalidState, "gate %s is closed and cannot be reopened", gateID)
		}

		ph := tx.ix.Phase(phase)
		if ph == nil {
			var err error
			if ph, err = tx.savePhase(phase, entity.PhasePatch{State: entity.PhaseStatePtr(entity.PhaseInProgress)}); err != nil {
				return err
			}
		}

		patch := entity.GatePatch{Phase: &phase, AllowedRole: &role, TargetCommit: &commit}
		if existing == nil {
			patch.State = entity.GateStatePtr(entity.GatePending)
		}
		g, err := tx.saveGate(gateID, ph.ID, patch)
		if err != nil {
			return err
		}

		msg, err := tx.sendMessage(&entity.Message{
			Command:      entity.CommandGateOpen,
			Role:         role,
			Gate:         gateID,
			Phase:        phase,
			TargetCommit: commit,
			RequiresAck:  true,
		}, g.ID)
		if err != nil {
			return err
		}

		if _, err := tx.emit(&entity.Event{
			Type:         entity.EventGateOpenSent,
			Role:         e.coordinator,
			Phase:        phase,
			Status:       "pending_ack",
			Task:         task,
			Gate:         gateID,
			TargetCommit: commit,
			AllowedRole:  role,
			Command:      entity.CommandGateOpen,
			MessageID:    msg.ID,
		}, g.ID); err != nil {
			return err
		}

		if _, err := tx.saveAgent(role, entity.AgentPatch{
			State:       entity.AgentStatePtr(entity.AgentSpawning),
			CurrentTask: &task,
			NextAction:  entity.Str(fmt.Sprintf("ACK %s %s", entity.CommandGateOpen, gateID)),
		}); err != nil {
			return err
		}

		tx.gateResult(g)
		tx.result.Message = fmt.Sprintf("gate %s sent to %s; awaiting ACK", gateID, role)
		return nil
	})
}

// Ack resolves the pending message for (role, gate, command). For
// GATE_OPEN it also makes the gate effective. A repeated ACK refreshes the
// gate and the agent without recording a new event.
func (e *Engine) Ack(ctx context.Context, req AckRequest) (*Result, error) {
	if err := firstErr(
		required("role", req.Role),
		required("command", req.Command),
		required("gate_id", req.GateID),
		required("commit", req.Commit),
	); err != nil {
		return nil, err
	}

	return e.mutate(ctx, "ack", req.Milestone, func(tx *txn) error {
		if _, err := tx.requireMilestone(); err != nil {
			return err
		}
		g, err := tx.requireGate(strings.TrimSpace(req.GateID))
		if err != nil {
			return err
		}
		role := entity.NormalizeRole(req.Role)
		command := entity.NormalizeCommand(req.Command)
		commit := e.canonicalize(ctx, req.Commit)
		phase := strings.TrimSpace(req.Phase)
		if phase == "" {
			phase = g.Phase
		}

		msg := tx.ix.PendingMessage(role, g.Gate, command)
		dup := tx.ix.LastEvent(func(ev *entity.Event) bool {
			return ev.Type == entity.EventAck && ev.Role == role && ev.Gate == g.Gate &&
				ev.Phase == phase && ev.AckOf == command && ev.TargetCommit == commit
		})
		tx.gateResult(g)

		if msg == nil && dup == nil {
			return errorf(CodeNoPendingMessage,
				"no pending %s message for role %s on gate %s (milestone=%s)", command, role, g.Gate, tx.m)
		}
		if g.State == entity.GateClosed {
			if msg == nil {
				tx.noop("%s already acknowledged %s for %s", role, command, g.Gate)
				return nil
			}
			return errorf(CodeInvalidState, "gate %s is closed", g.Gate)
		}

		// A retransmitted ACK with nothing pending still refreshes the
		// gate and the agent below.
		task := e.scrub(req.Task)
		if msg != nil {
			if err := tx.resolveMessage(msg); err != nil {
				return err
			}
			tx.result.MessageID = msg.ID
		}

		if dup == nil {
			if _, err := tx.emit(&entity.Event{
				Type:         entity.EventAck,
				Role:         role,
				Phase:        phase,
				Status:       "acked",
				Task:         task,
				Gate:         g.Gate,
				TargetCommit: commit,
				AckOf:        command,
				MessageID:    msg.ID,
			}, g.ID); err != nil {
				return err
			}
		}

		if command == entity.CommandGateOpen {
			if g.State != entity.GateOpen {
				patch := entity.GatePatch{State: entity.GateStatePtr(entity.GateOpen)}
				if g.OpenedAt == "" {
					patch.OpenedAt = entity.Str(tx.ts)
				}
				if g, err = tx.saveGate(g.Gate, "", patch); err != nil {
					return err
				}
				tx.gateResult(g)
			}
			if dup == nil {
				if _, err := tx.emit(&entity.Event{
					Type:         entity.EventGateEffective,
					Role:         e.coordinator,
					Phase:        phase,
					Status:       "effective",
					Task:         task,
					Gate:         g.Gate,
					TargetCommit: commit,
					TargetRole:   role,
				}, g.ID); err != nil {
					return err
				}
			}
		}

		if _, err := tx.saveAgent(role, entity.AgentPatch{
			State:       entity.AgentStatePtr(entity.AgentWorking),
			CurrentTask: &task,
			NextAction:  entity.Str("work on " + g.Gate),
		}); err != nil {
			return err
		}

		if dup != nil {
			tx.result.Noop = true
			tx.result.Message = fmt.Sprintf("repeated ACK from %s; %s refreshed without a new event", role, g.Gate)
			return nil
		}
		tx.result.Message = fmt.Sprintf("%s acknowledged %s for %s", role, command, g.Gate)
		return nil
	})
}

// Heartbeat records a liveness report and refreshes the agent.
func (e *Engine) Heartbeat(ctx context.Context, req HeartbeatRequest) (*Result, error) {
	if err := firstErr(required("role", req.Role), required("status", req.Status)); err != nil {
		return nil, err
	}
	if req.EtaMin < 0 {
		return nil, invalidArgument("eta_min must not be negative")
	}

	return e.mutate(ctx, "heartbeat", req.Milestone, func(tx *txn) error {
		if _, err := tx.requireMilestone(); err != nil {
			return err
		}
		role := entity.NormalizeRole(req.Role)
		status := strings.ToLower(strings.TrimSpace(req.Status))
		gateID := strings.TrimSpace(req.GateID)
		phase := strings.TrimSpace(req.Phase)
		task := e.scrub(req.Task)

		var g *entity.Gate
		if gateID != "" {
			g = tx.ix.Gate(gateID)
		}
		if phase == "" && g != nil {
			phase = g.Phase
		}

		_, err := tx.emit(&entity.Event{
			Type:         entity.EventHeartbeat,
			Role:         role,
			Phase:        phase,
			Status:       status,
			Task:         task,
			Gate:         gateID,
			TargetCommit: e.canonicalize(ctx, req.TargetCommit),
			EtaMin:       req.EtaMin,
			Branch:       e.branch(req.Branch),
		}, tx.parent(g, phase))
		if err != nil {
			return err
		}

		state := entity.NormalizeAgentState(status)
		if _, err := tx.saveAgent(role, entity.AgentPatch{
			State:       &state,
			CurrentTask: &task,
			StaleRisk:   entity.StaleRiskPtr(entity.StaleNone),
		}); err != nil {
			return err
		}

		tx.result.Message = fmt.Sprintf("heartbeat from %s (%s)", role, status)
		return nil
	})
}

// PhaseComplete submits a phase for review at commit.
func (e *Engine) PhaseComplete(ctx context.Context, req PhaseCompleteRequest) (*Result, error) {
	if err := firstErr(
		required("role", req.Role),
		required("phase", req.Phase),
		required("gate_id", req.GateID),
		required("commit", req.Commit),
	); err != nil {
		return nil, err
	}

	return e.mutate(ctx, "phase-complete", req.Milestone, func(tx *txn) error {
		if _, err := tx.requireMilestone(); err != nil {
			return err
		}
		g, err := tx.requireGate(strings.TrimSpace(req.GateID))
		if err != nil {
			return err
		}
		role := entity.NormalizeRole(req.Role)
		phase := strings.TrimSpace(req.Phase)
		commit := e.canonicalize(ctx, req.Commit)
		tx.gateResult(g)

		if tx.ix.LastEvent(func(ev *entity.Event) bool {
			return ev.Type == entity.EventPhaseComplete && ev.Role == role && ev.Gate == g.Gate &&
				ev.Phase == phase && ev.TargetCommit == commit
		}) != nil {
			tx.noop("phase %s already submitted by %s at %s", phase, role, shortCommit(commit))
			return nil
		}
		if g.State == entity.GateClosed {
			return errorf(CodeInvalidState, "gate %s is closed", g.Gate)
		}

		task := e.scrub(req.Task)
		if g, err = tx.saveGate(g.Gate, "", entity.GatePatch{TargetCommit: &commit}); err != nil {
			return err
		}
		phasePatch := entity.PhasePatch{LastCommit: &commit}
		if ph := tx.ix.Phase(phase); ph == nil || ph.State != entity.PhaseClosed {
			phasePatch.State = entity.PhaseStatePtr(entity.PhaseSubmitted)
		}
		if _, err := tx.savePhase(phase, phasePatch); err != nil {
			return err
		}

		if _, err := tx.emit(&entity.Event{
			Type:         entity.EventPhaseComplete,
			Role:         role,
			Phase:        phase,
			Status:       "submitted",
			Task:         task,
			Gate:         g.Gate,
			TargetCommit: commit,
			Branch:       e.branch(req.Branch),
		}, g.ID); err != nil {
			return err
		}

		if _, err := tx.saveAgent(role, entity.AgentPatch{
			State:       entity.AgentStatePtr(entity.AgentDone),
			CurrentTask: &task,
			NextAction:  entity.Str("await review of " + g.Gate),
		}); err != nil {
			return err
		}
		tx.result.Message = fmt.Sprintf("phase %s submitted by %s at %s", phase, role, shortCommit(commit))
		return nil
	})
}

// RecoveryCheck records that a role is recovering and anchors it to the
// gate it last saw, or the latest known one.
func (e *Engine) RecoveryCheck(ctx context.Context, req RecoveryCheckRequest) (*Result, error) {
	if err := required("role", req.Role); err != nil {
		return nil, err
	}

	return e.mutate(ctx, "recovery-check", req.Milestone, func(tx *txn) error {
		ms, err := tx.requireMilestone()
		if err != nil {
			return err
		}
		role := entity.NormalizeRole(req.Role)
		lastSeen := strings.TrimSpace(req.LastSeenGate)

		ev := &entity.Event{
			Type:         entity.EventRecoveryCheck,
			Role:         role,
			Status:       "pending_sync",
			Task:         e.scrub(req.Task),
			LastSeenGate: lastSeen,
		}
		parentID := ms.ID

		anchor := tx.ix.Gate(lastSeen)
		if anchor == nil {
			anchor = tx.ix.LatestGate()
		}
		if anchor != nil {
			ev.Gate, ev.Phase, ev.TargetCommit, ev.AllowedRole = anchor.Gate, anchor.Phase, anchor.TargetCommit, anchor.AllowedRole
			parentID = anchor.ID
			tx.gateResult(anchor)
		} else if ph := tx.ix.LatestPhase(); ph != nil {
			ev.Phase, ev.TargetCommit = ph.Phase, ph.LastCommit
			parentID = ph.ID
		}

		last := tx.ix.LastEvent(recoveryEventOf(role))
		if last != nil && last.Type == entity.EventRecoveryCheck && last.Gate == ev.Gate &&
			last.Phase == ev.Phase && last.TargetCommit == ev.TargetCommit && last.LastSeenGate == lastSeen {
			tx.noop("recovery check for %s already pending", role)
			return nil
		}

		if _, err := tx.emit(ev, parentID); err != nil {
			return err
		}
		if _, err := tx.saveAgent(role, entity.AgentPatch{
			State:       entity.AgentStatePtr(entity.AgentStuck),
			CurrentTask: &ev.Task,
			NextAction:  entity.Str("await STATE_SYNC_OK"),
		}); err != nil {
			return err
		}
		anchorDesc := "milestone " + tx.m
		if ev.Gate != "" {
			anchorDesc = fmt.Sprintf("gate %s at %s", ev.Gate, shortCommit(ev.TargetCommit))
		}
		tx.result.Message = fmt.Sprintf("%s recovering; anchored to %s", role, anchorDesc)
		return nil
	})
}

// StateSyncOK confirms a recovering role resumes from the gate's target
// commit.
func (e *Engine) StateSyncOK(ctx context.Context, req StateSyncOKRequest) (*Result, error) {
	if err := firstErr(
		required("role", req.Role),
		required("gate_id", req.GateID),
		required("target_commit", req.TargetCommit),
	); err != nil {
		return nil, err
	}

	return e.mutate(ctx, "state-sync-ok", req.Milestone, func(tx *txn) error {
		if _, err := tx.requireMilestone(); err != nil {
			return err
		}
		g, err := tx.requireGate(strings.TrimSpace(req.GateID))
		if err != nil {
			return err
		}
		role := entity.NormalizeRole(req.Role)
		commit := e.canonicalize(ctx, req.TargetCommit)
		tx.gateResult(g)

		switch {
		case g.TargetCommit == "":
			if g, err = tx.saveGate(g.Gate, "", entity.GatePatch{TargetCommit: &commit}); err != nil {
				return err
			}
		case !sameCommit(g.TargetCommit, commit):
			return errorf(CodeCommitMismatch,
				"target commit mismatch for gate %s: recorded %s, supplied %s", g.Gate, g.TargetCommit, commit)
		default:
			commit = g.TargetCommit
		}

		last := tx.ix.LastEvent(recoveryEventOf(role))
		if last != nil && last.Type == entity.EventStateSyncOK && last.Gate == g.Gate && last.TargetCommit == commit {
			tx.noop("%s already synced to %s", role, g.Gate)
			return nil
		}

		task := e.scrub(req.Task)
		if _, err := tx.emit(&entity.Event{
			Type:         entity.EventStateSyncOK,
			Role:         e.coordinator,
			Phase:        g.Phase,
			Status:       "synced",
			Task:         task,
			Gate:         g.Gate,
			TargetCommit: commit,
			TargetRole:   role,
		}, g.ID); err != nil {
			return err
		}
		if _, err := tx.saveAgent(role, entity.AgentPatch{
			State:       entity.AgentStatePtr(entity.AgentIdle),
			CurrentTask: &task,
			NextAction:  entity.Str(fmt.Sprintf("resume %s at %s", g.Gate, shortCommit(commit))),
			StaleRisk:   entity.StaleRiskPtr(entity.StaleNone),
		}); err != nil {
			return err
		}
		tx.result.Message = fmt.Sprintf("%s in sync with %s at %s", role, g.Gate, shortCommit(commit))
		return nil
	})
}

// Ping sends a PING message to a role and records PING_SENT.
func (e *Engine) Ping(ctx context.Context, req PingRequest) (*Result, error) {
	if err := firstErr(required("role", req.Role), required("gate_id", req.GateID)); err != nil {
		return nil, err
	}

	return e.mutate(ctx, "ping", req.Milestone, func(tx *txn) error {
		if _, err := tx.requireMilestone(); err != nil {
			return err
		}
		g, err := tx.requireGate(strings.TrimSpace(req.GateID))
		if err != nil {
			return err
		}
		role := entity.NormalizeRole(req.Role)
		phase := orDefault(strings.TrimSpace(req.Phase), g.Phase)
		commit := orDefault(e.canonicalize(ctx, req.TargetCommit), g.TargetCommit)
		count := tx.pingCount(role, g.Gate) + 1
		tx.gateResult(g)

		msg, err := tx.sendMessage(&entity.Message{
			Command:      entity.CommandPing,
			Role:         role,
			Gate:         g.Gate,
			Phase:        phase,
			TargetCommit: commit,
			RequiresAck:  true,
		}, g.ID)
		if err != nil {
			return err
		}
		if _, err := tx.emit(&entity.Event{
			Type:         entity.EventPingSent,
			Role:         e.coordinator,
			Phase:        phase,
			Status:       "pending_ack",
			Task:         e.scrub(req.Task),
			Gate:         g.Gate,
			TargetCommit: commit,
			TargetRole:   role,
			Command:      entity.CommandPing,
			MessageID:    msg.ID,
			PingCount:    count,
		}, g.ID); err != nil {
			return err
		}
		tx.result.Message = fmt.Sprintf("ping %d sent to %s on %s", count, role, g.Gate)
		return nil
	})
}

// UnconfirmedInstruction records that an instruction to a role went
// unacknowledged. Gate and agent state are left alone.
func (e *Engine) UnconfirmedInstruction(ctx context.Context, req UnconfirmedInstructionRequest) (*Result, error) {
	if err := firstErr(required("role", req.Role), required("command", req.Command)); err != nil {
		return nil, err
	}
	if req.PingCount != nil && *req.PingCount < 0 {
		return nil, invalidArgument("ping_count must not be negative")
	}

	return e.mutate(ctx, "unconfirmed-instruction", req.Milestone, func(tx *txn) error {
		if _, err := tx.requireMilestone(); err != nil {
			return err
		}
		role := entity.NormalizeRole(req.Role)
		g, phase, commit := tx.context(req.GateID, req.Phase, e.canonicalize(ctx, req.TargetCommit))

		appended, err := tx.emitUnlessRepeat(&entity.Event{
			Type:         entity.EventUnconfirmedInstruction,
			Role:         e.coordinator,
			Phase:        phase,
			Status:       "unconfirmed",
			Task:         e.scrub(req.Task),
			Gate:         strings.TrimSpace(req.GateID),
			TargetCommit: commit,
			TargetRole:   role,
			Command:      entity.NormalizeCommand(req.Command),
			PingCount:    tx.pingCountOr(req.PingCount, role, req.GateID),
		}, tx.parent(g, phase))
		if err != nil {
			return err
		}
		if !appended {
			tx.noop("unconfirmed instruction to %s already recorded", role)
			return nil
		}
		tx.result.Message = fmt.Sprintf("%s has not confirmed %s", role, entity.NormalizeCommand(req.Command))
		return nil
	})
}

// LogPending records that ledger writes are deferred and marks the
// coordinator blocked until the ledger is reconciled.
func (e *Engine) LogPending(ctx context.Context, req LogPendingRequest) (*Result, error) {
	return e.mutate(ctx, "log-pending", req.Milestone, func(tx *txn) error {
		if _, err := tx.requireMilestone(); err != nil {
			return err
		}
		g, phase, commit := tx.context(req.GateID, req.Phase, e.canonicalize(ctx, req.TargetCommit))
		task := e.scrub(req.Task)

		appended, err := tx.emitUnlessRepeat(&entity.Event{
			Type:         entity.EventLogPending,
			Role:         e.coordinator,
			Phase:        phase,
			Status:       "blocked",
			Task:         task,
			Gate:         strings.TrimSpace(req.GateID),
			TargetCommit: commit,
		}, tx.parent(g, phase))
		if err != nil {
			return err
		}
		if _, err := tx.saveAgent(e.coordinator, entity.AgentPatch{
			State:       entity.AgentStatePtr(entity.AgentStuck),
			CurrentTask: &task,
			NextAction:  entity.Str("render to reconcile the ledger"),
		}); err != nil {
			return err
		}
		if !appended {
			tx.noop("log pending already recorded")
			return nil
		}
		tx.result.Message = "ledger writes deferred; coordinator blocked"
		return nil
	})
}

// StaleDetected flags a role as suspected stale.
func (e *Engine) StaleDetected(ctx context.Context, req StaleDetectedRequest) (*Result, error) {
	if err := required("role", req.Role); err != nil {
		return nil, err
	}
	if req.PingCount != nil && *req.PingCount < 0 {
		return nil, invalidArgument("ping_count must not be negative")
	}

	return e.mutate(ctx, "stale-detected", req.Milestone, func(tx *txn) error {
		if _, err := tx.requireMilestone(); err != nil {
			return err
		}
		role := entity.NormalizeRole(req.Role)
		g, phase, commit := tx.context(req.GateID, req.Phase, e.canonicalize(ctx, req.TargetCommit))

		appended, err := tx.emitUnlessRepeat(&entity.Event{
			Type:         entity.EventStaleDetected,
			Role:         e.coordinator,
			Phase:        phase,
			Status:       string(entity.StaleSuspected),
			Task:         e.scrub(req.Task),
			Gate:         strings.TrimSpace(req.GateID),
			TargetCommit: commit,
			TargetRole:   role,
			PingCount:    tx.pingCountOr(req.PingCount, role, req.GateID),
		}, tx.parent(g, phase))
		if err != nil {
			return err
		}
		if _, err := tx.saveAgent(role, entity.AgentPatch{
			State:      entity.AgentStatePtr(entity.AgentStuck),
			StaleRisk:  entity.StaleRiskPtr(entity.StaleSuspected),
			NextAction: entity.Str("confirm liveness with a heartbeat or recovery-check"),
		}); err != nil {
			return err
		}
		if !appended {
			tx.noop("%s already flagged stale", role)
			return nil
		}
		tx.result.Message = fmt.Sprintf("%s suspected stale", role)
		return nil
	})
}

// GateReview records a review verdict and the report location on the gate.
func (e *Engine) GateReview(ctx context.Context, req GateReviewRequest) (*Result, error) {
	if err := firstErr(
		required("role", req.Role),
		required("gate_id", req.GateID),
		required("result", req.Result),
		required("report_commit", req.ReportCommit),
		required("report_path", req.ReportPath),
	); err != nil {
		return nil, err
	}

	return e.mutate(ctx, "gate-review", req.Milestone, func(tx *txn) error {
		if _, err := tx.requireMilestone(); err != nil {
			return err
		}
		g, err := tx.requireGate(strings.TrimSpace(req.GateID))
		if err != nil {
			return err
		}
		role := entity.NormalizeRole(req.Role)
		phase := orDefault(strings.TrimSpace(req.Phase), g.Phase)
		result := normalizeResult(req.Result)
		commit := e.canonicalize(ctx, req.ReportCommit)
		path, err := reportPath(req.ReportPath)
		if err != nil {
			return err
		}
		tx.gateResult(g)

		if tx.ix.LastEvent(reviewMatching(role, g.Gate, phase, result, commit, path)) != nil {
			tx.noop("review of %s already recorded", g.Gate)
			return nil
		}
		if g.State == entity.GateClosed {
			return errorf(CodeInvalidState, "gate %s is closed", g.Gate)
		}

		task := e.scrub(req.Task)
		if g, err = tx.saveGate(g.Gate, "", entity.GatePatch{
			Result:       &result,
			ReportCommit: &commit,
			ReportPath:   &path,
		}); err != nil {
			return err
		}
		if _, err := tx.emit(&entity.Event{
			Type:         entity.EventGateReviewComplete,
			Role:         role,
			Phase:        phase,
			Status:       "reviewed",
			Task:         task,
			Gate:         g.Gate,
			TargetCommit: g.TargetCommit,
			Result:       result,
			ReportCommit: commit,
			ReportPath:   path,
		}, g.ID); err != nil {
			return err
		}
		if _, err := tx.saveAgent(role, entity.AgentPatch{
			State:       entity.AgentStatePtr(entity.AgentDone),
			CurrentTask: &task,
			NextAction:  entity.Str("await close of " + g.Gate),
		}); err != nil {
			return err
		}
		tx.result.Message = fmt.Sprintf("%s reviewed %s: %s", role, g.Gate, result)
		return nil
	})
}

// GateClose closes a reviewed gate once the ledger is reconciled and the
// report is visible at its commit.
func (e *Engine) GateClose(ctx context.Context, req GateCloseRequest) (*Result, error) {
	if err := firstErr(
		required("gate_id", req.GateID),
		required("result", req.Result),
		required("report_commit", req.ReportCommit),
		required("report_path", req.ReportPath),
	); err != nil {
		return nil, err
	}

	return e.mutate(ctx, "gate-close", req.Milestone, func(tx *txn) error {
		if _, err := tx.requireMilestone(); err != nil {
			return err
		}
		g, err := tx.requireGate(strings.TrimSpace(req.GateID))
		if err != nil {
			return err
		}
		phase := orDefault(strings.TrimSpace(req.Phase), g.Phase)
		result := normalizeResult(req.Result)
		commit := e.canonicalize(ctx, req.ReportCommit)
		path, err := reportPath(req.ReportPath)
		if err != nil {
			return err
		}
		tx.gateResult(g)

		switch g.State {
		case entity.GateClosed:
			if g.Result == result && g.ReportCommit == commit && g.ReportPath == path {
				tx.noop("gate %s already closed", g.Gate)
				return nil
			}
			return errorf(CodeInvalidState, "gate %s is already closed with result %s", g.Gate, g.Result)
		case entity.GatePending:
			return errorf(CodeInvalidState, "gate %s has not been acknowledged", g.Gate)
		}

		if err := e.closeGuards(ctx, tx, g, phase, result, commit, path); err != nil {
			return err
		}

		task := e.scrub(req.Task)
		if g, err = tx.saveGate(g.Gate, "", entity.GatePatch{
			State:        entity.GateStatePtr(entity.GateClosed),
			ClosedAt:     entity.Str(tx.ts),
			Result:       &result,
			ReportCommit: &commit,
			ReportPath:   &path,
		}); err != nil {
			return err
		}
		tx.gateResult(g)
		if _, err := tx.savePhase(phase, entity.PhasePatch{State: entity.PhaseStatePtr(entity.PhaseClosed)}); err != nil {
			return err
		}
		if _, err := tx.emit(&entity.Event{
			Type:         entity.EventGateClose,
			Role:         e.coordinator,
			Phase:        phase,
			Status:       "closed",
			Task:         task,
			Gate:         g.Gate,
			TargetCommit: g.TargetCommit,
			Result:       result,
			ReportCommit: commit,
			ReportPath:   path,
		}, g.ID); err != nil {
			return err
		}
		if _, err := tx.saveAgent(e.coordinator, entity.AgentPatch{
			CurrentTask: &task,
			NextAction:  entity.Str("open the next gate"),
		}); err != nil {
			return err
		}
		tx.result.Message = fmt.Sprintf("gate %s closed: %s", g.Gate, result)
		return nil
	})
}

// closeGuards checks, in order, the matching review, ledger reconciliation
// and report visibility.
func (e *Engine) closeGuards(ctx context.Context, tx *txn, g *entity.Gate, phase, result, commit, path string) error {
	if tx.ix.LastEvent(reviewMatching("", g.Gate, phase, result, commit, path)) == nil {
		return errorf(CodeGateCloseGuard,
			"cannot close %s: no GATE_REVIEW_COMPLETE with phase=%s result=%s report_commit=%s report_path=%s",
			g.Gate, phase, result, shortCommit(commit), path)
	}

	stats, err := render.ReadLedgerStats(e.renderer.LedgerPath(tx.m))
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}
	if !stats.Exists {
		return errorf(CodeGateCloseGuard,
			"cannot close %s: ledger %s does not exist; run render first", g.Gate, e.renderer.LedgerPath(tx.m))
	}
	if stats.Lines != len(tx.ix.Events) {
		return errorf(CodeGateCloseGuard,
			"cannot close %s: ledger has %d lines but %d events are recorded; run render first",
			g.Gate, stats.Lines, len(tx.ix.Events))
	}

	if !e.resolver.Exists(ctx, commit) {
		return errorf(CodeGateCloseGuard, "cannot close %s: report commit %s is not visible", g.Gate, shortCommit(commit))
	}
	if !e.resolver.ExistsAtPath(ctx, commit, path) {
		return errorf(CodeGateCloseGuard, "cannot close %s: %s is not present at %s", g.Gate, path, shortCommit(commit))
	}
	return nil
}

// context resolves the optional gate, defaulting phase and commit from it.
func (tx *txn) context(gateID, phase, commit string) (*entity.Gate, string, string) {
	var g *entity.Gate
	if id := strings.TrimSpace(gateID); id != "" {
		g = tx.ix.Gate(id)
	}
	phase = strings.TrimSpace(phase)
	if g != nil {
		phase = orDefault(phase, g.Phase)
		commit = orDefault(commit, g.TargetCommit)
	}
	return g, phase, commit
}

func (tx *txn) pingCount(role, gate string) int {
	n := 0
	for _, ev := range tx.ix.EventsOf(entity.EventPingSent) {
		if ev.TargetRole == role && ev.Gate == gate {
			n++
		}
	}
	return n
}

func (tx *txn) pingCountOr(explicit *int, role, gate string) int {
	if explicit != nil {
		return *explicit
	}
	return tx.pingCount(role, strings.TrimSpace(gate))
}

// recoveryEventOf matches the recovery conversation of role.
func recoveryEventOf(role string) func(*entity.Event) bool {
	return func(ev *entity.Event) bool {
		switch ev.Type {
		case entity.EventRecoveryCheck:
			return ev.Role == role
		case entity.EventStateSyncOK:
			return ev.TargetRole == role
		}
		return false
	}
}

// reviewMatching matches a review of gate; an empty role matches any.
func reviewMatching(role, gate, phase, result, commit, path string) func(*entity.Event) bool {
	return func(ev *entity.Event) bool {
		return ev.Type == entity.EventGateReviewComplete &&
			(role == "" || ev.Role == role) &&
			ev.Gate == gate && ev.Phase == phase && ev.Result == result &&
			ev.ReportCommit == commit && ev.ReportPath == path
	}
}

func normalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	var out []string
	for _, r := range roles {
		for _, part := range strings.Split(r, ",") {
			role := entity.NormalizeRole(part)
			if role == "" {
				continue
			}
			if _, ok := seen[role]; ok {
				continue
			}
			seen[role] = struct{}{}
			out = append(out, role)
		}
	}
	return out
}

func normalizeResult(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func reportPath(p string) (string, error) {
	p = strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(p), "\\", "/"), "./")
	if p == "" || strings.HasPrefix(p, "/") || p == ".." || strings.HasPrefix(p, "../") {
		return "", invalidArgument("report path %q must be relative to the repository root", p)
	}
	return p, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
