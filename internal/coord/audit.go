package coord

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fyrsmithlabs/devcoord/internal/entity"
	"github.com/fyrsmithlabs/devcoord/internal/render"
)

// PendingAck describes a message still awaiting acknowledgement.
type PendingAck struct {
	MessageID    string `json:"message_id"`
	Command      string `json:"command"`
	Role         string `json:"role"`
	Gate         string `json:"gate"`
	Phase        string `json:"phase"`
	TargetCommit string `json:"target_commit,omitempty"`
	SentAt       string `json:"sent_at"`
}

// AuditReport compares recorded events with the rendered ledger.
type AuditReport struct {
	Milestone         string              `json:"milestone"`
	RunDate           string              `json:"run_date"`
	ReceivedEvents    int                 `json:"received_events"`
	LoggedEvents      int                 `json:"logged_events"`
	LatestReceivedSeq int                 `json:"latest_received_seq"`
	LatestLoggedSeq   int                 `json:"latest_logged_seq"`
	Reconciled        bool                `json:"reconciled"`
	OpenGates         []string            `json:"open_gates"`
	PendingAcks       []PendingAck        `json:"pending_acks"`
	LogPending        []render.LedgerLine `json:"log_pending"`
}

// Audit reports reconciliation between the store and the ledger file.
// It reads without taking the lock.
func (e *Engine) Audit(ctx context.Context, milestone string) (*AuditReport, error) {
	ctx, span := e.tracer.Start(ctx, "coord.audit")
	defer span.End()

	ix, err := e.readSide(ctx, milestone)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit failed")
		return nil, err
	}

	stats, err := render.ReadLedgerStats(e.renderer.LedgerPath(ix.MilestoneID))
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}

	report := &AuditReport{
		Milestone:         ix.MilestoneID,
		RunDate:           ix.Milestone.RunDate,
		ReceivedEvents:    len(ix.Events),
		LoggedEvents:      stats.Lines,
		LatestReceivedSeq: ix.LatestSeq(),
		LatestLoggedSeq:   stats.LatestSeq,
		OpenGates:         ix.OpenGates(),
		PendingAcks:       []PendingAck{},
		LogPending:        []render.LedgerLine{},
	}
	report.Reconciled = report.ReceivedEvents == report.LoggedEvents
	if report.OpenGates == nil {
		report.OpenGates = []string{}
	}
	for _, m := range ix.PendingAcks() {
		report.PendingAcks = append(report.PendingAcks, PendingAck{
			MessageID:    m.ID,
			Command:      m.Command,
			Role:         m.Role,
			Gate:         m.Gate,
			Phase:        m.Phase,
			TargetCommit: m.TargetCommit,
			SentAt:       m.SentAt,
		})
	}
	for _, ev := range ix.EventsOf(entity.EventLogPending) {
		report.LogPending = append(report.LogPending, render.NewLedgerLine(ev, e.coordinator))
	}

	span.SetAttributes(
		attribute.String("milestone", report.Milestone),
		attribute.Bool("reconciled", report.Reconciled),
	)
	return report, nil
}

// Render rebuilds the projections of milestone. It reads without taking
// the lock; the output reflects the snapshot it read.
func (e *Engine) Render(ctx context.Context, milestone string) (*render.Summary, error) {
	ctx, span := e.tracer.Start(ctx, "coord.render")
	defer span.End()

	ix, err := e.readSide(ctx, milestone)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		return nil, err
	}
	sum, err := e.renderer.Render(ix)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("events", sum.Events))
	return sum, nil
}

func (e *Engine) readSide(ctx context.Context, milestone string) (*entity.Index, error) {
	if err := e.checkLayout(); err != nil {
		return nil, err
	}
	ix, err := e.Snapshot(ctx, milestone)
	if err != nil {
		return nil, err
	}
	if ix.Milestone == nil {
		return nil, errorf(CodeMissingEntity, "missing milestone (milestone=%s); run init first", ix.MilestoneID)
	}
	return ix, nil
}
