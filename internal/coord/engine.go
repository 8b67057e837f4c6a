// Package coord is the coordination engine: it validates operations,
// reads the current milestone state from the store, applies the state
// transitions and appends ledger events, all under the process-wide lock.
//
// The store is the single source of truth. Every operation rebuilds its
// view from a fresh snapshot; nothing is cached between calls.
package coord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devcoord/internal/entity"
	"github.com/fyrsmithlabs/devcoord/internal/lock"
	"github.com/fyrsmithlabs/devcoord/internal/render"
	"github.com/fyrsmithlabs/devcoord/internal/secrets"
	"github.com/fyrsmithlabs/devcoord/internal/store"
	"github.com/fyrsmithlabs/devcoord/pkg/git"
)

const instrumentationName = "github.com/fyrsmithlabs/devcoord/internal/coord"

// DefaultCoordinator is the role that issues gates, pings and closes.
const DefaultCoordinator = "pm"

// Engine applies coordination operations to a store.
type Engine struct {
	store       store.Store
	locker      lock.Locker
	clock       Clock
	resolver    git.Resolver
	renderer    *render.Renderer
	scrubber    secrets.Scrubber
	coordinator string
	workspace   string
	legacyDirs  []string
	branchOf    func(dir string) (string, error)
	logger      *zap.Logger

	tracer       trace.Tracer
	meter        metric.Meter
	opCounter    metric.Int64Counter
	eventCounter metric.Int64Counter
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker sets the lock serializing state-changing operations.
func WithLocker(l lock.Locker) Option { return func(e *Engine) { e.locker = l } }

// WithClock sets the timestamp source.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithResolver sets the commit resolver.
func WithResolver(r git.Resolver) Option { return func(e *Engine) { e.resolver = r } }

// WithRenderer sets the projection renderer.
func WithRenderer(r *render.Renderer) Option { return func(e *Engine) { e.renderer = r } }

// WithScrubber redacts secrets from free-text task fields.
func WithScrubber(s secrets.Scrubber) Option { return func(e *Engine) { e.scrubber = s } }

// WithCoordinator sets the coordinator role.
func WithCoordinator(role string) Option {
	return func(e *Engine) { e.coordinator = entity.NormalizeRole(role) }
}

// WithWorkspace sets the workspace root used for branch detection and the
// legacy layout check.
func WithWorkspace(dir string) Option { return func(e *Engine) { e.workspace = dir } }

// WithLegacyDirs lists workspace-relative directories of the old layout.
func WithLegacyDirs(dirs ...string) Option { return func(e *Engine) { e.legacyDirs = dirs } }

// WithBranchDetector overrides branch detection.
func WithBranchDetector(fn func(dir string) (string, error)) Option {
	return func(e *Engine) { e.branchOf = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithTelemetry takes the tracer and meter from explicit providers
// instead of the global ones.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(instrumentationName)
		}
		if mp != nil {
			e.meter = mp.Meter(instrumentationName)
		}
	}
}

// New returns an Engine over st.
func New(st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	e := &Engine{
		store:       st,
		coordinator: DefaultCoordinator,
		branchOf:    git.DetectBranch,
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.locker == nil {
		return nil, errors.New("locker is required")
	}
	if e.renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if e.clock == nil {
		e.clock = NewMonotonicClock(nil)
	}
	if e.resolver == nil {
		e.resolver = git.NopResolver{}
	}
	if e.scrubber == nil {
		e.scrubber = &secrets.NoopScrubber{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.coordinator == "" {
		e.coordinator = DefaultCoordinator
	}
	e.initMetrics()
	return e, nil
}

func (e *Engine) initMetrics() {
	var err error

	e.opCounter, err = e.meter.Int64Counter(
		"devcoord.operations_total",
		metric.WithDescription("Total number of coordination operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		e.logger.Warn("failed to create operation counter", zap.Error(err))
	}

	e.eventCounter, err = e.meter.Int64Counter(
		"devcoord.events_total",
		metric.WithDescription("Total number of ledger events appended"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		e.logger.Warn("failed to create event counter", zap.Error(err))
	}
}

// Coordinator returns the coordinator role.
func (e *Engine) Coordinator() string { return e.coordinator }

// Renderer returns the projection renderer.
func (e *Engine) Renderer() *render.Renderer { return e.renderer }

// Snapshot returns the current index of milestone without locking.
func (e *Engine) Snapshot(ctx context.Context, milestone string) (*entity.Index, error) {
	m := entity.NormalizeMilestone(milestone)
	if m == "" {
		return nil, invalidArgument("milestone is required")
	}
	return e.load(ctx, m)
}

func (e *Engine) load(ctx context.Context, milestone string) (*entity.Index, error) {
	records, err := e.store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}
	return entity.Build(records, milestone), nil
}

// txn is the working state of one state-changing operation.
type txn struct {
	e       *Engine
	ctx     context.Context
	ix      *entity.Index
	m       string
	ts      string
	nextSeq int
	result  *Result
}

// mutate runs fn under the lock against a fresh snapshot.
func (e *Engine) mutate(ctx context.Context, op, milestone string, fn func(tx *txn) error) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "coord."+op)
	defer span.End()

	m := entity.NormalizeMilestone(milestone)
	span.SetAttributes(attribute.String("milestone", m))
	res := &Result{Action: op, Milestone: m}

	err := func() error {
		if m == "" {
			return invalidArgument("milestone is required")
		}
		if err := e.checkLayout(); err != nil {
			return err
		}
		return e.locker.With(ctx, func() error {
			ix, err := e.load(ctx, m)
			if err != nil {
				return err
			}
			floor := ""
			if last := ix.LatestEvent(); last != nil {
				floor = last.TS
			}
			tx := &txn{
				e:       e,
				ctx:     ctx,
				ix:      ix,
				m:       m,
				ts:      stamp(e.clock.Now(), floor),
				nextSeq: ix.NextSeq(),
				result:  res,
			}
			return fn(tx)
		})
	}()

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case res.Noop:
		outcome = "noop"
	}
	if e.opCounter != nil {
		e.opCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("outcome", outcome),
		))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
		e.logger.Warn("coordination operation failed",
			zap.String("op", op),
			zap.String("milestone", m),
			zap.Error(err))
		return nil, err
	}

	if e.eventCounter != nil && len(res.EventSeqs) > 0 {
		e.eventCounter.Add(ctx, int64(len(res.EventSeqs)))
	}
	span.SetAttributes(attribute.Bool("noop", res.Noop), attribute.Int("events", len(res.EventSeqs)))
	e.logger.Info("coordination operation applied",
		zap.String("op", op),
		zap.String("milestone", m),
		zap.Bool("noop", res.Noop),
		zap.Ints("event_seqs", res.EventSeqs))
	return res, nil
}

// canonicalize resolves ref to a full commit id, keeping the input when
// it cannot be resolved.
func (e *Engine) canonicalize(ctx context.Context, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	return e.resolver.Canonicalize(ctx, ref)
}

func (e *Engine) scrub(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !e.scrubber.IsEnabled() {
		return s
	}
	return e.scrubber.Scrub(s).Scrubbed
}

func (e *Engine) branch(explicit string) string {
	if b := strings.TrimSpace(explicit); b != "" {
		return b
	}
	if e.branchOf == nil || e.workspace == "" {
		return ""
	}
	b, err := e.branchOf(e.workspace)
	if err != nil || b == git.Detached {
		return ""
	}
	return b
}

func (tx *txn) requireMilestone() (*entity.Milestone, error) {
	if tx.ix.Milestone == nil {
		return nil, errorf(CodeMissingEntity, "missing milestone (milestone=%s); run init first", tx.m)
	}
	return tx.ix.Milestone, nil
}

func (tx *txn) requireGate(id string) (*entity.Gate, error) {
	g := tx.ix.Gate(id)
	if g == nil {
		return nil, missingEntity("gate", "milestone="+tx.m, "gate="+id)
	}
	return g, nil
}

// parent returns the record id of the most specific existing container.
func (tx *txn) parent(g *entity.Gate, phase string) string {
	if g != nil {
		return g.ID
	}
	if p := tx.ix.Phase(phase); p != nil {
		return p.ID
	}
	if tx.ix.Milestone != nil {
		return tx.ix.Milestone.ID
	}
	return ""
}

// write creates the record, or merges fields into the existing one
// keeping its id, and refreshes the index.
func (tx *txn) write(kind entity.Kind, cur *entity.Base, title string, fields map[string]any, parentID string) (entity.Entity, error) {
	if cur != nil {
		merged := entity.Merge(cur.Meta, fields)
		status := entity.RecordStatus(kind, merged)
		if err := tx.e.store.Update(tx.ctx, cur.ID, store.UpdateRequest{Metadata: merged, Status: &status}); err != nil {
			return nil, fmt.Errorf("updating %s %s: %w", kind, cur.ID, err)
		}
		return tx.put(store.Record{ID: cur.ID, ParentID: cur.ParentID, Metadata: merged})
	}

	id, err := tx.e.store.Create(tx.ctx, store.CreateRequest{
		Title:    title,
		Type:     kind.RecordType(),
		Labels:   entity.Labels(kind, tx.m),
		Metadata: fields,
		Assignee: entity.Assignee(kind, fields),
		ParentID: parentID,
		Status:   entity.RecordStatus(kind, fields),
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", kind, err)
	}
	return tx.put(store.Record{ID: id, ParentID: parentID, Metadata: fields})
}

func (tx *txn) put(rec store.Record) (entity.Entity, error) {
	rec.Labels = []string{entity.CoordLabel}
	ent, ok := entity.FromRecord(rec)
	if !ok {
		return nil, fmt.Errorf("record %s did not project", rec.ID)
	}
	tx.ix.Put(ent)
	return ent, nil
}

func (tx *txn) saveMilestone(patch entity.MilestonePatch) (*entity.Milestone, error) {
	var cur *entity.Base
	if tx.ix.Milestone != nil {
		cur = &tx.ix.Milestone.Base
	}
	ent, err := tx.write(entity.KindMilestone, cur, "milestone "+tx.m, patch.Fields(tx.m), "")
	if err != nil {
		return nil, err
	}
	return ent.(*entity.Milestone), nil
}

func (tx *txn) savePhase(phase string, patch entity.PhasePatch) (*entity.Phase, error) {
	var cur *entity.Base
	if p := tx.ix.Phase(phase); p != nil {
		cur = &p.Base
	}
	ent, err := tx.write(entity.KindPhase, cur, "phase "+phase, patch.Fields(tx.m, phase), tx.parent(nil, ""))
	if err != nil {
		return nil, err
	}
	return ent.(*entity.Phase), nil
}

func (tx *txn) saveGate(gate, parentID string, patch entity.GatePatch) (*entity.Gate, error) {
	var cur *entity.Base
	if g := tx.ix.Gate(gate); g != nil {
		cur = &g.Base
	}
	ent, err := tx.write(entity.KindGate, cur, "gate "+gate, patch.Fields(tx.m, gate), parentID)
	if err != nil {
		return nil, err
	}
	return ent.(*entity.Gate), nil
}

// saveAgent stamps last activity and creates the agent when missing.
func (tx *txn) saveAgent(role string, patch entity.AgentPatch) (*entity.Agent, error) {
	patch.LastActivity = entity.Str(tx.ts)
	fields := patch.Fields(tx.m, role)

	var cur *entity.Base
	if a := tx.ix.Agent(role); a != nil {
		cur = &a.Base
	} else {
		defaults := entity.AgentPatch{
			State:       entity.AgentStatePtr(entity.AgentIdle),
			CurrentTask: entity.Str(""),
			NextAction:  entity.Str(""),
			StaleRisk:   entity.StaleRiskPtr(entity.StaleNone),
		}.Fields(tx.m, role)
		fields = entity.Merge(defaults, fields)
	}
	ent, err := tx.write(entity.KindAgent, cur, "agent "+role, fields, tx.parent(nil, ""))
	if err != nil {
		return nil, err
	}
	a := ent.(*entity.Agent)
	tx.result.Role = a.Role
	tx.result.AgentState = string(a.State)
	return a, nil
}

func (tx *txn) sendMessage(msg *entity.Message, parentID string) (*entity.Message, error) {
	msg.Milestone = tx.m
	msg.SentAt = tx.ts
	title := fmt.Sprintf("%s to %s (%s)", msg.Command, msg.Role, msg.Gate)
	ent, err := tx.write(entity.KindMessage, nil, title, msg.Fields(), parentID)
	if err != nil {
		return nil, err
	}
	sent := ent.(*entity.Message)
	tx.result.MessageID = sent.ID
	return sent, nil
}

func (tx *txn) resolveMessage(msg *entity.Message) error {
	patch := entity.MessagePatch{Effective: true, AckedAt: entity.Str(tx.ts)}
	_, err := tx.write(entity.KindMessage, &msg.Base, "", patch.Fields(), "")
	return err
}

// emit appends ev to the ledger with the next sequence number.
func (tx *txn) emit(ev *entity.Event, parentID string) (*entity.Event, error) {
	ev.Milestone = tx.m
	ev.Seq = tx.nextSeq
	ev.TS = tx.ts
	title := fmt.Sprintf("%s #%d", ev.Type, ev.Seq)
	ent, err := tx.write(entity.KindEvent, nil, title, ev.Fields(), parentID)
	if err != nil {
		return nil, err
	}
	tx.nextSeq++
	tx.result.EventSeqs = append(tx.result.EventSeqs, ev.Seq)
	tx.result.Events = append(tx.result.Events, string(ev.Type))
	return ent.(*entity.Event), nil
}

// emitUnlessRepeat appends ev unless the latest event is the same
// occurrence, reporting whether it was appended.
func (tx *txn) emitUnlessRepeat(ev *entity.Event, parentID string) (bool, error) {
	ev.Milestone = tx.m
	if tx.ix.LatestEvent().SameOccurrence(ev) {
		return false, nil
	}
	_, err := tx.emit(ev, parentID)
	return err == nil, err
}

func (tx *txn) noop(format string, args ...any) {
	tx.result.Noop = true
	tx.result.Message = fmt.Sprintf(format, args...)
}

func (tx *txn) gateResult(g *entity.Gate) {
	tx.result.Gate = g.Gate
	tx.result.GateState = string(g.State)
}

// date returns the calendar date of the operation's timestamp.
func (tx *txn) date() string {
	t, err := time.Parse(TimeLayout, tx.ts)
	if err != nil {
		return ""
	}
	return t.Format(time.DateOnly)
}
