// Package entity interprets generic store records as the six coordination
// entities (milestone, phase, gate, agent, message, event) and builds the
// metadata and label payloads written back to the store.
//
// Every record is tagged with CoordLabel and carries a "kind" discriminator
// in its metadata. Records of other kinds, or without the label, are
// ignored by the projector.
package entity

import "strings"

// CoordLabel marks every record owned by devcoord.
const CoordLabel = "devcoord"

// SchemaVersion is written on milestone records.
const SchemaVersion = 1

// Kind discriminates entity variants.
type Kind string

const (
	KindMilestone Kind = "milestone"
	KindPhase     Kind = "phase"
	KindGate      Kind = "gate"
	KindAgent     Kind = "agent"
	KindMessage   Kind = "message"
	KindEvent     Kind = "event"
)

// RecordType returns the store record type used for a kind.
func (k Kind) RecordType() string {
	switch k {
	case KindMilestone:
		return "epic"
	case KindEvent:
		return "event"
	default:
		return "task"
	}
}

// PhaseState is the lifecycle of a phase.
type PhaseState string

const (
	PhaseInProgress PhaseState = "in_progress"
	PhaseSubmitted  PhaseState = "submitted"
	PhaseClosed     PhaseState = "closed"
)

// GateState is the lifecycle of a gate. Transitions run pending, open,
// closed and never backwards.
type GateState string

const (
	GatePending GateState = "pending"
	GateOpen    GateState = "open"
	GateClosed  GateState = "closed"
)

// AgentState is the live status of one role.
type AgentState string

const (
	AgentIdle     AgentState = "idle"
	AgentSpawning AgentState = "spawning"
	AgentRunning  AgentState = "running"
	AgentWorking  AgentState = "working"
	AgentStuck    AgentState = "stuck"
	AgentDone     AgentState = "done"
	AgentStopped  AgentState = "stopped"
	AgentDead     AgentState = "dead"
)

// AgentStates lists every agent state in display order.
var AgentStates = []AgentState{
	AgentIdle, AgentSpawning, AgentRunning, AgentWorking,
	AgentStuck, AgentDone, AgentStopped, AgentDead,
}

// StaleRisk flags a role suspected to be unresponsive.
type StaleRisk string

const (
	StaleNone      StaleRisk = "none"
	StaleSuspected StaleRisk = "suspected_stale"
)

// EventType names a ledger occurrence.
type EventType string

const (
	EventGateOpenSent           EventType = "GATE_OPEN_SENT"
	EventAck                    EventType = "ACK"
	EventGateEffective          EventType = "GATE_EFFECTIVE"
	EventHeartbeat              EventType = "HEARTBEAT"
	EventPhaseComplete          EventType = "PHASE_COMPLETE"
	EventRecoveryCheck          EventType = "RECOVERY_CHECK"
	EventStateSyncOK            EventType = "STATE_SYNC_OK"
	EventPingSent               EventType = "PING_SENT"
	EventUnconfirmedInstruction EventType = "UNCONFIRMED_INSTRUCTION"
	EventLogPending             EventType = "LOG_PENDING"
	EventStaleDetected          EventType = "STALE_DETECTED"
	EventGateReviewComplete     EventType = "GATE_REVIEW_COMPLETE"
	EventGateClose              EventType = "GATE_CLOSE"
)

// Message commands issued by the coordinator.
const (
	CommandGateOpen = "GATE_OPEN"
	CommandPing     = "PING"
)

// Entity is implemented by every variant.
type Entity interface {
	Kind() Kind
	RecordID() string
}

// Base carries the store identity and raw metadata of a projected record.
type Base struct {
	ID       string
	ParentID string
	Meta     map[string]any
	order    int
}

// RecordID returns the store record id.
func (b *Base) RecordID() string { return b.ID }

// Milestone identifies one coordination run.
type Milestone struct {
	Base
	Milestone     string
	RunDate       string
	SchemaVersion int
}

func (*Milestone) Kind() Kind { return KindMilestone }

// Phase is a named unit of work within a milestone.
type Phase struct {
	Base
	Milestone  string
	Phase      string
	State      PhaseState
	LastCommit string
}

func (*Phase) Kind() Kind { return KindPhase }

// Gate is a checkpoint a specific role must acknowledge before work
// proceeds, later closed with a reviewed result.
type Gate struct {
	Base
	Milestone    string
	Gate         string
	Phase        string
	AllowedRole  string
	TargetCommit string
	Result       string
	ReportPath   string
	ReportCommit string
	State        GateState
	OpenedAt     string
	ClosedAt     string
}

func (*Gate) Kind() Kind { return KindGate }

// Agent is the live status snapshot of one role.
type Agent struct {
	Base
	Milestone    string
	Role         string
	State        AgentState
	CurrentTask  string
	LastActivity string
	NextAction   string
	StaleRisk    StaleRisk
}

func (*Agent) Kind() Kind { return KindAgent }

// Message is a directed instruction or ping addressed to a role.
type Message struct {
	Base
	Milestone    string
	Command      string
	Role         string
	Gate         string
	Phase        string
	TargetCommit string
	RequiresAck  bool
	Effective    bool
	SentAt       string
	AckedAt      string
}

func (*Message) Kind() Kind { return KindMessage }

// Pending reports whether the message still awaits acknowledgement.
func (m *Message) Pending() bool {
	return m.RequiresAck && !m.Effective
}

// Event is one immutable ledger entry.
type Event struct {
	Base
	Milestone    string
	Seq          int
	TS           string
	Type         EventType
	Role         string
	Phase        string
	Status       string
	Task         string
	Gate         string
	TargetCommit string
	AllowedRole  string
	TargetRole   string
	Command      string
	AckOf        string
	MessageID    string
	Result       string
	ReportCommit string
	ReportPath   string
	PingCount    int
	EtaMin       int
	Branch       string
	LastSeenGate string
}

func (*Event) Kind() Kind { return KindEvent }

// NormalizeMilestone trims and lower-cases a milestone id.
func NormalizeMilestone(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeRole trims and lower-cases a role.
func NormalizeRole(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeCommand trims and upper-cases a command name.
func NormalizeCommand(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// KindLabel is the per-kind label.
func KindLabel(k Kind) string { return CoordLabel + ":" + string(k) }

// MilestoneLabel is the per-milestone label.
func MilestoneLabel(milestone string) string { return "milestone:" + milestone }

// Labels returns the label set for a record of kind k in milestone.
func Labels(k Kind, milestone string) []string {
	return []string{CoordLabel, KindLabel(k), MilestoneLabel(milestone)}
}

var agentStatusTable = map[string]AgentState{
	"idle":        AgentIdle,
	"waiting":     AgentIdle,
	"spawning":    AgentSpawning,
	"starting":    AgentSpawning,
	"running":     AgentRunning,
	"working":     AgentWorking,
	"in_progress": AgentWorking,
	"busy":        AgentWorking,
	"active":      AgentWorking,
	"stuck":       AgentStuck,
	"blocked":     AgentStuck,
	"error":       AgentStuck,
	"done":        AgentDone,
	"complete":    AgentDone,
	"completed":   AgentDone,
	"finished":    AgentDone,
	"submitted":   AgentDone,
	"stopped":     AgentStopped,
	"paused":      AgentStopped,
	"dead":        AgentDead,
	"crashed":     AgentDead,
	"killed":      AgentDead,
}

// NormalizeAgentState maps a free-text status onto an agent state.
// Unrecognized values map to working.
func NormalizeAgentState(status string) AgentState {
	key := strings.ToLower(strings.TrimSpace(status))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if st, ok := agentStatusTable[key]; ok {
		return st
	}
	return AgentWorking
}

// PassingResult reports whether a review result counts as a pass.
func PassingResult(result string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(result)), "PASS")
}

// RiskResult reports whether a review result should be surfaced as risk.
func RiskResult(result string) bool {
	switch strings.ToUpper(strings.TrimSpace(result)) {
	case "FAIL", "PASS_WITH_RISK":
		return true
	}
	return false
}

// RecordStatus maps an entity's metadata onto the store's coarse record
// status, so the store's own listings stay meaningful.
func RecordStatus(k Kind, meta map[string]any) string {
	switch k {
	case KindGate:
		switch GateState(str(meta, "state")) {
		case GateOpen:
			return "in_progress"
		case GateClosed:
			return "closed"
		}
	case KindPhase:
		switch PhaseState(str(meta, "state")) {
		case PhaseInProgress, PhaseSubmitted:
			return "in_progress"
		case PhaseClosed:
			return "closed"
		}
	case KindMessage:
		if boolean(meta, "effective") {
			return "closed"
		}
	case KindEvent:
		return "closed"
	}
	return "open"
}

// Assignee returns the role a record is assigned to, if any.
func Assignee(k Kind, meta map[string]any) string {
	switch k {
	case KindGate:
		return str(meta, "allowed_role")
	case KindAgent, KindMessage:
		return str(meta, "role")
	}
	return ""
}

// SameOccurrence reports whether e and o describe the same occurrence,
// ignoring sequence number, timestamp and message id.
func (e *Event) SameOccurrence(o *Event) bool {
	if e == nil || o == nil {
		return false
	}
	return e.Type == o.Type &&
		e.Role == o.Role &&
		e.Phase == o.Phase &&
		e.Status == o.Status &&
		e.Task == o.Task &&
		e.Gate == o.Gate &&
		e.TargetCommit == o.TargetCommit &&
		e.AllowedRole == o.AllowedRole &&
		e.TargetRole == o.TargetRole &&
		e.Command == o.Command &&
		e.AckOf == o.AckOf &&
		e.Result == o.Result &&
		e.ReportCommit == o.ReportCommit &&
		e.ReportPath == o.ReportPath &&
		e.PingCount == o.PingCount &&
		e.EtaMin == o.EtaMin &&
		e.Branch == o.Branch &&
		e.LastSeenGate == o.LastSeenGate
}
