package entity

import (
	"encoding/json"
	"strconv"

	"github.com/fyrsmithlabs/devcoord/internal/store"
)

// FromRecord projects a store record onto its entity variant. It returns
// false for records without the coordination label or with an unknown kind.
func FromRecord(rec store.Record) (Entity, bool) {
	if !rec.HasLabel(CoordLabel) {
		return nil, false
	}
	m := rec.Metadata
	base := Base{ID: rec.ID, ParentID: rec.ParentID, Meta: m}

	switch Kind(str(m, "kind")) {
	case KindMilestone:
		return &Milestone{
			Base:          base,
			Milestone:     str(m, "milestone"),
			RunDate:       str(m, "run_date"),
			SchemaVersion: integer(m, "schema_version"),
		}, true
	case KindPhase:
		return &Phase{
			Base:       base,
			Milestone:  str(m, "milestone"),
			Phase:      str(m, "phase"),
			State:      PhaseState(str(m, "state")),
			LastCommit: str(m, "last_commit"),
		}, true
	case KindGate:
		return &Gate{
			Base:         base,
			Milestone:    str(m, "milestone"),
			Gate:         str(m, "gate"),
			Phase:        str(m, "phase"),
			AllowedRole:  str(m, "allowed_role"),
			TargetCommit: str(m, "target_commit"),
			Result:       str(m, "result"),
			ReportPath:   str(m, "report_path"),
			ReportCommit: str(m, "report_commit"),
			State:        GateState(str(m, "state")),
			OpenedAt:     str(m, "opened_at"),
			ClosedAt:     str(m, "closed_at"),
		}, true
	case KindAgent:
		risk := StaleRisk(str(m, "stale_risk"))
		if risk == "" {
			risk = StaleNone
		}
		return &Agent{
			Base:         base,
			Milestone:    str(m, "milestone"),
			Role:         str(m, "role"),
			State:        AgentState(str(m, "state")),
			CurrentTask:  str(m, "current_task"),
			LastActivity: str(m, "last_activity"),
			NextAction:   str(m, "next_action"),
			StaleRisk:    risk,
		}, true
	case KindMessage:
		return &Message{
			Base:         base,
			Milestone:    str(m, "milestone"),
			Command:      str(m, "command"),
			Role:         str(m, "role"),
			Gate:         str(m, "gate"),
			Phase:        str(m, "phase"),
			TargetCommit: str(m, "target_commit"),
			RequiresAck:  boolean(m, "requires_ack"),
			Effective:    boolean(m, "effective"),
			SentAt:       str(m, "sent_at"),
			AckedAt:      str(m, "acked_at"),
		}, true
	case KindEvent:
		return &Event{
			Base:         base,
			Milestone:    str(m, "milestone"),
			Seq:          integer(m, "event_seq"),
			TS:           str(m, "ts"),
			Type:         EventType(str(m, "event")),
			Role:         str(m, "role"),
			Phase:        str(m, "phase"),
			Status:       str(m, "status"),
			Task:         str(m, "task"),
			Gate:         str(m, "gate"),
			TargetCommit: str(m, "target_commit"),
			AllowedRole:  str(m, "allowed_role"),
			TargetRole:   str(m, "target_role"),
			Command:      str(m, "command"),
			AckOf:        str(m, "ack_of"),
			MessageID:    str(m, "message_id"),
			Result:       str(m, "result"),
			ReportCommit: str(m, "report_commit"),
			ReportPath:   str(m, "report_path"),
			PingCount:    integer(m, "ping_count"),
			EtaMin:       integer(m, "eta_min"),
			Branch:       str(m, "branch"),
			LastSeenGate: str(m, "last_seen_gate"),
		}, true
	}
	return nil, false
}

// Fields returns the metadata written for a new event. Optional fields are
// present only when set.
func (e *Event) Fields() map[string]any {
	m := map[string]any{
		"kind":      string(KindEvent),
		"milestone": e.Milestone,
		"event":     string(e.Type),
		"event_seq": e.Seq,
		"ts":        e.TS,
		"role":      e.Role,
		"phase":     e.Phase,
		"status":    e.Status,
		"task":      e.Task,
	}
	optional := map[string]string{
		"gate":           e.Gate,
		"target_commit":  e.TargetCommit,
		"allowed_role":   e.AllowedRole,
		"target_role":    e.TargetRole,
		"command":        e.Command,
		"ack_of":         e.AckOf,
		"message_id":     e.MessageID,
		"result":         e.Result,
		"report_commit":  e.ReportCommit,
		"report_path":    e.ReportPath,
		"branch":         e.Branch,
		"last_seen_gate": e.LastSeenGate,
	}
	for k, v := range optional {
		if v != "" {
			m[k] = v
		}
	}
	if e.PingCount > 0 {
		m["ping_count"] = e.PingCount
	}
	if e.EtaMin > 0 {
		m["eta_min"] = e.EtaMin
	}
	return m
}

// Fields returns the metadata written for a new message.
func (msg *Message) Fields() map[string]any {
	m := map[string]any{
		"kind":         string(KindMessage),
		"milestone":    msg.Milestone,
		"command":      msg.Command,
		"role":         msg.Role,
		"gate":         msg.Gate,
		"phase":        msg.Phase,
		"requires_ack": msg.RequiresAck,
		"effective":    msg.Effective,
		"sent_at":      msg.SentAt,
	}
	if msg.TargetCommit != "" {
		m["target_commit"] = msg.TargetCommit
	}
	return m
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func integer(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0
			}
			return int(f)
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

func boolean(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}
