package render

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/fyrsmithlabs/devcoord/internal/entity"
)

// LedgerLine is the JSON projection of one event. Optional fields are
// omitted when empty.
type LedgerLine struct {
	EventSeq     int    `json:"event_seq"`
	TS           string `json:"ts"`
	Milestone    string `json:"milestone"`
	Event        string `json:"event"`
	Role         string `json:"role"`
	Phase        string `json:"phase"`
	Status       string `json:"status"`
	Task         string `json:"task"`
	Gate         string `json:"gate,omitempty"`
	TargetCommit string `json:"target_commit,omitempty"`
	AllowedRole  string `json:"allowed_role,omitempty"`
	TargetRole   string `json:"target_role,omitempty"`
	Command      string `json:"command,omitempty"`
	AckOf        string `json:"ack_of,omitempty"`
	MessageID    string `json:"message_id,omitempty"`
	Result       string `json:"result,omitempty"`
	ReportCommit string `json:"report_commit,omitempty"`
	ReportPath   string `json:"report_path,omitempty"`
	PingCount    int    `json:"ping_count,omitempty"`
	EtaMin       int    `json:"eta_min,omitempty"`
	Branch       string `json:"branch,omitempty"`
	LastSeenGate string `json:"last_seen_gate,omitempty"`
}

// DisplayRole renders the coordinator role as its upper-case label and
// every other role as-is.
func DisplayRole(role, coordinator string) string {
	if role != "" && role == coordinator {
		return strings.ToUpper(role)
	}
	return role
}

// NewLedgerLine projects ev for the ledger file.
func NewLedgerLine(ev *entity.Event, coordinator string) LedgerLine {
	return LedgerLine{
		EventSeq:     ev.Seq,
		TS:           ev.TS,
		Milestone:    ev.Milestone,
		Event:        string(ev.Type),
		Role:         DisplayRole(ev.Role, coordinator),
		Phase:        ev.Phase,
		Status:       ev.Status,
		Task:         ev.Task,
		Gate:         ev.Gate,
		TargetCommit: ev.TargetCommit,
		AllowedRole:  DisplayRole(ev.AllowedRole, coordinator),
		TargetRole:   DisplayRole(ev.TargetRole, coordinator),
		Command:      ev.Command,
		AckOf:        ev.AckOf,
		MessageID:    ev.MessageID,
		Result:       ev.Result,
		ReportCommit: ev.ReportCommit,
		ReportPath:   ev.ReportPath,
		PingCount:    ev.PingCount,
		EtaMin:       ev.EtaMin,
		Branch:       ev.Branch,
		LastSeenGate: ev.LastSeenGate,
	}
}

// EncodeLedger returns the full ledger: one compact JSON object per event,
// each newline-terminated. No events yields an empty slice.
func EncodeLedger(events []*entity.Event, coordinator string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, ev := range events {
		if err := enc.Encode(NewLedgerLine(ev, coordinator)); err != nil {
			return nil, fmt.Errorf("encoding event %d: %w", ev.Seq, err)
		}
	}
	return buf.Bytes(), nil
}

// LedgerStats describes a ledger file on disk.
type LedgerStats struct {
	Exists    bool
	Lines     int
	LatestSeq int
}

// ReadLedgerStats counts the non-empty lines of the ledger at path and
// reports the event_seq of the last one. A missing file is not an error.
func ReadLedgerStats(path string) (LedgerStats, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return LedgerStats{}, nil
		}
		return LedgerStats{}, fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()

	stats := LedgerStats{Exists: true}
	var last string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		stats.Lines++
		last = line
	}
	if err := sc.Err(); err != nil {
		return LedgerStats{}, fmt.Errorf("reading ledger: %w", err)
	}
	if last != "" {
		var probe struct {
			EventSeq int `json:"event_seq"`
		}
		if err := json.Unmarshal([]byte(last), &probe); err == nil {
			stats.LatestSeq = probe.EventSeq
		}
	}
	return stats, nil
}
