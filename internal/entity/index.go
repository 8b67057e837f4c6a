package entity

import (
	"sort"

	"github.com/fyrsmithlabs/devcoord/internal/store"
)

// Index is the in-memory view of one milestone, rebuilt from the flat
// record list on every operation.
type Index struct {
	MilestoneID string
	Milestone   *Milestone
	Phases      []*Phase
	Gates       []*Gate
	Agents      []*Agent
	Messages    []*Message
	Events      []*Event // ordered by Seq, then record id

	size int
}

// Build projects records onto entities and keeps those belonging to
// milestone. Duplicate singleton records resolve to the oldest one.
func Build(records []store.Record, milestone string) *Index {
	ix := &Index{MilestoneID: milestone, size: len(records)}
	for i, rec := range records {
		ent, ok := FromRecord(rec)
		if !ok {
			continue
		}
		switch e := ent.(type) {
		case *Milestone:
			if e.Milestone != milestone || ix.Milestone != nil {
				continue
			}
			e.order = i
			ix.Milestone = e
		case *Phase:
			if e.Milestone != milestone || ix.Phase(e.Phase) != nil {
				continue
			}
			e.order = i
			ix.Phases = append(ix.Phases, e)
		case *Gate:
			if e.Milestone != milestone || ix.Gate(e.Gate) != nil {
				continue
			}
			e.order = i
			ix.Gates = append(ix.Gates, e)
		case *Agent:
			if e.Milestone != milestone || ix.Agent(e.Role) != nil {
				continue
			}
			e.order = i
			ix.Agents = append(ix.Agents, e)
		case *Message:
			if e.Milestone != milestone {
				continue
			}
			e.order = i
			ix.Messages = append(ix.Messages, e)
		case *Event:
			if e.Milestone != milestone {
				continue
			}
			e.order = i
			ix.Events = append(ix.Events, e)
		}
	}
	sort.SliceStable(ix.Events, func(i, j int) bool {
		a, b := ix.Events[i], ix.Events[j]
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.ID < b.ID
	})
	return ix
}

// Phase returns the phase with the given id, or nil.
func (ix *Index) Phase(id string) *Phase {
	for _, p := range ix.Phases {
		if p.Phase == id {
			return p
		}
	}
	return nil
}

// Gate returns the gate with the given id, or nil.
func (ix *Index) Gate(id string) *Gate {
	for _, g := range ix.Gates {
		if g.Gate == id {
			return g
		}
	}
	return nil
}

// Agent returns the agent for role, or nil.
func (ix *Index) Agent(role string) *Agent {
	for _, a := range ix.Agents {
		if a.Role == role {
			return a
		}
	}
	return nil
}

// SortedGates returns gates ordered by phase, then gate id.
func (ix *Index) SortedGates() []*Gate {
	out := append([]*Gate(nil), ix.Gates...)
	sort.SliceStable(out, func(i, j int) bool {
		if c := CompareNatural(out[i].Phase, out[j].Phase); c != 0 {
			return c < 0
		}
		return CompareNatural(out[i].Gate, out[j].Gate) < 0
	})
	return out
}

// SortedPhases returns phases in natural order.
func (ix *Index) SortedPhases() []*Phase {
	out := append([]*Phase(nil), ix.Phases...)
	sort.SliceStable(out, func(i, j int) bool {
		return CompareNatural(out[i].Phase, out[j].Phase) < 0
	})
	return out
}

// SortedAgents returns agents ordered by role.
func (ix *Index) SortedAgents() []*Agent {
	out := append([]*Agent(nil), ix.Agents...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Role < out[j].Role
	})
	return out
}

// LatestGate returns the last gate by phase ordering, or nil.
func (ix *Index) LatestGate() *Gate {
	gates := ix.SortedGates()
	if len(gates) == 0 {
		return nil
	}
	return gates[len(gates)-1]
}

// LatestPhase returns the last phase in natural order, or nil.
func (ix *Index) LatestPhase() *Phase {
	phases := ix.SortedPhases()
	if len(phases) == 0 {
		return nil
	}
	return phases[len(phases)-1]
}

// PendingMessage returns the most recent message for (role, gate, command)
// that requires acknowledgement and is not yet effective.
func (ix *Index) PendingMessage(role, gate, command string) *Message {
	var found *Message
	for _, m := range ix.Messages {
		if m.Role != role || m.Gate != gate || m.Command != command || !m.Pending() {
			continue
		}
		if found == nil || m.SentAt > found.SentAt || (m.SentAt == found.SentAt && m.order > found.order) {
			found = m
		}
	}
	return found
}

// PendingAcks returns every message awaiting acknowledgement whose gate is
// not closed, ordered by gate, role, then send time.
func (ix *Index) PendingAcks() []*Message {
	var out []*Message
	for _, m := range ix.Messages {
		if !m.Pending() {
			continue
		}
		if g := ix.Gate(m.Gate); g != nil && g.State == GateClosed {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := CompareNatural(out[i].Gate, out[j].Gate); c != 0 {
			return c < 0
		}
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		if out[i].SentAt != out[j].SentAt {
			return out[i].SentAt < out[j].SentAt
		}
		return out[i].order < out[j].order
	})
	return out
}

// OpenGates returns the ids of gates not yet closed, in gate order.
func (ix *Index) OpenGates() []string {
	var out []string
	for _, g := range ix.SortedGates() {
		if g.State != GateClosed {
			out = append(out, g.Gate)
		}
	}
	return out
}

// NextSeq returns the sequence number for the next event.
func (ix *Index) NextSeq() int {
	return ix.LatestSeq() + 1
}

// LatestSeq returns the highest recorded sequence number, or 0.
func (ix *Index) LatestSeq() int {
	latest := 0
	for _, e := range ix.Events {
		if e.Seq > latest {
			latest = e.Seq
		}
	}
	return latest
}

// LatestEvent returns the event with the highest sequence number, or nil.
func (ix *Index) LatestEvent() *Event {
	if len(ix.Events) == 0 {
		return nil
	}
	return ix.Events[len(ix.Events)-1]
}

// LastEvent returns the latest event satisfying match, or nil.
func (ix *Index) LastEvent(match func(*Event) bool) *Event {
	for i := len(ix.Events) - 1; i >= 0; i-- {
		if match(ix.Events[i]) {
			return ix.Events[i]
		}
	}
	return nil
}

// EventsOf returns every event of type t in ledger order.
func (ix *Index) EventsOf(t EventType) []*Event {
	var out []*Event
	for _, e := range ix.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Put inserts ent, or replaces the entity with the same record id, so
// the index stays current across the writes of one operation.
func (ix *Index) Put(ent Entity) {
	switch e := ent.(type) {
	case *Milestone:
		if ix.Milestone != nil {
			e.order = ix.Milestone.order
		} else {
			e.order = ix.nextOrder()
		}
		ix.Milestone = e
	case *Phase:
		ix.Phases = putEntity(ix, ix.Phases, e)
	case *Gate:
		ix.Gates = putEntity(ix, ix.Gates, e)
	case *Agent:
		ix.Agents = putEntity(ix, ix.Agents, e)
	case *Message:
		ix.Messages = putEntity(ix, ix.Messages, e)
	case *Event:
		ix.Events = putEntity(ix, ix.Events, e)
	}
}

type indexed interface {
	Entity
	base() *Base
}

func (b *Base) base() *Base { return b }

func putEntity[T indexed](ix *Index, list []T, ent T) []T {
	for i, cur := range list {
		if cur.RecordID() == ent.RecordID() {
			ent.base().order = cur.base().order
			list[i] = ent
			return list
		}
	}
	ent.base().order = ix.nextOrder()
	return append(list, ent)
}

func (ix *Index) nextOrder() int {
	n := ix.size
	ix.size++
	return n
}
