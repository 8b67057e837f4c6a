package entity

// Partial-update structs. A nil field leaves the stored value alone; Merge
// overlays the set fields onto the existing metadata map.

// Str returns a pointer to s.
func Str(s string) *string { return &s }

// Merge returns a copy of existing with every key of patch overlaid.
func Merge(existing, patch map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(patch))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func setString(m map[string]any, key string, v *string) {
	if v != nil {
		m[key] = *v
	}
}

// MilestonePatch updates a milestone record.
type MilestonePatch struct {
	RunDate *string
}

// Fields returns the metadata overlay.
func (p MilestonePatch) Fields(milestone string) map[string]any {
	m := map[string]any{
		"kind":           string(KindMilestone),
		"milestone":      milestone,
		"schema_version": SchemaVersion,
	}
	setString(m, "run_date", p.RunDate)
	return m
}

// PhasePatch updates a phase record.
type PhasePatch struct {
	State      *PhaseState
	LastCommit *string
}

// Fields returns the metadata overlay.
func (p PhasePatch) Fields(milestone, phase string) map[string]any {
	m := map[string]any{
		"kind":      string(KindPhase),
		"milestone": milestone,
		"phase":     phase,
	}
	if p.State != nil {
		m["state"] = string(*p.State)
	}
	setString(m, "last_commit", p.LastCommit)
	return m
}

// GatePatch updates a gate record.
type GatePatch struct {
	Phase        *string
	AllowedRole  *string
	TargetCommit *string
	Result       *string
	ReportPath   *string
	ReportCommit *string
	State        *GateState
	OpenedAt     *string
	ClosedAt     *string
}

// Fields returns the metadata overlay.
func (p GatePatch) Fields(milestone, gate string) map[string]any {
	m := map[string]any{
		"kind":      string(KindGate),
		"milestone": milestone,
		"gate":      gate,
	}
	setString(m, "phase", p.Phase)
	setString(m, "allowed_role", p.AllowedRole)
	setString(m, "target_commit", p.TargetCommit)
	setString(m, "result", p.Result)
	setString(m, "report_path", p.ReportPath)
	setString(m, "report_commit", p.ReportCommit)
	setString(m, "opened_at", p.OpenedAt)
	setString(m, "closed_at", p.ClosedAt)
	if p.State != nil {
		m["state"] = string(*p.State)
	}
	return m
}

// AgentPatch updates an agent record.
type AgentPatch struct {
	State        *AgentState
	CurrentTask  *string
	LastActivity *string
	NextAction   *string
	StaleRisk    *StaleRisk
}

// Fields returns the metadata overlay.
func (p AgentPatch) Fields(milestone, role string) map[string]any {
	m := map[string]any{
		"kind":      string(KindAgent),
		"milestone": milestone,
		"role":      role,
	}
	if p.State != nil {
		m["state"] = string(*p.State)
	}
	if p.StaleRisk != nil {
		m["stale_risk"] = string(*p.StaleRisk)
	}
	setString(m, "current_task", p.CurrentTask)
	setString(m, "last_activity", p.LastActivity)
	setString(m, "next_action", p.NextAction)
	return m
}

// MessagePatch updates a message record. Effective only ever moves to true.
type MessagePatch struct {
	Effective bool
	AckedAt   *string
}

// Fields returns the metadata overlay.
func (p MessagePatch) Fields() map[string]any {
	m := map[string]any{}
	if p.Effective {
		m["effective"] = true
	}
	setString(m, "acked_at", p.AckedAt)
	return m
}

// AgentStatePtr returns a pointer to s.
func AgentStatePtr(s AgentState) *AgentState { return &s }

// GateStatePtr returns a pointer to s.
func GateStatePtr(s GateState) *GateState { return &s }

// PhaseStatePtr returns a pointer to s.
func PhaseStatePtr(s PhaseState) *PhaseState { return &s }

// StaleRiskPtr returns a pointer to s.
func StaleRiskPtr(s StaleRisk) *StaleRisk { return &s }
