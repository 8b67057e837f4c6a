package coord

// Requests double as MCP tool inputs and as the decoded form of apply
// payloads. Fields without omitempty are required.

// InitRequest creates or refreshes a milestone and its agents.
type InitRequest struct {
	Milestone string   `json:"milestone" jsonschema:"required,Milestone identifier (for example m7)"`
	RunDate   string   `json:"run_date,omitempty" jsonschema:"Run date as YYYY-MM-DD (defaults to today)"`
	Roles     []string `json:"roles" jsonschema:"required,Roles taking part in the milestone"`
}

// OpenGateRequest authorizes a role to start a gate.
type OpenGateRequest struct {
	Milestone    string `json:"milestone" jsonschema:"required,Milestone identifier"`
	Phase        string `json:"phase" jsonschema:"required,Phase the gate belongs to"`
	GateID       string `json:"gate_id" jsonschema:"required,Gate identifier (for example G1)"`
	AllowedRole  string `json:"allowed_role" jsonschema:"required,Role allowed to start the gate"`
	TargetCommit string `json:"target_commit" jsonschema:"required,Commit the gate is pinned to"`
	Task         string `json:"task,omitempty" jsonschema:"Free-text task description"`
}

// AckRequest acknowledges a pending message.
type AckRequest struct {
	Milestone string `json:"milestone" jsonschema:"required,Milestone identifier"`
	Role      string `json:"role" jsonschema:"required,Acknowledging role"`
	Command   string `json:"command" jsonschema:"required,Command being acknowledged (GATE_OPEN or PING)"`
	GateID    string `json:"gate_id" jsonschema:"required,Gate the message concerns"`
	Commit    string `json:"commit" jsonschema:"required,Commit the role is working from"`
	Phase     string `json:"phase,omitempty" jsonschema:"Phase (defaults to the gate's phase)"`
	Task      string `json:"task,omitempty" jsonschema:"Free-text task description"`
}

// HeartbeatRequest records a liveness and status report.
type HeartbeatRequest struct {
	Milestone    string `json:"milestone" jsonschema:"required,Milestone identifier"`
	Role         string `json:"role" jsonschema:"required,Reporting role"`
	Phase        string `json:"phase,omitempty" jsonschema:"Current phase"`
	Status       string `json:"status" jsonschema:"required,Free-text status such as working or blocked"`
	Task         string `json:"task,omitempty" jsonschema:"Free-text task description"`
	EtaMin       int    `json:"eta_min,omitempty" jsonschema:"Estimated minutes to completion"`
	GateID       string `json:"gate_id,omitempty" jsonschema:"Gate being worked on"`
	TargetCommit string `json:"target_commit,omitempty" jsonschema:"Commit being worked on"`
	Branch       string `json:"branch,omitempty" jsonschema:"Branch (detected from the workspace when omitted)"`
}

// PhaseCompleteRequest submits a phase for review.
type PhaseCompleteRequest struct {
	Milestone string `json:"milestone" jsonschema:"required,Milestone identifier"`
	Role      string `json:"role" jsonschema:"required,Submitting role"`
	Phase     string `json:"phase" jsonschema:"required,Completed phase"`
	GateID    string `json:"gate_id" jsonschema:"required,Gate the work was done under"`
	Commit    string `json:"commit" jsonschema:"required,Commit containing the work"`
	Task      string `json:"task,omitempty" jsonschema:"Free-text task description"`
	Branch    string `json:"branch,omitempty" jsonschema:"Branch (detected from the workspace when omitted)"`
}

// RecoveryCheckRequest is issued by a role recovering from interruption.
type RecoveryCheckRequest struct {
	Milestone    string `json:"milestone" jsonschema:"required,Milestone identifier"`
	Role         string `json:"role" jsonschema:"required,Recovering role"`
	LastSeenGate string `json:"last_seen_gate,omitempty" jsonschema:"Last gate the role remembers"`
	Task         string `json:"task,omitempty" jsonschema:"Free-text task description"`
}

// StateSyncOKRequest confirms a recovering role is in sync.
type StateSyncOKRequest struct {
	Milestone    string `json:"milestone" jsonschema:"required,Milestone identifier"`
	Role         string `json:"role" jsonschema:"required,Recovered role"`
	GateID       string `json:"gate_id" jsonschema:"required,Gate the role resumes"`
	TargetCommit string `json:"target_commit" jsonschema:"required,Commit the role resumes from"`
	Task         string `json:"task,omitempty" jsonschema:"Free-text task description"`
}

// PingRequest asks a role to confirm liveness.
type PingRequest struct {
	Milestone    string `json:"milestone" jsonschema:"required,Milestone identifier"`
	Role         string `json:"role" jsonschema:"required,Pinged role"`
	GateID       string `json:"gate_id" jsonschema:"required,Gate the ping concerns"`
	Phase        string `json:"phase,omitempty" jsonschema:"Phase (defaults to the gate's phase)"`
	TargetCommit string `json:"target_commit,omitempty" jsonschema:"Commit (defaults to the gate's target commit)"`
	Task         string `json:"task,omitempty" jsonschema:"Free-text task description"`
}

// UnconfirmedInstructionRequest records an instruction with no ACK.
type UnconfirmedInstructionRequest struct {
	Milestone    string `json:"milestone" jsonschema:"required,Milestone identifier"`
	Role         string `json:"role" jsonschema:"required,Role that has not acknowledged"`
	Command      string `json:"command" jsonschema:"required,Unacknowledged command"`
	GateID       string `json:"gate_id,omitempty" jsonschema:"Gate the instruction concerns"`
	Phase        string `json:"phase,omitempty" jsonschema:"Phase (defaults to the gate's phase)"`
	TargetCommit string `json:"target_commit,omitempty" jsonschema:"Commit (defaults to the gate's target commit)"`
	PingCount    *int   `json:"ping_count,omitempty" jsonschema:"Pings sent so far (counted from the ledger when omitted)"`
	Task         string `json:"task,omitempty" jsonschema:"Free-text task description"`
}

// LogPendingRequest records that ledger writes are deferred.
type LogPendingRequest struct {
	Milestone    string `json:"milestone" jsonschema:"required,Milestone identifier"`
	Phase        string `json:"phase,omitempty" jsonschema:"Current phase"`
	GateID       string `json:"gate_id,omitempty" jsonschema:"Current gate"`
	TargetCommit string `json:"target_commit,omitempty" jsonschema:"Current commit"`
	Task         string `json:"task,omitempty" jsonschema:"Free-text task description"`
}

// StaleDetectedRequest flags a role suspected to be unresponsive.
type StaleDetectedRequest struct {
	Milestone    string `json:"milestone" jsonschema:"required,Milestone identifier"`
	Role         string `json:"role" jsonschema:"required,Suspected role"`
	GateID       string `json:"gate_id,omitempty" jsonschema:"Gate the role holds"`
	Phase        string `json:"phase,omitempty" jsonschema:"Phase (defaults to the gate's phase)"`
	TargetCommit string `json:"target_commit,omitempty" jsonschema:"Commit (defaults to the gate's target commit)"`
	PingCount    *int   `json:"ping_count,omitempty" jsonschema:"Pings sent so far (counted from the ledger when omitted)"`
	Task         string `json:"task,omitempty" jsonschema:"Free-text task description"`
}

// GateReviewRequest records a review verdict.
type GateReviewRequest struct {
	Milestone    string `json:"milestone" jsonschema:"required,Milestone identifier"`
	Role         string `json:"role" jsonschema:"required,Reviewing role"`
	GateID       string `json:"gate_id" jsonschema:"required,Reviewed gate"`
	Phase        string `json:"phase,omitempty" jsonschema:"Phase (defaults to the gate's phase)"`
	Result       string `json:"result" jsonschema:"required,Verdict such as PASS or FAIL"`
	ReportCommit string `json:"report_commit" jsonschema:"required,Commit containing the report"`
	ReportPath   string `json:"report_path" jsonschema:"required,Repository-relative report path"`
	Task         string `json:"task,omitempty" jsonschema:"Free-text task description"`
}

// GateCloseRequest closes a reviewed gate.
type GateCloseRequest struct {
	Milestone    string `json:"milestone" jsonschema:"required,Milestone identifier"`
	GateID       string `json:"gate_id" jsonschema:"required,Gate to close"`
	Phase        string `json:"phase,omitempty" jsonschema:"Phase (defaults to the gate's phase)"`
	Result       string `json:"result" jsonschema:"required,Verdict matching the review"`
	ReportCommit string `json:"report_commit" jsonschema:"required,Commit containing the report"`
	ReportPath   string `json:"report_path" jsonschema:"required,Repository-relative report path"`
	Task         string `json:"task,omitempty" jsonschema:"Free-text task description"`
}

// MilestoneRequest names a milestone for the read-side operations.
type MilestoneRequest struct {
	Milestone string `json:"milestone" jsonschema:"required,Milestone identifier"`
}

// Result reports the outcome of a state-changing operation.
type Result struct {
	Action     string   `json:"action"`
	Milestone  string   `json:"milestone"`
	Noop       bool     `json:"noop"`
	EventSeqs  []int    `json:"event_seqs,omitempty"`
	Events     []string `json:"events,omitempty"`
	Gate       string   `json:"gate,omitempty"`
	GateState  string   `json:"gate_state,omitempty"`
	Role       string   `json:"role,omitempty"`
	AgentState string   `json:"agent_state,omitempty"`
	MessageID  string   `json:"message_id,omitempty"`
	Message    string   `json:"message"`
}
