// Package messages defines the typed payloads exchanged between the
// coordinator, role workers, supervisor and consensus collector. Components
// communicate exclusively through these structs over channels; reply
// channels are bounded to capacity 1 so a responder never blocks on a
// departed requester.
package messages

import "time"

// Role names accepted by the execution fabric.
const (
	RolePlanner      = "planner"
	RoleBuilder      = "builder"
	RoleReviewer     = "reviewer"
	RoleOrchestrator = "orchestrator"
)

// ExecuteRole asks a worker pool to run one role invocation. Workers render
// the role prompt from the task fields; Prompt, when set, overrides the
// rendered one (orchestrator mode uses this).
type ExecuteRole struct {
	TaskID           string
	Role             string
	Title            string
	Description      string
	PlanOutput       string
	BuildOutput      string
	ReworkFeedback   string
	Prompt           string
	PreferredAdapter string
	SkipAdapters     []string
	PriorConfidence  *float64
	Timeout          time.Duration

	// Reply receives exactly one RoleSucceeded or RoleFailed. Capacity 1.
	Reply chan RoleResult
}

// RoleResult is the single reply to an ExecuteRole request.
type RoleResult struct {
	Succeeded *RoleSucceeded
	Failed    *RoleFailed
}

// RoleSucceeded reports a completed role invocation.
type RoleSucceeded struct {
	TaskID     string
	Role       string
	Output     string
	AdapterID  string
	Confidence float64
	Duration   time.Duration
	Retried    bool
}

// RoleFailed reports a role invocation that produced no usable output.
type RoleFailed struct {
	TaskID    string
	Role      string
	AdapterID string
	Reason    string
	Retriable bool
}

// RetryRole instructs a coordinator to re-dispatch the named role, optionally
// steering away from a suspect adapter.
type RetryRole struct {
	TaskID      string
	Role        string
	SkipAdapter string
	Attempt     int
}

// QualityConcern flags a low-confidence output to the supervisor.
type QualityConcern struct {
	TaskID     string
	Role       string
	AdapterID  string
	Confidence float64
}

// SubTaskCompleted tells a parent coordinator that a spawned child reached
// Done.
type SubTaskCompleted struct {
	ParentID string
	ChildID  string
	Summary  string
}

// SubTaskFailed tells a parent coordinator that a spawned child reached
// Blocked or failed outright.
type SubTaskFailed struct {
	ParentID string
	ChildID  string
	Reason   string
}

// ConsensusVote is one reviewer's verdict on a build.
type ConsensusVote struct {
	TaskID     string
	VoterID    string
	Approved   bool
	Confidence float64
	Feedback   string
}

// ConsensusResult is the collector's resolution for a task.
type ConsensusResult struct {
	TaskID   string
	Approved bool
	Strategy string
	Votes    []ConsensusVote
	TimedOut bool
}

// Intervention carries a human action into a coordinator. Reply capacity 1.
type Intervention struct {
	TaskID  string
	Action  string
	Payload map[string]string
	Reply   chan InterventionOutcome
}

// Intervention action names accepted by POST /api/actions.
const (
	ActionApproveReview   = "approve_review"
	ActionRejectReview    = "reject_review"
	ActionRequestRework   = "request_rework"
	ActionPauseTask       = "pause_task"
	ActionResumeTask      = "resume_task"
	ActionSetSubTaskDepth = "set_subtask_depth"
)

// Intervention rejection codes.
const (
	RejectInvalidState      = "invalid_state"
	RejectPayloadInvalid    = "payload_invalid"
	RejectUnsupportedAction = "unsupported_action"
)

// InterventionOutcome is the coordinator's answer to an Intervention.
type InterventionOutcome struct {
	Accepted bool
	Deferred bool
	Code     string
	Detail   string
}

// NewReply returns a correctly bounded reply channel for ExecuteRole.
func NewReply() chan RoleResult {
	return make(chan RoleResult, 1)
}

// NewInterventionReply returns a correctly bounded reply channel.
func NewInterventionReply() chan InterventionOutcome {
	return make(chan InterventionOutcome, 1)
}
