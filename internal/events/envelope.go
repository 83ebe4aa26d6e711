// Package events implements the process-wide event fabric: the canonical
// envelope, the catalogue of event types, and the ring-buffer Bus that
// assigns a single monotonic sequence to everything the runtime emits.
package events

import "time"

// Envelope wraps every externally visible event. Consumers order by
// Sequence, never by At.
type Envelope struct {
	Sequence uint64    `json:"sequence"`
	Type     string    `json:"type"`
	TaskID   string    `json:"taskId,omitempty"`
	At       time.Time `json:"at"`
	Payload  any       `json:"payload"`
}

// Canonical event types. Unknown types must be ignored by consumers, so the
// runtime is free to extend this list.
const (
	TypeTaskSubmitted    = "task.submitted"
	TypeTaskTransition   = "task.transition"
	TypeTaskDecision     = "task.decision"
	TypeTaskRetry        = "task.retry"
	TypeTaskDone         = "task.done"
	TypeTaskFailed       = "task.failed"
	TypeTaskEscalated    = "task.escalated"
	TypeTaskIntervention = "task.intervention"
	TypeTaskSnapshot     = "task.snapshot"

	TypeRoleDispatched = "role.dispatched"
	TypeRoleStarted    = "role.started"
	TypeRoleSucceeded  = "role.succeeded"
	TypeRoleFailed     = "role.failed"

	TypeUISurface = "ui.surface"
	TypeUIPatch   = "ui.patch"

	TypeActionReceived     = "action.received"
	TypeActionAcknowledged = "action.acknowledged"
	TypeActionRejected     = "action.rejected"

	TypeMemoryBootstrap = "memory.bootstrap"
	TypeMemoryTasks     = "memory.tasks"

	TypeTelemetryQuality   = "telemetry.quality"
	TypeTelemetryRetry     = "telemetry.retry"
	TypeTelemetryCircuit   = "telemetry.circuit"
	TypeTelemetryConsensus = "telemetry.consensus"

	TypeBlackboardChanged = "blackboard.changed"
)

// Publisher is the narrow interface components use to emit events. The Bus
// implements it; tests substitute a recording fake.
type Publisher interface {
	Publish(eventType, taskID string, payload any) uint64
}

// NopPublisher discards every event. Useful for hermetic component tests.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(string, string, any) uint64 { return 0 }
