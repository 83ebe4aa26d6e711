// Package registry holds the authoritative in-memory view of every task
// plus the persistence ports external memory backends plug into.
package registry

import "time"

// Status is a task's lifecycle stage.
type Status string

const (
	StatusQueued    Status = "Queued"
	StatusPlanning  Status = "Planning"
	StatusBuilding  Status = "Building"
	StatusReviewing Status = "Reviewing"
	StatusDone      Status = "Done"
	StatusBlocked   Status = "Blocked"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusBlocked
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusPlanning, StatusBuilding, StatusReviewing, StatusDone, StatusBlocked:
		return true
	}
	return false
}

// Task is the registry snapshot of one task. The owning coordinator is the
// only writer; everyone else reads copies.
type Task struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	PlanningOutput string    `json:"planning_output,omitempty"`
	BuildOutput    string    `json:"build_output,omitempty"`
	ReviewOutput   string    `json:"review_output,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	Error          string    `json:"error,omitempty"`
	ParentTaskID   string    `json:"parent_task_id,omitempty"`
	SubTaskIDs     []string  `json:"sub_task_ids,omitempty"`
	Depth          int       `json:"depth"`
}

func (t Task) clone() Task {
	t.SubTaskIDs = append([]string(nil), t.SubTaskIDs...)
	return t
}
