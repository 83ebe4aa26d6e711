package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"maestro/internal/events"
	"maestro/internal/logging"
)

// MemoryWriter receives every task snapshot after a mutation. Implementations
// persist externally; failures are logged, never propagated into the task's
// lifecycle.
type MemoryWriter interface {
	Write(task Task) error
}

// MemoryReader serves persisted snapshots back on startup.
type MemoryReader interface {
	List(limit int) ([]Task, error)
	Get(id string) (Task, bool, error)
}

// Store is the authoritative task map.
type Store struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	writer MemoryWriter
	bus    events.Publisher
	logger logging.Logger
}

// NewStore builds an empty store. writer may be nil.
func NewStore(bus events.Publisher, writer MemoryWriter, logger logging.Logger) *Store {
	if bus == nil {
		bus = events.NopPublisher{}
	}
	return &Store{
		tasks:  make(map[string]*Task),
		writer: writer,
		bus:    bus,
		logger: logging.OrNop(logger),
	}
}

// Create registers a new queued task.
func (s *Store) Create(id, title, description, parentID string, depth int) (Task, error) {
	now := time.Now().UTC()
	task := Task{
		ID: id, Title: title, Description: description,
		Status: StatusQueued, CreatedAt: now, UpdatedAt: now,
		ParentTaskID: parentID, Depth: depth,
	}

	s.mu.Lock()
	if _, exists := s.tasks[id]; exists {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("task %s already exists", id)
	}
	s.tasks[id] = &task
	snapshot := task.clone()
	s.mu.Unlock()

	s.persist(snapshot)
	return snapshot, nil
}

// Get returns a copy of the task.
func (s *Store) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.clone(), true
}

// List returns every task, newest first.
func (s *Store) List() []Task {
	s.mu.RLock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// SetStatus transitions the task. Transitions out of a terminal status are
// rejected.
func (s *Store) SetStatus(id string, status Status) (Task, error) {
	if !status.Valid() {
		return Task{}, fmt.Errorf("unknown status %q", status)
	}
	return s.mutate(id, func(t *Task) error {
		if t.Status.IsTerminal() && t.Status != status {
			return fmt.Errorf("task %s is terminal (%s), cannot move to %s", id, t.Status, status)
		}
		t.Status = status
		return nil
	})
}

// SetRoleOutput records a role's output on the task.
func (s *Store) SetRoleOutput(id, role, output string) (Task, error) {
	return s.mutate(id, func(t *Task) error {
		switch role {
		case "planner":
			t.PlanningOutput = output
		case "builder":
			t.BuildOutput = output
		case "reviewer":
			t.ReviewOutput = output
		default:
			return fmt.Errorf("no output slot for role %q", role)
		}
		return nil
	})
}

// SetSummary records the final summary.
func (s *Store) SetSummary(id, summary string) (Task, error) {
	return s.mutate(id, func(t *Task) error {
		t.Summary = summary
		return nil
	})
}

// SetError records a terminal error string.
func (s *Store) SetError(id, msg string) (Task, error) {
	return s.mutate(id, func(t *Task) error {
		t.Error = msg
		return nil
	})
}

// LinkSubTask appends childID to the parent's sub-task set.
func (s *Store) LinkSubTask(parentID, childID string) (Task, error) {
	return s.mutate(parentID, func(t *Task) error {
		for _, id := range t.SubTaskIDs {
			if id == childID {
				return nil
			}
		}
		t.SubTaskIDs = append(t.SubTaskIDs, childID)
		return nil
	})
}

func (s *Store) mutate(id string, fn func(*Task) error) (Task, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("task %s not found", id)
	}
	if err := fn(t); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	t.UpdatedAt = time.Now().UTC()
	snapshot := t.clone()
	s.mu.Unlock()

	s.persist(snapshot)
	return snapshot, nil
}

func (s *Store) persist(snapshot Task) {
	if s.writer != nil {
		if err := s.writer.Write(snapshot); err != nil {
			s.logger.Warn("memory writer failed for task %s: %v", snapshot.ID, err)
		}
	}
	s.bus.Publish(events.TypeTaskSnapshot, snapshot.ID, snapshot)
}

// restore loads a task without persisting or publishing task events. Used by
// Bootstrap only.
func (s *Store) restore(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := task.clone()
	s.tasks[task.ID] = &cp
}
