// Package blackboard holds per-task scratchpad state and process-wide
// stigmergy signals. Coordinators never message each other directly; they
// react to global writes observed here.
package blackboard

import (
	"strings"
	"sync"
	"time"

	"maestro/internal/events"
	"maestro/internal/logging"
)

// Reserved global key prefixes. Writers outside the owning component must
// not use them.
const (
	PrefixAdapterCircuit = "adapter_circuit:"
	PrefixTaskSucceeded  = "task_succeeded:"
	PrefixTaskBlocked    = "task_blocked:"
	PrefixAgentJoined    = "agent_joined:"
)

// Scope distinguishes task-local entries from process-wide signals.
type Scope string

const (
	ScopeTask   Scope = "task"
	ScopeGlobal Scope = "global"
)

// Entry is one blackboard record.
type Entry struct {
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	LastWriter string    `json:"last_writer"`
	At         time.Time `json:"at"`
}

// Change is the payload published on every mutation.
type Change struct {
	Scope  Scope  `json:"scope"`
	TaskID string `json:"task_id,omitempty"`
	Key    string `json:"key"`
	Value  string `json:"value"`
	Writer string `json:"writer"`
}

// Blackboard is the shared store. All mutation goes through its mutex; no
// reader ever observes a half-applied write.
type Blackboard struct {
	mu     sync.RWMutex
	tasks  map[string]map[string]Entry
	global map[string]Entry
	bus    events.Publisher
	logger logging.Logger
}

// New creates an empty blackboard publishing change events to bus.
func New(bus events.Publisher, logger logging.Logger) *Blackboard {
	if bus == nil {
		bus = events.NopPublisher{}
	}
	return &Blackboard{
		tasks:  make(map[string]map[string]Entry),
		global: make(map[string]Entry),
		bus:    bus,
		logger: logging.OrNop(logger),
	}
}

// PutTask writes a task-scoped entry and publishes the change.
func (b *Blackboard) PutTask(taskID, key, value, writer string) {
	b.mu.Lock()
	board, ok := b.tasks[taskID]
	if !ok {
		board = make(map[string]Entry)
		b.tasks[taskID] = board
	}
	board[key] = Entry{Key: key, Value: value, LastWriter: writer, At: time.Now().UTC()}
	b.mu.Unlock()

	b.bus.Publish(events.TypeBlackboardChanged, taskID, Change{
		Scope: ScopeTask, TaskID: taskID, Key: key, Value: value, Writer: writer,
	})
}

// GetTask returns a copy of the task's entries. The live map is never
// exposed.
func (b *Blackboard) GetTask(taskID string) map[string]Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	board, ok := b.tasks[taskID]
	if !ok {
		return map[string]Entry{}
	}
	out := make(map[string]Entry, len(board))
	for k, v := range board {
		out[k] = v
	}
	return out
}

// RemoveTask drops the task's board. No retroactive deletion events are
// emitted.
func (b *Blackboard) RemoveTask(taskID string) {
	b.mu.Lock()
	delete(b.tasks, taskID)
	b.mu.Unlock()
}

// PutGlobal writes a process-wide entry and publishes the change. Writes are
// fire-and-forget; any coordinator observes them on its next world-state
// refresh.
func (b *Blackboard) PutGlobal(key, value, writer string) {
	b.mu.Lock()
	b.global[key] = Entry{Key: key, Value: value, LastWriter: writer, At: time.Now().UTC()}
	b.mu.Unlock()

	b.bus.Publish(events.TypeBlackboardChanged, "", Change{
		Scope: ScopeGlobal, Key: key, Value: value, Writer: writer,
	})
}

// GetGlobal returns a single global entry.
func (b *Blackboard) GetGlobal(key string) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.global[key]
	return e, ok
}

// GlobalSnapshot returns a copy of every global entry.
func (b *Blackboard) GlobalSnapshot() map[string]Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Entry, len(b.global))
	for k, v := range b.global {
		out[k] = v
	}
	return out
}

// GlobalsWithPrefix returns the global entries whose key starts with prefix.
func (b *Blackboard) GlobalsWithPrefix(prefix string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Entry
	for k, v := range b.global {
		if strings.HasPrefix(k, prefix) {
			out = append(out, v)
		}
	}
	return out
}

// DeleteGlobal removes a global entry without emitting a change event.
func (b *Blackboard) DeleteGlobal(key string) {
	b.mu.Lock()
	delete(b.global, key)
	b.mu.Unlock()
}
