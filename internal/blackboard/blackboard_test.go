package blackboard

import (
	"sync"
	"testing"

	"maestro/internal/events"
)

// recordingBus captures published events for assertions.
type recordingBus struct {
	mu     sync.Mutex
	events []recorded
}

type recorded struct {
	eventType string
	taskID    string
	payload   any
}

func (r *recordingBus) Publish(eventType, taskID string, payload any) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{eventType, taskID, payload})
	return uint64(len(r.events))
}

func (r *recordingBus) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.events...)
}

func TestPutTaskPublishesChange(t *testing.T) {
	bus := &recordingBus{}
	bb := New(bus, nil)

	bb.PutTask("t1", "rework_feedback", "tighten error handling", "coordinator")

	got := bus.all()
	if len(got) != 1 {
		t.Fatalf("published %d events, want 1", len(got))
	}
	if got[0].eventType != events.TypeBlackboardChanged {
		t.Errorf("event type = %q", got[0].eventType)
	}
	change := got[0].payload.(Change)
	if change.Scope != ScopeTask || change.TaskID != "t1" || change.Key != "rework_feedback" {
		t.Errorf("unexpected change payload: %+v", change)
	}
}

func TestGetTaskReturnsCopy(t *testing.T) {
	bb := New(nil, nil)
	bb.PutTask("t1", "k", "v", "w")

	snap := bb.GetTask("t1")
	snap["k"] = Entry{Key: "k", Value: "mutated"}

	if got := bb.GetTask("t1")["k"].Value; got != "v" {
		t.Errorf("snapshot mutation leaked into store: %q", got)
	}
	if len(bb.GetTask("missing")) != 0 {
		t.Error("missing task board should yield empty snapshot")
	}
}

func TestRemoveTaskEmitsNoEvents(t *testing.T) {
	bus := &recordingBus{}
	bb := New(bus, nil)
	bb.PutTask("t1", "k", "v", "w")

	before := len(bus.all())
	bb.RemoveTask("t1")

	if len(bus.all()) != before {
		t.Error("RemoveTask emitted retroactive events")
	}
	if len(bb.GetTask("t1")) != 0 {
		t.Error("task entries survived RemoveTask")
	}
}

func TestGlobalWritesVisibleAndPrefixed(t *testing.T) {
	bus := &recordingBus{}
	bb := New(bus, nil)

	bb.PutGlobal(PrefixAdapterCircuit+"claude", "state=open|until=123", "supervisor")
	bb.PutGlobal(PrefixTaskSucceeded+"t9", "add websocket support", "coordinator")

	if e, ok := bb.GetGlobal(PrefixAdapterCircuit + "claude"); !ok || e.Value != "state=open|until=123" {
		t.Fatalf("global entry missing or wrong: %+v ok=%v", e, ok)
	}

	open := bb.GlobalsWithPrefix(PrefixAdapterCircuit)
	if len(open) != 1 {
		t.Fatalf("GlobalsWithPrefix returned %d entries, want 1", len(open))
	}

	change := bus.all()[0].payload.(Change)
	if change.Scope != ScopeGlobal || change.TaskID != "" {
		t.Errorf("global change payload wrong: %+v", change)
	}
}

func TestConcurrentWritersDoNotRace(t *testing.T) {
	bb := New(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bb.PutTask("t1", "k", "v", "w")
				bb.PutGlobal("g", "v", "w")
				_ = bb.GetTask("t1")
				_ = bb.GlobalSnapshot()
			}
		}(i)
	}
	wg.Wait()
}
