package roles

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"maestro/internal/adapter"
	"maestro/internal/messages"
	"maestro/internal/quality"
)

// fakeExecutor returns scripted output per preferred adapter, recording the
// sequence of preferences it saw.
type fakeExecutor struct {
	mu       sync.Mutex
	adapters []string
	byPref   map[string]string
	fallback string
	err      error
	prefs    []string
}

func (f *fakeExecutor) Execute(_ context.Context, req adapter.Request) (adapter.Result, error) {
	f.mu.Lock()
	f.prefs = append(f.prefs, req.PreferredAdapter)
	f.mu.Unlock()
	if f.err != nil {
		return adapter.Result{}, f.err
	}
	out, ok := f.byPref[req.PreferredAdapter]
	if !ok {
		out = f.fallback
	}
	id := req.PreferredAdapter
	if id == "" {
		id = f.adapters[0]
	}
	return adapter.Result{Output: out, AdapterID: id, Duration: time.Millisecond}, nil
}

func (f *fakeExecutor) Adapters() []string { return f.adapters }

func (f *fakeExecutor) seenPrefs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prefs...)
}

type concernSink struct {
	ch chan messages.QualityConcern
}

func newConcernSink() *concernSink {
	return &concernSink{ch: make(chan messages.QualityConcern, 4)}
}

// richOutput scores comfortably above every threshold.
var richOutput = "## Plan\n- step one: implement the approach\n- then add subtask breakdown\n```go\ncode\n```\n" +
	strings.Repeat("plan step first then approach subtask ", 20)

func TestHandleHappyPath(t *testing.T) {
	ex := &fakeExecutor{adapters: []string{"claude", "gemini"}, fallback: richOutput}
	h := NewPlannerHandler(Deps{Executor: ex})

	ok, failed := h.Handle(context.Background(), messages.ExecuteRole{
		TaskID: "t1", Role: messages.RolePlanner, Title: "add feature",
	})
	if failed != nil {
		t.Fatalf("failed: %+v", failed)
	}
	if ok.Confidence < quality.ConcernThreshold {
		t.Errorf("confidence = %v, expected above concern threshold", ok.Confidence)
	}
	if ok.Retried {
		t.Error("no retry expected on a good first attempt")
	}
	if len(ex.seenPrefs()) != 1 {
		t.Errorf("executor called %d times, want 1", len(ex.seenPrefs()))
	}
}

func TestHandleSelfRetriesOnceOnLowConfidence(t *testing.T) {
	// First attempt (no preference) yields junk; the retry against gemini
	// yields rich output.
	ex := &fakeExecutor{
		adapters: []string{"claude", "gemini"},
		fallback: "x",
		byPref:   map[string]string{"gemini": richOutput},
	}
	sink := newConcernSink()
	h := NewPlannerHandler(Deps{Executor: ex, Concerns: sink.ch})

	ok, failed := h.Handle(context.Background(), messages.ExecuteRole{
		TaskID: "t1", Role: messages.RolePlanner, Title: "t",
	})
	if failed != nil {
		t.Fatalf("failed: %+v", failed)
	}
	if !ok.Retried {
		t.Error("expected the retry attempt to win")
	}
	prefs := ex.seenPrefs()
	if len(prefs) != 2 || prefs[1] != "gemini" {
		t.Errorf("prefs = %v, want one retry against gemini", prefs)
	}
}

func TestHandleNoRetryWhenPriorConfidenceSet(t *testing.T) {
	prior := 0.1
	ex := &fakeExecutor{adapters: []string{"claude", "gemini"}, fallback: "x"}
	h := NewBuilderHandler(Deps{Executor: ex})

	_, failed := h.Handle(context.Background(), messages.ExecuteRole{
		TaskID: "t1", Role: messages.RoleBuilder, Title: "t", PriorConfidence: &prior,
	})
	if failed != nil {
		t.Fatalf("failed: %+v", failed)
	}
	if n := len(ex.seenPrefs()); n != 1 {
		t.Errorf("executor called %d times, prior confidence must suppress retry", n)
	}
}

func TestHandleKeepsBetterAttempt(t *testing.T) {
	// Both attempts are junk but the retry scores lower (weaker adapter
	// prior); the first must win.
	ex := &fakeExecutor{
		adapters: []string{"claude", "gemini"},
		fallback: "x",
		byPref:   map[string]string{"gemini": "y"},
	}
	h := NewPlannerHandler(Deps{Executor: ex})

	ok, failed := h.Handle(context.Background(), messages.ExecuteRole{
		TaskID: "t1", Role: messages.RolePlanner, Title: "t",
	})
	if failed != nil {
		t.Fatalf("failed: %+v", failed)
	}
	if ok.Retried {
		t.Error("worse retry must not replace the first attempt")
	}
	if ok.AdapterID != "claude" {
		t.Errorf("kept adapter = %s, want claude", ok.AdapterID)
	}
}

func TestHandleSendsConcernBelowThreshold(t *testing.T) {
	ex := &fakeExecutor{adapters: []string{"claude"}, fallback: "x"}
	sink := newConcernSink()
	h := NewReviewerHandler(Deps{Executor: ex, Concerns: sink.ch})

	_, failed := h.Handle(context.Background(), messages.ExecuteRole{
		TaskID: "t1", Role: messages.RoleReviewer, Title: "t",
	})
	if failed != nil {
		t.Fatalf("failed: %+v", failed)
	}
	select {
	case c := <-sink.ch:
		if c.TaskID != "t1" || c.Role != messages.RoleReviewer {
			t.Errorf("concern = %+v", c)
		}
	default:
		t.Fatal("no concern delivered to supervisor channel")
	}
}

func TestHandleFailureMapping(t *testing.T) {
	t.Run("adapter exhaustion retriable", func(t *testing.T) {
		ex := &fakeExecutor{
			adapters: []string{"claude"},
			err:      &adapter.AllAdaptersFailedError{Role: "builder"},
		}
		h := NewBuilderHandler(Deps{Executor: ex})
		_, failed := h.Handle(context.Background(), messages.ExecuteRole{
			TaskID: "t1", Role: messages.RoleBuilder, Title: "t",
		})
		if failed == nil || !failed.Retriable {
			t.Fatalf("want retriable failure, got %+v", failed)
		}
	})

	t.Run("simulated non-retriable", func(t *testing.T) {
		h := NewBuilderHandler(Deps{
			Executor: &fakeExecutor{adapters: []string{"claude"}}, SimulateFailure: true,
		})
		_, failed := h.Handle(context.Background(), messages.ExecuteRole{
			TaskID: "t1", Role: messages.RoleBuilder, Title: "t",
		})
		if failed == nil || failed.Retriable || !strings.Contains(failed.Reason, "simulated") {
			t.Fatalf("want non-retriable simulated failure, got %+v", failed)
		}
	})

	t.Run("wrong role non-retriable", func(t *testing.T) {
		h := NewPlannerHandler(Deps{Executor: &fakeExecutor{adapters: []string{"claude"}}})
		_, failed := h.Handle(context.Background(), messages.ExecuteRole{
			TaskID: "t1", Role: "janitor", Title: "t",
		})
		if failed == nil || failed.Retriable || !strings.Contains(failed.Reason, "unsupported role") {
			t.Fatalf("want non-retriable unsupported role, got %+v", failed)
		}
	})
}

func TestAlternativeOf(t *testing.T) {
	order := []string{"claude", "gemini", "codex"}
	tests := []struct {
		current string
		want    string
	}{
		{"claude", "gemini"},
		{"gemini", "codex"},
		{"codex", "claude"},
		{"stranger", "claude"},
	}
	for _, tt := range tests {
		if got := alternativeOf(order, tt.current); got != tt.want {
			t.Errorf("alternativeOf(%s) = %s, want %s", tt.current, got, tt.want)
		}
	}
	if got := alternativeOf([]string{"solo"}, "solo"); got != "" {
		t.Errorf("single-adapter catalogue returned %q", got)
	}
}

func TestPoolRoutesAndReplies(t *testing.T) {
	ex := &fakeExecutor{adapters: []string{"claude"}, fallback: richOutput}
	pool := NewPool(2, map[string]Handler{
		messages.RolePlanner: NewPlannerHandler(Deps{Executor: ex}),
	}, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	reply := messages.NewReply()
	pool.Submit(messages.ExecuteRole{
		TaskID: "t1", Role: messages.RolePlanner, Title: "t", Reply: reply,
	})

	select {
	case res := <-reply:
		if res.Succeeded == nil {
			t.Fatalf("result = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply from pool")
	}
}

func TestPoolUnknownRole(t *testing.T) {
	pool := NewPool(1, map[string]Handler{}, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	reply := messages.NewReply()
	pool.Submit(messages.ExecuteRole{TaskID: "t1", Role: "mystery", Reply: reply})

	select {
	case res := <-reply:
		if res.Failed == nil || res.Failed.Retriable {
			t.Fatalf("result = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply from pool")
	}
}
