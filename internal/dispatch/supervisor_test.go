package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"maestro/internal/adapter"
	"maestro/internal/blackboard"
	"maestro/internal/messages"
)

func testMetrics() *Metrics {
	return MustNewMetrics(prometheus.NewRegistry())
}

func newTestSupervisor(opts ...SupervisorOption) *Supervisor {
	s := NewSupervisor(SupervisorConfig{}, nil, nil, nil, testMetrics(), opts...)
	s.RegisterAdapters([]string{"claude", "gemini"})
	return s
}

func TestDecideRespectsRetryCap(t *testing.T) {
	s := newTestSupervisor()
	failed := messages.RoleFailed{TaskID: "t1", Role: "builder", Reason: "exit code 1", Retriable: true}

	for i := 0; i < 3; i++ {
		if d := s.Decide(failed); !d.Retry {
			t.Fatalf("attempt %d refused", i+1)
		}
	}
	if d := s.Decide(failed); d.Retry {
		t.Fatal("fourth retry allowed past the cap")
	}
	// other tasks keep their own budget
	if d := s.Decide(messages.RoleFailed{TaskID: "t2", Role: "builder", Reason: "x", Retriable: true}); !d.Retry {
		t.Fatal("budget leaked across tasks")
	}
}

func TestDecideNonRetriableClassification(t *testing.T) {
	s := newTestSupervisor()
	tests := []struct {
		reason    string
		retriable bool
		want      bool
	}{
		{"unsupported role janitor", true, false},
		{"simulated failure", true, false},
		{"deadline exceeded", true, true},
		{"anything", false, false},
	}
	for _, tt := range tests {
		d := s.Decide(messages.RoleFailed{TaskID: "t-" + tt.reason, Reason: tt.reason, Retriable: tt.retriable})
		if d.Retry != tt.want {
			t.Errorf("Decide(%q, retriable=%v).Retry = %v, want %v", tt.reason, tt.retriable, d.Retry, tt.want)
		}
	}
}

func TestCircuitLattice(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	board := blackboard.New(nil, nil)
	s := NewSupervisor(SupervisorConfig{}, board, nil, nil, testMetrics(), WithClock(clock))
	s.RegisterAdapters([]string{"claude"})

	if !s.Allows("claude") {
		t.Fatal("fresh circuit must be closed")
	}

	// three failures in the window trip the breaker
	s.RecordFailure("claude")
	s.RecordFailure("claude")
	if s.CircuitState("claude") != CircuitClosed {
		t.Fatal("opened early")
	}
	s.RecordFailure("claude")
	if s.CircuitState("claude") != CircuitOpen {
		t.Fatal("three failures did not open the circuit")
	}
	if s.Allows("claude") {
		t.Fatal("open circuit admitted traffic")
	}
	if e, ok := board.GetGlobal(blackboard.PrefixAdapterCircuit + "claude"); !ok || e.Value[:10] != "state=open" {
		t.Fatalf("blackboard signal = %+v ok=%v", e, ok)
	}

	// expiry moves to half-open and admits exactly one probe
	now = now.Add(5*time.Minute + time.Second)
	if !s.Allows("claude") {
		t.Fatal("expired circuit refused the probe")
	}
	if s.CircuitState("claude") != CircuitHalfOpen {
		t.Fatalf("state = %s, want half_open", s.CircuitState("claude"))
	}
	if s.Allows("claude") {
		t.Fatal("second concurrent probe admitted while half-open")
	}

	// probe success closes and clears the stigmergy note
	s.RecordSuccess("claude")
	if s.CircuitState("claude") != CircuitClosed {
		t.Fatalf("state after probe success = %s", s.CircuitState("claude"))
	}
	if e, ok := board.GetGlobal(blackboard.PrefixAdapterCircuit + "claude"); ok {
		t.Errorf("blackboard note survived the close: %q", e.Value)
	}
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := NewSupervisor(SupervisorConfig{}, nil, nil, nil, testMetrics(), WithClock(clock))
	s.RegisterAdapters([]string{"claude"})

	for i := 0; i < 3; i++ {
		s.RecordFailure("claude")
	}
	now = now.Add(6 * time.Minute)
	if !s.Allows("claude") {
		t.Fatal("probe refused")
	}
	s.RecordFailure("claude")
	if s.CircuitState("claude") != CircuitOpen {
		t.Fatalf("state after probe failure = %s", s.CircuitState("claude"))
	}
	if s.Allows("claude") {
		t.Fatal("reopened circuit admitted traffic")
	}
}

func TestFailureWindowForgetsOldFailures(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := NewSupervisor(SupervisorConfig{FailureWindow: time.Minute}, nil, nil, nil, testMetrics(), WithClock(clock))
	s.RegisterAdapters([]string{"claude"})

	s.RecordFailure("claude")
	s.RecordFailure("claude")
	now = now.Add(2 * time.Minute)
	s.RecordFailure("claude")

	if s.CircuitState("claude") != CircuitClosed {
		t.Fatal("stale failures counted against the threshold")
	}
}

func TestAdapterMentionInReasonTripsCircuit(t *testing.T) {
	s := newTestSupervisor()
	for i := 0; i < 3; i++ {
		s.Decide(messages.RoleFailed{
			TaskID: "t1", Role: "builder", Retriable: true,
			Reason: "all adapters failed for role builder: [gemini: exit code 1: boom]",
		})
	}
	if s.CircuitState("gemini") != CircuitOpen {
		t.Errorf("gemini circuit = %s, want open", s.CircuitState("gemini"))
	}
	if s.CircuitState("claude") != CircuitClosed {
		t.Errorf("claude circuit = %s, want closed", s.CircuitState("claude"))
	}
}

type recordingRouter struct {
	mu        sync.Mutex
	delivered []any
}

func (r *recordingRouter) Deliver(taskID string, msg any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, msg)
	return true
}

func (r *recordingRouter) all() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.delivered...)
}

func TestQualityConcernsIssueOneGuardedRetry(t *testing.T) {
	s := newTestSupervisor()
	router := &recordingRouter{}
	s.SetRouter(router)

	concern := messages.QualityConcern{TaskID: "t1", Role: "builder", AdapterID: "claude", Confidence: 0.2}
	s.onConcern(concern)
	if len(router.all()) != 0 {
		t.Fatal("retry issued below the concern threshold")
	}
	s.onConcern(concern)
	s.onConcern(concern)
	s.onConcern(concern)

	delivered := router.all()
	if len(delivered) != 1 {
		t.Fatalf("delivered %d retries, want exactly 1", len(delivered))
	}
	retry := delivered[0].(messages.RetryRole)
	if retry.SkipAdapter != "claude" || retry.Role != "builder" {
		t.Errorf("retry = %+v", retry)
	}

	if got := s.Snapshot().QualityConcerns; got != 4 {
		t.Errorf("snapshot concerns = %d, want 4", got)
	}
}

// rescuedRunner fails one adapter and lets the next one serve the role.
type rescuedRunner struct {
	mu    sync.Mutex
	calls []string
}

func (r *rescuedRunner) Run(_ context.Context, cfg adapter.AdapterConfig, _ string) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cfg.ID)
	r.mu.Unlock()
	if cfg.ID == "fail" {
		return "", fmt.Errorf("exit code 1: no stderr")
	}
	return "rescued output", nil
}

func (r *rescuedRunner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestFallbackAttemptsFeedAdapterCircuit(t *testing.T) {
	board := blackboard.New(nil, nil)
	s := NewSupervisor(SupervisorConfig{}, board, nil, nil, testMetrics())
	runner := &rescuedRunner{}
	cat := &adapter.Catalogue{Adapters: []adapter.AdapterConfig{
		{ID: "fail", Command: "false", Sandbox: adapter.SandboxHost, PromptVia: adapter.PromptViaStdin},
		{ID: "echo", Command: "cat", Sandbox: adapter.SandboxHost, PromptVia: adapter.PromptViaStdin},
	}}
	ex := adapter.NewExecutor(cat, nil, adapter.WithRunner(runner), adapter.WithCircuitProbe(s))
	s.RegisterAdapters(ex.Adapters())

	for i := 0; i < 3; i++ {
		res, err := ex.Execute(context.Background(), adapter.Request{Prompt: "p", Role: "builder"})
		if err != nil {
			t.Fatalf("execute %d: %v", i+1, err)
		}
		if res.AdapterID != "echo" {
			t.Fatalf("execute %d served by %s, want echo", i+1, res.AdapterID)
		}
	}

	if got := s.CircuitState("fail"); got != CircuitOpen {
		t.Fatalf("after 3 failed attempts fail's circuit = %s, want open", got)
	}
	e, ok := board.GetGlobal(blackboard.PrefixAdapterCircuit + "fail")
	if !ok || !strings.HasPrefix(e.Value, "state=open") {
		t.Fatalf("blackboard signal = %+v ok=%v", e, ok)
	}

	// the open circuit keeps the doomed adapter out of the next walk
	before := len(runner.seen())
	if _, err := ex.Execute(context.Background(), adapter.Request{Prompt: "p", Role: "builder"}); err != nil {
		t.Fatal(err)
	}
	for _, id := range runner.seen()[before:] {
		if id == "fail" {
			t.Error("open circuit still received traffic")
		}
	}
}

func TestForgetResetsTaskBudget(t *testing.T) {
	s := newTestSupervisor()
	failed := messages.RoleFailed{TaskID: "t1", Role: "builder", Reason: "x", Retriable: true}
	for i := 0; i < 3; i++ {
		s.Decide(failed)
	}
	if s.Decide(failed).Retry {
		t.Fatal("cap not enforced")
	}
	s.Forget("t1")
	if !s.Decide(failed).Retry {
		t.Fatal("Forget did not reset the budget")
	}
}
