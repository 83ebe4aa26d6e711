// Package dispatch owns the fleet: the dispatcher that creates and routes
// coordinators, the supervisor that arbitrates retries and adapter
// circuits, and the fleet monitor that watches for stalls.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"maestro/internal/blackboard"
	"maestro/internal/coordinator"
	"maestro/internal/events"
	"maestro/internal/logging"
	"maestro/internal/messages"
)

// Circuit states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half_open"
)

// SupervisorConfig tunes retry and circuit policy.
type SupervisorConfig struct {
	MaxRetriesPerTask            int
	CircuitThreshold             int
	CircuitDuration              time.Duration
	FailureWindow                time.Duration
	QualityConcernRetryThreshold int
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.MaxRetriesPerTask <= 0 {
		c.MaxRetriesPerTask = 3
	}
	if c.CircuitThreshold <= 0 {
		c.CircuitThreshold = 3
	}
	if c.CircuitDuration <= 0 {
		c.CircuitDuration = 5 * time.Minute
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = time.Minute
	}
	if c.QualityConcernRetryThreshold <= 0 {
		c.QualityConcernRetryThreshold = 2
	}
	return c
}

// Snapshot is the supervisor's counter view, served synchronously.
type Snapshot struct {
	Started         int `json:"started"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	Escalations     int `json:"escalations"`
	QualityConcerns int `json:"quality_concerns"`
}

type circuit struct {
	state         string
	failures      []time.Time
	expiresAt     time.Time
	probeInFlight bool
}

// Router delivers a message to a task's coordinator. The dispatcher
// implements it.
type Router interface {
	Deliver(taskID string, msg any) bool
}

// Supervisor tracks failures and quality concerns out-of-band and owns the
// per-adapter circuit breakers. All state sits behind one mutex; no method
// blocks while holding it.
type Supervisor struct {
	cfg    SupervisorConfig
	board  *blackboard.Blackboard
	bus    events.Publisher
	router Router
	logger logging.Logger
	metric *Metrics
	now    func() time.Time

	mu                 sync.Mutex
	retries            map[string]int
	circuits           map[string]*circuit
	concerns           map[string]int
	concernRetryIssued map[string]bool
	snapshot           Snapshot

	concernCh chan messages.QualityConcern
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

// SupervisorOption configures the supervisor.
type SupervisorOption func(*Supervisor)

// WithClock substitutes the time source, for circuit expiry tests.
func WithClock(now func() time.Time) SupervisorOption {
	return func(s *Supervisor) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSupervisor builds a supervisor. board and metrics may be nil.
func NewSupervisor(cfg SupervisorConfig, board *blackboard.Blackboard, bus events.Publisher, logger logging.Logger, metrics *Metrics, opts ...SupervisorOption) *Supervisor {
	if bus == nil {
		bus = events.NopPublisher{}
	}
	s := &Supervisor{
		cfg:                cfg.withDefaults(),
		board:              board,
		bus:                bus,
		logger:             logging.OrNop(logger),
		metric:             metrics,
		now:                time.Now,
		retries:            make(map[string]int),
		circuits:           make(map[string]*circuit),
		concerns:           make(map[string]int),
		concernRetryIssued: make(map[string]bool),
		concernCh:          make(chan messages.QualityConcern, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRouter wires the dispatcher in after construction. The dispatcher and
// supervisor reference each other, so one side has to connect late.
func (s *Supervisor) SetRouter(r Router) {
	s.mu.Lock()
	s.router = r
	s.mu.Unlock()
}

// Concerns is the channel role workers send quality concerns to.
func (s *Supervisor) Concerns() chan<- messages.QualityConcern {
	return s.concernCh
}

// Start launches the out-of-band observer: the concern loop and a bus
// subscription for lifecycle and adapter signals.
func (s *Supervisor) Start(ctx context.Context, bus *events.Bus) {
	ctx, s.stop = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case concern := <-s.concernCh:
				s.onConcern(concern)
			}
		}
	}()

	if bus == nil {
		return
	}
	envelopes, cancel := bus.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-envelopes:
				if !ok {
					return
				}
				s.onEnvelope(env)
			}
		}
	}()
}

// Stop halts the observer goroutines.
func (s *Supervisor) Stop() {
	if s.stop != nil {
		s.stop()
	}
	s.wg.Wait()
}

func (s *Supervisor) onEnvelope(env events.Envelope) {
	switch env.Type {
	case events.TypeTaskSubmitted:
		s.mu.Lock()
		s.snapshot.Started++
		s.mu.Unlock()
	case events.TypeTaskDone:
		s.mu.Lock()
		s.snapshot.Completed++
		s.mu.Unlock()
	case events.TypeTaskFailed:
		s.mu.Lock()
		s.snapshot.Failed++
		s.mu.Unlock()
	case events.TypeTaskEscalated:
		s.mu.Lock()
		s.snapshot.Escalations++
		s.mu.Unlock()
		s.metric.IncEscalation()
	case events.TypeRoleSucceeded:
		payload, ok := env.Payload.(map[string]any)
		if !ok {
			return
		}
		if adapterID, ok := payload["adapter"].(string); ok {
			s.RecordSuccess(adapterID)
		}
		if role, ok := payload["role"].(string); ok {
			if ms, ok := payload["duration_ms"].(int64); ok {
				s.metric.ObserveRoleDuration(role, time.Duration(ms)*time.Millisecond)
			}
		}
	}
}

// Decide implements coordinator.FailureArbiter: count the failure against
// the task's retry budget and the mentioned adapters' circuits.
func (s *Supervisor) Decide(failed messages.RoleFailed) coordinator.RetryDecision {
	s.recordAdapterFailures(failed)

	if !failed.Retriable || !retriableReason(failed.Reason) {
		return coordinator.RetryDecision{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retries[failed.TaskID] >= s.cfg.MaxRetriesPerTask {
		s.logger.Warn("task %s exhausted its %d retries", failed.TaskID, s.cfg.MaxRetriesPerTask)
		return coordinator.RetryDecision{}
	}
	s.retries[failed.TaskID]++
	s.metric.IncRetry(failed.Role)
	return coordinator.RetryDecision{Retry: true, SkipAdapter: failed.AdapterID}
}

// retriableReason applies the fixed classification rule.
func retriableReason(reason string) bool {
	lower := strings.ToLower(reason)
	return !strings.Contains(lower, "unsupported role") && !strings.Contains(lower, "simulated")
}

// recordAdapterFailures attributes a failure to every adapter the error
// message names and trips circuits that cross the threshold.
func (s *Supervisor) recordAdapterFailures(failed messages.RoleFailed) {
	mentioned := make(map[string]bool)
	if failed.AdapterID != "" {
		mentioned[failed.AdapterID] = true
	}
	s.mu.Lock()
	for id := range s.circuits {
		if strings.Contains(failed.Reason, id) {
			mentioned[id] = true
		}
	}
	s.mu.Unlock()

	for id := range mentioned {
		s.RecordFailure(id)
	}
}

// RegisterAdapters seeds a closed circuit per adapter id.
func (s *Supervisor) RegisterAdapters(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.circuits[id]; !ok {
			s.circuits[id] = &circuit{state: CircuitClosed}
		}
	}
}

// Allows implements adapter.CircuitProbe. Open circuits whose timer expired
// move to half-open and admit exactly one probe.
func (s *Supervisor) Allows(adapterID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.circuits[adapterID]
	if !ok {
		return true
	}
	switch c.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if s.now().Before(c.expiresAt) {
			return false
		}
		s.transitionLocked(adapterID, c, CircuitHalfOpen)
		c.probeInFlight = true
		return true
	case CircuitHalfOpen:
		if c.probeInFlight {
			return false
		}
		c.probeInFlight = true
		return true
	}
	return true
}

// RecordSuccess closes a half-open circuit.
func (s *Supervisor) RecordSuccess(adapterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.circuits[adapterID]
	if !ok {
		return
	}
	c.probeInFlight = false
	c.failures = c.failures[:0]
	if c.state == CircuitHalfOpen {
		s.transitionLocked(adapterID, c, CircuitClosed)
	}
}

// RecordFailure counts one failure inside the rolling window; crossing the
// threshold opens the circuit. A half-open probe failure reopens
// immediately.
func (s *Supervisor) RecordFailure(adapterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.circuits[adapterID]
	if !ok {
		c = &circuit{state: CircuitClosed}
		s.circuits[adapterID] = c
	}
	now := s.now()

	if c.state == CircuitHalfOpen {
		c.probeInFlight = false
		c.expiresAt = now.Add(s.cfg.CircuitDuration)
		s.transitionLocked(adapterID, c, CircuitOpen)
		return
	}

	cutoff := now.Add(-s.cfg.FailureWindow)
	kept := c.failures[:0]
	for _, at := range c.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	c.failures = append(kept, now)

	if c.state == CircuitClosed && len(c.failures) >= s.cfg.CircuitThreshold {
		c.expiresAt = now.Add(s.cfg.CircuitDuration)
		c.failures = c.failures[:0]
		s.transitionLocked(adapterID, c, CircuitOpen)
	}
}

// transitionLocked flips the circuit state and publishes the change. Caller
// holds s.mu.
func (s *Supervisor) transitionLocked(adapterID string, c *circuit, to string) {
	from := c.state
	c.state = to
	s.logger.Warn("adapter %s circuit %s -> %s", adapterID, from, to)
	s.metric.IncCircuitTransition(adapterID, to)
	s.bus.Publish(events.TypeTelemetryCircuit, "", map[string]any{
		"adapter": adapterID, "from": from, "to": to,
		"until": c.expiresAt.Unix(),
	})
	if s.board != nil {
		// the note only matters while the adapter is degraded; closing
		// removes it
		if to == CircuitClosed {
			s.board.DeleteGlobal(blackboard.PrefixAdapterCircuit + adapterID)
			return
		}
		value := "state=" + to
		if to == CircuitOpen {
			value = fmt.Sprintf("state=open|until=%d", c.expiresAt.Unix())
		}
		s.board.PutGlobal(blackboard.PrefixAdapterCircuit+adapterID, value, "supervisor")
	}
}

// CircuitState reports an adapter's breaker state, for tests and health.
func (s *Supervisor) CircuitState(adapterID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.circuits[adapterID]; ok {
		return c.state
	}
	return CircuitClosed
}

// onConcern counts a task's quality concerns and issues one guarded retry
// at the threshold.
func (s *Supervisor) onConcern(concern messages.QualityConcern) {
	s.mu.Lock()
	s.snapshot.QualityConcerns++
	s.concerns[concern.TaskID]++
	count := s.concerns[concern.TaskID]
	issued := s.concernRetryIssued[concern.TaskID]
	shouldRetry := count >= s.cfg.QualityConcernRetryThreshold && !issued
	if shouldRetry {
		s.concernRetryIssued[concern.TaskID] = true
	}
	router := s.router
	s.mu.Unlock()

	if !shouldRetry {
		return
	}
	s.logger.Info("task %s hit %d quality concerns, issuing guarded retry off %s",
		concern.TaskID, count, concern.AdapterID)
	s.metric.IncRetry(concern.Role)
	if router != nil {
		router.Deliver(concern.TaskID, messages.RetryRole{
			TaskID:      concern.TaskID,
			Role:        concern.Role,
			SkipAdapter: concern.AdapterID,
			Attempt:     1,
		})
	}
}

// Snapshot returns the current counters.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Forget drops per-task bookkeeping once a task terminates.
func (s *Supervisor) Forget(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.retries, taskID)
	delete(s.concerns, taskID)
	delete(s.concernRetryIssued, taskID)
}
