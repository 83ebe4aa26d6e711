// Package consensus aggregates reviewer votes into a single verdict per
// task.
package consensus

import (
	"context"
	"sync"
	"time"

	"maestro/internal/events"
	"maestro/internal/logging"
	"maestro/internal/messages"
	"maestro/internal/observability"
)

// Voting strategies.
const (
	StrategyMajority  = "majority"
	StrategyUnanimous = "unanimous"
	StrategyWeighted  = "weighted"
)

// DefaultDeadline bounds how long a session waits for quorum.
const DefaultDeadline = 5 * time.Minute

type session struct {
	taskID   string
	required int
	strategy string
	votes    []messages.ConsensusVote
	voters   map[string]bool
	reply    chan messages.ConsensusResult
	timer    *time.Timer
}

// Collector runs vote sessions. One session per task id at a time; votes
// that arrive before Open are buffered and replayed.
type Collector struct {
	mu       sync.Mutex
	sessions map[string]*session
	early    map[string][]messages.ConsensusVote
	deadline time.Duration
	bus      events.Publisher
	logger   logging.Logger
	metrics  *observability.MetricsCollector
}

// Option configures the collector.
type Option func(*Collector)

// WithDeadline overrides the session deadline. Tests shrink it.
func WithDeadline(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.deadline = d
		}
	}
}

// WithMetrics wires the round counter. The collector tolerates a nil one.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(c *Collector) { c.metrics = m }
}

// NewCollector builds an empty collector.
func NewCollector(bus events.Publisher, logger logging.Logger, opts ...Option) *Collector {
	if bus == nil {
		bus = events.NopPublisher{}
	}
	c := &Collector{
		sessions: make(map[string]*session),
		early:    make(map[string][]messages.ConsensusVote),
		deadline: DefaultDeadline,
		bus:      bus,
		logger:   logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open starts a session and returns the channel the result will arrive on.
// Buffered early votes for the task are replayed immediately, which can
// resolve the session before Open returns. Opening over an existing session
// cancels it first.
func (c *Collector) Open(taskID string, requiredVotes int, strategy string) <-chan messages.ConsensusResult {
	if requiredVotes < 1 {
		requiredVotes = 1
	}
	reply := make(chan messages.ConsensusResult, 1)

	c.mu.Lock()
	if old, ok := c.sessions[taskID]; ok {
		c.logger.Warn("task %s already has a consensus session, replacing", taskID)
		old.timer.Stop()
		delete(c.sessions, taskID)
	}
	s := &session{
		taskID:   taskID,
		required: requiredVotes,
		strategy: strategy,
		voters:   make(map[string]bool),
		reply:    reply,
	}
	s.timer = time.AfterFunc(c.deadline, func() { c.expire(taskID) })
	c.sessions[taskID] = s

	buffered := c.early[taskID]
	delete(c.early, taskID)
	for _, v := range buffered {
		c.admitLocked(s, v)
	}
	c.maybeResolveLocked(s, false)
	c.mu.Unlock()

	return reply
}

// Vote records one verdict. Votes for unopened tasks are buffered.
func (c *Collector) Vote(v messages.ConsensusVote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[v.TaskID]
	if !ok {
		c.early[v.TaskID] = append(c.early[v.TaskID], v)
		return
	}
	c.admitLocked(s, v)
	c.maybeResolveLocked(s, false)
}

// Cancel drops a session without delivering a result. Early buffers for the
// task are cleared too.
func (c *Collector) Cancel(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[taskID]; ok {
		s.timer.Stop()
		delete(c.sessions, taskID)
	}
	delete(c.early, taskID)
}

func (c *Collector) admitLocked(s *session, v messages.ConsensusVote) {
	if s.voters[v.VoterID] {
		c.logger.Warn("duplicate vote from %s for task %s ignored", v.VoterID, s.taskID)
		return
	}
	s.voters[v.VoterID] = true
	v.Confidence = clamp(v.Confidence)
	s.votes = append(s.votes, v)
}

func (c *Collector) expire(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[taskID]
	if !ok {
		return
	}
	c.logger.Warn("consensus session for task %s hit its deadline with %d/%d votes",
		taskID, len(s.votes), s.required)
	c.maybeResolveLocked(s, true)
}

func (c *Collector) maybeResolveLocked(s *session, deadline bool) {
	if !deadline && len(s.votes) < s.required {
		return
	}
	s.timer.Stop()
	delete(c.sessions, s.taskID)

	result := messages.ConsensusResult{
		TaskID:   s.taskID,
		Approved: decide(s.strategy, s.votes),
		Strategy: s.strategy,
		Votes:    s.votes,
		TimedOut: deadline,
	}
	verdict := "rejected"
	if result.Approved {
		verdict = "approved"
	}
	c.metrics.RecordConsensusRound(context.Background(), verdict)
	c.bus.Publish(events.TypeTelemetryConsensus, s.taskID, map[string]any{
		"strategy":  s.strategy,
		"approved":  result.Approved,
		"votes":     len(s.votes),
		"required":  s.required,
		"timed_out": deadline,
	})
	s.reply <- result
}

// decide evaluates the strategy. No votes means no approval regardless of
// strategy.
func decide(strategy string, votes []messages.ConsensusVote) bool {
	if len(votes) == 0 {
		return false
	}
	switch strategy {
	case StrategyUnanimous:
		for _, v := range votes {
			if !v.Approved {
				return false
			}
		}
		return true
	case StrategyWeighted:
		var up, down float64
		for _, v := range votes {
			if v.Approved {
				up += v.Confidence
			} else {
				down += v.Confidence
			}
		}
		return up > down
	default: // majority
		approvals := 0
		for _, v := range votes {
			if v.Approved {
				approvals++
			}
		}
		return approvals > len(votes)-approvals
	}
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
