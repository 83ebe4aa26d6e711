// Package coordinator drives one task through its lifecycle. Each
// coordinator is a single goroutine that loops {refresh world state, plan,
// dispatch, await}; everything it owns is confined to that goroutine and
// reached only through the inbox.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"maestro/internal/blackboard"
	"maestro/internal/events"
	"maestro/internal/goap"
	"maestro/internal/logging"
	"maestro/internal/messages"
	"maestro/internal/observability"
	"maestro/internal/quality"
	"maestro/internal/registry"
)

// RolePool accepts role execution requests.
type RolePool interface {
	Submit(req messages.ExecuteRole)
}

// ConsensusOpener is the collector surface the coordinator uses.
type ConsensusOpener interface {
	Open(taskID string, requiredVotes int, strategy string) <-chan messages.ConsensusResult
	Vote(v messages.ConsensusVote)
	Cancel(taskID string)
}

// Spawner creates child tasks. The dispatcher implements it.
type Spawner interface {
	Spawn(parentID, title, description string, depth int) (string, error)
}

// RetryDecision is the arbiter's answer to a retriable failure.
type RetryDecision struct {
	Retry       bool
	SkipAdapter string
}

// FailureArbiter decides retry-versus-accept for role failures. The
// supervisor implements it.
type FailureArbiter interface {
	Decide(failed messages.RoleFailed) RetryDecision
}

// Config tunes one coordinator.
type Config struct {
	MaxRetries           int
	ReviewConsensusCount int
	ConsensusStrategy    string
	MaxSubTaskDepth      int
	RoleTimeout          time.Duration
	OrchestratorMode     bool
}

// HardDepthCap bounds the sub-task depth override.
const HardDepthCap = 10

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.ReviewConsensusCount <= 0 {
		c.ReviewConsensusCount = 1
	}
	if c.ConsensusStrategy == "" {
		c.ConsensusStrategy = "majority"
	}
	if c.MaxSubTaskDepth <= 0 {
		c.MaxSubTaskDepth = 3
	}
	if c.MaxSubTaskDepth > HardDepthCap {
		c.MaxSubTaskDepth = HardDepthCap
	}
	if c.RoleTimeout <= 0 {
		c.RoleTimeout = 300 * time.Second
	}
	return c
}

// Deps wires the coordinator to the rest of the runtime.
type Deps struct {
	Store      *registry.Store
	Board      *blackboard.Blackboard
	Planner    *goap.Planner
	Workers    RolePool
	Reviewers  RolePool
	Consensus  ConsensusOpener
	Spawner    Spawner
	Arbiter    FailureArbiter
	Bus        events.Publisher
	AdapterIDs []string
	Logger     logging.Logger
	Tracing    *observability.TracerProvider
	Metrics    *observability.MetricsCollector
}

// Coordinator owns one task.
type Coordinator struct {
	id          string
	title       string
	description string
	parentID    string
	depth       int
	cfg         Config
	deps        Deps
	logger      logging.Logger

	inbox chan any

	// goroutine-confined state
	reviewPassed      bool
	reviewRejected    bool
	consensusReached  bool
	consensusDisputed bool
	retryCount        int
	paused            bool
	deferredAction    string
	pendingChildren   map[string]bool
	childFailures     []string
	subTasksSpawned   bool
	lastConfidence    float64
	hasConfidence     bool
	lastAdapter       map[string]string
	skipNextAdapter   string
	votesRequired     int
	terminal          bool
	status            registry.Status
}

// New builds a coordinator for an already registered task.
func New(task registry.Task, cfg Config, deps Deps) *Coordinator {
	if deps.Bus == nil {
		deps.Bus = events.NopPublisher{}
	}
	if deps.Tracing == nil {
		deps.Tracing = observability.Noop()
	}
	cfg = cfg.withDefaults()
	return &Coordinator{
		id:              task.ID,
		title:           task.Title,
		description:     task.Description,
		parentID:        task.ParentTaskID,
		depth:           task.Depth,
		cfg:             cfg,
		deps:            deps,
		logger:          logging.OrNop(deps.Logger),
		inbox:           make(chan any, 16),
		pendingChildren: make(map[string]bool),
		lastAdapter:     make(map[string]string),
		votesRequired:   cfg.ReviewConsensusCount,
		status:          task.Status,
	}
}

// Inbox is where the dispatcher and supervisor deliver messages.
func (c *Coordinator) Inbox() chan<- any {
	return c.inbox
}

// Run is the coordinator goroutine body. It returns when the task reaches a
// terminal status or the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ctx, span := c.deps.Tracing.StartSpan(ctx, observability.SpanTaskLifecycle,
		observability.TaskAttrs(c.id, c.parentID)...)
	defer span.End()
	defer func() {
		span.SetAttributes(observability.StatusAttrs(string(c.status))...)
		c.deps.Consensus.Cancel(c.id)
		if c.deps.Board != nil {
			c.deps.Board.RemoveTask(c.id)
		}
	}()

	c.deps.Bus.Publish(events.TypeUISurface, c.id, map[string]any{
		"title": c.title, "status": string(c.status), "depth": c.depth,
	})

	for !c.terminal {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c.drainInbox()
		if c.terminal {
			return
		}
		if c.checkChildFailures() {
			return
		}

		if c.paused {
			if c.deferredAction == "" {
				world := c.refreshWorld()
				if action, ok := c.decide(ctx, world); ok {
					c.deferredAction = action
				}
			}
			c.awaitWhilePaused(ctx)
			continue
		}

		action := c.deferredAction
		c.deferredAction = ""
		if action == "" {
			world := c.refreshWorld()
			var ok bool
			action, ok = c.decide(ctx, world)
			if !ok {
				return
			}
		}
		c.dispatch(ctx, action)
	}
}

// refreshWorld rebuilds the symbolic state from the registry snapshot, local
// flags and cached global blackboard signals.
func (c *Coordinator) refreshWorld() goap.State {
	task, _ := c.deps.Store.Get(c.id)

	openCircuits := 0
	similar := false
	if c.deps.Board != nil {
		for _, e := range c.deps.Board.GlobalsWithPrefix(blackboard.PrefixAdapterCircuit) {
			if strings.Contains(e.Value, "state=open") {
				openCircuits++
			}
		}
		for _, e := range c.deps.Board.GlobalsWithPrefix(blackboard.PrefixTaskSucceeded) {
			if strings.HasSuffix(e.Key, c.id) {
				continue
			}
			if keywordOverlap(c.title, e.Value) {
				similar = true
				break
			}
		}
	}
	adapterAvailable := len(c.deps.AdapterIDs) == 0 || openCircuits < len(c.deps.AdapterIDs)
	lowQuality := c.hasConfidence && c.lastConfidence < quality.SelfRetryThreshold

	return goap.State(0).
		With(goap.TaskExists, true).
		With(goap.AdapterAvailable, adapterAvailable).
		With(goap.PlanExists, task.PlanningOutput != "").
		With(goap.BuildExists, task.BuildOutput != "").
		With(goap.ReviewPassed, c.reviewPassed).
		With(goap.ReviewRejected, c.reviewRejected).
		With(goap.RetryLimitReached, c.retryCount >= c.cfg.MaxRetries).
		With(goap.TaskBlocked, false).
		With(goap.SubTasksSpawned, c.subTasksSpawned).
		With(goap.SubTasksCompleted, c.subTasksSpawned && len(c.pendingChildren) == 0).
		With(goap.ConsensusReached, c.consensusReached).
		With(goap.ConsensusDisputed, c.consensusDisputed).
		With(goap.HighFailureRateDetected, openCircuits > 0 || lowQuality).
		With(goap.SimilarTaskSucceeded, similar)
}

func (c *Coordinator) goal() goap.Condition {
	if c.subTasksSpawned {
		return goap.Cond(
			goap.KV(goap.ReviewPassed, true),
			goap.KV(goap.SubTasksCompleted, true),
		)
	}
	return goap.Cond(goap.KV(goap.ReviewPassed, true))
}

// decide runs the planner (and, when enabled, the orchestrator role) and
// publishes the decision. Returns false only on an internal planner error,
// which escalates.
func (c *Coordinator) decide(ctx context.Context, world goap.State) (string, bool) {
	_, span := c.deps.Tracing.StartSpan(ctx, observability.SpanPlannerSearch,
		observability.TaskAttrs(c.id, c.parentID)...)
	defer span.End()

	plan, err := c.deps.Planner.Plan(world, c.goal(), goap.DefaultCatalogue(), nil)
	if err != nil {
		span.SetAttributes(observability.ErrorAttrs(err)...)
		c.deps.Metrics.RecordPlannerRun(ctx, "error")
		c.logger.Error("task %s planner error: %v", c.id, err)
		c.escalate("planner error: " + err.Error())
		return "", false
	}

	action := goap.ActionFinalize
	outcome := "planned"
	switch {
	case plan.DeadEnd:
		action = goap.ActionEscalate
		outcome = "dead_end"
	case !plan.Empty():
		action = plan.Actions[0].Name
	}
	c.deps.Metrics.RecordPlannerRun(ctx, outcome)

	if c.cfg.OrchestratorMode && action != goap.ActionEscalate {
		if chosen, ok := c.consultOrchestrator(ctx, plan); ok {
			action = chosen
		}
	}

	span.SetAttributes(attribute.String(observability.AttrAction, action))
	c.deps.Bus.Publish(events.TypeTaskDecision, c.id, map[string]any{
		"action":   action,
		"plan":     plan.Names(),
		"dead_end": plan.DeadEnd,
		"world":    world.String(),
	})
	return action, true
}

// consultOrchestrator asks a worker to pick the next action. Any failure
// falls back to the GOAP recommendation.
func (c *Coordinator) consultOrchestrator(ctx context.Context, plan goap.Plan) (string, bool) {
	var board map[string]blackboard.Entry
	if c.deps.Board != nil {
		board = c.deps.Board.GetTask(c.id)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You orchestrate task %q.\n", c.title)
	fmt.Fprintf(&b, "Recommended plan: %s\n", strings.Join(plan.Names(), " -> "))
	if len(board) > 0 {
		b.WriteString("Blackboard:\n")
		for k, e := range board {
			fmt.Fprintf(&b, "  %s = %s\n", k, e.Value)
		}
	}
	b.WriteString("Answer with exactly one line: ACTION: <name>\n")

	reply := messages.NewReply()
	c.deps.Workers.Submit(messages.ExecuteRole{
		TaskID:  c.id,
		Role:    messages.RoleOrchestrator,
		Title:   c.title,
		Prompt:  b.String(),
		Timeout: c.cfg.RoleTimeout,
		Reply:   reply,
	})
	select {
	case res := <-reply:
		if res.Succeeded == nil {
			return "", false
		}
		return parseActionChoice(res.Succeeded.Output)
	case <-time.After(c.cfg.RoleTimeout):
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

func (c *Coordinator) dispatch(ctx context.Context, action string) {
	switch action {
	case goap.ActionPlan:
		c.setStatus(registry.StatusPlanning)
		c.runRole(ctx, messages.RolePlanner)
	case goap.ActionBuild, goap.ActionRework:
		if action == goap.ActionRework {
			// rework rounds count against the retry budget, so a task
			// bouncing between build and reject eventually dead-ends
			c.retryCount++
		}
		c.setStatus(registry.StatusBuilding)
		c.runRole(ctx, messages.RoleBuilder)
	case goap.ActionReview:
		c.setStatus(registry.StatusReviewing)
		if c.cfg.ReviewConsensusCount > 1 {
			c.votesRequired = c.cfg.ReviewConsensusCount
			c.runConsensusReview(ctx)
		} else {
			c.runRole(ctx, messages.RoleReviewer)
		}
	case goap.ActionSecondOpinion:
		c.setStatus(registry.StatusReviewing)
		c.deps.Consensus.Cancel(c.id)
		c.votesRequired++
		c.consensusDisputed = false
		c.runConsensusReview(ctx)
	case goap.ActionWaitForSubTasks:
		c.awaitSubTasks(ctx)
	case goap.ActionFinalize:
		c.finalize()
	case goap.ActionEscalate:
		c.escalate("no viable action from current state")
	default:
		c.logger.Error("task %s: unknown action %q", c.id, action)
		c.escalate("unknown action " + action)
	}
}

func (c *Coordinator) roleRequest(role string) messages.ExecuteRole {
	task, _ := c.deps.Store.Get(c.id)
	req := messages.ExecuteRole{
		TaskID:      c.id,
		Role:        role,
		Title:       c.title,
		Description: c.description,
		PlanOutput:  task.PlanningOutput,
		BuildOutput: task.BuildOutput,
		Timeout:     c.cfg.RoleTimeout,
		Reply:       messages.NewReply(),
	}
	if c.skipNextAdapter != "" {
		req.SkipAdapters = []string{c.skipNextAdapter}
		c.skipNextAdapter = ""
	}
	if role == messages.RoleBuilder && c.deps.Board != nil {
		if e, ok := c.deps.Board.GetTask(c.id)["rework_feedback"]; ok {
			req.ReworkFeedback = e.Value
		}
	}
	return req
}

// runRole dispatches one role and blocks until its result, an interrupting
// intervention, or cancellation.
func (c *Coordinator) runRole(ctx context.Context, role string) {
	ctx, span := c.deps.Tracing.StartSpan(ctx, observability.SpanRoleExecute,
		observability.RoleAttrs(role, "")...)
	defer span.End()

	req := c.roleRequest(role)
	pool := c.deps.Workers
	if role == messages.RoleReviewer {
		pool = c.deps.Reviewers
	}
	c.deps.Bus.Publish(events.TypeRoleDispatched, c.id, map[string]any{"role": role})
	pool.Submit(req)

	for {
		select {
		case <-ctx.Done():
			return
		case res := <-req.Reply:
			if res.Succeeded != nil {
				span.SetAttributes(observability.RoleAttrs(role, res.Succeeded.AdapterID)...)
			}
			c.onRoleResult(role, res)
			return
		case msg := <-c.inbox:
			if c.handleInboxMessage(msg) {
				// course changed; the stale reply is dropped, its
				// capacity-1 channel keeps the worker unblocked
				return
			}
		}
	}
}

func (c *Coordinator) onRoleResult(role string, res messages.RoleResult) {
	if res.Failed != nil {
		c.onRoleFailure(*res.Failed)
		return
	}
	ok := *res.Succeeded
	c.lastConfidence = ok.Confidence
	c.hasConfidence = true
	c.lastAdapter[role] = ok.AdapterID
	if _, err := c.deps.Store.SetRoleOutput(c.id, role, ok.Output); err != nil {
		c.logger.Warn("task %s: record %s output: %v", c.id, role, err)
	}

	switch role {
	case messages.RolePlanner:
		c.spawnSubTasks(ok.Output)
	case messages.RoleBuilder:
		c.reviewRejected = false
		c.reviewPassed = false
	case messages.RoleReviewer:
		verdict := parseVerdict(ok.Output, ok.Confidence)
		c.applyVerdict(verdict.Approved, verdict.Feedback)
	}
}

func (c *Coordinator) applyVerdict(approved bool, feedback string) {
	if approved {
		c.reviewPassed = true
		c.reviewRejected = false
		return
	}
	c.reviewPassed = false
	c.reviewRejected = true
	if feedback != "" && c.deps.Board != nil {
		c.deps.Board.PutTask(c.id, "rework_feedback", feedback, "coordinator")
	}
}

func (c *Coordinator) onRoleFailure(failed messages.RoleFailed) {
	c.logger.Warn("task %s role %s failed: %s (retriable=%v)",
		c.id, failed.Role, failed.Reason, failed.Retriable)
	if !failed.Retriable {
		c.escalate(fmt.Sprintf("%s failed: %s", failed.Role, failed.Reason))
		return
	}
	decision := RetryDecision{}
	if c.deps.Arbiter != nil {
		decision = c.deps.Arbiter.Decide(failed)
	}
	if !decision.Retry {
		c.escalate(fmt.Sprintf("%s failed after %d retries: %s", failed.Role, c.retryCount, failed.Reason))
		return
	}
	c.retryCount++
	c.skipNextAdapter = decision.SkipAdapter
	c.deps.Bus.Publish(events.TypeTaskRetry, c.id, map[string]any{
		"role": failed.Role, "attempt": c.retryCount, "reason": failed.Reason,
	})
	c.deps.Bus.Publish(events.TypeTelemetryRetry, c.id, map[string]any{
		"role": failed.Role, "attempt": c.retryCount,
	})
	// fall through: the loop replans and re-dispatches the same action
}

// runConsensusReview opens a vote session and fans out reviewer requests.
func (c *Coordinator) runConsensusReview(ctx context.Context) {
	resultCh := c.deps.Consensus.Open(c.id, c.votesRequired, c.cfg.ConsensusStrategy)

	replies := make([]chan messages.RoleResult, c.votesRequired)
	for i := 0; i < c.votesRequired; i++ {
		req := c.roleRequest(messages.RoleReviewer)
		replies[i] = req.Reply
		c.deps.Bus.Publish(events.TypeRoleDispatched, c.id, map[string]any{
			"role": messages.RoleReviewer, "fan_out": i,
		})
		c.deps.Reviewers.Submit(req)
		go c.voteFromReply(i, replies[i])
	}

	for {
		select {
		case <-ctx.Done():
			return
		case result := <-resultCh:
			c.onConsensusResult(result)
			return
		case msg := <-c.inbox:
			if c.handleInboxMessage(msg) {
				c.deps.Consensus.Cancel(c.id)
				return
			}
		}
	}
}

// voteFromReply converts one reviewer reply into a vote. Runs off the
// coordinator goroutine; it touches nothing but the collector.
func (c *Coordinator) voteFromReply(idx int, reply chan messages.RoleResult) {
	res, ok := <-reply
	if !ok {
		return
	}
	voter := fmt.Sprintf("reviewer-%d", idx)
	if res.Failed != nil {
		c.deps.Consensus.Vote(messages.ConsensusVote{
			TaskID: c.id, VoterID: voter, Approved: false,
			Feedback: res.Failed.Reason,
		})
		return
	}
	verdict := parseVerdict(res.Succeeded.Output, res.Succeeded.Confidence)
	c.deps.Consensus.Vote(messages.ConsensusVote{
		TaskID:     c.id,
		VoterID:    voter,
		Approved:   verdict.Approved,
		Confidence: res.Succeeded.Confidence,
		Feedback:   verdict.Feedback,
	})
}

func (c *Coordinator) onConsensusResult(result messages.ConsensusResult) {
	for _, v := range result.Votes {
		if v.Feedback != "" {
			c.deps.Store.SetRoleOutput(c.id, messages.RoleReviewer, v.Feedback)
			break
		}
	}
	if result.Approved {
		c.consensusReached = true
		c.consensusDisputed = false
		c.applyVerdict(true, "")
		return
	}
	c.consensusReached = false
	c.consensusDisputed = true
	feedback := ""
	for _, v := range result.Votes {
		if !v.Approved && v.Feedback != "" {
			feedback = v.Feedback
			break
		}
	}
	c.applyVerdict(false, feedback)
}

func (c *Coordinator) spawnSubTasks(planOutput string) {
	requests := parseSubTasks(planOutput)
	if len(requests) == 0 {
		return
	}
	if c.depth+1 > c.cfg.MaxSubTaskDepth {
		c.logger.Warn("task %s at depth %d: refusing %d sub-tasks beyond depth cap %d",
			c.id, c.depth, len(requests), c.cfg.MaxSubTaskDepth)
		return
	}
	if c.deps.Spawner == nil {
		c.logger.Warn("task %s: no spawner wired, ignoring %d sub-tasks", c.id, len(requests))
		return
	}
	for _, req := range requests {
		childID, err := c.deps.Spawner.Spawn(c.id, req.Title, req.Description, c.depth+1)
		if err != nil {
			c.logger.Error("task %s: spawn sub-task %q: %v", c.id, req.Title, err)
			continue
		}
		c.pendingChildren[childID] = true
		c.subTasksSpawned = true
		if _, err := c.deps.Store.LinkSubTask(c.id, childID); err != nil {
			c.logger.Warn("task %s: link sub-task %s: %v", c.id, childID, err)
		}
	}
}

// awaitSubTasks blocks until every pending child reports, without
// dispatching further work.
func (c *Coordinator) awaitSubTasks(ctx context.Context) {
	for len(c.pendingChildren) > 0 {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.inbox:
			if c.handleInboxMessage(msg) {
				return
			}
			if c.terminal {
				return
			}
		}
	}
	c.checkChildFailures()
}

// checkChildFailures escalates once every child has reported and at least
// one of them failed.
func (c *Coordinator) checkChildFailures() bool {
	if c.terminal || !c.subTasksSpawned || len(c.pendingChildren) > 0 || len(c.childFailures) == 0 {
		return false
	}
	c.escalate(fmt.Sprintf("%d sub-task(s) failed: %s",
		len(c.childFailures), strings.Join(c.childFailures, "; ")))
	return true
}

// awaitWhilePaused blocks on the inbox until resumed or terminal.
func (c *Coordinator) awaitWhilePaused(ctx context.Context) {
	for c.paused && !c.terminal {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.inbox:
			c.handleInboxMessage(msg)
		}
	}
}

// drainInbox handles everything already queued without blocking.
func (c *Coordinator) drainInbox() {
	for {
		select {
		case msg := <-c.inbox:
			c.handleInboxMessage(msg)
		default:
			return
		}
	}
}

// handleInboxMessage processes one message. The return value reports
// whether the current await (if any) should be abandoned because the course
// changed.
func (c *Coordinator) handleInboxMessage(msg any) bool {
	switch m := msg.(type) {
	case messages.Intervention:
		return c.handleIntervention(m)
	case messages.RetryRole:
		return c.handleRetryRole(m)
	case messages.SubTaskCompleted:
		delete(c.pendingChildren, m.ChildID)
		if c.deps.Board != nil && m.Summary != "" {
			c.deps.Board.PutTask(c.id, "subtask:"+m.ChildID, m.Summary, "dispatcher")
		}
		return false
	case messages.SubTaskFailed:
		delete(c.pendingChildren, m.ChildID)
		c.childFailures = append(c.childFailures, fmt.Sprintf("%s: %s", m.ChildID, m.Reason))
		return false
	default:
		c.logger.Warn("task %s: unexpected inbox message %T", c.id, msg)
		return false
	}
}

// handleRetryRole is the supervisor's guarded quality retry: drop the
// role's output so the planner re-dispatches it, steering off the suspect
// adapter.
func (c *Coordinator) handleRetryRole(m messages.RetryRole) bool {
	if c.terminal {
		return false
	}
	c.logger.Info("task %s: supervisor retry for role %s (skip %s)", c.id, m.Role, m.SkipAdapter)
	c.skipNextAdapter = m.SkipAdapter
	if _, err := c.deps.Store.SetRoleOutput(c.id, m.Role, ""); err != nil {
		c.logger.Warn("task %s: clear %s output: %v", c.id, m.Role, err)
	}
	if m.Role == messages.RoleReviewer {
		c.reviewPassed = false
		c.reviewRejected = false
	}
	c.deps.Bus.Publish(events.TypeTaskRetry, c.id, map[string]any{
		"role": m.Role, "attempt": m.Attempt, "reason": "quality concern",
	})
	return true
}

func (c *Coordinator) setStatus(status registry.Status) {
	if c.status == status {
		return
	}
	from := c.status
	if _, err := c.deps.Store.SetStatus(c.id, status); err != nil {
		c.logger.Error("task %s: transition %s -> %s: %v", c.id, from, status, err)
		return
	}
	c.status = status
	c.deps.Bus.Publish(events.TypeTaskTransition, c.id, map[string]any{
		"from": string(from), "to": string(status),
	})
	c.deps.Bus.Publish(events.TypeUIPatch, c.id, map[string]any{
		"status": string(status),
	})
}

func (c *Coordinator) finalize() {
	task, _ := c.deps.Store.Get(c.id)
	summary := c.title
	if excerpt := firstLine(task.ReviewOutput); excerpt != "" {
		summary = fmt.Sprintf("%s: %s", c.title, excerpt)
	}
	if _, err := c.deps.Store.SetSummary(c.id, summary); err != nil {
		c.logger.Warn("task %s: set summary: %v", c.id, err)
	}
	c.setStatus(registry.StatusDone)
	if c.deps.Board != nil {
		c.deps.Board.PutGlobal(blackboard.PrefixTaskSucceeded+c.id, c.title, c.id)
	}
	c.deps.Bus.Publish(events.TypeTaskDone, c.id, map[string]any{"summary": summary})
	c.terminal = true
}

func (c *Coordinator) escalate(reason string) {
	if c.terminal {
		return
	}
	c.deps.Bus.Publish(events.TypeTaskEscalated, c.id, map[string]any{
		"level": "fatal", "reason": reason,
	})
	if c.deps.Board != nil {
		c.deps.Board.PutGlobal(blackboard.PrefixTaskBlocked+c.id, reason, c.id)
	}
	if _, err := c.deps.Store.SetError(c.id, reason); err != nil {
		c.logger.Warn("task %s: set error: %v", c.id, err)
	}
	c.setStatus(registry.StatusBlocked)
	c.deps.Bus.Publish(events.TypeTaskFailed, c.id, map[string]any{"reason": reason})
	c.terminal = true
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	line, _, _ := strings.Cut(s, "\n")
	if len(line) > 120 {
		line = line[:120]
	}
	return line
}
