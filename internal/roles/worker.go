// Package roles hosts the planner, builder and reviewer role handlers and
// the worker pools that run them. Handlers wrap the adapter executor, score
// output with the quality evaluator, and self-retry once on very low
// confidence.
package roles

import (
	"context"

	"maestro/internal/adapter"
	"maestro/internal/events"
	"maestro/internal/logging"
	"maestro/internal/messages"
	"maestro/internal/observability"
	"maestro/internal/quality"
)

// Executor is the slice of adapter.Executor the handlers need.
type Executor interface {
	Execute(ctx context.Context, req adapter.Request) (adapter.Result, error)
	Adapters() []string
}

// Handler runs one role invocation to completion.
type Handler interface {
	Handle(ctx context.Context, req messages.ExecuteRole) (messages.RoleSucceeded, *messages.RoleFailed)
}

// Deps is what every handler shares.
type Deps struct {
	Executor Executor
	Bus      events.Publisher
	// Concerns receives quality concerns bound for the supervisor. May be
	// nil.
	Concerns chan<- messages.QualityConcern
	Logger   logging.Logger
	// Metrics records execution counters. May be nil.
	Metrics *observability.MetricsCollector
	// SimulateFailure short-circuits every invocation with a well-known
	// failure string. Test hook.
	SimulateFailure bool
}

func (d Deps) normalized() Deps {
	if d.Bus == nil {
		d.Bus = events.NopPublisher{}
	}
	d.Logger = logging.OrNop(d.Logger)
	return d
}

// PlannerHandler produces plans.
type PlannerHandler struct{ deps Deps }

// BuilderHandler produces builds and reworks.
type BuilderHandler struct{ deps Deps }

// ReviewerHandler produces review verdicts.
type ReviewerHandler struct{ deps Deps }

func NewPlannerHandler(deps Deps) *PlannerHandler   { return &PlannerHandler{deps.normalized()} }
func NewBuilderHandler(deps Deps) *BuilderHandler   { return &BuilderHandler{deps.normalized()} }
func NewReviewerHandler(deps Deps) *ReviewerHandler { return &ReviewerHandler{deps.normalized()} }

func (h *PlannerHandler) Handle(ctx context.Context, req messages.ExecuteRole) (messages.RoleSucceeded, *messages.RoleFailed) {
	return execute(ctx, h.deps, req, messages.RolePlanner)
}

func (h *BuilderHandler) Handle(ctx context.Context, req messages.ExecuteRole) (messages.RoleSucceeded, *messages.RoleFailed) {
	return execute(ctx, h.deps, req, messages.RoleBuilder)
}

func (h *ReviewerHandler) Handle(ctx context.Context, req messages.ExecuteRole) (messages.RoleSucceeded, *messages.RoleFailed) {
	return execute(ctx, h.deps, req, messages.RoleReviewer)
}

// execute is the shared handler body: prompt, run, score, self-retry once,
// surface concerns.
func execute(ctx context.Context, deps Deps, req messages.ExecuteRole, want string) (messages.RoleSucceeded, *messages.RoleFailed) {
	if req.Role != want && req.Role != messages.RoleOrchestrator {
		return messages.RoleSucceeded{}, &messages.RoleFailed{
			TaskID: req.TaskID, Role: req.Role,
			Reason: "unsupported role " + req.Role, Retriable: false,
		}
	}
	if deps.SimulateFailure {
		return messages.RoleSucceeded{}, &messages.RoleFailed{
			TaskID: req.TaskID, Role: req.Role,
			Reason: "simulated failure", Retriable: false,
		}
	}
	prompt, ok := promptFor(req)
	if !ok {
		return messages.RoleSucceeded{}, &messages.RoleFailed{
			TaskID: req.TaskID, Role: req.Role,
			Reason: "unsupported role " + req.Role, Retriable: false,
		}
	}

	deps.Bus.Publish(events.TypeRoleStarted, req.TaskID, map[string]any{
		"role": req.Role,
	})

	first, err := runOnce(ctx, deps, req, prompt, req.PreferredAdapter)
	if err != nil {
		deps.Metrics.RecordRoleExecution(ctx, req.Role, "", "failed", 0)
		deps.Bus.Publish(events.TypeRoleFailed, req.TaskID, map[string]any{
			"role": req.Role, "error": err.Error(),
		})
		return messages.RoleSucceeded{}, &messages.RoleFailed{
			TaskID: req.TaskID, Role: req.Role,
			Reason: err.Error(), Retriable: true,
		}
	}

	best := first
	// One shot at a better adapter when the first attempt scored very low.
	// PriorConfidence set means this already is the retry.
	if best.Confidence < quality.SelfRetryThreshold && req.PriorConfidence == nil {
		alt := alternativeOf(deps.Executor.Adapters(), best.AdapterID)
		if alt != "" && alt != best.AdapterID {
			deps.Logger.Info("task %s role %s confidence %.2f below %.2f, retrying with %s",
				req.TaskID, req.Role, best.Confidence, quality.SelfRetryThreshold, alt)
			second, err := runOnce(ctx, deps, req, prompt, alt)
			if err == nil && second.Confidence > best.Confidence {
				best = second
				best.Retried = true
			} else if err != nil {
				deps.Logger.Warn("task %s role %s retry with %s failed: %v", req.TaskID, req.Role, alt, err)
			}
		}
	}

	if best.Confidence < quality.ConcernThreshold {
		concern := messages.QualityConcern{
			TaskID: req.TaskID, Role: req.Role,
			AdapterID: best.AdapterID, Confidence: best.Confidence,
		}
		deps.Bus.Publish(events.TypeTelemetryQuality, req.TaskID, concern)
		if deps.Concerns != nil {
			select {
			case deps.Concerns <- concern:
			default:
				deps.Logger.Warn("supervisor concern channel full, dropping concern for task %s", req.TaskID)
			}
		}
	}

	deps.Metrics.RecordRoleExecution(ctx, best.Role, best.AdapterID, "succeeded", best.Duration)
	deps.Bus.Publish(events.TypeRoleSucceeded, req.TaskID, map[string]any{
		"role":        best.Role,
		"adapter":     best.AdapterID,
		"confidence":  best.Confidence,
		"retried":     best.Retried,
		"duration_ms": best.Duration.Milliseconds(),
	})
	return best, nil
}

func runOnce(ctx context.Context, deps Deps, req messages.ExecuteRole, prompt, preferred string) (messages.RoleSucceeded, error) {
	res, err := deps.Executor.Execute(ctx, adapter.Request{
		Prompt:           prompt,
		Role:             req.Role,
		PreferredAdapter: preferred,
		SkipAdapters:     req.SkipAdapters,
		Timeout:          req.Timeout,
	})
	if err != nil {
		return messages.RoleSucceeded{}, err
	}
	return messages.RoleSucceeded{
		TaskID:     req.TaskID,
		Role:       req.Role,
		Output:     res.Output,
		AdapterID:  res.AdapterID,
		Confidence: quality.Evaluate(res.Output, req.Role, res.AdapterID),
		Duration:   res.Duration,
	}, nil
}

// alternativeOf returns the adapter after current in the configured order,
// wrapping. Empty when the catalogue has a single entry.
func alternativeOf(order []string, current string) string {
	if len(order) < 2 {
		return ""
	}
	for i, id := range order {
		if id == current {
			return order[(i+1)%len(order)]
		}
	}
	return order[0]
}
