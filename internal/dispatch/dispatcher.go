package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"maestro/internal/blackboard"
	"maestro/internal/coordinator"
	"maestro/internal/events"
	"maestro/internal/goap"
	"maestro/internal/logging"
	"maestro/internal/messages"
	"maestro/internal/observability"
	"maestro/internal/registry"
)

// DispatcherDeps is the shared wiring every coordinator inherits.
type DispatcherDeps struct {
	Store      *registry.Store
	Board      *blackboard.Blackboard
	Workers    coordinator.RolePool
	Reviewers  coordinator.RolePool
	Consensus  coordinator.ConsensusOpener
	Supervisor *Supervisor
	Bus        events.Publisher
	AdapterIDs []string
	Logger     logging.Logger
	Metrics    *Metrics
	Tracing    *observability.TracerProvider
	Collector  *observability.MetricsCollector
}

type liveTask struct {
	coord    *coordinator.Coordinator
	parentID string
	cancel   context.CancelFunc
}

// Dispatcher creates coordinators, routes messages to them, and propagates
// child termination to parents.
type Dispatcher struct {
	cfg    coordinator.Config
	deps   DispatcherDeps
	logger logging.Logger

	mu      sync.Mutex
	live    map[string]*liveTask
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewDispatcher builds a dispatcher and registers it as the supervisor's
// router.
func NewDispatcher(cfg coordinator.Config, deps DispatcherDeps) *Dispatcher {
	if deps.Bus == nil {
		deps.Bus = events.NopPublisher{}
	}
	d := &Dispatcher{
		cfg:    cfg,
		deps:   deps,
		logger: logging.OrNop(deps.Logger),
		live:   make(map[string]*liveTask),
	}
	if deps.Supervisor != nil {
		deps.Supervisor.SetRouter(d)
	}
	return d
}

// Start fixes the lifecycle context all coordinators run under.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baseCtx, d.cancel = context.WithCancel(ctx)
	d.started = true
}

// Stop cancels every coordinator and waits for them to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Submit accepts a new root task.
func (d *Dispatcher) Submit(title, description string) (registry.Task, error) {
	if title == "" {
		return registry.Task{}, fmt.Errorf("title is required")
	}
	return d.launch("", title, description, 0)
}

// Spawn implements coordinator.Spawner for sub-tasks.
func (d *Dispatcher) Spawn(parentID, title, description string, depth int) (string, error) {
	if depth > coordinator.HardDepthCap {
		return "", fmt.Errorf("depth %d exceeds hard cap %d", depth, coordinator.HardDepthCap)
	}
	task, err := d.launch(parentID, title, description, depth)
	if err != nil {
		return "", err
	}
	return task.ID, nil
}

func (d *Dispatcher) launch(parentID, title, description string, depth int) (registry.Task, error) {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return registry.Task{}, fmt.Errorf("dispatcher not started")
	}
	baseCtx := d.baseCtx
	d.mu.Unlock()

	id := uuid.NewString()
	task, err := d.deps.Store.Create(id, title, description, parentID, depth)
	if err != nil {
		return registry.Task{}, fmt.Errorf("register task: %w", err)
	}
	d.deps.Bus.Publish(events.TypeTaskSubmitted, id, map[string]any{
		"title": title, "parent": parentID, "depth": depth,
	})

	coord := coordinator.New(task, d.cfg, coordinator.Deps{
		Store:      d.deps.Store,
		Board:      d.deps.Board,
		Planner:    goap.NewPlanner(),
		Workers:    d.deps.Workers,
		Reviewers:  d.deps.Reviewers,
		Consensus:  d.deps.Consensus,
		Spawner:    d,
		Arbiter:    d.deps.Supervisor,
		Bus:        d.deps.Bus,
		AdapterIDs: d.deps.AdapterIDs,
		Logger:     d.deps.Logger,
		Tracing:    d.deps.Tracing,
		Metrics:    d.deps.Collector,
	})

	ctx, cancel := context.WithCancel(baseCtx)
	d.mu.Lock()
	d.live[id] = &liveTask{coord: coord, parentID: parentID, cancel: cancel}
	d.mu.Unlock()
	d.deps.Metrics.IncActiveTasks()
	d.deps.Collector.TaskStarted(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		coord.Run(ctx)
		d.onTerminated(id, parentID)
	}()

	d.logger.Info("task %s launched (parent=%q depth=%d)", id, parentID, depth)
	return task, nil
}

// onTerminated cleans up a finished coordinator and tells its parent.
func (d *Dispatcher) onTerminated(id, parentID string) {
	d.mu.Lock()
	delete(d.live, id)
	d.mu.Unlock()
	d.deps.Metrics.DecActiveTasks()
	d.deps.Collector.TaskFinished(context.Background())
	if d.deps.Supervisor != nil {
		d.deps.Supervisor.Forget(id)
	}

	if parentID == "" {
		return
	}
	task, ok := d.deps.Store.Get(id)
	if ok && task.Status == registry.StatusDone {
		d.Deliver(parentID, messages.SubTaskCompleted{
			ParentID: parentID, ChildID: id, Summary: task.Summary,
		})
		return
	}
	reason := "cancelled"
	if ok && task.Error != "" {
		reason = task.Error
	}
	d.Deliver(parentID, messages.SubTaskFailed{
		ParentID: parentID, ChildID: id, Reason: reason,
	})
}

// Deliver implements Router: hand a message to a live coordinator's inbox.
func (d *Dispatcher) Deliver(taskID string, msg any) bool {
	d.mu.Lock()
	entry, ok := d.live[taskID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case entry.coord.Inbox() <- msg:
		return true
	default:
		d.logger.Warn("task %s inbox full, dropping %T", taskID, msg)
		return false
	}
}

// ActiveCount reports live coordinators, for the ingress soft cap.
func (d *Dispatcher) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}
