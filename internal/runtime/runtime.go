// Package runtime assembles the full orchestration stack from configuration.
// Everything is instance-scoped so tests can run several runtimes in one
// process.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"maestro/internal/adapter"
	"maestro/internal/blackboard"
	"maestro/internal/config"
	"maestro/internal/consensus"
	"maestro/internal/coordinator"
	"maestro/internal/dispatch"
	"maestro/internal/events"
	"maestro/internal/logging"
	"maestro/internal/messages"
	"maestro/internal/observability"
	"maestro/internal/registry"
	"maestro/internal/roles"
	"maestro/internal/server"
)

// Option adjusts runtime construction.
type Option func(*options)

type options struct {
	memoryWriter registry.MemoryWriter
	memoryReader registry.MemoryReader
	logger       logging.Logger
	serverDebug  bool
	runner       adapter.Runner
}

// WithMemory attaches persistence ports. reader may be nil; when present the
// store is bootstrapped from it before anything else starts.
func WithMemory(writer registry.MemoryWriter, reader registry.MemoryReader) Option {
	return func(o *options) {
		o.memoryWriter = writer
		o.memoryReader = reader
	}
}

// WithLogger overrides the component loggers with a single logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithServerDebug enables gin debug mode.
func WithServerDebug() Option {
	return func(o *options) { o.serverDebug = true }
}

// WithAdapterRunner substitutes the process runner behind the adapter
// executor. Tests script adapter output without spawning commands.
func WithAdapterRunner(r adapter.Runner) Option {
	return func(o *options) { o.runner = r }
}

// Runtime is one fully wired orchestration process.
type Runtime struct {
	cfg config.Runtime

	Bus        *events.Bus
	Board      *blackboard.Blackboard
	Store      *registry.Store
	Executor   *adapter.Executor
	Workers    *roles.Pool
	Reviewers  *roles.Pool
	Consensus  *consensus.Collector
	Supervisor *dispatch.Supervisor
	Dispatcher *dispatch.Dispatcher
	Fleet      *dispatch.FleetMonitor
	Server     *server.Server

	PromRegistry *prometheus.Registry
	Tracing      *observability.TracerProvider
	Metrics      *observability.MetricsCollector

	cancel context.CancelFunc
}

// fleetBridge adapts the supervisor snapshot to the server's view.
type fleetBridge struct{ s *dispatch.Supervisor }

func (f fleetBridge) Snapshot() server.FleetSnapshot {
	snap := f.s.Snapshot()
	return server.FleetSnapshot{
		Started:         snap.Started,
		Completed:       snap.Completed,
		Failed:          snap.Failed,
		Escalated:       snap.Escalations,
		QualityConcerns: snap.QualityConcerns,
	}
}

// New wires a runtime from validated configuration and a loaded adapter
// catalogue. Nothing is running until Start.
func New(cfg config.Runtime, catalogue *adapter.Catalogue, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	componentLogger := func(name string) logging.Logger {
		if o.logger != nil {
			return o.logger
		}
		return logging.NewComponentLogger(name)
	}

	tracing, err := observability.NewTracerProvider(cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("build tracing: %w", err)
	}
	promRegistry := prometheus.NewRegistry()
	metrics, err := observability.NewMetricsCollector(cfg.Observability.MetricsEnabled, promRegistry)
	if err != nil {
		return nil, fmt.Errorf("build metrics: %w", err)
	}
	dispatchMetrics := dispatch.MustNewMetrics(promRegistry)

	bus := events.NewBus(cfg.EventBufferSize, componentLogger("Bus"))
	board := blackboard.New(bus, componentLogger("Blackboard"))
	store := registry.NewStore(bus, o.memoryWriter, componentLogger("Registry"))

	if o.memoryReader != nil {
		reader, err := registry.NewCachedReader(o.memoryReader, 256)
		if err != nil {
			return nil, err
		}
		if err := registry.Bootstrap(store, reader, bus, componentLogger("Registry")); err != nil {
			return nil, fmt.Errorf("bootstrap memory: %w", err)
		}
	}

	supervisor := dispatch.NewSupervisor(dispatch.SupervisorConfig{
		MaxRetriesPerTask:            cfg.MaxRetriesPerTask,
		CircuitThreshold:             cfg.AdapterCircuitThreshold,
		CircuitDuration:              cfg.AdapterCircuitDuration,
		QualityConcernRetryThreshold: cfg.QualityConcernRetryThreshold,
	}, board, bus, componentLogger("Supervisor"), dispatchMetrics)

	executorOpts := []adapter.Option{adapter.WithCircuitProbe(supervisor)}
	if o.runner != nil {
		executorOpts = append(executorOpts, adapter.WithRunner(o.runner))
	}
	executor := adapter.NewExecutor(catalogue, componentLogger("Adapter"), executorOpts...)
	supervisor.RegisterAdapters(executor.Adapters())

	workerDeps := roles.Deps{
		Executor: executor,
		Bus:      bus,
		Concerns: supervisor.Concerns(),
		Logger:   componentLogger("Roles"),
		Metrics:  metrics,
	}
	workers := roles.NewPool(cfg.WorkerPoolSize, map[string]roles.Handler{
		messages.RolePlanner:      roles.NewPlannerHandler(workerDeps),
		messages.RoleBuilder:      roles.NewBuilderHandler(workerDeps),
		messages.RoleOrchestrator: roles.NewPlannerHandler(workerDeps),
	}, componentLogger("WorkerPool"))
	reviewers := roles.NewPool(cfg.ReviewerPoolSize, map[string]roles.Handler{
		messages.RoleReviewer: roles.NewReviewerHandler(workerDeps),
	}, componentLogger("ReviewerPool"))

	collector := consensus.NewCollector(bus, componentLogger("Consensus"), consensus.WithMetrics(metrics))

	dispatcher := dispatch.NewDispatcher(coordinator.Config{
		MaxRetries:           cfg.MaxRetriesPerTask,
		ReviewConsensusCount: cfg.ReviewConsensusCount,
		ConsensusStrategy:    cfg.ConsensusStrategy,
		MaxSubTaskDepth:      cfg.DefaultMaxSubTaskDepth,
		RoleTimeout:          cfg.RoleExecutionTimeout,
		OrchestratorMode:     cfg.OrchestratorMode,
	}, dispatch.DispatcherDeps{
		Store:      store,
		Board:      board,
		Workers:    workers,
		Reviewers:  reviewers,
		Consensus:  collector,
		Supervisor: supervisor,
		Bus:        bus,
		AdapterIDs: executor.Adapters(),
		Logger:     componentLogger("Dispatcher"),
		Metrics:    dispatchMetrics,
		Tracing:    tracing,
		Collector:  metrics,
	})

	fleet := dispatch.NewFleetMonitor(supervisor, dispatcher, 30*time.Second, componentLogger("Fleet"))

	srv := server.New(server.Config{
		Addr:        cfg.HTTPAddr,
		SoftTaskCap: cfg.SoftTaskCap,
		Debug:       o.serverDebug,
	}, server.Deps{
		Tasks:    dispatcher,
		Store:    store,
		Bus:      bus,
		Fleet:    fleetBridge{supervisor},
		Registry: promRegistry,
		Logger:   componentLogger("Server"),
	})

	return &Runtime{
		cfg:          cfg,
		Bus:          bus,
		Board:        board,
		Store:        store,
		Executor:     executor,
		Workers:      workers,
		Reviewers:    reviewers,
		Consensus:    collector,
		Supervisor:   supervisor,
		Dispatcher:   dispatcher,
		Fleet:        fleet,
		Server:       srv,
		PromRegistry: promRegistry,
		Tracing:      tracing,
		Metrics:      metrics,
	}, nil
}

// Start brings up the pools, supervision, dispatch and the HTTP listener.
func (r *Runtime) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.Workers.Start(ctx)
	r.Reviewers.Start(ctx)
	r.Supervisor.Start(ctx, r.Bus)
	r.Dispatcher.Start(ctx)
	r.Fleet.Start(ctx)
	r.Server.Start()
}

// StartWithoutServer runs everything except the HTTP listener. Tests drive
// the handlers through Server.Handler directly.
func (r *Runtime) StartWithoutServer(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.Workers.Start(ctx)
	r.Reviewers.Start(ctx)
	r.Supervisor.Start(ctx, r.Bus)
	r.Dispatcher.Start(ctx)
	r.Fleet.Start(ctx)
}

// Stop tears the runtime down in dependency order.
func (r *Runtime) Stop(ctx context.Context) error {
	var firstErr error
	if err := r.Server.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.Fleet.Stop()
	r.Dispatcher.Stop()
	r.Supervisor.Stop()
	r.Workers.Stop()
	r.Reviewers.Stop()
	r.Executor.Shutdown()
	r.Bus.Close()
	if err := r.Metrics.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.Tracing.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
