package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector exposes OpenTelemetry instruments for the orchestration
// runtime, exported through a Prometheus registry. A disabled collector is
// valid; every Record method is a no-op on it.
type MetricsCollector struct {
	provider *sdkmetric.MeterProvider

	roleExecutions metric.Int64Counter
	roleDuration   metric.Float64Histogram
	plannerRuns    metric.Int64Counter
	consensusRound metric.Int64Counter
	tasksActive    metric.Int64UpDownCounter
}

// NewMetricsCollector builds a collector whose instruments surface on the
// given Prometheus registry. Pass enabled=false to get a noop collector.
func NewMetricsCollector(enabled bool, reg *prometheus.Registry) (*MetricsCollector, error) {
	if !enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("maestro")

	roleExecutions, err := meter.Int64Counter(
		"maestro.role.executions.total",
		metric.WithDescription("Role executions by role, adapter and outcome"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create role executions counter: %w", err)
	}

	roleDuration, err := meter.Float64Histogram(
		"maestro.role.duration",
		metric.WithDescription("Role execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create role duration histogram: %w", err)
	}

	plannerRuns, err := meter.Int64Counter(
		"maestro.planner.runs.total",
		metric.WithDescription("Planner searches by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create planner runs counter: %w", err)
	}

	consensusRound, err := meter.Int64Counter(
		"maestro.consensus.rounds.total",
		metric.WithDescription("Consensus rounds by verdict"),
		metric.WithUnit("{round}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create consensus rounds counter: %w", err)
	}

	tasksActive, err := meter.Int64UpDownCounter(
		"maestro.tasks.active",
		metric.WithDescription("Tasks with a live coordinator"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create active tasks gauge: %w", err)
	}

	return &MetricsCollector{
		provider:       provider,
		roleExecutions: roleExecutions,
		roleDuration:   roleDuration,
		plannerRuns:    plannerRuns,
		consensusRound: consensusRound,
		tasksActive:    tasksActive,
	}, nil
}

// Shutdown flushes the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordRoleExecution records one role execution with its outcome.
func (m *MetricsCollector) RecordRoleExecution(ctx context.Context, role, adapterID, status string, duration time.Duration) {
	if m == nil || m.roleExecutions == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("role", role),
		attribute.String("adapter", adapterID),
		attribute.String("status", status),
	}
	m.roleExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.roleDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("role", role),
	))
}

// RecordPlannerRun records one planner search.
func (m *MetricsCollector) RecordPlannerRun(ctx context.Context, outcome string) {
	if m == nil || m.plannerRuns == nil {
		return
	}
	m.plannerRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordConsensusRound records one resolved consensus round.
func (m *MetricsCollector) RecordConsensusRound(ctx context.Context, verdict string) {
	if m == nil || m.consensusRound == nil {
		return
	}
	m.consensusRound.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
}

// TaskStarted bumps the active task gauge.
func (m *MetricsCollector) TaskStarted(ctx context.Context) {
	if m == nil || m.tasksActive == nil {
		return
	}
	m.tasksActive.Add(ctx, 1)
}

// TaskFinished drops the active task gauge.
func (m *MetricsCollector) TaskFinished(ctx context.Context) {
	if m == nil || m.tasksActive == nil {
		return
	}
	m.tasksActive.Add(ctx, -1)
}
