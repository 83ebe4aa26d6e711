package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"maestro/internal/config"
)

func TestDisabledTracerIsNoop(t *testing.T) {
	tp, err := NewTracerProvider(config.Observability{TracingEnabled: false})
	if err != nil {
		t.Fatal(err)
	}
	ctx, span := tp.StartSpan(context.Background(), SpanTaskLifecycle)
	if span.SpanContext().IsValid() {
		t.Error("disabled tracer produced a recording span")
	}
	span.End()
	_ = ctx
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown: %v", err)
	}
}

func TestUnsupportedExporterRejected(t *testing.T) {
	_, err := NewTracerProvider(config.Observability{
		TracingEnabled: true,
		TraceExporter:  "jaeger-agent",
	})
	if err == nil {
		t.Fatal("unknown exporter accepted")
	}
}

func TestDisabledMetricsCollectorIsSafe(t *testing.T) {
	m, err := NewMetricsCollector(false, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	m.RecordRoleExecution(ctx, "builder", "claude", "succeeded", time.Second)
	m.RecordPlannerRun(ctx, "planned")
	m.RecordConsensusRound(ctx, "approved")
	m.TaskStarted(ctx)
	m.TaskFinished(ctx)
	if err := m.Shutdown(ctx); err != nil {
		t.Errorf("noop shutdown: %v", err)
	}
}

func TestEnabledMetricsSurfaceOnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetricsCollector(true, reg)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = m.Shutdown(context.Background()) }()

	ctx := context.Background()
	m.RecordRoleExecution(ctx, "builder", "claude", "succeeded", 250*time.Millisecond)
	m.TaskStarted(ctx)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) == 0 {
		t.Fatal("no metric families gathered after recording")
	}
}

func TestErrorAttrs(t *testing.T) {
	if attrs := ErrorAttrs(nil); attrs != nil {
		t.Errorf("nil error produced attrs %v", attrs)
	}
	attrs := ErrorAttrs(context.DeadlineExceeded)
	if len(attrs) != 2 {
		t.Fatalf("attrs = %v", attrs)
	}
}
