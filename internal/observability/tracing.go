// Package observability wires OpenTelemetry tracing and metric export for
// the runtime. Everything degrades to a noop when disabled so call sites
// never branch on configuration.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"maestro/internal/config"
)

// TracerProvider wraps the OpenTelemetry tracer for the process.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// Noop returns a provider whose spans are never recorded. Components fall
// back to it when no provider is wired.
func Noop() *TracerProvider {
	return &TracerProvider{tracer: noop.NewTracerProvider().Tracer("maestro")}
}

// NewTracerProvider builds a provider from the observability config. When
// tracing is disabled the returned provider carries a noop tracer and
// Shutdown is a no-op.
func NewTracerProvider(cfg config.Observability) (*TracerProvider, error) {
	if !cfg.TracingEnabled {
		return &TracerProvider{
			tracer: noop.NewTracerProvider().Tracer("maestro"),
		}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "maestro"
	}
	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1.0 {
		ratio = 1.0
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.TraceExporter {
	case "otlp":
		endpoint := cfg.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exporter, err = otlptracehttp.New(
			context.Background(),
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		endpoint := cfg.ZipkinEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		exporter, err = zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.TraceExporter, err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer("maestro"),
	}, nil
}

// Shutdown flushes pending spans. Safe on a noop provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the process tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartSpan starts a span with the given attributes.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Common span names.
const (
	SpanTaskLifecycle = "maestro.task.lifecycle"
	SpanPlannerSearch = "maestro.planner.search"
	SpanRoleExecute   = "maestro.role.execute"
)

// Common attribute keys.
const (
	AttrTaskID       = "maestro.task_id"
	AttrParentTaskID = "maestro.parent_task_id"
	AttrRole         = "maestro.role"
	AttrAdapterID    = "maestro.adapter_id"
	AttrAction       = "maestro.action"
	AttrStatus       = "maestro.status"
	AttrError        = "maestro.error"
)

// TaskAttrs creates task identity attributes.
func TaskAttrs(taskID, parentTaskID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTaskID, taskID),
	}
	if parentTaskID != "" {
		attrs = append(attrs, attribute.String(AttrParentTaskID, parentTaskID))
	}
	return attrs
}

// RoleAttrs creates role execution attributes.
func RoleAttrs(role, adapterID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRole, role),
		attribute.String(AttrAdapterID, adapterID),
	}
}

// StatusAttrs creates status attributes.
func StatusAttrs(status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrStatus, status),
	}
}

// ErrorAttrs creates error attributes.
func ErrorAttrs(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.Bool(AttrError, true),
		attribute.String("error.message", err.Error()),
	}
}
