package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "script-executor"

// Tracer wraps OpenTelemetry tracing for script runs.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("executor.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// Common attribute keys for run tracing.
var (
	AttrRunID    = attribute.Key("executor.run.id")
	AttrScript   = attribute.Key("executor.script")
	AttrEvents   = attribute.Key("executor.events")
	AttrFailures = attribute.Key("executor.failures")
)
