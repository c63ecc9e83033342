// Package tracing wraps the OpenTelemetry SDK with a narrow Span/Tracer
// surface so the rest of the engine depends on two methods instead of the
// full otel API. When enabled, NewTracer installs otel's SDK TracerProvider
// with an always-on sampler, so spans carry usable trace/span IDs; otherwise
// it uses whatever global TracerProvider is already set (otel's no-op one by
// default, whose spans carry no IDs).
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Span is the narrow surface executors and services use to annotate and
// close a unit of work.
type Span interface {
	End()
	SetAttribute(key string, value any)
}

// Tracer starts spans; the scan service opens one around each scan execution.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

type otelSpan struct{ span oteltrace.Span }

func (s otelSpan) End() { s.span.End() }
func (s otelSpan) SetAttribute(key string, value any) {
	s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", value)))
}

type otelTracer struct{ tracer oteltrace.Tracer }

func (t otelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, otelSpan{span: span}
}

// NewTracer returns a Tracer backed by the OpenTelemetry SDK. When enabled
// is false, the global TracerProvider is left untouched, which defaults to
// otel's built-in no-op implementation, so StartSpan is cheap and
// ExtractIDs returns empty strings.
func NewTracer(enabled bool) Tracer {
	if !enabled {
		return otelTracer{tracer: otel.Tracer("scanctl")}
	}
	tp := trace.NewTracerProvider(trace.WithSampler(trace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	return otelTracer{tracer: tp.Tracer("scanctl")}
}

// ExtractIDs returns the trace and span id (hex-encoded) carried by ctx's
// current span, or empty strings if ctx carries no recording span.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
