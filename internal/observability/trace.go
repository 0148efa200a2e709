// Package observability carries trace correlation helpers shared by the
// audit logger and the HTTP surface.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the module-wide named tracer. Spans record only when the host
// process installs a tracer provider; otherwise they are no-ops.
var tracer = otel.Tracer("github.com/canopybank/llm-gateway")

// StartSpan opens a span on the gateway tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, opts...)
}

// GetTraceID returns the trace ID from the context, or "" when no span is
// active.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// GetSpanID returns the span ID from the context, or "" when no span is
// active.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().SpanID().String()
}
