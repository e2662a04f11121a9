// Package tracing wraps the OpenTelemetry trace API into the per-message
// span the pipeline emits, replacing the teacher's in-memory TraceLogger
// (internal/tracing_ref/logger.go, a session-keyed slice of TraceEntry) with
// a vendor-neutral span per message: state transitions become span events
// instead of appended log entries, and whether those spans go anywhere
// (stdout, an OTLP collector, nowhere) is an exporter concern the caller
// configures, not this package's.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "agentcored/pipeline"

// StartMessage opens a span for one inbound message's Received→Done chain.
// Callers must call End on the returned span exactly once.
func StartMessage(ctx context.Context, source, chatID, messageID string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "pipeline.process",
		trace.WithAttributes(
			attribute.String("source", source),
			attribute.String("chat_id", chatID),
			attribute.String("message_id", messageID),
		))
	return ctx, span
}

// MarkState records a pipeline state transition as a span event, mirroring
// the teacher's per-state TraceEntry without retaining it in memory.
func MarkState(span trace.Span, state string) {
	span.AddEvent(state)
}

// RecordError marks the span as errored and records err as an event.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
