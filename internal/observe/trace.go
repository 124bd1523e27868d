package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every hark span.
const tracerName = "github.com/MrWong99/hark"

// Assistant stages traced by [StartStage].
const (
	StageSTT  = "stt"
	StageLLM  = "llm"
	StageTTS  = "tts"
	StageTool = "tool"
)

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartInteraction starts the root span of one wake: from the wake word to
// the last spoken sentence.
func StartInteraction(ctx context.Context, keyword string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "hark.interaction",
		trace.WithNewRoot(),
		trace.WithAttributes(attribute.String("hark.keyword", keyword)),
	)
}

// StartStage starts a child span for one assistant stage. stage is one of
// the Stage constants.
func StartStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, "hark."+stage, trace.WithAttributes(attrs...))
}

// EndSpan marks span as failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceID returns the hex trace ID of the span in ctx, or "" without one.
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// WithTrace returns l with the trace_id of the span in ctx attached, so the
// log lines of an interaction can be matched to its trace. l is returned
// unchanged when ctx carries no span.
func WithTrace(ctx context.Context, l *slog.Logger) *slog.Logger {
	if id := TraceID(ctx); id != "" {
		return l.With("trace_id", id)
	}
	return l
}
