package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useRecorder installs a recording tracer provider for the test.
// Tests using it must not run in parallel.
func useRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestInteractionSpans(t *testing.T) {
	exp := useRecorder(t)

	ctx, root := StartInteraction(context.Background(), "jarvis")
	_, stt := StartStage(ctx, StageSTT)
	EndSpan(stt, nil)
	_, tool := StartStage(ctx, StageTool)
	EndSpan(tool, errors.New("tool exploded"))
	EndSpan(root, nil)

	spans := exp.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("recorded %d spans, want 3", len(spans))
	}
	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}
	rootStub := byName["hark.interaction"]
	for _, name := range []string{"hark.stt", "hark.tool"} {
		s, ok := byName[name]
		if !ok {
			t.Fatalf("span %q missing", name)
		}
		if s.Parent.SpanID() != rootStub.SpanContext.SpanID() {
			t.Errorf("%s parent = %s, want the interaction span", name, s.Parent.SpanID())
		}
	}
	if got := byName["hark.tool"].Status.Code; got != codes.Error {
		t.Errorf("tool span status = %v, want Error", got)
	}
	if got := byName["hark.stt"].Status.Code; got != codes.Unset {
		t.Errorf("stt span status = %v, want Unset", got)
	}
}

func TestStartInteraction_NewRoot(t *testing.T) {
	useRecorder(t)

	outer, span := StartStage(context.Background(), StageLLM)
	defer span.End()
	inner, root := StartInteraction(outer, "computer")
	defer root.End()

	if TraceID(inner) == TraceID(outer) {
		t.Error("interaction joined the caller's trace, want a new root")
	}
}

func TestTraceID(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID(background) = %q, want empty", got)
	}

	useRecorder(t)
	ctx, span := StartInteraction(context.Background(), "jarvis")
	defer span.End()
	id := TraceID(ctx)
	if len(id) != 32 || strings.Trim(id, "0123456789abcdef") != "" {
		t.Errorf("TraceID = %q, want 32 hex digits", id)
	}
}

func TestWithTrace(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	if got := WithTrace(context.Background(), base); got != base {
		t.Error("WithTrace without a span changed the logger")
	}

	useRecorder(t)
	ctx, span := StartInteraction(context.Background(), "jarvis")
	defer span.End()
	WithTrace(ctx, base).Info("hello")

	if want := "trace_id=" + TraceID(ctx); !strings.Contains(buf.String(), want) {
		t.Errorf("log output %q does not contain %q", buf.String(), want)
	}
}
