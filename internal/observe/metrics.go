// Package observe holds hark's telemetry: OpenTelemetry instruments for the
// detector and the assistant, interaction spans, trace-aware logging and
// the HTTP middleware of the metrics listener.
//
// [Setup] installs the global providers and a Prometheus exporter served by
// [Telemetry.Handler]. Production code records through [DefaultMetrics];
// tests build their own [Metrics] with [NewMetrics] on a private
// [metric.MeterProvider].
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every hark instrument.
const meterName = "github.com/MrWong99/hark"

// Span outcomes recorded by [Metrics.RecordSpan].
const (
	SpanEmitted    = "emitted"
	SpanDiscarded  = "discarded"
	SpanOverflowed = "overflowed"
)

// Verification results recorded by [Metrics.RecordVerify].
const (
	VerifyMatch   = "match"
	VerifyNoMatch = "no_match"
	VerifyFault   = "fault"
)

// Metrics holds hark's instruments. They are safe for concurrent use.
type Metrics struct {
	// --- Detection pipeline ---

	// Frames counts classified frames. Use with attribute:
	//   attribute.Bool("speech", ...)
	Frames metric.Int64Counter

	// Spans counts segmentation outcomes. Use with attribute:
	//   attribute.String("outcome", SpanEmitted|SpanDiscarded|SpanOverflowed)
	Spans metric.Int64Counter

	// SpanFrames records the length in frames of every emitted span.
	SpanFrames metric.Int64Histogram

	// VerifyDuration tracks keyword verification latency. Use with attribute:
	//   attribute.String("result", VerifyMatch|VerifyNoMatch|VerifyFault)
	VerifyDuration metric.Float64Histogram

	// Wakes counts detected wake events. Use with attribute:
	//   attribute.String("keyword", ...)
	Wakes metric.Int64Counter

	// CallbackFaults counts wake callbacks that returned an error or
	// panicked. Use with attribute:
	//   attribute.String("kind", "error"|"panic")
	CallbackFaults metric.Int64Counter

	// DetectorsRunning tracks the number of running detection sessions.
	DetectorsRunning metric.Int64UpDownCounter

	// --- Assistant stages ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks time to the first streamed LLM token.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency per sentence.
	TTSDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts provider circuit breaker state changes. Use
	// with attributes:
	//   attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, from a VAD frame to a
// long LLM reply.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// spanBuckets covers span lengths in 30 ms frames from a short word to the
// default 3 s buffer cap.
var spanBuckets = []float64{10, 20, 30, 40, 60, 80, 100, 150, 200}

// instruments creates instruments on one meter and keeps every creation
// error, so NewMetrics can report them together.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (b *instruments) keep(name string, err error) {
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("observe: create %s: %w", name, err))
	}
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.keep(name, err)
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.keep(name, err)
	return c
}

// latency creates a seconds histogram with [latencyBuckets].
func (b *instruments) latency(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	b.keep(name, err)
	return h
}

// NewMetrics creates every instrument on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		Frames:           b.counter("hark.detect.frames", "Frames classified by the voice activity gate."),
		Spans:            b.counter("hark.detect.spans", "Segmentation outcomes by kind."),
		VerifyDuration:   b.latency("hark.detect.verify.duration", "Keyword verification latency by result."),
		Wakes:            b.counter("hark.detect.wakes", "Wake events by keyword."),
		CallbackFaults:   b.counter("hark.detect.callback.faults", "Wake callbacks that failed or panicked."),
		DetectorsRunning: b.gauge("hark.detect.running", "Detection sessions currently running."),

		STTDuration:           b.latency("hark.stt.duration", "Command transcription latency."),
		LLMDuration:           b.latency("hark.llm.duration", "Time to the first streamed LLM token."),
		TTSDuration:           b.latency("hark.tts.duration", "Speech synthesis latency per sentence."),
		ToolExecutionDuration: b.latency("hark.tool_execution.duration", "Tool execution latency."),

		ProviderRequests:   b.counter("hark.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:     b.counter("hark.provider.errors", "Failed provider calls by provider and kind."),
		BreakerTransitions: b.counter("hark.provider.breaker.transitions", "Circuit breaker state changes by provider and new state."),
		ToolCalls:          b.counter("hark.tool.calls", "Tool invocations by tool and status."),
	}

	var err error
	m.SpanFrames, err = b.meter.Int64Histogram("hark.detect.span.frames",
		metric.WithDescription("Length of emitted speech spans in frames."),
		metric.WithExplicitBucketBoundaries(spanBuckets...),
	)
	b.keep("hark.detect.span.frames", err)
	m.HTTPRequestDuration, err = b.meter.Float64Histogram("hark.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	)
	b.keep("hark.http.request.duration", err)

	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	return m, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], created on first use
// from [otel.GetMeterProvider]. The global provider delegates to whatever
// [Setup] installs later, so calling it before Setup is fine.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Pre-built attribute sets for the per-frame hot path.
var (
	speechAttrs  = metric.WithAttributeSet(attribute.NewSet(attribute.Bool("speech", true)))
	silenceAttrs = metric.WithAttributeSet(attribute.NewSet(attribute.Bool("speech", false)))
)

// RecordFrame counts one classified frame.
func (m *Metrics) RecordFrame(ctx context.Context, speech bool) {
	if speech {
		m.Frames.Add(ctx, 1, speechAttrs)
		return
	}
	m.Frames.Add(ctx, 1, silenceAttrs)
}

// RecordSpan counts a segmentation outcome. frames is recorded in the span
// length histogram for emitted spans only.
func (m *Metrics) RecordSpan(ctx context.Context, outcome string, frames int) {
	m.Spans.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == SpanEmitted {
		m.SpanFrames.Record(ctx, int64(frames))
	}
}

// RecordVerify records one verification and its latency.
func (m *Metrics) RecordVerify(ctx context.Context, result string, d time.Duration) {
	m.VerifyDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordWake counts a wake event for keyword.
func (m *Metrics) RecordWake(ctx context.Context, keyword string) {
	m.Wakes.Add(ctx, 1, metric.WithAttributes(attribute.String("keyword", keyword)))
}

// RecordCallbackFault counts a failed wake callback. kind is "error" or
// "panic".
func (m *Metrics) RecordCallbackFault(ctx context.Context, kind string) {
	m.CallbackFaults.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordProviderRequest counts one provider call. status is one of the
// resilience status values.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall counts one tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition counts a breaker moving into state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}
