package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/hark/internal/observe"
)

// fake is a provider stand-in that returns queued results.
type fake struct {
	name   string
	errs   []error
	calls  int
	closed bool
}

func (f *fake) do(ctx context.Context) (string, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return f.name, nil
}

func (f *fake) Close() error {
	f.closed = true
	return nil
}

func call(ctx context.Context, c *Chain[*fake]) (string, error) {
	return Call(ctx, c, func(ctx context.Context, f *fake) (string, error) { return f.do(ctx) })
}

func newChain(cfg ChainConfig, fakes ...*fake) *Chain[*fake] {
	c := NewChain[*fake]("stt", cfg)
	for _, f := range fakes {
		c.Add(f.name, f)
	}
	return c
}

func TestCall_Order(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		errs      [][]error
		want      string
		wantErr   bool
		wantCalls []int
	}{
		{name: "primary answers", errs: [][]error{nil, nil}, want: "a", wantCalls: []int{1, 0}},
		{name: "fails over", errs: [][]error{{errBoom}, nil}, want: "b", wantCalls: []int{1, 1}},
		{name: "all fail", errs: [][]error{{errBoom}, {errBoom}}, wantErr: true, wantCalls: []int{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := &fake{name: "a", errs: tt.errs[0]}
			b := &fake{name: "b", errs: tt.errs[1]}
			c := newChain(ChainConfig{}, a, b)

			got, err := call(context.Background(), c)
			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errBoom) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping errBoom", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
			if a.calls != tt.wantCalls[0] || b.calls != tt.wantCalls[1] {
				t.Errorf("calls = [%d %d], want %v", a.calls, b.calls, tt.wantCalls)
			}
		})
	}
}

func TestCall_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	clk := newClock()
	a := &fake{name: "a", errs: []error{errBoom, errBoom}}
	b := &fake{name: "b"}
	c := newChain(ChainConfig{Breaker: BreakerConfig{Threshold: 1, Cooldown: time.Minute, Now: clk.Now}}, a, b)

	if _, err := call(context.Background(), c); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if got := c.Breaker("a").State(); got != Open {
		t.Fatalf("breaker a = %v, want open", got)
	}

	got, err := call(context.Background(), c)
	if err != nil || got != "b" {
		t.Fatalf("second call = %q, %v; want b", got, err)
	}
	if a.calls != 1 {
		t.Errorf("a called %d times, want 1: open breaker must skip it", a.calls)
	}

	// After the cooldown a is probed again and recovers.
	clk.Advance(time.Minute)
	a.errs = nil
	if got, _ := call(context.Background(), c); got != "a" {
		t.Errorf("after cooldown result = %q, want a", got)
	}
}

func TestCall_AllOpen(t *testing.T) {
	t.Parallel()
	a := &fake{name: "a", errs: []error{errBoom}}
	c := newChain(ChainConfig{Breaker: BreakerConfig{Threshold: 1, Cooldown: time.Hour}}, a)
	_, _ = call(context.Background(), c)

	_, err := call(context.Background(), c)
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrAllFailed wrapping ErrCircuitOpen", err)
	}
}

func TestCall_CancellationStops(t *testing.T) {
	t.Parallel()
	a := &fake{name: "a"}
	b := &fake{name: "b"}
	c := newChain(ChainConfig{Breaker: BreakerConfig{Threshold: 1}}, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := Call(ctx, c, func(ctx context.Context, f *fake) (string, error) {
		cancel()
		return f.do(ctx)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("cancellation wrapped in ErrAllFailed")
	}
	if b.calls != 0 {
		t.Errorf("b called %d times, want 0", b.calls)
	}
	if got := c.Breaker("a").State(); got != Closed {
		t.Errorf("breaker a = %v, want closed", got)
	}
}

func TestCall_ProviderTimeoutFailsOver(t *testing.T) {
	t.Parallel()
	// A deadline inside the provider, with the caller's context still live,
	// is the provider's fault.
	a := &fake{name: "a", errs: []error{fmt.Errorf("http: %w", context.DeadlineExceeded)}}
	b := &fake{name: "b"}
	c := newChain(ChainConfig{}, a, b)

	got, err := call(context.Background(), c)
	if err != nil || got != "b" {
		t.Errorf("call = %q, %v; want b", got, err)
	}
}

func TestCall_EmptyChain(t *testing.T) {
	t.Parallel()
	c := NewChain[*fake]("tts", ChainConfig{})
	if _, err := call(context.Background(), c); !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
	if _, ok := c.Primary(); ok {
		t.Error("Primary() ok on empty chain")
	}
}

func TestChain_Accessors(t *testing.T) {
	t.Parallel()
	a, b := &fake{name: "a"}, &fake{name: "b"}
	c := newChain(ChainConfig{}, a, b)

	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if got := c.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Names() = %v, want [a b]", got)
	}
	if p, ok := c.Primary(); !ok || p != a {
		t.Errorf("Primary() = %v, %v; want a", p, ok)
	}
	if c.Breaker("missing") != nil {
		t.Error("Breaker(missing) != nil")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("Close did not close every provider")
	}
}

func TestCall_RecordsMetrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	a := &fake{name: "a", errs: []error{errBoom}}
	b := &fake{name: "b"}
	c := newChain(ChainConfig{Metrics: m, Breaker: BreakerConfig{Threshold: 1, Cooldown: time.Hour}}, a, b)
	_, _ = call(context.Background(), c)
	_, _ = call(context.Background(), c)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	checks := []struct {
		metric, provider, key, value string
		want                         int64
	}{
		{"hark.provider.requests", "a", "status", StatusError, 1},
		{"hark.provider.requests", "a", "status", StatusCircuitOpen, 1},
		{"hark.provider.requests", "b", "status", StatusOK, 2},
		{"hark.provider.errors", "a", "kind", "stt", 1},
		{"hark.provider.breaker.transitions", "a", "state", "open", 1},
	}
	for _, ck := range checks {
		if got := counterValue(rm, ck.metric, ck.provider, ck.key, ck.value); got != ck.want {
			t.Errorf("%s{provider=%s,%s=%s} = %d, want %d", ck.metric, ck.provider, ck.key, ck.value, got, ck.want)
		}
	}
}

func counterValue(rm metricdata.ResourceMetrics, name, provider, key, value string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				p, _ := dp.Attributes.Value(attribute.Key("provider"))
				v, _ := dp.Attributes.Value(attribute.Key(key))
				if p.AsString() == provider && v.AsString() == value {
					total += dp.Value
				}
			}
		}
	}
	return total
}
