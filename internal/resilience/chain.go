package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/hark/internal/observe"
)

// ErrAllFailed is returned when no provider in a [Chain] produced a result.
// It wraps the error of the last provider tried.
var ErrAllFailed = errors.New("resilience: all providers failed")

// Request statuses recorded by a [Chain].
const (
	StatusOK          = "ok"
	StatusError       = "error"
	StatusCanceled    = "canceled"
	StatusCircuitOpen = "circuit_open"
)

// ChainConfig configures a [Chain].
type ChainConfig struct {
	// Breaker is copied into the breaker of every provider in the chain.
	// An OnTransition set here is called in addition to the chain's own
	// logging.
	Breaker BreakerConfig

	// Metrics receives one request count per attempt. Nil disables metrics.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

type link[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain holds providers of one kind in priority order. [Call] tries them
// front to back, skipping those whose breaker is open. Providers are added
// during setup; after that a Chain is safe for concurrent use.
type Chain[T any] struct {
	kind  string
	cfg   ChainConfig
	log   *slog.Logger
	links []link[T]
}

// NewChain returns an empty chain for providers of the given kind ("stt",
// "llm" or "tts"). The kind labels logs and metrics.
func NewChain[T any](kind string, cfg ChainConfig) *Chain[T] {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Chain[T]{kind: kind, cfg: cfg, log: log.With("kind", kind)}
}

// Add appends a provider. The first provider added is the primary.
func (c *Chain[T]) Add(name string, v T) {
	bc := c.cfg.Breaker
	user := bc.OnTransition
	bc.OnTransition = func(name string, from, to State) {
		c.log.Info("provider breaker changed state", "provider", name, "from", from, "to", to)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.RecordBreakerTransition(context.Background(), name, to.String())
		}
		if user != nil {
			user(name, from, to)
		}
	}
	c.links = append(c.links, link[T]{name: name, value: v, breaker: NewBreaker(name, bc)})
}

// Len returns the number of providers.
func (c *Chain[T]) Len() int { return len(c.links) }

// Names returns the provider names in the order they are tried.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.links))
	for i, l := range c.links {
		names[i] = l.name
	}
	return names
}

// Primary returns the first provider, or the zero value for an empty chain.
func (c *Chain[T]) Primary() (T, bool) {
	if len(c.links) == 0 {
		var zero T
		return zero, false
	}
	return c.links[0].value, true
}

// Breaker returns the breaker guarding the named provider, or nil.
func (c *Chain[T]) Breaker(name string) *Breaker {
	for _, l := range c.links {
		if l.name == name {
			return l.breaker
		}
	}
	return nil
}

// Close closes every provider that implements io.Closer.
func (c *Chain[T]) Close() error {
	var errs []error
	for _, l := range c.links {
		if cl, ok := any(l.value).(io.Closer); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", c.kind, l.name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Call runs fn against each provider in c until one succeeds.
//
// A failure counts against the provider's breaker and moves on to the next
// provider. When fn fails because ctx was canceled or timed out, Call
// returns that error at once: the provider is not blamed and no other
// provider is tried.
func Call[T, R any](ctx context.Context, c *Chain[T], fn func(context.Context, T) (R, error)) (R, error) {
	var zero R
	if len(c.links) == 0 {
		return zero, fmt.Errorf("%w: no %s provider configured", ErrAllFailed, c.kind)
	}
	var lastErr error
	for i := range c.links {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		l := &c.links[i]
		if err := l.breaker.acquire(); err != nil {
			c.record(ctx, l.name, StatusCircuitOpen)
			c.log.Debug("provider skipped, circuit open", "provider", l.name)
			lastErr = fmt.Errorf("%s: %w", l.name, err)
			continue
		}

		res, err := fn(ctx, l.value)
		switch {
		case err == nil:
			l.breaker.release(false)
			c.record(ctx, l.name, StatusOK)
			if i > 0 {
				c.log.Debug("fallback provider answered", "provider", l.name)
			}
			return res, nil
		case isCancellation(err) && ctx.Err() != nil:
			l.breaker.abandon()
			c.record(ctx, l.name, StatusCanceled)
			return zero, err
		}

		l.breaker.release(true)
		c.record(ctx, l.name, StatusError)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.RecordProviderError(ctx, l.name, c.kind)
		}
		if i < len(c.links)-1 {
			c.log.Warn("provider failed, trying next", "provider", l.name, "err", err)
		}
		lastErr = fmt.Errorf("%s: %w", l.name, err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (c *Chain[T]) record(ctx context.Context, name, status string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordProviderRequest(ctx, name, c.kind, status)
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
