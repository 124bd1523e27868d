// Package resilience keeps the assistant answering when a hosted provider
// misbehaves. A [Chain] tries an ordered list of interchangeable providers,
// each guarded by its own [Breaker], and the typed wrappers ([STT], [LLM],
// [TTS]) present a chain as a single provider.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the position of a [Breaker].
type State int

const (
	// Closed passes every call through and counts consecutive failures.
	Closed State = iota

	// Open rejects calls until the cooldown has elapsed.
	Open

	// HalfOpen lets a limited number of probe calls through. The first probe
	// to succeed closes the breaker; any failing probe opens it again.
	HalfOpen
)

// String returns the lowercase state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults noted.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 5.
	Threshold int

	// Cooldown is how long the breaker stays open before probing.
	// Default: 30s.
	Cooldown time.Duration

	// Probes caps the calls in flight while half-open. Default: 1.
	Probes int

	// Now replaces time.Now. Tests use it to step through the cooldown.
	Now func() time.Time

	// OnTransition is called after every state change, outside the lock.
	OnTransition func(name string, from, to State)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 1
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Breaker stops calling a provider that keeps failing and retries it after a
// cooldown. It is safe for concurrent use.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inFlight int
}

// NewBreaker returns a closed breaker. name identifies it in transition
// callbacks.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults()}
}

// Name returns the name given to [NewBreaker].
func (b *Breaker) Name() string { return b.name }

// State returns the current state. An open breaker whose cooldown has
// elapsed reports [HalfOpen].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.cooledDown() {
		return HalfOpen
	}
	return b.state
}

// Do runs fn unless the breaker is open and records its outcome. It returns
// [ErrCircuitOpen] without calling fn when the call is rejected.
func (b *Breaker) Do(fn func() error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := fn()
	b.release(err != nil)
	return err
}

// Reset closes the breaker and clears its failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state, b.failures, b.inFlight = Closed, 0, 0
	b.mu.Unlock()
	b.notify(from, Closed)
}

// acquire reserves a call slot.
func (b *Breaker) acquire() error {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case Open:
		if !b.cooledDown() {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state, b.inFlight = HalfOpen, 0
	case HalfOpen:
		if b.inFlight >= b.cfg.Probes {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	if b.state == HalfOpen {
		b.inFlight++
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return nil
}

// release returns the slot taken by acquire and records the result.
func (b *Breaker) release(failed bool) {
	b.mu.Lock()
	from := b.state
	if b.state == HalfOpen && b.inFlight > 0 {
		b.inFlight--
	}
	switch {
	case !failed:
		b.failures = 0
		b.state = Closed
	case b.state == HalfOpen:
		b.trip()
	default:
		b.failures++
		if b.failures >= b.cfg.Threshold {
			b.trip()
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// abandon returns the slot taken by acquire without recording a result.
func (b *Breaker) abandon() {
	b.mu.Lock()
	if b.state == HalfOpen && b.inFlight > 0 {
		b.inFlight--
	}
	b.mu.Unlock()
}

// trip opens the breaker. Callers hold mu.
func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.cfg.Now()
	b.failures = 0
}

// cooledDown reports whether an open breaker may probe again. Callers hold mu.
func (b *Breaker) cooledDown() bool {
	return b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnTransition != nil {
		b.cfg.OnTransition(b.name, from, to)
	}
}
