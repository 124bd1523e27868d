package kws

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/hark/pkg/audio"
)

// BlockEngine is a streaming keyword spotter that consumes fixed-size blocks
// of 16-bit samples.
type BlockEngine interface {
	// BlockSize is the number of samples Process expects.
	BlockSize() int

	// Process consumes exactly BlockSize samples and returns the index of a
	// detected keyword, or a negative value when none was detected.
	Process(block []int16) (int, error)

	// Keywords returns the keyword names in index order.
	Keywords() []string

	// Close releases the engine.
	Close() error
}

// Resetter is implemented by engines that carry audio history between Process
// calls. [BlockVerifier] resets such engines before every span so a span's
// result does not depend on the span verified before it.
type Resetter interface {
	Reset() error
}

// RemainderPolicy selects how a trailing partial block is handled.
type RemainderPolicy int

const (
	// RemainderPad zero-pads the trailing samples to a full block and
	// processes it.
	RemainderPad RemainderPolicy = iota

	// RemainderDrop skips the trailing samples. They are still reported in
	// Match.Remainder.
	RemainderDrop
)

// ParseRemainderPolicy maps "pad" and "drop" onto a policy. The empty string
// selects RemainderPad.
func ParseRemainderPolicy(s string) (RemainderPolicy, error) {
	switch s {
	case "", "pad":
		return RemainderPad, nil
	case "drop":
		return RemainderDrop, nil
	default:
		return 0, fmt.Errorf("kws: unknown remainder policy %q; valid values: pad, drop", s)
	}
}

// String returns "pad" or "drop".
func (p RemainderPolicy) String() string {
	if p == RemainderDrop {
		return "drop"
	}
	return "pad"
}

// BlockOption configures a [BlockVerifier].
type BlockOption func(*BlockVerifier)

// WithRemainderPolicy sets the trailing-block policy. Default: RemainderPad.
func WithRemainderPolicy(p RemainderPolicy) BlockOption {
	return func(v *BlockVerifier) { v.policy = p }
}

// BlockVerifier adapts a [BlockEngine] to the [Verifier] interface.
type BlockVerifier struct {
	mu     sync.Mutex
	engine BlockEngine
	policy RemainderPolicy
	closed bool
}

// NewBlockVerifier wraps engine.
func NewBlockVerifier(engine BlockEngine, opts ...BlockOption) (*BlockVerifier, error) {
	if engine == nil {
		return nil, fmt.Errorf("kws: nil block engine")
	}
	if engine.BlockSize() <= 0 {
		return nil, fmt.Errorf("kws: block engine reports block size %d", engine.BlockSize())
	}
	v := &BlockVerifier{engine: engine}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Verify re-chunks pcm into engine blocks and processes them in order,
// returning at the first match. Engines implementing [Resetter] are reset
// first.
func (v *BlockVerifier) Verify(ctx context.Context, pcm []byte) (Match, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	m := Match{Index: NoMatch}
	switch {
	case v.closed:
		return m, fmt.Errorf("%w: verifier closed", ErrVerify)
	case len(pcm) == 0:
		return m, fmt.Errorf("%w: empty span", ErrVerify)
	case len(pcm)%2 != 0:
		return m, fmt.Errorf("%w: span has odd byte count %d", ErrVerify, len(pcm))
	}
	if r, ok := v.engine.(Resetter); ok {
		if err := r.Reset(); err != nil {
			return m, fmt.Errorf("%w: reset engine: %w", ErrVerify, err)
		}
	}

	samples := audio.PCMToInt16(pcm)
	size := v.engine.BlockSize()
	full := len(samples) / size
	m.Remainder = len(samples) % size

	for i := range full {
		if err := ctx.Err(); err != nil {
			return m, fmt.Errorf("%w: %w", ErrVerify, err)
		}
		if done, err := v.process(&m, samples[i*size:(i+1)*size]); done || err != nil {
			return m, err
		}
	}

	if m.Remainder > 0 && v.policy == RemainderPad {
		block := make([]int16, size)
		copy(block, samples[full*size:])
		m.Padded = true
		if _, err := v.process(&m, block); err != nil {
			return m, err
		}
	}
	return m, nil
}

// process feeds one block and records a match. done reports a match.
func (v *BlockVerifier) process(m *Match, block []int16) (done bool, err error) {
	idx, err := v.engine.Process(block)
	m.Blocks++
	if err != nil {
		return false, fmt.Errorf("%w: block %d: %w", ErrVerify, m.Blocks-1, err)
	}
	if idx < 0 {
		return false, nil
	}
	m.Index = idx
	if names := v.engine.Keywords(); idx < len(names) {
		m.Keyword = names[idx]
	}
	return true, nil
}

// Keywords implements [Verifier].
func (v *BlockVerifier) Keywords() []string { return v.engine.Keywords() }

// Policy returns the configured remainder policy.
func (v *BlockVerifier) Policy() RemainderPolicy { return v.policy }

// Close implements [Verifier].
func (v *BlockVerifier) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	return v.engine.Close()
}

var _ Verifier = (*BlockVerifier)(nil)
