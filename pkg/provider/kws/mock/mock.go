// Package mock provides test doubles for the kws package interfaces.
//
// Verifier returns scripted matches for successive spans and records every
// span it was given. BlockEngine simulates a streaming keyword spotter that
// fires on a chosen block, for exercising [kws.BlockVerifier].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hark/pkg/provider/kws"
)

// VerifyCall records a single invocation of Verifier.Verify.
type VerifyCall struct {
	// PCM is a copy of the span passed to Verify.
	PCM []byte
}

// Verifier is a mock implementation of kws.Verifier.
type Verifier struct {
	mu sync.Mutex

	// Results are returned by successive Verify calls. Once exhausted, Verify
	// reports no match.
	Results []kws.Match

	// Errs are returned alongside Results by index. A nil entry or a missing
	// index means no error.
	Errs []error

	// Block, if non-nil, is waited on at the start of every Verify call,
	// simulating slow verification.
	Block <-chan struct{}

	// KeywordsResult is returned by Keywords.
	KeywordsResult []string

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// VerifyCalls records every call to Verify in order.
	VerifyCalls []VerifyCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Verify records the call and returns the next scripted result.
func (v *Verifier) Verify(ctx context.Context, pcm []byte) (kws.Match, error) {
	v.mu.Lock()
	block := v.Block
	v.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	idx := len(v.VerifyCalls)
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	v.VerifyCalls = append(v.VerifyCalls, VerifyCall{PCM: cp})

	m := kws.Match{Index: kws.NoMatch}
	if idx < len(v.Results) {
		m = v.Results[idx]
	}
	var err error
	if idx < len(v.Errs) {
		err = v.Errs[idx]
	}
	return m, err
}

// Keywords returns KeywordsResult.
func (v *Verifier) Keywords() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.KeywordsResult
}

// Close records the call and returns CloseErr.
func (v *Verifier) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.CloseCallCount++
	return v.CloseErr
}

// CallCount returns the number of Verify calls so far. Thread-safe.
func (v *Verifier) CallCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.VerifyCalls)
}

// ResetCalls clears all recorded call history. Thread-safe.
func (v *Verifier) ResetCalls() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.VerifyCalls = nil
	v.CloseCallCount = 0
}

// Ensure Verifier implements kws.Verifier at compile time.
var _ kws.Verifier = (*Verifier)(nil)

// BlockEngine is a mock implementation of kws.BlockEngine.
type BlockEngine struct {
	mu sync.Mutex

	// Size is returned by BlockSize.
	Size int

	// MatchAtBlock is the zero-based block on which KeywordIndex is
	// reported. A negative value never matches.
	MatchAtBlock int

	// KeywordIndex is returned when MatchAtBlock is reached.
	KeywordIndex int

	// MatchNonZero, when set, reports KeywordIndex for the first block that
	// contains a non-zero sample instead of using MatchAtBlock.
	MatchNonZero bool

	// ProcessErr, if non-nil, is returned by every Process call.
	ProcessErr error

	// Names is returned by Keywords.
	Names []string

	// --- Call records ---

	// Blocks holds a copy of every processed block, in order.
	Blocks [][]int16

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// BlockSize returns Size.
func (e *BlockEngine) BlockSize() int { return e.Size }

// Process records the block and reports a match as configured.
func (e *BlockEngine) Process(block []int16) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]int16, len(block))
	copy(cp, block)
	e.Blocks = append(e.Blocks, cp)
	if e.ProcessErr != nil {
		return -1, e.ProcessErr
	}
	if e.MatchNonZero {
		for _, s := range block {
			if s != 0 {
				return e.KeywordIndex, nil
			}
		}
		return -1, nil
	}
	if e.MatchAtBlock >= 0 && len(e.Blocks)-1 == e.MatchAtBlock {
		return e.KeywordIndex, nil
	}
	return -1, nil
}

// Keywords returns Names.
func (e *BlockEngine) Keywords() []string { return e.Names }

// Close records the call.
func (e *BlockEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCallCount++
	return nil
}

// Ensure BlockEngine implements kws.BlockEngine at compile time.
var _ kws.BlockEngine = (*BlockEngine)(nil)
