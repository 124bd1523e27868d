// Package kws defines the Verifier interface for keyword spotting on finished
// speech spans.
//
// Verification is the expensive second stage of wake-word detection and only
// runs on spans the segmenter has already closed. A Verifier answers one of
// three things for a span: which configured keyword matched, that no keyword
// matched, or that it could not check at all. The last case is an error
// wrapping [ErrVerify] and must never be reported as a plain non-match.
//
// Most keyword spotters consume audio in fixed-size blocks. [BlockVerifier]
// adapts any such [BlockEngine] by re-chunking the span into blocks, feeding
// them in order, and stopping at the first match. How a trailing partial
// block is treated is set by a [RemainderPolicy] and always reported in the
// returned [Match].
package kws

import (
	"context"
	"errors"
)

// ErrVerify is wrapped by every verification fault.
var ErrVerify = errors.New("kws: verification failed")

// NoMatch is the Match.Index reported when no keyword matched.
const NoMatch = -1

// Match is the outcome of verifying one span.
type Match struct {
	// Index is the position of the matched keyword in the configured keyword
	// list, or [NoMatch].
	Index int

	// Keyword is the matched keyword's name, empty when nothing matched.
	Keyword string

	// Blocks is the number of engine blocks processed before returning.
	Blocks int

	// Remainder is the number of trailing samples that did not fill a whole
	// block.
	Remainder int

	// Padded reports whether the remainder was zero-padded to a full block
	// and processed.
	Padded bool

	// Text is the recognised text of the span for verifiers that transcribe,
	// empty otherwise.
	Text string
}

// Matched reports whether a keyword was found.
func (m Match) Matched() bool { return m.Index >= 0 }

// Verifier checks a finished span for the configured keywords.
//
// Implementations must be deterministic for a given span and keyword set and
// must be safe to call from one goroutine at a time.
type Verifier interface {
	// Verify inspects pcm, the concatenated 16-bit mono little-endian frames
	// of one span. It returns a Match with Index == NoMatch when the span was
	// checked and contains no keyword, and an error wrapping ErrVerify when
	// it could not be checked.
	Verify(ctx context.Context, pcm []byte) (Match, error)

	// Keywords returns the configured keyword names in index order.
	Keywords() []string

	// Close releases the underlying engine. Calling Close more than once is
	// safe.
	Close() error
}
