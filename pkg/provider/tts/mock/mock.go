// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer to return controlled clips to the assistant and to verify
// which sentences were synthesized and in what order.
//
// Example:
//
//	s := &mock.Synthesizer{Result: tts.Audio{Data: []byte("clip"), Format: tts.WAV}}
//	clip, _ := s.Synthesize(ctx, "It is three o'clock.")
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/hark/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the sentence passed to Synthesize.
	Text string
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Result is returned by every successful Synthesize call. When its Data
	// is nil, the clip data is the input text, which lets tests follow a
	// sentence through playback.
	Result tts.Audio

	// Err, if non-nil, is returned by every Synthesize call.
	Err error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns Result or Err.
func (s *Synthesizer) Synthesize(_ context.Context, text string) (tts.Audio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SynthesizeCalls = append(s.SynthesizeCalls, SynthesizeCall{Text: text})
	if s.Err != nil {
		return tts.Audio{}, s.Err
	}
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, tts.ErrEmptyText
	}
	out := s.Result
	if out.Data == nil {
		out.Data = []byte(text)
	}
	if out.Format == "" {
		out.Format = tts.PCM
	}
	return out, nil
}

// Texts returns the synthesized sentences in call order. Thread-safe.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.SynthesizeCalls))
	for i, c := range s.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

// CallCount returns the number of Synthesize calls so far. Thread-safe.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SynthesizeCalls)
}

// ResetCalls clears all recorded call history. Thread-safe.
func (s *Synthesizer) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SynthesizeCalls = nil
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
