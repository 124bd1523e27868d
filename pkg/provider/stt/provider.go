// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber turns one finished utterance of raw 16-bit little-endian PCM
// into text. Wake-word capture produces bounded utterances, so every backend is
// used in batch mode: the whole span is uploaded or decoded at once.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when Transcribe is called with no samples.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Config describes the audio format and recognition hints for one request.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Zero selects 16000.
	SampleRate int

	// Channels is the number of interleaved channels. Zero selects mono.
	Channels int

	// Language is the BCP-47 or ISO-639-1 language tag (e.g., "en", "de").
	// Empty lets the backend auto-detect, if supported.
	Language string

	// Prompt is an optional vocabulary hint, such as the configured wake
	// phrases, that biases recognition towards expected words.
	Prompt string
}

// WithDefaults returns c with zero fields replaced by 16 kHz mono.
func (c Config) WithDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	return c
}

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe returns the text spoken in pcm. An utterance with no
	// recognisable speech yields "" and a nil error.
	Transcribe(ctx context.Context, pcm []byte, cfg Config) (string, error)
}
