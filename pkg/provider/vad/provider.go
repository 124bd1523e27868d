// Package vad defines the Engine and Gate interfaces for per-frame voice
// activity classification.
//
// An Engine wraps a frame-level speech detector (e.g., WebRTC VAD or a simple
// energy threshold) and hands out Gates configured for one audio stream. A
// Gate is the cheap first stage of wake-word detection: it labels every frame
// as speech or non-speech so the segmenter can decide where candidate spans
// begin and end.
//
// Classification is synchronous: Classify returns immediately and must run in
// time proportional to the frame size. The only tunable is Sensitivity, an
// ordinal from 0 (permissive) to 3 (most aggressive at rejecting background
// noise), fixed for the lifetime of the Gate.
//
// Frame geometry is validated once, when the Gate is created. A detector that
// cannot process the configured frame duration at the configured sample rate
// must fail NewGate with [ErrUnsupportedFrame] so the mismatch surfaces before
// the capture loop starts.
//
// Engines must be safe for concurrent use. A Gate belongs to one stream and
// need not be safe for concurrent use.
package vad

import "errors"

// ErrUnsupportedFrame is returned by NewGate when the engine cannot classify
// frames of the configured duration and sample rate.
var ErrUnsupportedFrame = errors.New("vad: unsupported frame geometry")

// MaxSensitivity is the highest supported Sensitivity value.
const MaxSensitivity = 3

// Config holds the parameters of a Gate.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the PCM frames
	// passed to Classify.
	SampleRate int

	// FrameDurationMs is the duration of each frame in milliseconds. Frames
	// passed to Classify must be exactly this long.
	FrameDurationMs int

	// Sensitivity is the aggressiveness against background noise, 0–3.
	Sensitivity int
}

// Validate checks the fields every engine relies on.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, errors.New("vad: sample rate must be positive"))
	}
	if c.FrameDurationMs <= 0 {
		errs = append(errs, errors.New("vad: frame duration must be positive"))
	}
	if c.Sensitivity < 0 || c.Sensitivity > MaxSensitivity {
		errs = append(errs, errors.New("vad: sensitivity must be between 0 and 3"))
	}
	return errors.Join(errs...)
}

// FrameBytes returns the byte length of one 16-bit mono frame under c.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameDurationMs / 1000 * 2
}

// Gate classifies individual frames of one audio stream.
type Gate interface {
	// Classify reports whether frame contains speech. frame must be raw
	// little-endian 16-bit mono PCM of exactly the configured duration;
	// anything else is an error. Classify must not block.
	Classify(frame []byte) (Decision, error)

	// Close releases the gate. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for Gates. It is the top-level interface implemented
// by each VAD backend.
type Engine interface {
	// NewGate returns a Gate for cfg, or an error wrapping
	// [ErrUnsupportedFrame] if the frame geometry cannot be processed.
	NewGate(cfg Config) (Gate, error)
}
