package audio

import (
	"errors"
	"fmt"
	"time"
)

// Format describes the fixed shape of every frame produced by one [Source].
// All frames from a single source share the same Format for their entire
// lifetime.
type Format struct {
	// SampleRate in Hz (e.g., 16000 for wake-word detection).
	SampleRate int

	// Channels is the interleaved channel count. Detection requires mono (1).
	Channels int

	// BitDepth is the sample width in bits. Only 16-bit signed little-endian
	// PCM is supported.
	BitDepth int

	// FrameDuration is the duration covered by a single frame (e.g., 30ms).
	FrameDuration time.Duration
}

// DefaultFormat is 16 kHz mono S16LE in 30 ms frames (480 samples per frame).
var DefaultFormat = Format{
	SampleRate:    16000,
	Channels:      1,
	BitDepth:      16,
	FrameDuration: 30 * time.Millisecond,
}

// SamplesPerFrame returns the number of samples per channel in one frame.
func (f Format) SamplesPerFrame() int {
	return int(int64(f.SampleRate) * int64(f.FrameDuration) / int64(time.Second))
}

// FrameBytes returns the exact byte length of one frame.
func (f Format) FrameBytes() int {
	return f.SamplesPerFrame() * f.Channels * (f.BitDepth / 8)
}

// FrameMs returns FrameDuration in whole milliseconds.
func (f Format) FrameMs() int {
	return int(f.FrameDuration / time.Millisecond)
}

// Validate reports whether f describes a format the pipeline can carry.
func (f Format) Validate() error {
	var errs []error
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate))
	}
	if f.Channels != 1 {
		errs = append(errs, fmt.Errorf("audio: only mono capture is supported, got %d channels", f.Channels))
	}
	if f.BitDepth != 16 {
		errs = append(errs, fmt.Errorf("audio: only 16-bit PCM is supported, got %d bits", f.BitDepth))
	}
	if f.FrameDuration <= 0 {
		errs = append(errs, fmt.Errorf("audio: frame duration must be positive, got %s", f.FrameDuration))
	} else if f.SampleRate > 0 && f.SamplesPerFrame() == 0 {
		errs = append(errs, fmt.Errorf("audio: frame duration %s holds no samples at %d Hz", f.FrameDuration, f.SampleRate))
	}
	return errors.Join(errs...)
}

// String returns a human-readable description, e.g. "16000Hz mono s16 30ms".
func (f Format) String() string {
	return fmt.Sprintf("%s s%d %s", formatString(f.SampleRate, f.Channels), f.BitDepth, f.FrameDuration)
}

// Frame is one fixed-size block of raw PCM captured from a [Source].
// Frames are never mutated after the source emits them; consumers may retain
// Data without copying.
type Frame struct {
	// Data holds exactly Format.FrameBytes() bytes of little-endian PCM.
	Data []byte

	// Seq is the zero-based capture sequence number within the source.
	Seq uint64

	// Timestamp marks the start of this frame relative to the stream start.
	Timestamp time.Duration
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "16000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
