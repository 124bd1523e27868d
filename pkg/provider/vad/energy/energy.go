// Package energy provides a pure-Go [vad.Engine] that classifies frames by
// their RMS level. It needs no cgo and no model files, which makes it the
// fallback for platforms where WebRTC VAD is unavailable and a predictable
// detector for tests.
//
// Each Sensitivity level selects an RMS threshold; higher sensitivity means a
// higher threshold, i.e. more aggressive rejection of background noise. The
// gate keeps no state between frames.
package energy

import (
	"fmt"
	"math"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/vad"
)

// DefaultThresholds are the RMS thresholds (normalised to full scale) for
// sensitivity levels 0 through 3.
var DefaultThresholds = [vad.MaxSensitivity + 1]float64{0.006, 0.01, 0.015, 0.025}

// Option configures an [Engine].
type Option func(*Engine)

// WithThresholds overrides the per-sensitivity RMS thresholds.
func WithThresholds(t [vad.MaxSensitivity + 1]float64) Option {
	return func(e *Engine) { e.thresholds = t }
}

// Engine creates RMS gates.
type Engine struct {
	thresholds [vad.MaxSensitivity + 1]float64
}

// New returns an energy engine.
func New(opts ...Option) *Engine {
	e := &Engine{thresholds: DefaultThresholds}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewGate implements [vad.Engine]. Any positive frame duration that holds at
// least one sample is accepted.
func (e *Engine) NewGate(cfg vad.Config) (vad.Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("energy vad: %w", err)
	}
	if cfg.FrameBytes() == 0 {
		return nil, fmt.Errorf("energy vad: %w: %d ms at %d Hz holds no samples",
			vad.ErrUnsupportedFrame, cfg.FrameDurationMs, cfg.SampleRate)
	}
	return &Gate{threshold: e.thresholds[cfg.Sensitivity], frameBytes: cfg.FrameBytes()}, nil
}

// Gate compares each frame's RMS level against a fixed threshold.
type Gate struct {
	threshold  float64
	frameBytes int
}

// Classify implements [vad.Gate]. Probability grows linearly with level and
// reaches 0.5 at the threshold.
func (g *Gate) Classify(frame []byte) (vad.Decision, error) {
	if len(frame) != g.frameBytes {
		return vad.Decision{}, fmt.Errorf("energy vad: frame has %d bytes, want %d", len(frame), g.frameBytes)
	}
	level := audio.RMS(frame)
	return vad.Decision{
		Speech:      level >= g.threshold,
		Probability: math.Min(level/(2*g.threshold), 1),
	}, nil
}

// Close implements [vad.Gate].
func (g *Gate) Close() error { return nil }

var (
	_ vad.Engine = (*Engine)(nil)
	_ vad.Gate   = (*Gate)(nil)
)
