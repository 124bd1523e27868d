// Package webrtc provides a [vad.Engine] backed by the WebRTC voice activity
// detector (github.com/maxhawkins/go-webrtcvad).
//
// WebRTC VAD accepts 8, 16, 32 or 48 kHz audio in 10, 20 or 30 ms frames of
// 16-bit mono PCM. Sensitivity maps directly onto the detector's aggressiveness
// mode (0–3). The detector itself is binary, so Decision.Probability is
// always 0 or 1.
//
// This package requires cgo.
package webrtc

import (
	"fmt"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/hark/pkg/provider/vad"
)

// Engine creates WebRTC VAD gates. The zero value is ready to use.
type Engine struct{}

// New returns a WebRTC VAD engine.
func New() *Engine { return &Engine{} }

// NewGate validates the frame geometry and allocates a detector instance.
func (e *Engine) NewGate(cfg vad.Config) (vad.Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("webrtc vad: %w", err)
	}
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create detector: %w", err)
	}
	samples := cfg.SampleRate * cfg.FrameDurationMs / 1000
	if !v.ValidRateAndFrameLength(cfg.SampleRate, samples) {
		return nil, fmt.Errorf("webrtc vad: %w: %d Hz with %d ms frames (want 8/16/32/48 kHz and 10/20/30 ms)",
			vad.ErrUnsupportedFrame, cfg.SampleRate, cfg.FrameDurationMs)
	}
	if err := v.SetMode(cfg.Sensitivity); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", cfg.Sensitivity, err)
	}
	return &Gate{vad: v, sampleRate: cfg.SampleRate, frameBytes: samples * 2}, nil
}

// Gate classifies frames with one WebRTC VAD instance.
type Gate struct {
	mu         sync.Mutex
	vad        *webrtcvad.VAD
	sampleRate int
	frameBytes int
}

// Classify implements [vad.Gate].
func (g *Gate) Classify(frame []byte) (vad.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.vad == nil {
		return vad.Decision{}, fmt.Errorf("webrtc vad: gate closed")
	}
	if len(frame) != g.frameBytes {
		return vad.Decision{}, fmt.Errorf("webrtc vad: frame has %d bytes, want %d", len(frame), g.frameBytes)
	}
	active, err := g.vad.Process(g.sampleRate, frame)
	if err != nil {
		return vad.Decision{}, fmt.Errorf("webrtc vad: process: %w", err)
	}
	d := vad.Decision{Speech: active}
	if active {
		d.Probability = 1
	}
	return d, nil
}

// Close implements [vad.Gate]. The detector's memory is owned by the Go
// binding's finalizer, so Close only disables the gate.
func (g *Gate) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.vad = nil
	return nil
}

var (
	_ vad.Engine = (*Engine)(nil)
	_ vad.Gate   = (*Gate)(nil)
)
