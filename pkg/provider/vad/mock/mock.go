// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that gates are created with the expected Config.
// Use Gate to script per-frame decisions and inspect the frames that were
// classified.
//
// Example:
//
//	gate := &mock.Gate{Script: []bool{true, true, false}}
//	eng := &mock.Engine{Gate: gate}
//	g, _ := eng.NewGate(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/hark/pkg/provider/vad"
)

// NewGateCall records a single invocation of Engine.NewGate.
type NewGateCall struct {
	// Cfg is the Config passed to NewGate.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Gate is returned by NewGate. If nil, NewGate returns a new default Gate.
	Gate vad.Gate

	// NewGateErr, if non-nil, is returned as the error from NewGate.
	NewGateErr error

	// NewGateCalls records every call to NewGate in order.
	NewGateCalls []NewGateCall
}

// NewGate records the call and returns Gate, NewGateErr.
func (e *Engine) NewGate(cfg vad.Config) (vad.Gate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewGateCalls = append(e.NewGateCalls, NewGateCall{Cfg: cfg})
	if e.NewGateErr != nil {
		return nil, e.NewGateErr
	}
	if e.Gate != nil {
		return e.Gate, nil
	}
	return &Gate{}, nil
}

// ResetCalls clears all recorded calls. Thread-safe.
func (e *Engine) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewGateCalls = nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Gate is a mock implementation of vad.Gate.
//
// Decisions are taken, in priority order, from Decide, then from Script
// (one entry per call; once exhausted, Default is used), then Default.
type Gate struct {
	mu sync.Mutex

	// Decide, if non-nil, computes the decision from the frame bytes.
	Decide func(frame []byte) bool

	// Script lists the decisions for successive Classify calls.
	Script []bool

	// Default is the decision once Script is exhausted.
	Default bool

	// ClassifyErr, if non-nil, is returned by every Classify call.
	ClassifyErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// ClassifyCallCount is the number of times Classify was called.
	ClassifyCallCount int

	// Frames holds a copy of every classified frame, in order.
	Frames [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Classify records the call and returns the scripted decision.
func (g *Gate) Classify(frame []byte) (vad.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := g.ClassifyCallCount
	g.ClassifyCallCount++
	cp := make([]byte, len(frame))
	copy(cp, frame)
	g.Frames = append(g.Frames, cp)
	if g.ClassifyErr != nil {
		return vad.Decision{}, g.ClassifyErr
	}

	speech := g.Default
	switch {
	case g.Decide != nil:
		speech = g.Decide(frame)
	case idx < len(g.Script):
		speech = g.Script[idx]
	}
	d := vad.Decision{Speech: speech}
	if speech {
		d.Probability = 1
	}
	return d, nil
}

// Close records the call and returns CloseErr.
func (g *Gate) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CloseCallCount++
	return g.CloseErr
}

// ResetCalls clears all recorded call history. Thread-safe.
func (g *Gate) ResetCalls() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ClassifyCallCount = 0
	g.Frames = nil
	g.CloseCallCount = 0
}

// Ensure Gate implements vad.Gate at compile time.
var _ vad.Gate = (*Gate)(nil)
