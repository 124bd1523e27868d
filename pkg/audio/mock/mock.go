// Package mock provides an in-memory implementation of [audio.Source] for use
// in unit tests.
//
// The mock is safe for concurrent use. It records Start and Close calls and
// how often the simulated device was released, and it exposes exported fields
// that the test sets to control the frame sequence and its termination.
//
// Typical usage:
//
//	src := &mock.Source{
//	    FormatResult: audio.DefaultFormat,
//	    Frames:       mock.Frames(audio.DefaultFormat, 19, 1000),
//	}
//	ch, err := src.Start(ctx)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// FormatResult is returned by Format.
	FormatResult audio.Format

	// Frames are emitted in order after Start.
	Frames []audio.Frame

	// Feed, if non-nil, is forwarded after Frames until it is closed. Tests use
	// it to pace frames one at a time.
	Feed <-chan audio.Frame

	// HoldOpen keeps the frame channel open after all frames were sent until
	// the context is cancelled or Close is called, like a live microphone.
	HoldOpen bool

	// FaultErr, if non-nil, terminates the stream after the frames and is
	// reported by Err, simulating a lost device.
	FaultErr error

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// StartCallCount is the number of times Start was called.
	StartCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	// ReleaseCount is the number of times the simulated device was released.
	ReleaseCount int

	started  bool
	err      error
	done     chan struct{}
	doneOnce sync.Once
	finished chan struct{}
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FormatResult
}

// Start implements [audio.Source]. The returned channel is unbuffered so that
// tests observe backpressure exactly.
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCallCount++
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	if s.started {
		return nil, audio.ErrSourceStarted
	}
	s.started = true
	s.ensureDone()
	s.finished = make(chan struct{})

	out := make(chan audio.Frame)
	go s.run(ctx, out, s.Frames, s.Feed, s.done, s.finished)
	return out, nil
}

func (s *Source) run(ctx context.Context, out chan<- audio.Frame, frames []audio.Frame, feed <-chan audio.Frame, done, finished chan struct{}) {
	defer close(finished)
	defer close(out)
	defer s.release()

	send := func(f audio.Frame) bool {
		select {
		case out <- f:
			return true
		case <-ctx.Done():
		case <-done:
		}
		return false
	}
	for _, f := range frames {
		if !send(f) {
			return
		}
	}
	if feed != nil {
	forward:
		for {
			select {
			case f, ok := <-feed:
				if !ok {
					break forward
				}
				if !send(f) {
					return
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}

	s.mu.Lock()
	fault, hold := s.FaultErr, s.HoldOpen
	if fault != nil {
		s.err = fault
	}
	s.mu.Unlock()
	if fault != nil || !hold {
		return
	}
	select {
	case <-ctx.Done():
	case <-done:
	}
}

func (s *Source) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReleaseCount++
}

func (s *Source) ensureDone() {
	if s.done == nil {
		s.done = make(chan struct{})
	}
}

// Err implements [audio.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Source]. It waits for the emitting goroutine so the
// device is released before Close returns.
func (s *Source) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.ensureDone()
	done, finished := s.done, s.finished
	s.mu.Unlock()

	s.doneOnce.Do(func() { close(done) })
	if finished != nil {
		<-finished
	}
	return s.CloseErr
}

// ResetCalls clears all recorded call history. Thread-safe.
func (s *Source) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCallCount = 0
	s.CloseCallCount = 0
	s.ReleaseCount = 0
}

// Frames returns n frames of format f whose samples all equal level. Seq and
// Timestamp are filled in capture order.
func Frames(f audio.Format, n int, level int16) []audio.Frame {
	samples := make([]int16, f.SamplesPerFrame()*f.Channels)
	for i := range samples {
		samples[i] = level
	}
	pcm := audio.Int16ToPCM(samples)
	out := make([]audio.Frame, n)
	for i := range out {
		data := make([]byte, len(pcm))
		copy(data, pcm)
		out[i] = audio.Frame{
			Data:      data,
			Seq:       uint64(i),
			Timestamp: f.FrameDuration * time.Duration(i),
		}
	}
	return out
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)
