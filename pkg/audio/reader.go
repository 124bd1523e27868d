package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ReaderSource is a [Source] over any io.Reader carrying raw PCM in the
// configured [Format]. If the reader is also an io.Closer it is closed when
// the source stops, which unblocks a pending Read on pipes and sockets.
//
// By default a clean EOF on a frame boundary ends capture without error; a
// stream ending mid-frame is always a fault wrapping [ErrShortFrame].
type ReaderSource struct {
	r      io.Reader
	format Format
	opts   sourceOptions

	// release frees the underlying device; guarded by releaseOnce.
	release     func() error
	releaseOnce sync.Once
	releaseErr  error

	mu      sync.Mutex
	started bool
	closed  bool
	err     error
	cancel  context.CancelFunc
}

// NewReaderSource wraps r. The format is validated up front so a mismatched
// frame size is a construction error rather than a runtime fault.
func NewReaderSource(r io.Reader, format Format, opts ...SourceOption) (*ReaderSource, error) {
	if r == nil {
		return nil, errors.New("audio: reader source: nil reader")
	}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("audio: reader source: %w", err)
	}
	o := defaultSourceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &ReaderSource{r: r, format: format, opts: o}
	s.release = func() error {
		if c, ok := r.(io.Closer); ok {
			return c.Close()
		}
		return nil
	}
	return s, nil
}

// Format implements [Source].
func (s *ReaderSource) Format() Format { return s.format }

// Start implements [Source].
func (s *ReaderSource) Start(ctx context.Context) (<-chan Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSourceClosed
	}
	if s.started {
		return nil, ErrSourceStarted
	}
	s.started = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	out := make(chan Frame, s.opts.queue)

	// Cancellation must reach a goroutine blocked in Read, so the device is
	// released from outside the read loop.
	go func() {
		<-ctx.Done()
		s.releaseDevice()
	}()
	go s.run(ctx, out)
	return out, nil
}

func (s *ReaderSource) run(ctx context.Context, out chan<- Frame) {
	defer close(out)
	defer s.cancel()

	size := s.format.FrameBytes()
	var seq uint64
	for {
		buf := make([]byte, size)
		_, err := io.ReadFull(s.r, buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(s.classify(err))
			return
		}
		frame := Frame{
			Data:      buf,
			Seq:       seq,
			Timestamp: s.format.FrameDuration * time.Duration(seq),
		}
		seq++
		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// classify maps a read error onto the source's fault taxonomy. A nil return
// means capture ended cleanly.
func (s *ReaderSource) classify(err error) error {
	switch {
	case errors.Is(err, io.EOF):
		if s.opts.eofIsFault {
			return fmt.Errorf("%w: stream ended", ErrDeviceLost)
		}
		return nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: stream ended mid-frame", ErrShortFrame)
	default:
		return fmt.Errorf("%w: %w", ErrDeviceLost, err)
	}
}

func (s *ReaderSource) fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		// Errors raised by our own Close are not device faults.
		s.mu.Unlock()
		return
	}
	s.err = err
	s.mu.Unlock()
	slog.Warn("audio: capture ended with fault", "err", err)
}

// Err implements [Source].
func (s *ReaderSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [Source]. The device is released before Close returns.
func (s *ReaderSource) Close() error {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return s.releaseDevice()
}

func (s *ReaderSource) releaseDevice() error {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.release()
	})
	return s.releaseErr
}
