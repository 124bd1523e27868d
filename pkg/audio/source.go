// Package audio defines the frame model and the capture [Source] contract used
// by the wake-word pipeline.
//
// A Source turns a blocking device (microphone, subprocess recorder, network
// stream, or any byte stream) into an ordered channel of fixed-size [Frame]
// values. The blocking read always happens on a goroutine owned by the source,
// so the single pipeline consumer never blocks on I/O. Every source is
// single-use: once its frame channel has closed it cannot be started again.
//
// This package lives under pkg/ because external capture adapters are expected
// to implement [Source].
package audio

import (
	"context"
	"errors"
)

var (
	// ErrSourceStarted is returned by Start when the source is already running
	// or has already finished.
	ErrSourceStarted = errors.New("audio: source already started")

	// ErrSourceClosed is returned by Start after Close.
	ErrSourceClosed = errors.New("audio: source closed")

	// ErrDeviceLost marks a capture stream that ended without being stopped,
	// e.g. a recorder process exiting or a device being unplugged.
	ErrDeviceLost = errors.New("audio: capture device lost")

	// ErrShortFrame marks a stream that ended in the middle of a frame.
	ErrShortFrame = errors.New("audio: short frame")
)

// DefaultQueueFrames is the default depth of a source's frame channel. At 30ms
// frames this buffers roughly one second of audio while the consumer is busy
// verifying a span.
const DefaultQueueFrames = 32

// Source produces fixed-size PCM frames from a capture device.
//
// Implementations must:
//   - emit frames strictly in capture order without dropping any while the
//     consumer keeps up with the queue;
//   - close the frame channel when ctx is cancelled, Close is called, or the
//     device fails;
//   - report a device failure through Err after the channel closes (a clean
//     stop leaves Err nil);
//   - release the underlying device exactly once on every exit path.
type Source interface {
	// Format returns the fixed format of every frame this source emits.
	Format() Format

	// Start opens the device and begins capture. The returned channel is
	// closed when capture ends. Start may only succeed once per Source.
	Start(ctx context.Context) (<-chan Frame, error)

	// Err returns the fault that terminated the frame channel, or nil after a
	// clean stop. It is only meaningful once the channel has closed.
	Err() error

	// Close stops capture and releases the device. It is safe to call from any
	// goroutine, more than once, and before Start.
	Close() error
}

// SourceOption configures the sources in this package.
type SourceOption func(*sourceOptions)

type sourceOptions struct {
	queue      int
	eofIsFault bool
}

func defaultSourceOptions() sourceOptions {
	return sourceOptions{queue: DefaultQueueFrames}
}

// WithQueueFrames sets the depth of the frame channel. Values < 1 are ignored.
func WithQueueFrames(n int) SourceOption {
	return func(o *sourceOptions) {
		if n > 0 {
			o.queue = n
		}
	}
}

// WithEOFAsFault makes a clean end of the underlying stream a device fault
// instead of a normal end of capture. Live devices never reach EOF on their
// own, so recorders enable it.
func WithEOFAsFault() SourceOption {
	return func(o *sourceOptions) {
		o.eofIsFault = true
	}
}
