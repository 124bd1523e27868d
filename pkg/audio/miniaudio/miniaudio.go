// Package miniaudio provides an [audio.Source] that captures from a native
// input device through miniaudio (github.com/gen2brain/malgo).
//
// The driver delivers PCM in callbacks of arbitrary size. The callback
// re-chunks them into fixed frames with [audio.Framer] and hands each frame to
// a bounded queue. When the queue is full the callback blocks, so a slow
// consumer pushes back into the driver's own ring buffer instead of frames
// being dropped here. Queue depth is set with [WithQueueFrames]; once
// the driver buffer overruns the OS discards audio, which shows up as a gap
// in capture timestamps rather than reordering.
//
// This package requires cgo.
package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/hark/pkg/audio"
)

// Option configures a [Source].
type Option func(*Source)

// WithDevice selects a capture device by name as reported by [ListDevices].
// An empty name selects the system default.
func WithDevice(name string) Option {
	return func(s *Source) { s.deviceName = name }
}

// WithQueueFrames sets the depth of the frame queue between the driver
// callback and the consumer.
func WithQueueFrames(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.queue = n
		}
	}
}

// Source captures mono S16LE frames from a miniaudio device.
type Source struct {
	format     audio.Format
	deviceName string
	queue      int

	mu       sync.Mutex
	started  bool
	closed   bool
	err      error
	mctx     *malgo.AllocatedContext
	device   *malgo.Device
	done     chan struct{}
	doneOnce sync.Once
	finished chan struct{}

	// stopping is set before an intentional Stop so the driver's stop
	// notification is not mistaken for a lost device.
	stopping    atomic.Bool
	releaseOnce sync.Once
}

// New returns an unopened capture source. The device is opened by Start.
func New(format audio.Format, opts ...Option) (*Source, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("miniaudio: %w", err)
	}
	s := &Source{
		format: format,
		queue:  audio.DefaultQueueFrames,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Start opens and starts the capture device.
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, audio.ErrSourceClosed
	}
	if s.started {
		return nil, audio.ErrSourceStarted
	}
	s.started = true

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("miniaudio: driver", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	s.mctx = mctx

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(s.format.SampleRate)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(s.format.Channels)
	cfg.Alsa.NoMMap = 1
	if s.deviceName != "" {
		id, err := findDevice(mctx, s.deviceName)
		if err != nil {
			s.releaseLocked()
			return nil, err
		}
		cfg.Capture.DeviceID = id.Pointer()
	}

	in := make(chan audio.Frame, s.queue)
	framer := audio.NewFramer(s.format)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, raw []byte, _ uint32) {
			for _, f := range framer.Write(raw) {
				select {
				case in <- f:
				case <-s.done:
					return
				}
			}
		},
		Stop: func() {
			if s.stopping.Load() {
				return
			}
			s.fail(fmt.Errorf("%w: device stopped by driver", audio.ErrDeviceLost))
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		s.releaseLocked()
		return nil, fmt.Errorf("miniaudio: init device: %w", err)
	}
	s.device = device
	if err := device.Start(); err != nil {
		s.releaseLocked()
		return nil, fmt.Errorf("miniaudio: start device: %w", err)
	}
	slog.Info("miniaudio: capture started", "device", s.deviceName, "format", s.format.String(), "queue_frames", s.queue)

	out := make(chan audio.Frame)
	s.finished = make(chan struct{})
	go s.forward(ctx, in, out)
	return out, nil
}

// forward moves frames from the driver queue to the consumer and owns the
// output channel, which the driver callback must never close.
func (s *Source) forward(ctx context.Context, in <-chan audio.Frame, out chan<- audio.Frame) {
	defer close(s.finished)
	defer close(out)
	defer s.release()
	// Unblock a callback waiting on a full queue before the device is stopped.
	defer s.doneOnce.Do(func() { close(s.done) })
	for {
		select {
		case f := <-in:
			select {
			case out <- f:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

func (s *Source) fail(err error) {
	s.mu.Lock()
	if s.err == nil && !s.closed {
		s.err = err
		slog.Warn("miniaudio: capture ended with fault", "err", err)
	}
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

// Err implements [audio.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the device and waits until it has been released.
func (s *Source) Close() error {
	s.mu.Lock()
	s.closed = true
	finished := s.finished
	s.mu.Unlock()

	s.doneOnce.Do(func() { close(s.done) })
	if finished != nil {
		<-finished
	}
	return nil
}

func (s *Source) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

func (s *Source) releaseLocked() {
	s.releaseOnce.Do(func() {
		s.stopping.Store(true)
		if s.device != nil {
			_ = s.device.Stop()
			s.device.Uninit()
		}
		if s.mctx != nil {
			_ = s.mctx.Uninit()
			s.mctx.Free()
		}
		slog.Debug("miniaudio: device released")
	})
}

// DeviceInfo describes a capture device.
type DeviceInfo struct {
	Name      string
	IsDefault bool
}

// ListDevices enumerates the capture devices visible to miniaudio.
func ListDevices() ([]DeviceInfo, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: list devices: %w", err)
	}
	out := make([]DeviceInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, DeviceInfo{Name: info.Name(), IsDefault: info.IsDefault != 0})
	}
	return out, nil
}

func findDevice(mctx *malgo.AllocatedContext, name string) (malgo.DeviceID, error) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("miniaudio: list devices: %w", err)
	}
	for _, info := range infos {
		if info.Name() == name {
			return info.ID, nil
		}
	}
	return malgo.DeviceID{}, fmt.Errorf("miniaudio: %w: %q", errNoDevice, name)
}

var errNoDevice = errors.New("capture device not found")

var _ audio.Source = (*Source)(nil)
