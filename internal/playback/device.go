package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/hark/pkg/provider/tts"
)

// DefaultDeviceRate is the output rate used when none is configured.
const DefaultDeviceRate = 24000

// Device plays clips on the default miniaudio output device. It requires
// cgo.
type Device struct {
	rate int

	playMu sync.Mutex // serialises Play

	mu      sync.Mutex
	pending []byte
	drained chan struct{}

	mctx   *malgo.AllocatedContext
	device *malgo.Device
}

// NewDevice opens the default output device at rate Hz mono. A rate <= 0
// selects [DefaultDeviceRate].
func NewDevice(rate int) (*Device, error) {
	if rate <= 0 {
		rate = DefaultDeviceRate
	}
	d := &Device{rate: rate}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("playback: driver", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("playback: init context: %w", err)
	}
	d.mctx = mctx

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = uint32(rate)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: d.fill})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("playback: init device: %w", err)
	}
	d.device = device
	if err := device.Start(); err != nil {
		d.Close()
		return nil, fmt.Errorf("playback: start device: %w", err)
	}
	return d, nil
}

// fill is the driver callback. It copies pending PCM and pads with silence.
func (d *Device) fill(out, _ []byte, _ uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := copy(out, d.pending)
	d.pending = d.pending[n:]
	clear(out[n:])
	if len(d.pending) == 0 && d.drained != nil {
		close(d.drained)
		d.drained = nil
	}
}

// Play implements [Player].
func (d *Device) Play(ctx context.Context, clip tts.Audio) error {
	pcm, err := ClipPCM(clip, d.rate)
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return nil
	}

	d.playMu.Lock()
	defer d.playMu.Unlock()

	drained := make(chan struct{})
	d.mu.Lock()
	d.pending = pcm
	d.drained = drained
	d.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		d.mu.Lock()
		d.pending = nil
		d.drained = nil
		d.mu.Unlock()
		return ctx.Err()
	}
}

// Close stops and releases the device.
func (d *Device) Close() error {
	if d.device != nil {
		_ = d.device.Stop()
		d.device.Uninit()
	}
	if d.mctx != nil {
		_ = d.mctx.Uninit()
		d.mctx.Free()
	}
	return nil
}

var _ Player = (*Device)(nil)
