// Package playback decodes synthesized clips and plays them on an output
// device.
//
// Clips arrive as MP3, WAV or raw PCM ([tts.Container]). They are decoded
// with beep (github.com/gopxl/beep), resampled to the device rate, and mixed
// down to mono S16LE before being handed to the device.
package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"

	"github.com/MrWong99/hark/pkg/provider/tts"
)

// Player plays synthesized clips. Play blocks until the clip has finished or
// ctx is cancelled. Implementations must serialise concurrent calls.
type Player interface {
	Play(ctx context.Context, clip tts.Audio) error
}

// resampleQuality is the beep interpolation quality; 4 is beep's recommended
// value for speech.
const resampleQuality = 4

// Decode returns a streamer over clip and the clip's native format.
func Decode(clip tts.Audio) (beep.Streamer, beep.Format, error) {
	if len(clip.Data) == 0 {
		return nil, beep.Format{}, fmt.Errorf("playback: empty clip")
	}
	switch clip.Format {
	case tts.MP3:
		s, f, err := mp3.Decode(io.NopCloser(bytes.NewReader(clip.Data)))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("playback: decode mp3: %w", err)
		}
		return s, f, nil
	case tts.WAV:
		s, f, err := wav.Decode(bytes.NewReader(clip.Data))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("playback: decode wav: %w", err)
		}
		return s, f, nil
	case tts.PCM:
		if clip.SampleRate <= 0 {
			return nil, beep.Format{}, fmt.Errorf("playback: pcm clip has no sample rate")
		}
		f := beep.Format{SampleRate: beep.SampleRate(clip.SampleRate), NumChannels: 1, Precision: 2}
		return &pcmStreamer{data: clip.Data}, f, nil
	default:
		return nil, beep.Format{}, fmt.Errorf("playback: unsupported container %q", clip.Format)
	}
}

// LoadClip reads a WAV or MP3 file and decodes it once into PCM at its
// native rate, so it can be replayed cheaply, as with an earcon.
func LoadClip(path string) (tts.Audio, error) {
	c, err := tts.ParseContainer(filepath.Ext(path))
	if err != nil {
		return tts.Audio{}, fmt.Errorf("playback: %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("playback: read clip: %w", err)
	}
	s, f, err := Decode(tts.Audio{Data: data, Format: c, SampleRate: DefaultDeviceRate})
	if err != nil {
		return tts.Audio{}, err
	}
	buf := beep.NewBuffer(f)
	buf.Append(s)
	if cl, ok := s.(io.Closer); ok {
		_ = cl.Close()
	}
	rate := int(f.SampleRate)
	return tts.Audio{
		Data:       Render(buf.Streamer(0, buf.Len()), f, rate),
		Format:     tts.PCM,
		SampleRate: rate,
	}, nil
}

// Render drains s, recorded at from, into mono S16LE PCM at rate.
func Render(s beep.Streamer, from beep.Format, rate int) []byte {
	if int(from.SampleRate) != rate {
		s = beep.Resample(resampleQuality, from.SampleRate, beep.SampleRate(rate), s)
	}
	var (
		out []byte
		buf = make([][2]float64, 512)
	)
	for {
		n, ok := s.Stream(buf)
		for _, smp := range buf[:n] {
			v := int16(math.Round(clamp((smp[0]+smp[1])/2) * math.MaxInt16))
			out = append(out, byte(v), byte(v>>8))
		}
		if !ok {
			break
		}
	}
	return out
}

// ClipPCM decodes clip into mono S16LE PCM at rate.
func ClipPCM(clip tts.Audio, rate int) ([]byte, error) {
	s, f, err := Decode(clip)
	if err != nil {
		return nil, err
	}
	if c, ok := s.(io.Closer); ok {
		defer c.Close()
	}
	return Render(s, f, rate), nil
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// pcmStreamer streams mono S16LE PCM as beep samples.
type pcmStreamer struct {
	data []byte
	pos  int
}

func (p *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	n := 0
	for n < len(samples) && p.pos+1 < len(p.data) {
		v := float64(int16(uint16(p.data[p.pos])|uint16(p.data[p.pos+1])<<8)) / (math.MaxInt16 + 1)
		samples[n] = [2]float64{v, v}
		p.pos += 2
		n++
	}
	return n, n > 0
}

func (p *pcmStreamer) Err() error { return nil }
