package playback

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/tts"
)

// ramp returns n mono S16LE samples stepping by 100.
func ramp(n int) []byte {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16((i%200 - 100) * 100)
	}
	return audio.Int16ToPCM(s)
}

func near(a, b int16) bool {
	d := int(a) - int(b)
	return d >= -1 && d <= 1
}

func TestClipPCM_SameRate(t *testing.T) {
	t.Parallel()
	pcm := ramp(1600)

	tests := []struct {
		name string
		clip tts.Audio
	}{
		{"pcm", tts.Audio{Data: pcm, Format: tts.PCM, SampleRate: 16000}},
		{"wav", tts.Audio{Data: audio.EncodeWAV(pcm, 16000, 1), Format: tts.WAV}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := ClipPCM(tt.clip, 16000)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(out) != len(pcm) {
				t.Fatalf("len = %d, want %d", len(out), len(pcm))
			}
			got, want := audio.PCMToInt16(out), audio.PCMToInt16(pcm)
			for i := range want {
				if !near(got[i], want[i]) {
					t.Fatalf("sample %d = %d, want %d", i, got[i], want[i])
				}
			}
		})
	}
}

func TestClipPCM_Resamples(t *testing.T) {
	t.Parallel()
	clip := tts.Audio{Data: ramp(16000), Format: tts.PCM, SampleRate: 16000}
	out, err := ClipPCM(clip, 24000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	samples := len(out) / 2
	if samples < 23900 || samples > 24100 {
		t.Errorf("resampled 1s clip has %d samples, want about 24000", samples)
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		clip tts.Audio
	}{
		{"empty", tts.Audio{Format: tts.WAV}},
		{"pcm without rate", tts.Audio{Data: []byte{0, 0}, Format: tts.PCM}},
		{"unknown container", tts.Audio{Data: []byte{0, 0}, Format: "ogg"}},
		{"corrupt wav", tts.Audio{Data: []byte("not a riff file"), Format: tts.WAV}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := Decode(tt.clip); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadClip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "ding.wav")
	pcm := ramp(800)
	if err := os.WriteFile(path, audio.EncodeWAV(pcm, 8000, 1), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	clip, err := LoadClip(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clip.Format != tts.PCM || clip.SampleRate != 8000 {
		t.Errorf("clip = %s@%d, want pcm@8000", clip.Format, clip.SampleRate)
	}
	if len(clip.Data) != len(pcm) {
		t.Errorf("len = %d, want %d", len(clip.Data), len(pcm))
	}

	if _, err := LoadClip(filepath.Join(dir, "ding.flac")); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if _, err := LoadClip(filepath.Join(dir, "missing.wav")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	clip := tts.Audio{Data: ramp(240), Format: tts.PCM, SampleRate: 24000}
	if err := (Discard{}).Play(context.Background(), clip); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Discard{}).Play(context.Background(), tts.Audio{}); err == nil {
		t.Error("expected error for empty clip")
	}
}
