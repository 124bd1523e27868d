package audio_test

import (
	"bytes"
	"testing"

	"github.com/MrWong99/hark/pkg/audio"
)

func TestEncodeDecodeWAV(t *testing.T) {
	t.Parallel()
	pcm := audio.Int16ToPCM([]int16{1, -1, 300, -300})
	wav := audio.EncodeWAV(pcm, 16000, 1)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	got, rate, ch, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate != 16000 || ch != 1 {
		t.Errorf("format = %d Hz/%d ch, want 16000/1", rate, ch)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("pcm mismatch: got %v, want %v", got, pcm)
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	t.Parallel()
	if _, _, _, err := audio.DecodeWAV([]byte("not a wav file at all")); err == nil {
		t.Error("expected error for non-WAV input")
	}
	wav := audio.EncodeWAV(nil, 16000, 1)
	wav[34] = 8 // bits per sample
	if _, _, _, err := audio.DecodeWAV(wav); err == nil {
		t.Error("expected error for 8-bit WAV")
	}
}
