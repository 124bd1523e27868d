package webrtc_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/hark/pkg/provider/vad"
	"github.com/MrWong99/hark/pkg/provider/vad/webrtc"
)

func TestNewGate_RejectsUnsupportedGeometry(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{name: "25ms frames", cfg: vad.Config{SampleRate: 16000, FrameDurationMs: 25}},
		{name: "44.1kHz", cfg: vad.Config{SampleRate: 44100, FrameDurationMs: 30}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := webrtc.New().NewGate(tc.cfg)
			if !errors.Is(err, vad.ErrUnsupportedFrame) {
				t.Fatalf("got %v, want ErrUnsupportedFrame", err)
			}
		})
	}
}

func TestNewGate_RejectsBadSensitivity(t *testing.T) {
	t.Parallel()
	_, err := webrtc.New().NewGate(vad.Config{SampleRate: 16000, FrameDurationMs: 30, Sensitivity: 4})
	if err == nil {
		t.Fatal("expected error for sensitivity 4")
	}
}

func TestGate_ClassifiesSilence(t *testing.T) {
	t.Parallel()
	g, err := webrtc.New().NewGate(vad.Config{SampleRate: 16000, FrameDurationMs: 30, Sensitivity: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer g.Close()

	d, err := g.Classify(make([]byte, 960))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Speech {
		t.Error("digital silence classified as speech")
	}

	if _, err := g.Classify(make([]byte, 100)); err == nil {
		t.Error("expected error for wrong frame size")
	}
}
