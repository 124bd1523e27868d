package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/hark/pkg/audio"
)

func TestPCMRoundTrip(t *testing.T) {
	t.Parallel()
	want := []int16{0, 1, -1, math.MaxInt16, math.MinInt16, 1234}
	got := audio.PCMToInt16(audio.Int16ToPCM(want))
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPCMToInt16_OddTrailingByte(t *testing.T) {
	t.Parallel()
	got := audio.PCMToInt16([]byte{0x64, 0x00, 0xFF})
	if len(got) != 1 || got[0] != 100 {
		t.Fatalf("got %v, want [100]", got)
	}
}

func TestPCMToFloat32(t *testing.T) {
	t.Parallel()
	got := audio.PCMToFloat32(audio.Int16ToPCM([]int16{math.MinInt16, 0, 16384}))
	want := []float32{-1, 0, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{name: "empty", samples: nil, want: 0},
		{name: "silence", samples: make([]int16, 480), want: 0},
		{name: "constant half scale", samples: []int16{16384, -16384, 16384, -16384}, want: 0.5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := audio.RMS(audio.Int16ToPCM(tc.samples))
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("RMS = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()
	stereo := audio.Int16ToPCM([]int16{100, 200, -100, -200})
	got := audio.PCMToInt16(audio.StereoToMono(stereo))
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	t.Parallel()
	got := audio.PCMToInt16(audio.StereoToMono(audio.Int16ToPCM([]int16{32767, 32767})))
	if len(got) != 1 || got[0] != 32767 {
		t.Errorf("got %v, want [32767]", got)
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	t.Run("same rate", func(t *testing.T) {
		pcm := audio.Int16ToPCM([]int16{100, 200, 300})
		if out := audio.ResampleMono16(pcm, 16000, 16000); len(out) != len(pcm) {
			t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
		}
	})

	t.Run("downsample 48k to 16k", func(t *testing.T) {
		pcm := audio.Int16ToPCM([]int16{100, 200, 300, 400, 500, 600})
		got := audio.PCMToInt16(audio.ResampleMono16(pcm, 48000, 16000))
		if len(got) != 2 {
			t.Fatalf("expected 2 samples, got %d", len(got))
		}
		if got[0] != 100 {
			t.Errorf("first sample: got %d, want 100", got[0])
		}
	})

	t.Run("invalid rates", func(t *testing.T) {
		pcm := audio.Int16ToPCM([]int16{100, 200})
		if out := audio.ResampleMono16(pcm, 0, 16000); len(out) != len(pcm) {
			t.Errorf("expected unchanged output for zero srcRate, got len %d", len(out))
		}
		if out := audio.ResampleMono16(pcm, 16000, -1); len(out) != len(pcm) {
			t.Errorf("expected unchanged output for negative dstRate, got len %d", len(out))
		}
	})
}

func TestToMono16(t *testing.T) {
	t.Parallel()
	// 48 kHz stereo → 16 kHz mono: 6 stereo frames become 2 mono samples.
	stereo := audio.Int16ToPCM([]int16{
		100, 300, 100, 300, 100, 300,
		100, 300, 100, 300, 100, 300,
	})
	got := audio.PCMToInt16(audio.ToMono16(stereo, 48000, 2, 16000))
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	for i, s := range got {
		if s != 200 {
			t.Errorf("sample %d: got %d, want 200", i, s)
		}
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	f := audio.DefaultFormat
	if got := f.SamplesPerFrame(); got != 480 {
		t.Errorf("SamplesPerFrame() = %d, want 480", got)
	}
	if got := f.FrameBytes(); got != 960 {
		t.Errorf("FrameBytes() = %d, want 960", got)
	}
	if got := f.FrameMs(); got != 30 {
		t.Errorf("FrameMs() = %d, want 30", got)
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := audio.Format{SampleRate: 16000, Channels: 2, BitDepth: 8}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation error for stereo 8-bit format without duration")
	}
}
