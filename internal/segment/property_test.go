package segment_test

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/MrWong99/hark/internal/segment"
)

// genConfig draws a valid configuration in whole frames of 10–30 ms.
func genConfig(t *rapid.T) segment.Config {
	frame := time.Duration(rapid.SampledFrom([]int{10, 20, 30}).Draw(t, "frame_ms")) * time.Millisecond
	minSpeech := rapid.IntRange(1, 15).Draw(t, "min_speech_frames")
	pad := rapid.IntRange(1, 15).Draw(t, "pad_frames")
	slack := rapid.IntRange(0, 40).Draw(t, "cap_slack")
	return segment.Config{
		FrameDuration: frame,
		MinSpeech:     time.Duration(minSpeech) * frame,
		Pad:           time.Duration(pad) * frame,
		BufferCap:     minSpeech + pad + slack,
	}
}

func TestProperty_SilenceStaysIdle(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m, err := segment.New(genConfig(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		n := rapid.IntRange(0, 400).Draw(t, "frames")
		for _, f := range frames(0, n) {
			if r := m.Push(f, false); r.Event != segment.EventNone || r.Span != nil {
				t.Fatalf("silence produced event %s", r.Event)
			}
			if m.Snapshot() != (segment.Snapshot{}) {
				t.Fatalf("silence moved machine to %+v", m.Snapshot())
			}
		}
	})
}

func TestProperty_Invariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := genConfig(t)
		m, err := segment.New(cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		th := m.Thresholds()
		decisions := rapid.SliceOfN(rapid.Bool(), 0, 600).Draw(t, "decisions")

		var firstSpeech int64 = -1
		for i, f := range frames(0, len(decisions)) {
			before := m.Snapshot()
			if before.State == segment.Idle && decisions[i] {
				firstSpeech = int64(f.Seq)
			}
			r := m.Push(f, decisions[i])
			snap := m.Snapshot()

			if snap.Buffered > th.BufferCap {
				t.Fatalf("buffer holds %d frames, cap %d", snap.Buffered, th.BufferCap)
			}
			if snap.State == segment.Idle && (snap.Buffered != 0 || snap.SpeechRun != 0 || snap.SilenceRun != 0) {
				t.Fatalf("idle machine carries state %+v", snap)
			}
			switch r.Event {
			case segment.EventEmitted, segment.EventDiscarded, segment.EventOverflowed:
				if snap != (segment.Snapshot{}) {
					t.Fatalf("state after %s is %+v, want initial state", r.Event, snap)
				}
			}
			if r.Span == nil {
				continue
			}

			// Spans are contiguous, start at the first speech frame, end with
			// a full pad, and are long enough to have activated.
			if r.Span.Len() < th.MinSpeechFrames+th.PadFrames {
				t.Fatalf("span of %d frames is shorter than %d+%d", r.Span.Len(), th.MinSpeechFrames, th.PadFrames)
			}
			if got := int64(r.Span.Frames[0].Seq); got != firstSpeech {
				t.Fatalf("span starts at %d, want first speech frame %d", got, firstSpeech)
			}
			for j := 1; j < r.Span.Len(); j++ {
				if r.Span.Frames[j].Seq != r.Span.Frames[j-1].Seq+1 {
					t.Fatalf("span is not contiguous at index %d", j)
				}
			}
			if last := r.Span.Frames[r.Span.Len()-1].Seq; last != f.Seq {
				t.Fatalf("span ends at %d, want current frame %d", last, f.Seq)
			}
			for k := 0; k < th.PadFrames; k++ {
				if decisions[int(f.Seq)-k] {
					t.Fatalf("span tail frame %d is speech, want a full silence pad", int(f.Seq)-k)
				}
			}
		}
	})
}

func TestProperty_OverflowWithoutPad(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m, err := segment.New(genConfig(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		n := m.Thresholds().BufferCap + 1
		overflowed := false
		for _, f := range frames(0, n) {
			r := m.Push(f, true)
			if r.Span != nil {
				t.Fatal("continuous speech emitted a span")
			}
			if r.Event == segment.EventOverflowed {
				overflowed = true
			}
		}
		if !overflowed {
			t.Fatalf("%d speech frames did not overflow a %d-frame buffer", n, n-1)
		}
		if m.Snapshot() != (segment.Snapshot{}) {
			t.Fatalf("state after overflow is %+v", m.Snapshot())
		}
	})
}
