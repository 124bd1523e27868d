package detect_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/hark/internal/detect"
	"github.com/MrWong99/hark/pkg/audio"
	audiomock "github.com/MrWong99/hark/pkg/audio/mock"
	"github.com/MrWong99/hark/pkg/provider/kws"
	kwsmock "github.com/MrWong99/hark/pkg/provider/kws/mock"
)

// listenResult is what a wake callback observed from ListenUtterance.
type listenResult struct {
	frames int
	err    error
}

func listenOnWake(d **detect.Detector, out chan<- listenResult) detect.WakeFunc {
	return func(ctx context.Context) error {
		span, err := (*d).ListenUtterance(ctx)
		r := listenResult{err: err}
		if span != nil {
			r.frames = span.Len()
		}
		out <- r
		return err
	}
}

func TestListenUtterance_CapturesCommandAfterWake(t *testing.T) {
	t.Parallel()
	// 800 ms pad at 30 ms frames is 27 frames.
	src := &audiomock.Source{
		FormatResult: audio.DefaultFormat,
		Frames: stream(
			run{9, speech}, run{10, silence}, // wake word
			run{3, silence}, run{5, speech}, run{27, silence}, // command
		),
	}
	v := &kwsmock.Verifier{Results: []kws.Match{match("computer")}}
	var d *detect.Detector
	d = newDetector(t, src, v)
	results := make(chan listenResult, 1)

	if err := d.Start(context.Background(), listenOnWake(&d, results)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := <-results
	if r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
	if r.frames != 32 {
		t.Errorf("utterance = %d frames, want 32", r.frames)
	}
	// Command audio is consumed by the listen, not verified as a wake word.
	if v.CallCount() != 1 {
		t.Errorf("verify calls = %d, want 1", v.CallCount())
	}
}

func TestListenUtterance_NoSpeechTimeout(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{
		FormatResult: audio.DefaultFormat,
		Frames:       stream(run{9, speech}, run{10, silence}, run{40, silence}),
	}
	cfg := detect.DefaultConfig(audio.DefaultFormat)
	cfg.Utterance.NoSpeechTimeout = 300 * time.Millisecond
	var d *detect.Detector
	d, err := detect.New(src, speechGate(), &kwsmock.Verifier{Results: []kws.Match{match("computer")}}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	results := make(chan listenResult, 1)

	if err := d.Start(context.Background(), listenOnWake(&d, results)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r := <-results; !errors.Is(r.err, detect.ErrNoSpeech) {
		t.Errorf("ListenUtterance() = %v, want ErrNoSpeech", r.err)
	}
}

func TestListenUtterance_TooLong(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{
		FormatResult: audio.DefaultFormat,
		Frames:       stream(run{9, speech}, run{10, silence}, run{60, speech}),
		HoldOpen:     true,
	}
	cfg := detect.DefaultConfig(audio.DefaultFormat)
	cfg.Utterance.MaxDuration = time.Second
	var d *detect.Detector
	d, err := detect.New(src, speechGate(), &kwsmock.Verifier{Results: []kws.Match{match("computer")}}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	results := make(chan listenResult, 1)

	if err := d.Start(context.Background(), listenOnWake(&d, results)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := <-results
	if err := d.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(r.err, detect.ErrUtteranceTooLong) {
		t.Errorf("ListenUtterance() = %v, want ErrUtteranceTooLong", r.err)
	}
}

func TestListenUtterance_SourceEnds(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{
		FormatResult: audio.DefaultFormat,
		Frames:       stream(run{9, speech}, run{10, silence}, run{2, speech}),
	}
	var d *detect.Detector
	d = newDetector(t, src, &kwsmock.Verifier{Results: []kws.Match{match("computer")}})
	results := make(chan listenResult, 1)

	if err := d.Start(context.Background(), listenOnWake(&d, results)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r := <-results; !errors.Is(r.err, detect.ErrSourceEnded) {
		t.Errorf("ListenUtterance() = %v, want ErrSourceEnded", r.err)
	}
}

func TestListenUtterance_OutsideCallback(t *testing.T) {
	t.Parallel()
	d := newDetector(t, &audiomock.Source{FormatResult: audio.DefaultFormat}, &kwsmock.Verifier{})
	if _, err := d.ListenUtterance(context.Background()); !errors.Is(err, detect.ErrNotInCallback) {
		t.Errorf("ListenUtterance() = %v, want ErrNotInCallback", err)
	}
}

func TestListenUtterance_OtherDetectorsCallback(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{
		FormatResult: audio.DefaultFormat,
		Frames:       stream(run{9, speech}, run{10, silence}),
	}
	d := newDetector(t, src, &kwsmock.Verifier{Results: []kws.Match{match("computer")}})
	other := newDetector(t, &audiomock.Source{FormatResult: audio.DefaultFormat}, &kwsmock.Verifier{})
	results := make(chan listenResult, 1)

	if err := d.Start(context.Background(), listenOnWake(&other, results)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r := <-results; !errors.Is(r.err, detect.ErrNotInCallback) {
		t.Errorf("ListenUtterance() = %v, want ErrNotInCallback", r.err)
	}
}
