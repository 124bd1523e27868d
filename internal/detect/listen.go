package detect

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/hark/internal/segment"
)

var (
	// ErrNotInCallback is returned by ListenUtterance outside the wake
	// callback of its own detector.
	ErrNotInCallback = errors.New("detect: listen is only valid inside the wake callback")

	// ErrNoSpeech is returned when no utterance began before the no-speech
	// timeout.
	ErrNoSpeech = errors.New("detect: no speech")

	// ErrUtteranceTooLong is returned when an utterance exceeded the maximum
	// duration.
	ErrUtteranceTooLong = errors.New("detect: utterance too long")

	// ErrSourceEnded is returned when the stream ended during a listen.
	ErrSourceEnded = errors.New("detect: source ended")
)

// ListenUtterance captures the command that follows a wake word. It must be
// called with the ctx passed to the wake callback, from the callback itself:
// frames are read directly from the detection stream, so no audio is lost
// between the wake word and the command and no frame is seen twice.
//
// The utterance is delimited with a separate segmenter built from
// [UtteranceConfig]. Short noise bursts are skipped while waiting for speech.
func (d *Detector) ListenUtterance(ctx context.Context) (*segment.Span, error) {
	v, ok := ctx.Value(wakeKey{}).(*wakeValue)
	if !ok || v.d != d || !d.inCallback.Load() {
		return nil, ErrNotInCallback
	}

	m, err := segment.New(d.uttCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: utterance: %w", ErrConfig, err)
	}

	idle := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case f, ok := <-d.frames:
			if !ok {
				if err := d.src.Err(); err != nil {
					return nil, fmt.Errorf("detect: listen: %w", err)
				}
				return nil, ErrSourceEnded
			}
			dec, err := d.gate.Classify(f.Data)
			if err != nil {
				return nil, fmt.Errorf("detect: listen: classify frame %d: %w", f.Seq, err)
			}
			d.metrics.RecordFrame(ctx, dec.Speech)

			res := m.Push(f, dec.Speech)
			switch res.Event {
			case segment.EventEmitted:
				d.log.Debug("detect: utterance captured", "frames", res.Span.Len())
				return res.Span, nil
			case segment.EventOverflowed:
				return nil, fmt.Errorf("%w: more than %d frames", ErrUtteranceTooLong, d.uttCfg.BufferCap)
			}

			if m.Snapshot().State == segment.Idle {
				idle++
				if idle >= d.noSpeech {
					return nil, ErrNoSpeech
				}
			}
		}
	}
}
