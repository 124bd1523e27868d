// Package detect wires a frame source, a voice activity gate, the segmentation
// state machine and a keyword verifier into a wake-word detection session.
//
// A [Detector] owns exactly one goroutine that pulls frames from the source,
// classifies each one, pushes it into the segmenter and, whenever a span
// closes, verifies it synchronously. On a match the wake callback runs on the
// same goroutine before the next frame is consumed, so the source's bounded
// queue applies backpressure while verification or the callback is busy.
//
// Failures are handled by class. Configuration problems are rejected by [New]
// and [Detector.Start]. A lost device ends the session and is returned by
// [Detector.Wait]. Buffer overflows, verification faults and callback faults
// are logged and counted but never stop detection.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/segment"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/kws"
	"github.com/MrWong99/hark/pkg/provider/vad"
)

var (
	// ErrConfig is wrapped by every configuration error.
	ErrConfig = errors.New("detect: invalid configuration")

	// ErrAlreadyRunning is returned by Start while a session is running.
	ErrAlreadyRunning = errors.New("detect: already running")

	// ErrStopped is returned by Start once the detector has stopped. Sources
	// are single-use, so a stopped detector cannot be restarted.
	ErrStopped = errors.New("detect: detector stopped")
)

// WakeFunc is called once per detected wake event, on the detection
// goroutine. Details of the event are available through [WakeFromContext].
// Returned errors and panics are logged and do not stop detection.
type WakeFunc func(ctx context.Context) error

// Wake describes one detected wake event.
type Wake struct {
	// Keyword is the name of the matched keyword.
	Keyword string

	// Index is the position of the keyword in the verifier's keyword list.
	Index int

	// Frames is the length of the verified span.
	Frames int

	// Text is the span transcript for transcribing verifiers.
	Text string

	// VerifyLatency is how long verification took.
	VerifyLatency time.Duration

	// At is the wall-clock time of detection.
	At time.Time
}

type wakeKey struct{}

type wakeValue struct {
	d    *Detector
	wake Wake
}

// WakeFromContext returns the wake event of the callback ctx belongs to.
func WakeFromContext(ctx context.Context) (Wake, bool) {
	v, ok := ctx.Value(wakeKey{}).(*wakeValue)
	if !ok {
		return Wake{}, false
	}
	return v.wake, true
}

// Config holds the detection parameters.
type Config struct {
	// Segment is the wake-word segmentation policy. Its FrameDuration must
	// equal the source's frame duration.
	Segment segment.Config

	// VAD is the configuration the gate was created with. Its sample rate
	// and frame duration must match the source.
	VAD vad.Config

	// Utterance controls command capture through ListenUtterance.
	Utterance UtteranceConfig
}

// UtteranceConfig controls how [Detector.ListenUtterance] delimits a
// follow-up command.
type UtteranceConfig struct {
	// MinSpeech is the speech needed before an utterance counts. Default:
	// 90 ms.
	MinSpeech time.Duration

	// Pad is the trailing silence that ends the utterance. Default: 800 ms.
	Pad time.Duration

	// MaxDuration bounds the utterance including its pad. Default: 15 s.
	MaxDuration time.Duration

	// NoSpeechTimeout is how long to wait for speech to begin. Default: 5 s.
	NoSpeechTimeout time.Duration
}

func (u UtteranceConfig) withDefaults() UtteranceConfig {
	if u.MinSpeech <= 0 {
		u.MinSpeech = 90 * time.Millisecond
	}
	if u.Pad <= 0 {
		u.Pad = 800 * time.Millisecond
	}
	if u.MaxDuration <= 0 {
		u.MaxDuration = 15 * time.Second
	}
	if u.NoSpeechTimeout <= 0 {
		u.NoSpeechTimeout = 5 * time.Second
	}
	return u
}

// DefaultConfig returns the wake-word defaults for frames of format f with a
// medium VAD sensitivity.
func DefaultConfig(f audio.Format) Config {
	seg := segment.DefaultConfig()
	seg.FrameDuration = f.FrameDuration
	return Config{
		Segment: seg,
		VAD: vad.Config{
			SampleRate:      f.SampleRate,
			FrameDurationMs: f.FrameMs(),
			Sensitivity:     2,
		},
		Utterance: UtteranceConfig{}.withDefaults(),
	}
}

// Option is a functional option for [New].
type Option func(*Detector)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.log = l }
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithOverflowLogInterval sets the minimum interval between overflow
// warnings. Overflows in between are counted and reported with the next
// warning. Default: 10 s.
func WithOverflowLogInterval(iv time.Duration) Option {
	return func(d *Detector) { d.overflowLog = rate.Sometimes{First: 1, Interval: iv} }
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// Detector runs one wake-word detection session.
type Detector struct {
	src      audio.Source
	gate     vad.Gate
	verifier kws.Verifier
	cfg      Config
	uttCfg   segment.Config
	noSpeech int
	machine  *segment.Machine

	log         *slog.Logger
	metrics     *observe.Metrics
	overflowLog rate.Sometimes
	overflows   atomic.Int64

	mu       sync.Mutex
	state    state
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	closeErr error
	closed   sync.Once

	// Owned by the detection goroutine.
	frames     <-chan audio.Frame
	inCallback atomic.Bool
}

// New validates the pipeline and returns an idle Detector. It never starts
// the source.
func New(src audio.Source, gate vad.Gate, verifier kws.Verifier, cfg Config, opts ...Option) (*Detector, error) {
	if src == nil || gate == nil || verifier == nil {
		return nil, fmt.Errorf("%w: source, gate and verifier are required", ErrConfig)
	}

	format := src.Format()
	var errs []error
	if err := format.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("source format: %w", err))
	}
	if cfg.Segment.FrameDuration != format.FrameDuration {
		errs = append(errs, fmt.Errorf("segment frame duration %s does not match source frame duration %s",
			cfg.Segment.FrameDuration, format.FrameDuration))
	}
	if err := cfg.Segment.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := cfg.VAD.Validate(); err != nil {
		errs = append(errs, err)
	} else {
		if cfg.VAD.SampleRate != format.SampleRate {
			errs = append(errs, fmt.Errorf("vad sample rate %d Hz does not match source %d Hz",
				cfg.VAD.SampleRate, format.SampleRate))
		}
		if cfg.VAD.FrameBytes() != format.FrameBytes() {
			errs = append(errs, fmt.Errorf("vad frame of %d bytes does not match source frame of %d bytes",
				cfg.VAD.FrameBytes(), format.FrameBytes()))
		}
	}

	u := cfg.Utterance.withDefaults()
	cfg.Utterance = u
	uttCfg := segment.Config{
		FrameDuration: format.FrameDuration,
		MinSpeech:     u.MinSpeech,
		Pad:           u.Pad,
	}
	if format.FrameDuration > 0 {
		uttCfg.BufferCap = int((u.MaxDuration + format.FrameDuration - 1) / format.FrameDuration)
		if err := uttCfg.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("utterance: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	machine, err := segment.New(cfg.Segment)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	d := &Detector{
		src:         src,
		gate:        gate,
		verifier:    verifier,
		cfg:         cfg,
		uttCfg:      uttCfg,
		noSpeech:    int((u.NoSpeechTimeout + format.FrameDuration - 1) / format.FrameDuration),
		machine:     machine,
		log:         slog.Default(),
		overflowLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d, nil
}

// Start opens the source and begins detection in a new goroutine. onWake is
// called once per matched span. Cancelling ctx stops the session like Stop.
func (d *Detector) Start(ctx context.Context, onWake WakeFunc) error {
	if onWake == nil {
		return fmt.Errorf("%w: wake callback is required", ErrConfig)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case stateRunning:
		return ErrAlreadyRunning
	case stateStopped:
		return ErrStopped
	}

	runCtx, cancel := context.WithCancel(ctx)
	frames, err := d.src.Start(runCtx)
	if err != nil {
		cancel()
		d.state = stateStopped
		d.err = fmt.Errorf("detect: start source: %w", err)
		d.closeSource()
		close(d.done)
		return d.err
	}

	d.state = stateRunning
	d.cancel = cancel
	d.frames = frames
	d.metrics.DetectorsRunning.Add(ctx, 1)
	d.log.Info("detect: started",
		"format", d.src.Format().String(),
		"keywords", d.verifier.Keywords(),
		"min_speech_frames", d.machine.Thresholds().MinSpeechFrames,
		"pad_frames", d.machine.Thresholds().PadFrames,
		"buffer_cap", d.machine.Thresholds().BufferCap,
	)

	go d.run(runCtx, onWake)
	return nil
}

// Stop ends the session, waits for the detection goroutine, and closes the
// source exactly once. It is safe to call from any goroutine except the wake
// callback and more than once. It returns the session error, like Wait.
func (d *Detector) Stop() error {
	d.mu.Lock()
	switch d.state {
	case stateIdle:
		d.state = stateStopped
		d.closeSource()
		close(d.done)
		d.mu.Unlock()
		return nil
	case stateRunning:
		d.cancel()
	}
	d.mu.Unlock()

	<-d.done
	return d.Err()
}

// Wait blocks until the session ends and returns its error: the device fault
// that ended it, or nil for a clean stop or end of stream.
func (d *Detector) Wait() error {
	<-d.done
	return d.Err()
}

// Done is closed when the session has ended and the source is released.
func (d *Detector) Done() <-chan struct{} { return d.done }

// Err returns the session error once the session has ended.
func (d *Detector) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Running reports whether a session is in progress.
func (d *Detector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == stateRunning
}

// closeSource closes the source exactly once and records the result.
func (d *Detector) closeSource() {
	d.closed.Do(func() {
		d.closeErr = d.src.Close()
		if d.closeErr != nil {
			d.log.Warn("detect: close source", "err", d.closeErr)
		}
	})
}

func (d *Detector) run(ctx context.Context, onWake WakeFunc) {
	err := d.loop(ctx, onWake)

	d.closeSource()
	d.machine.Reset()
	d.metrics.DetectorsRunning.Add(context.WithoutCancel(ctx), -1)

	d.mu.Lock()
	d.state = stateStopped
	d.err = err
	d.cancel()
	d.mu.Unlock()

	if err != nil {
		d.log.Error("detect: session ended", "err", err)
	} else {
		d.log.Info("detect: stopped")
	}
	close(d.done)
}

func (d *Detector) loop(ctx context.Context, onWake WakeFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-d.frames:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				if err := d.src.Err(); err != nil {
					return fmt.Errorf("detect: source: %w", err)
				}
				return nil
			}
			if err := d.handle(ctx, f, onWake); err != nil {
				return err
			}
		}
	}
}

// handle runs one frame through the gate and the segmenter.
func (d *Detector) handle(ctx context.Context, f audio.Frame, onWake WakeFunc) error {
	dec, err := d.gate.Classify(f.Data)
	if err != nil {
		return fmt.Errorf("%w: classify frame %d: %w", ErrConfig, f.Seq, err)
	}
	d.metrics.RecordFrame(ctx, dec.Speech)

	res := d.machine.Push(f, dec.Speech)
	switch res.Event {
	case segment.EventEmitted:
		d.metrics.RecordSpan(ctx, observe.SpanEmitted, res.Span.Len())
		d.verify(ctx, res.Span, onWake)
		d.machine.Reset()
	case segment.EventDiscarded:
		d.metrics.RecordSpan(ctx, observe.SpanDiscarded, res.Dropped)
		d.log.Debug("detect: short speech discarded", "frames", res.Dropped)
	case segment.EventOverflowed:
		d.metrics.RecordSpan(ctx, observe.SpanOverflowed, res.Dropped)
		n := d.overflows.Add(1)
		d.overflowLog.Do(func() {
			d.log.Warn("detect: speech buffer overflow, segmenter reset",
				"dropped_frames", res.Dropped,
				"buffer_cap", d.machine.Thresholds().BufferCap,
				"overflows_total", n,
			)
		})
	}
	return nil
}

// verify checks one span and invokes the callback on a match.
func (d *Detector) verify(ctx context.Context, span *segment.Span, onWake WakeFunc) {
	start := time.Now()
	m, err := d.verifier.Verify(ctx, span.PCM())
	latency := time.Since(start)

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		d.metrics.RecordVerify(ctx, observe.VerifyFault, latency)
		d.log.Warn("detect: verification failed, span discarded",
			"frames", span.Len(), "latency", latency, "err", err)
		return
	}
	if !m.Matched() {
		d.metrics.RecordVerify(ctx, observe.VerifyNoMatch, latency)
		d.log.Debug("detect: span verified", "frames", span.Len(), "matched", false,
			"blocks", m.Blocks, "remainder", m.Remainder, "latency", latency)
		return
	}

	d.metrics.RecordVerify(ctx, observe.VerifyMatch, latency)
	d.metrics.RecordWake(ctx, m.Keyword)
	w := Wake{
		Keyword:       m.Keyword,
		Index:         m.Index,
		Frames:        span.Len(),
		Text:          m.Text,
		VerifyLatency: latency,
		At:            time.Now(),
	}
	d.log.Info("detect: wake word detected",
		"keyword", w.Keyword, "frames", w.Frames, "latency", latency)
	d.invoke(ctx, onWake, w)
}

// invoke runs the wake callback and isolates its failures.
func (d *Detector) invoke(ctx context.Context, onWake WakeFunc, w Wake) {
	d.inCallback.Store(true)
	defer d.inCallback.Store(false)
	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordCallbackFault(ctx, "panic")
			d.log.Error("detect: wake callback panicked",
				"keyword", w.Keyword, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	cbCtx := context.WithValue(ctx, wakeKey{}, &wakeValue{d: d, wake: w})
	if err := onWake(cbCtx); err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return
		}
		d.metrics.RecordCallbackFault(ctx, "error")
		d.log.Error("detect: wake callback failed", "keyword", w.Keyword, "err", err)
	}
}
