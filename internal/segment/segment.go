// Package segment implements the speech segmentation state machine that sits
// between per-frame voice activity classification and keyword verification.
//
// A [Machine] consumes (frame, speech) pairs in capture order, tracks the
// current speech and silence run lengths, and decides when a candidate span
// begins, when it is long enough to count, and when a trailing silence pad
// closes it. Closed spans are handed to the caller as a [Span]; noise bursts
// shorter than the minimum speech duration and runaway input longer than the
// buffer cap are dropped without producing one.
//
// States:
//
//	Idle ──speech──▶ Accumulating ──minSpeech reached──▶ Active
//	  ▲                   │                                │
//	  │        pad silence (discard)             pad silence (emit span)
//	  └───────────────────┴──────────── buffer cap exceeded (overflow) ┘
//
// SpanReady and Overflow are transient: they resolve back to Idle inside the
// same Push call, so no frame is lost or counted twice between cycles.
//
// A Machine is confined to one goroutine; it performs no locking.
package segment

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
)

// ErrInvalidConfig is wrapped by every error returned from [New].
var ErrInvalidConfig = errors.New("segment: invalid config")

// State is the segmentation state.
type State int

const (
	// Idle means no audio is buffered and no speech has been seen.
	Idle State = iota

	// Accumulating means speech started but is still shorter than the
	// minimum speech duration. Frames are buffered.
	Accumulating

	// Active means the minimum speech duration was reached. Every frame,
	// speech or not, is buffered until a silence pad closes the span.
	Active

	// SpanReady is reported while a finished span is being handed off.
	SpanReady

	// Overflow is reported while an over-long buffer is being discarded.
	Overflow
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Active:
		return "active"
	case SpanReady:
		return "span_ready"
	case Overflow:
		return "overflow"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event describes what a single Push changed.
type Event int

const (
	// EventNone means no state transition happened.
	EventNone Event = iota

	// EventStarted means the first speech frame moved the machine out of Idle.
	EventStarted

	// EventActivated means the minimum speech duration was reached.
	EventActivated

	// EventEmitted means a span was closed and returned in Result.Span.
	EventEmitted

	// EventDiscarded means speech stopped before reaching the minimum
	// duration and its buffer was dropped.
	EventDiscarded

	// EventOverflowed means the buffer cap was exceeded and the buffer was
	// dropped without emitting a span.
	EventOverflowed
)

// String returns the lowercase event name.
func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventStarted:
		return "started"
	case EventActivated:
		return "activated"
	case EventEmitted:
		return "emitted"
	case EventDiscarded:
		return "discarded"
	case EventOverflowed:
		return "overflowed"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Config holds the timing policy of a Machine. Durations are converted into
// frame counts once, in [New], rounding up.
type Config struct {
	// FrameDuration is the duration of every pushed frame.
	FrameDuration time.Duration

	// MinSpeech is the speech duration required before a span counts.
	MinSpeech time.Duration

	// Pad is the trailing silence that closes a span.
	Pad time.Duration

	// BufferCap is the hard limit on buffered frames. It must hold at least
	// one minimum-length utterance plus its pad.
	BufferCap int
}

// DefaultConfig returns the wake-word defaults: 30 ms frames, 250 ms minimum
// speech (9 frames), 300 ms pad (10 frames), and a 100-frame (3 s) buffer.
func DefaultConfig() Config {
	return Config{
		FrameDuration: 30 * time.Millisecond,
		MinSpeech:     250 * time.Millisecond,
		Pad:           300 * time.Millisecond,
		BufferCap:     100,
	}
}

// Thresholds are the frame counts derived from a Config.
type Thresholds struct {
	MinSpeechFrames int
	PadFrames       int
	BufferCap       int
}

// Thresholds converts c into frame counts without validating it.
func (c Config) Thresholds() Thresholds {
	return Thresholds{
		MinSpeechFrames: framesFor(c.MinSpeech, c.FrameDuration),
		PadFrames:       framesFor(c.Pad, c.FrameDuration),
		BufferCap:       c.BufferCap,
	}
}

// Validate reports every problem with c.
func (c Config) Validate() error {
	var errs []error
	if c.FrameDuration <= 0 {
		errs = append(errs, fmt.Errorf("frame duration must be positive, got %s", c.FrameDuration))
	}
	if c.MinSpeech <= 0 {
		errs = append(errs, fmt.Errorf("minimum speech duration must be positive, got %s", c.MinSpeech))
	}
	if c.Pad <= 0 {
		errs = append(errs, fmt.Errorf("pad duration must be positive, got %s", c.Pad))
	}
	if len(errs) == 0 {
		th := c.Thresholds()
		if c.BufferCap < th.MinSpeechFrames+th.PadFrames {
			errs = append(errs, fmt.Errorf("buffer cap %d frames cannot hold %d speech + %d pad frames",
				c.BufferCap, th.MinSpeechFrames, th.PadFrames))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// framesFor returns ceil(d / frame).
func framesFor(d, frame time.Duration) int {
	if frame <= 0 {
		return 0
	}
	return int((d + frame - 1) / frame)
}

// Span is a finished run of buffered frames in capture order, from the first
// speech frame through the closing silence pad.
type Span struct {
	Frames []audio.Frame
}

// Len returns the number of frames in the span.
func (s *Span) Len() int { return len(s.Frames) }

// PCM concatenates the frame data.
func (s *Span) PCM() []byte {
	n := 0
	for _, f := range s.Frames {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	for _, f := range s.Frames {
		out = append(out, f.Data...)
	}
	return out
}

// Result is the outcome of one Push.
type Result struct {
	// Event is the transition caused by the frame.
	Event Event

	// Span is set when Event is EventEmitted.
	Span *Span

	// Dropped is the number of buffered frames thrown away when Event is
	// EventDiscarded or EventOverflowed.
	Dropped int
}

// Snapshot is a read-only copy of the machine's state.
type Snapshot struct {
	State      State
	SpeechRun  int
	SilenceRun int
	Buffered   int
}

// Machine is the segmentation state machine.
type Machine struct {
	th Thresholds

	state      State
	speechRun  int
	silenceRun int
	buf        []audio.Frame
}

// New validates cfg and returns an Idle machine.
func New(cfg Config) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Machine{th: cfg.Thresholds()}, nil
}

// Thresholds returns the frame counts the machine was built with.
func (m *Machine) Thresholds() Thresholds { return m.th }

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		State:      m.state,
		SpeechRun:  m.speechRun,
		SilenceRun: m.silenceRun,
		Buffered:   len(m.buf),
	}
}

// Reset discards any buffered audio and returns to Idle. It is idempotent.
func (m *Machine) Reset() {
	m.state = Idle
	m.speechRun = 0
	m.silenceRun = 0
	m.buf = nil
}

// Push feeds one frame and its voice activity decision.
func (m *Machine) Push(f audio.Frame, speech bool) Result {
	if speech {
		return m.pushSpeech(f)
	}
	return m.pushSilence(f)
}

func (m *Machine) pushSpeech(f audio.Frame) Result {
	m.speechRun++
	m.silenceRun = 0

	ev := EventNone
	if m.state == Idle {
		m.state = Accumulating
		ev = EventStarted
	}
	if m.state == Accumulating && m.speechRun >= m.th.MinSpeechFrames {
		m.state = Active
		ev = EventActivated
	}
	if r, ok := m.append(f); !ok {
		return r
	}
	return Result{Event: ev}
}

func (m *Machine) pushSilence(f audio.Frame) Result {
	// Silence before any speech is not part of a span.
	if m.state == Idle {
		return Result{}
	}

	m.silenceRun++
	if r, ok := m.append(f); !ok {
		return r
	}
	if m.silenceRun < m.th.PadFrames {
		return Result{}
	}

	// A full pad erases accumulated speech credit.
	m.speechRun = 0
	switch m.state {
	case Active:
		m.state = SpanReady
		span := &Span{Frames: m.buf}
		m.Reset()
		return Result{Event: EventEmitted, Span: span}
	case Accumulating:
		n := len(m.buf)
		m.Reset()
		return Result{Event: EventDiscarded, Dropped: n}
	}
	return Result{}
}

// append buffers f, or resets the machine when that would exceed the cap. The
// frame that triggers an overflow is dropped together with the buffer.
func (m *Machine) append(f audio.Frame) (Result, bool) {
	if len(m.buf)+1 > m.th.BufferCap {
		m.state = Overflow
		n := len(m.buf) + 1
		m.Reset()
		return Result{Event: EventOverflowed, Dropped: n}, false
	}
	m.buf = append(m.buf, f)
	return Result{}, true
}
