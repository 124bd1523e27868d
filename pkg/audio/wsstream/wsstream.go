// Package wsstream provides an [audio.Source] fed by a remote microphone over
// WebSocket.
//
// The source is an http.Handler. A single client connects, optionally sends a
// JSON text message describing its capture format, and then streams binary
// messages of raw S16LE PCM, or one Opus packet per message when the hello
// names the "opus" codec. Audio in a different rate or channel layout is
// down-mixed and resampled to the source format before it is re-chunked into
// frames. A client disconnect ends capture with [audio.ErrDeviceLost].
package wsstream

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/hark/pkg/audio"
)

// maxMessageBytes bounds a single PCM message (about 5 s of 48 kHz stereo).
const maxMessageBytes = 1 << 20

// Hello is the optional first text message a client sends to announce its
// capture format. Missing fields default to the source format.
type Hello struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`

	// Codec is "pcm" (the default) or "opus".
	Codec string `json:"codec,omitempty"`
}

// Source accepts one streaming client and exposes its audio as frames.
type Source struct {
	format audio.Format
	queue  int

	mu       sync.Mutex
	started  bool
	closed   bool
	busy     bool
	err      error
	out      chan audio.Frame
	ctx      context.Context
	done     chan struct{}
	doneOnce sync.Once

	// streaming tracks the client goroutine; out is closed only after it
	// has stopped sending.
	streaming sync.WaitGroup
}

// New returns a source producing frames in format. queue sets the depth of the
// frame channel; values < 1 select [audio.DefaultQueueFrames].
func New(format audio.Format, queue int) (*Source, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("wsstream: %w", err)
	}
	if queue < 1 {
		queue = audio.DefaultQueueFrames
	}
	return &Source{format: format, queue: queue, done: make(chan struct{})}, nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Start arms the source. Frames flow once a client connects to the handler.
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, audio.ErrSourceClosed
	}
	if s.started {
		return nil, audio.ErrSourceStarted
	}
	s.started = true
	s.ctx = ctx
	s.out = make(chan audio.Frame, s.queue)

	go func() {
		select {
		case <-ctx.Done():
			s.finish(nil)
		case <-s.done:
		}
	}()
	return s.out, nil
}

// ServeHTTP upgrades the request and streams the client's audio into the
// frame channel. Only one client may stream at a time, and only while the
// source is started.
func (s *Source) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	switch {
	case !s.started || s.closed || s.isDone():
		s.mu.Unlock()
		http.Error(w, "audio source not accepting", http.StatusServiceUnavailable)
		return
	case s.busy:
		s.mu.Unlock()
		http.Error(w, "a client is already streaming", http.StatusConflict)
		return
	}
	s.busy = true
	s.streaming.Add(1)
	ctx := s.ctx
	s.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("wsstream: accept failed", "err", err)
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
		s.streaming.Done()
		return
	}
	conn.SetReadLimit(maxMessageBytes)
	slog.Info("wsstream: client connected", "remote", r.RemoteAddr)

	err = s.stream(ctx, conn)
	s.streaming.Done()
	s.finish(err)
}

func (s *Source) stream(ctx context.Context, conn *websocket.Conn) error {
	defer conn.CloseNow()

	// A pending Read must return when the source is closed, not only when
	// the caller's context ends.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	hello := Hello{SampleRate: s.format.SampleRate, Channels: s.format.Channels}
	var dec decoder = pcmDecoder{}
	framer := audio.NewFramer(s.format)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || s.isDone() {
				return nil
			}
			return fmt.Errorf("%w: %w", audio.ErrDeviceLost, err)
		}
		switch typ {
		case websocket.MessageText:
			if err := json.Unmarshal(data, &hello); err != nil {
				_ = conn.Close(websocket.StatusUnsupportedData, "bad hello")
				return fmt.Errorf("%w: invalid hello: %w", audio.ErrDeviceLost, err)
			}
			if hello.SampleRate <= 0 || hello.Channels <= 0 {
				_ = conn.Close(websocket.StatusUnsupportedData, "bad format")
				return fmt.Errorf("%w: invalid client format %+v", audio.ErrDeviceLost, hello)
			}
			if dec, err = newDecoder(hello); err != nil {
				_ = conn.Close(websocket.StatusUnsupportedData, "bad codec")
				return fmt.Errorf("%w: %w", audio.ErrDeviceLost, err)
			}
			slog.Info("wsstream: client format",
				"sample_rate", hello.SampleRate,
				"channels", hello.Channels,
				"codec", cmp.Or(hello.Codec, CodecPCM),
			)
		case websocket.MessageBinary:
			pcm, err := dec.decode(data)
			if err != nil {
				// One corrupt packet is skipped; the stream itself is intact.
				slog.Debug("wsstream: dropping undecodable message", "err", err)
				continue
			}
			if hello.SampleRate != s.format.SampleRate || hello.Channels != s.format.Channels {
				pcm = audio.ToMono16(pcm, hello.SampleRate, hello.Channels, s.format.SampleRate)
			}
			for _, f := range framer.Write(pcm) {
				select {
				case s.out <- f:
				case <-ctx.Done():
					return nil
				case <-s.done:
					return nil
				}
			}
		}
	}
}

func (s *Source) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// finish ends capture once, recording err as the fault unless the source was
// closed deliberately.
func (s *Source) finish(err error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		if err != nil && !s.closed {
			s.err = err
			slog.Warn("wsstream: capture ended with fault", "err", err)
		}
		out := s.out
		s.mu.Unlock()
		close(s.done)
		s.streaming.Wait()
		if out != nil {
			close(out)
		}
	})
}

// Err implements [audio.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.finish(nil)
	return nil
}

var _ audio.Source = (*Source)(nil)
