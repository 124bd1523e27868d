// Package mock provides a test double for the stt.Transcriber interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hark/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the audio passed to Transcribe.
	PCM []byte
	// Cfg is the Config passed to Transcribe.
	Cfg stt.Config
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by every call when Texts is exhausted.
	Text string

	// Texts are returned by successive calls, in order.
	Texts []string

	// Err, if non-nil, is returned by every call.
	Err error

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the next scripted text.
func (m *Transcriber) Transcribe(_ context.Context, pcm []byte, cfg stt.Config) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.TranscribeCalls)
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	m.TranscribeCalls = append(m.TranscribeCalls, TranscribeCall{PCM: cp, Cfg: cfg})
	if m.Err != nil {
		return "", m.Err
	}
	if idx < len(m.Texts) {
		return m.Texts[idx], nil
	}
	return m.Text, nil
}

// CallCount returns the number of Transcribe calls so far. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.TranscribeCalls)
}

// ResetCalls clears all recorded calls. Thread-safe.
func (m *Transcriber) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TranscribeCalls = nil
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
