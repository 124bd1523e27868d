package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/stt"
	"github.com/MrWong99/hark/pkg/provider/stt/whisper"
)

// inference captures the form fields of the last /inference request.
type inference struct {
	language string
	prompt   string
	model    string
	rate     int
	pcmLen   int
}

// newMockServer responds to POST /inference with responseText and sends the
// parsed request on last when it is non-nil.
func newMockServer(t *testing.T, responseText string, calls *atomic.Int32, last chan<- inference) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		wav, _ := io.ReadAll(f)
		pcm, rate, _, err := audio.DecodeWAV(wav)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if last != nil {
			select {
			case last <- inference{
				language: r.FormValue("language"),
				prompt:   r.FormValue("prompt"),
				model:    r.FormValue("model"),
				rate:     rate,
				pcmLen:   len(pcm),
			}:
			default:
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestTranscribe_SendsWAVAndFields(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	reqs := make(chan inference, 1)
	srv := newMockServer(t, "  what time is it  ", &calls, reqs)

	c, err := whisper.New(srv.URL+"/", whisper.WithModel("small"), whisper.WithLanguage("de"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pcm := make([]byte, 960*3)
	text, err := c.Transcribe(context.Background(), pcm, stt.Config{Prompt: "hey hark"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "what time is it" {
		t.Errorf("text = %q, want %q", text, "what time is it")
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
	last := <-reqs
	if last.language != "de" || last.model != "small" || last.prompt != "hey hark" {
		t.Errorf("fields = %+v", last)
	}
	if last.rate != 16000 || last.pcmLen != len(pcm) {
		t.Errorf("wav = %d Hz, %d bytes; want 16000 Hz, %d bytes", last.rate, last.pcmLen, len(pcm))
	}
}

func TestTranscribe_RequestLanguageOverridesDefault(t *testing.T) {
	t.Parallel()
	reqs := make(chan inference, 1)
	srv := newMockServer(t, "ok", nil, reqs)
	c, _ := whisper.New(srv.URL)
	if _, err := c.Transcribe(context.Background(), make([]byte, 64), stt.Config{Language: "fr"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last := <-reqs; last.language != "fr" {
		t.Errorf("language = %q, want fr", last.language)
	}
}

func TestTranscribe_StripsNonSpeechMarkers(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, " [BLANK_AUDIO] ", nil, nil)
	c, _ := whisper.New(srv.URL)
	text, err := c.Transcribe(context.Background(), make([]byte, 64), stt.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()

	t.Run("empty audio", func(t *testing.T) {
		t.Parallel()
		c, _ := whisper.New("http://127.0.0.1:1")
		if _, err := c.Transcribe(context.Background(), nil, stt.Config{}); !errors.Is(err, stt.ErrEmptyAudio) {
			t.Errorf("err = %v, want ErrEmptyAudio", err)
		}
	})

	t.Run("server error", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		}))
		t.Cleanup(srv.Close)
		c, _ := whisper.New(srv.URL)
		if _, err := c.Transcribe(context.Background(), make([]byte, 64), stt.Config{}); err == nil {
			t.Error("expected error for HTTP 500")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		srv := newMockServer(t, "x", nil, nil)
		c, _ := whisper.New(srv.URL)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := c.Transcribe(ctx, make([]byte, 64), stt.Config{}); err == nil {
			t.Error("expected error for cancelled context")
		}
	})
}
