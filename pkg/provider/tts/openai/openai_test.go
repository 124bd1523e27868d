package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/hark/pkg/provider/tts"
	"github.com/MrWong99/hark/pkg/provider/tts/openai"
)

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

func newServer(t *testing.T, body []byte, got chan<- speechRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req speechRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got <- req
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSynthesize_Defaults(t *testing.T) {
	t.Parallel()
	got := make(chan speechRequest, 1)
	srv := newServer(t, []byte("ID3fake"), got)

	s, err := openai.New("sk-test", openai.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clip, err := s.Synthesize(context.Background(), " The time is 3 PM. ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(clip.Data) != "ID3fake" || clip.Format != tts.MP3 {
		t.Errorf("clip = %q (%s), want ID3fake (mp3)", clip.Data, clip.Format)
	}
	req := <-got
	if req.Model != "tts-1" || req.Voice != "alloy" || req.ResponseFormat != "mp3" {
		t.Errorf("request = %+v", req)
	}
	if req.Input != "The time is 3 PM." {
		t.Errorf("input = %q", req.Input)
	}
	if req.Speed != 0 {
		t.Errorf("speed = %v, want omitted", req.Speed)
	}
}

func TestSynthesize_PCMFormat(t *testing.T) {
	t.Parallel()
	got := make(chan speechRequest, 1)
	srv := newServer(t, []byte{0, 1, 2, 3}, got)

	s, err := openai.New("sk-test", openai.WithBaseURL(srv.URL),
		openai.WithFormat(tts.PCM), openai.WithVoice("nova"), openai.WithSpeed(1.25))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clip, err := s.Synthesize(context.Background(), "Hi.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clip.Format != tts.PCM || clip.SampleRate != 24000 {
		t.Errorf("clip = %s at %d Hz, want pcm at 24000 Hz", clip.Format, clip.SampleRate)
	}
	if req := <-got; req.Voice != "nova" || req.ResponseFormat != "pcm" || req.Speed != 1.25 {
		t.Errorf("request = %+v", req)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()
	s, _ := openai.New("sk-test", openai.WithBaseURL("http://127.0.0.1:1"))
	if _, err := s.Synthesize(context.Background(), ""); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := openai.New(""); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := openai.New("k", openai.WithFormat("ogg")); err == nil {
		t.Error("expected error for unsupported format")
	}
	if _, err := openai.New("k", openai.WithSpeed(9)); err == nil {
		t.Error("expected error for speed out of range")
	}
}
