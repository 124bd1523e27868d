package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/hark/pkg/provider/stt"
	"github.com/MrWong99/hark/pkg/provider/stt/openai"
)

type form struct {
	model    string
	language string
	prompt   string
	filename string
}

func newServer(t *testing.T, text string, got chan<- form) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got <- form{
			model:    r.FormValue("model"),
			language: r.FormValue("language"),
			prompt:   r.FormValue("prompt"),
			filename: hdr.Filename,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()
	got := make(chan form, 1)
	srv := newServer(t, " turn on the lights ", got)

	tr, err := openai.New("sk-test", openai.WithBaseURL(srv.URL), openai.WithLanguage("en-US"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text, err := tr.Transcribe(context.Background(), make([]byte, 960), stt.Config{Prompt: "hey hark"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "turn on the lights" {
		t.Errorf("text = %q", text)
	}
	f := <-got
	if f.model != openai.DefaultModel {
		t.Errorf("model = %q, want %q", f.model, openai.DefaultModel)
	}
	if f.language != "en" {
		t.Errorf("language = %q, want en", f.language)
	}
	if f.prompt != "hey hark" {
		t.Errorf("prompt = %q, want hey hark", f.prompt)
	}
	if f.filename != "audio.wav" {
		t.Errorf("filename = %q, want audio.wav", f.filename)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()
	tr, _ := openai.New("sk-test", openai.WithBaseURL("http://127.0.0.1:1"))
	if _, err := tr.Transcribe(context.Background(), nil, stt.Config{}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("err = %v, want ErrEmptyAudio", err)
	}
}
