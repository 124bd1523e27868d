// Package openai provides a TTS synthesizer backed by the OpenAI speech API
// (tts-1, tts-1-hd, gpt-4o-mini-tts, or any compatible server).
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/hark/pkg/provider/tts"
)

// Defaults used when no model, voice or format is configured.
const (
	DefaultModel  = "tts-1"
	DefaultVoice  = "alloy"
	DefaultFormat = tts.MP3
)

// pcmSampleRate is the fixed rate of the API's "pcm" response format.
const pcmSampleRate = 24000

// Synthesizer implements tts.Synthesizer using the OpenAI API.
type Synthesizer struct {
	client oai.Client
	model  string
	voice  string
	format tts.Container
	speed  float64
}

type config struct {
	baseURL string
	model   string
	voice   string
	format  tts.Container
	speed   float64
	timeout time.Duration
}

// Option is a functional option for Synthesizer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the speech model. Default: tts-1.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithVoice sets the voice. Default: alloy.
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithFormat sets the response container. Default: mp3.
func WithFormat(f tts.Container) Option {
	return func(c *config) { c.format = f }
}

// WithSpeed sets the speaking rate, 0.25–4.0. Zero uses the API default.
func WithSpeed(speed float64) Option {
	return func(c *config) { c.speed = speed }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Synthesizer.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	cfg := &config{model: DefaultModel, voice: DefaultVoice, format: DefaultFormat}
	for _, o := range opts {
		o(cfg)
	}
	if _, err := tts.ParseContainer(string(cfg.format)); err != nil {
		return nil, fmt.Errorf("openai tts: %w", err)
	}
	if cfg.speed != 0 && (cfg.speed < 0.25 || cfg.speed > 4) {
		return nil, fmt.Errorf("openai tts: speed %.2f outside [0.25, 4]", cfg.speed)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Synthesizer{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
		voice:  cfg.voice,
		format: cfg.format,
		speed:  cfg.speed,
	}, nil
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Audio{}, tts.ErrEmptyText
	}

	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(s.model),
		Voice:          oai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(s.format),
	}
	if s.speed != 0 {
		params.Speed = oai.Float(s.speed)
	}

	resp, err := s.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(data) == 0 {
		return tts.Audio{}, fmt.Errorf("openai tts: empty response")
	}

	out := tts.Audio{Data: data, Format: s.format}
	if s.format == tts.PCM {
		out.SampleRate = pcmSampleRate
	}
	return out, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
