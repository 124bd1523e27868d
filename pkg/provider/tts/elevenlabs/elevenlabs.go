// Package elevenlabs provides an ElevenLabs-backed TTS synthesizer using the
// ElevenLabs streaming WebSocket API. It implements the tts.Synthesizer
// interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/hark/pkg/provider/tts"
)

const (
	defaultBaseURL   = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Option is a functional option for configuring the ElevenLabs Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(s *Synthesizer) {
		s.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000",
// "mp3_44100_128").
func WithOutputFormat(format string) Option {
	return func(s *Synthesizer) {
		s.outputFormat = format
	}
}

// WithBaseURL overrides the WebSocket base URL (scheme and host).
func WithBaseURL(u string) Option {
	return func(s *Synthesizer) {
		s.baseURL = strings.TrimRight(u, "/")
	}
}

// WithVoiceSettings sets stability and similarity boost, both 0–1.
func WithVoiceSettings(stability, similarity float64) Option {
	return func(s *Synthesizer) {
		s.settings = voiceSettings{Stability: stability, SimilarityBoost: similarity}
	}
}

// Synthesizer implements tts.Synthesizer backed by the ElevenLabs streaming
// API. Each Synthesize call uses its own connection.
type Synthesizer struct {
	apiKey       string
	voiceID      string
	model        string
	outputFormat string
	baseURL      string
	settings     voiceSettings
}

// New creates a new ElevenLabs Synthesizer. apiKey and voiceID must be
// non-empty.
func New(apiKey, voiceID string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	s := &Synthesizer{
		apiKey:       apiKey,
		voiceID:      voiceID,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
		settings:     voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	}
	for _, o := range opts {
		o(s)
	}
	if _, _, err := parseOutputFormat(s.outputFormat); err != nil {
		return nil, err
	}
	return s, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded clip data
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
	Error   string `json:"error,omitempty"`
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// Synthesize opens a WebSocket to ElevenLabs, sends text as a single input
// followed by the end-of-input marker, and collects the streamed audio until
// the server reports the final chunk.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, tts.ErrEmptyText
	}
	container, rate, _ := parseOutputFormat(s.outputFormat)

	conn, _, err := websocket.Dial(ctx, s.streamURL(), nil)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4 << 20)

	// ElevenLabs requires a non-empty first text value.
	vs := s.settings
	if err := writeJSON(ctx, conn, boiMessage{Text: " ", VoiceSettings: &vs, XiAPIKey: s.apiKey}); err != nil {
		return tts.Audio{}, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}
	// The API expects input fragments to end with a space.
	if err := writeJSON(ctx, conn, textMessage{Text: strings.TrimSpace(text) + " ", Flush: true}); err != nil {
		return tts.Audio{}, fmt.Errorf("elevenlabs: send text: %w", err)
	}
	if err := writeJSON(ctx, conn, textMessage{Text: ""}); err != nil {
		return tts.Audio{}, fmt.Errorf("elevenlabs: send EOS: %w", err)
	}

	var data []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && len(data) > 0 {
				break
			}
			return tts.Audio{}, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return tts.Audio{}, fmt.Errorf("elevenlabs: server: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return tts.Audio{}, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			data = append(data, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	if len(data) == 0 {
		return tts.Audio{}, errors.New("elevenlabs: no audio received")
	}
	return tts.Audio{Data: data, Format: container, SampleRate: rate}, nil
}

// streamURL constructs the WebSocket URL for the configured voice and model.
func (s *Synthesizer) streamURL() string {
	q := url.Values{}
	q.Set("model_id", s.model)
	q.Set("output_format", s.outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s",
		s.baseURL, url.PathEscape(s.voiceID), q.Encode())
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// parseOutputFormat maps an ElevenLabs output format such as "pcm_16000" or
// "mp3_44100_128" to a container and sample rate.
func parseOutputFormat(f string) (tts.Container, int, error) {
	parts := strings.Split(f, "_")
	if len(parts) < 2 {
		return "", 0, fmt.Errorf("elevenlabs: invalid output format %q", f)
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil || rate <= 0 {
		return "", 0, fmt.Errorf("elevenlabs: invalid sample rate in output format %q", f)
	}
	switch parts[0] {
	case "pcm":
		return tts.PCM, rate, nil
	case "mp3":
		return tts.MP3, rate, nil
	}
	return "", 0, fmt.Errorf("elevenlabs: unsupported output format %q", f)
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
