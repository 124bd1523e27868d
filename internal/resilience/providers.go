package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/hark/pkg/provider/llm"
	"github.com/MrWong99/hark/pkg/provider/stt"
	"github.com/MrWong99/hark/pkg/provider/tts"
	"github.com/MrWong99/hark/pkg/types"
)

// STT is a [stt.Transcriber] that fails over across a chain of transcribers.
type STT struct {
	*Chain[stt.Transcriber]
}

var _ stt.Transcriber = (*STT)(nil)

// NewSTT returns an empty STT chain. Add providers with Add before use.
func NewSTT(cfg ChainConfig) *STT {
	return &STT{NewChain[stt.Transcriber]("stt", cfg)}
}

// Transcribe replays pcm to each transcriber until one succeeds.
func (s *STT) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (string, error) {
	return Call(ctx, s.Chain, func(ctx context.Context, t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, pcm, cfg)
	})
}

// LLM is an [llm.Provider] that fails over across a chain of models.
//
// Only opening a stream fails over. Once chunks flow, an error is reported
// on the stream itself and handled by the caller.
type LLM struct {
	*Chain[llm.Provider]
}

var _ llm.Provider = (*LLM)(nil)

// NewLLM returns an empty LLM chain.
func NewLLM(cfg ChainConfig) *LLM {
	return &LLM{NewChain[llm.Provider]("llm", cfg)}
}

// StreamCompletion opens a stream on the first provider that accepts it.
func (l *LLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return Call(ctx, l.Chain, func(ctx context.Context, p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens uses the primary's tokenizer. Counting is local, so it never
// fails over.
func (l *LLM) CountTokens(messages []types.Message) (int, error) {
	p, ok := l.Primary()
	if !ok {
		return 0, ErrAllFailed
	}
	return p.CountTokens(messages)
}

// Capabilities reports the primary's capabilities.
func (l *LLM) Capabilities() types.ModelCapabilities {
	if p, ok := l.Primary(); ok {
		return p.Capabilities()
	}
	return types.ModelCapabilities{}
}

// TTS is a [tts.Synthesizer] that fails over across a chain of voices.
type TTS struct {
	*Chain[tts.Synthesizer]
}

var _ tts.Synthesizer = (*TTS)(nil)

// NewTTS returns an empty TTS chain.
func NewTTS(cfg ChainConfig) *TTS {
	return &TTS{NewChain[tts.Synthesizer]("tts", cfg)}
}

// Synthesize renders text with the first synthesizer that succeeds. Blank
// text fails with [tts.ErrEmptyText] before any provider is called.
func (t *TTS) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, tts.ErrEmptyText
	}
	return Call(ctx, t.Chain, func(ctx context.Context, s tts.Synthesizer) (tts.Audio, error) {
		return s.Synthesize(ctx, text)
	})
}
