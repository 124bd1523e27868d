// Package anyllm answers with any backend supported by
// github.com/mozilla-ai/any-llm-go: hosted APIs such as Anthropic, Gemini or
// Mistral, and local runtimes such as Ollama or llama.cpp.
//
//	p, err := anyllm.New("anthropic", "claude-sonnet-4-5", anyllmlib.WithAPIKey(key))
//	p, err := anyllm.New("ollama", "llama3.1:8b")
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/hark/pkg/provider/llm"
	"github.com/MrWong99/hark/pkg/types"
)

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

// wrap adapts a backend constructor returning a concrete type.
func wrap[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) constructor {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return fn(opts...)
	}
}

var backends = map[string]constructor{
	"openai":    wrap(anyllmoai.New),
	"anthropic": wrap(anthropic.New),
	"gemini":    wrap(gemini.New),
	"ollama":    wrap(ollama.New),
	"deepseek":  wrap(deepseek.New),
	"mistral":   wrap(mistral.New),
	"groq":      wrap(groq.New),
	"llamacpp":  wrap(llamacpp.New),
	"llamafile": wrap(llamafile.New),
}

// Backends returns the supported backend names, sorted.
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Provider implements [llm.Provider].
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
	caps    types.ModelCapabilities
	tokens  *llm.TokenCounter
}

// New returns a provider for model on the named backend, matched case
// insensitively. opts are passed to the backend; without
// [anyllmlib.WithAPIKey] hosted backends read their usual environment
// variable, such as ANTHROPIC_API_KEY. Local backends need no key.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	name := strings.ToLower(backend)
	switch {
	case name == "":
		return nil, errors.New("anyllm: backend is required")
	case model == "":
		return nil, errors.New("anyllm: model is required")
	}
	create, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", backend, strings.Join(Backends(), ", "))
	}
	b, err := create(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", name, err)
	}
	return &Provider{
		backend: b,
		name:    name,
		model:   model,
		caps:    capabilitiesFor(model),
		tokens:  llm.NewTokenCounter(model),
	}, nil
}

// StreamCompletion implements [llm.Provider].
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anyllm: request has no messages")
	}
	chunks, errs := p.backend.CompletionStream(ctx, p.params(req))
	out := make(chan llm.Chunk, 32)
	go p.pump(ctx, chunks, errs, out)
	return out, nil
}

// pump converts backend chunks until the backend closes its channel, then
// reports the backend's error, if any, as a final chunk.
func (p *Provider) pump(ctx context.Context, chunks <-chan anyllmlib.ChatCompletionChunk, errs <-chan error, out chan<- llm.Chunk) {
	defer close(out)
	send := func(c llm.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var calls llm.ToolCallAccumulator
	for c := range chunks {
		if len(c.Choices) == 0 {
			continue
		}
		choice := c.Choices[0]
		for i, tc := range choice.Delta.ToolCalls {
			calls.Add(i, tc.ID, tc.Function.Name, tc.Function.Arguments)
		}
		if choice.Delta.Content == "" && choice.FinishReason == "" {
			continue
		}
		next := llm.Chunk{Text: choice.Delta.Content, FinishReason: choice.FinishReason}
		if next.FinishReason != "" {
			next.ToolCalls = calls.Done()
		}
		if !send(next) {
			return
		}
	}
	if err := <-errs; err != nil && ctx.Err() == nil {
		send(llm.Chunk{FinishReason: llm.FinishError, Err: fmt.Errorf("anyllm: %s stream: %w", p.name, err)})
	}
}

// CountTokens implements [llm.Provider]. Models tiktoken does not know are
// counted with a generic encoding.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return p.tokens.Messages(messages), nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() types.ModelCapabilities {
	return p.caps
}

// params converts req for the backend.
func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	return params
}

// convertMessage maps one conversation message to its any-llm form.
func convertMessage(m types.Message) anyllmlib.Message {
	msg := anyllmlib.Message{
		Role:       m.Role,
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, anyllmlib.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: anyllmlib.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return msg
}

// family describes the capabilities shared by every model whose name starts
// with prefix.
type family struct {
	prefix string
	caps   types.ModelCapabilities
}

// families is matched in order, so longer prefixes come first.
var families = []family{
	{"gpt-4.1", types.ModelCapabilities{ContextWindow: 1_047_576, MaxOutputTokens: 32_768, SupportsVision: true, SupportsToolCalling: true}},
	{"gpt-4o", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384, SupportsVision: true, SupportsToolCalling: true}},
	{"gpt-3.5-turbo", types.ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096, SupportsToolCalling: true}},
	{"o1-mini", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 65_536}},
	{"o3-mini", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsToolCalling: true}},
	{"claude-3-opus", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 4_096, SupportsVision: true, SupportsToolCalling: true}},
	{"claude", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192, SupportsVision: true, SupportsToolCalling: true}},
	{"gemini-1.5-pro", types.ModelCapabilities{ContextWindow: 2_097_152, MaxOutputTokens: 8_192, SupportsVision: true, SupportsToolCalling: true}},
	{"gemini-2", types.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192, SupportsVision: true, SupportsToolCalling: true}},
	{"gemini", types.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192, SupportsVision: true, SupportsToolCalling: true}},
	{"mistral", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 8_192, SupportsToolCalling: true}},
	{"llama3", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsToolCalling: true}},
}

// capabilitiesFor looks model up in [families]. Unknown models get
// conservative defaults.
func capabilitiesFor(model string) types.ModelCapabilities {
	lower := strings.ToLower(model)
	// Ollama tags and vendor prefixes ("anthropic/claude-...") do not matter.
	if i := strings.LastIndexByte(lower, '/'); i >= 0 {
		lower = lower[i+1:]
	}
	caps := types.ModelCapabilities{
		SupportsToolCalling: true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}
	for _, f := range families {
		if strings.HasPrefix(lower, f.prefix) {
			caps = f.caps
			break
		}
	}
	caps.SupportsStreaming = true
	return caps
}
