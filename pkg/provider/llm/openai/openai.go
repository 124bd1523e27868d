// Package openai streams chat completions from the OpenAI API or any server
// that speaks its wire format, such as Ollama, vLLM or LM Studio.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/hark/pkg/provider/llm"
	"github.com/MrWong99/hark/pkg/types"
)

// chunkBuffer is the capacity of the channel returned by StreamCompletion.
const chunkBuffer = 32

// Provider implements [llm.Provider].
type Provider struct {
	client oai.Client
	model  string
	caps   types.ModelCapabilities
	tokens *llm.TokenCounter
}

var _ llm.Provider = (*Provider)(nil)

type options struct {
	baseURL    string
	org        string
	timeout    time.Duration
	maxRetries int
}

// Option configures a [Provider].
type Option func(*options)

// WithBaseURL points the client at a compatible server instead of OpenAI.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithOrganization sends the OpenAI organization header.
func WithOrganization(org string) Option {
	return func(o *options) { o.org = org }
}

// WithTimeout bounds each HTTP request, including the whole stream.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxRetries sets the SDK's retry count. Negative keeps its default.
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// New returns a provider for model. apiKey may only be empty together with
// [WithBaseURL], since local servers usually take no key.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	o := options{maxRetries: -1}
	for _, fn := range opts {
		fn(&o)
	}
	switch {
	case model == "":
		return nil, errors.New("openai: model is required")
	case apiKey == "" && o.baseURL == "":
		return nil, errors.New("openai: api key is required without a base url")
	}

	var req []option.RequestOption
	if apiKey != "" {
		req = append(req, option.WithAPIKey(apiKey))
	}
	if o.baseURL != "" {
		req = append(req, option.WithBaseURL(o.baseURL))
	}
	if o.org != "" {
		req = append(req, option.WithOrganization(o.org))
	}
	if o.timeout > 0 {
		req = append(req, option.WithHTTPClient(&http.Client{Timeout: o.timeout}))
	}
	if o.maxRetries >= 0 {
		req = append(req, option.WithMaxRetries(o.maxRetries))
	}
	return &Provider{
		client: oai.NewClient(req...),
		model:  model,
		caps:   capabilitiesFor(model),
		tokens: llm.NewTokenCounter(model),
	}, nil
}

// StreamCompletion implements [llm.Provider].
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}
	ch := make(chan llm.Chunk, chunkBuffer)
	go pump(ctx, stream, ch)
	return ch, nil
}

// pump forwards the stream to ch and closes both. Tool call fragments are
// joined by index and delivered on the chunk that finishes the reply.
func pump(ctx context.Context, stream *ssestream.Stream[oai.ChatCompletionChunk], ch chan<- llm.Chunk) {
	defer close(ch)
	defer stream.Close()

	send := func(c llm.Chunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var calls llm.ToolCallAccumulator
	for stream.Next() {
		cur := stream.Current()
		if len(cur.Choices) == 0 {
			continue
		}
		delta, finish := cur.Choices[0].Delta, cur.Choices[0].FinishReason
		for _, tc := range delta.ToolCalls {
			calls.Add(int(tc.Index), tc.ID, tc.Function.Name, tc.Function.Arguments)
		}
		if delta.Content == "" && finish == "" {
			continue
		}
		out := llm.Chunk{Text: delta.Content, FinishReason: finish}
		if finish != "" {
			out.ToolCalls = calls.Done()
		}
		if !send(out) {
			return
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		send(llm.Chunk{FinishReason: llm.FinishError, Err: fmt.Errorf("openai: stream: %w", err)})
	}
}

// CountTokens implements [llm.Provider].
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return p.tokens.Messages(messages), nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() types.ModelCapabilities {
	return p.caps
}

// capabilityRule applies to model names starting with prefix.
type capabilityRule struct {
	prefix string
	apply  func(*types.ModelCapabilities)
}

// capabilityRules are matched in order; the first matching prefix wins.
// More specific prefixes therefore come first.
var capabilityRules = []capabilityRule{
	{"gpt-4.1", func(c *types.ModelCapabilities) {
		c.ContextWindow, c.MaxOutputTokens, c.SupportsVision = 1_047_576, 32_768, true
	}},
	{"gpt-4o", func(c *types.ModelCapabilities) {
		c.MaxOutputTokens, c.SupportsVision = 16_384, true
	}},
	{"gpt-4-turbo", func(c *types.ModelCapabilities) { c.SupportsVision = true }},
	{"gpt-4", func(c *types.ModelCapabilities) { c.ContextWindow = 8_192 }},
	{"gpt-3.5-turbo", func(c *types.ModelCapabilities) { c.ContextWindow = 16_385 }},
	{"o1-mini", func(c *types.ModelCapabilities) {
		c.MaxOutputTokens, c.SupportsToolCalling = 65_536, false
	}},
	{"o3-mini", reasoning(false)},
	{"o1", reasoning(true)},
	{"o3", reasoning(true)},
	{"o4", reasoning(true)},
}

func reasoning(vision bool) func(*types.ModelCapabilities) {
	return func(c *types.ModelCapabilities) {
		c.ContextWindow, c.MaxOutputTokens, c.SupportsVision = 200_000, 100_000, vision
	}
}

// capabilitiesFor describes a model by name. Names that match no rule,
// typically local models behind a compatible server, get the defaults.
func capabilitiesFor(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
		SupportsToolCalling: true,
		SupportsStreaming:   true,
	}
	name := strings.ToLower(model)
	for _, r := range capabilityRules {
		if strings.HasPrefix(name, r.prefix) {
			r.apply(&caps)
			break
		}
	}
	return caps
}

// params converts req into SDK parameters.
func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return oai.ChatCompletionNewParams{}, errors.New("openai: request has no messages")
	}
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		pm, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		msgs = append(msgs, pm)
	}

	out := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != 0 {
		out.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		out.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.Parameters),
			},
		})
	}
	return out, nil
}

// convertMessage maps one conversation message to its SDK form.
func convertMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case types.RoleUser:
		return oai.UserMessage(m.Content), nil
	case types.RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil
	case types.RoleAssistant:
		var a oai.ChatCompletionAssistantMessageParam
		if m.Content != "" {
			a.Content.OfString = oai.String(m.Content)
		}
		if m.Name != "" {
			a.Name = oai.String(m.Name)
		}
		for _, tc := range m.ToolCalls {
			a.ToolCalls = append(a.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &a}, nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
}
