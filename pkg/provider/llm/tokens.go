package llm

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/MrWong99/hark/pkg/types"
)

// Chat framing overhead in tokens, per the OpenAI cookbook: every message is
// wrapped in role markers, a name costs one extra token, and every reply is
// primed with three more.
const (
	TokensPerMessage = 3
	TokensPerName    = 1
	TokensPerReply   = 3
)

// fallbackEncoding is used for model names tiktoken does not know, which
// includes every non-OpenAI model. Counts for those are approximate.
const fallbackEncoding = "o200k_base"

// TokenCounter counts message tokens with a BPE encoding, loaded on first
// use. When no encoding can be loaded, for example offline, it falls back to
// a four-characters-per-token estimate rounded up. It is safe for concurrent
// use.
type TokenCounter struct {
	model string

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter returns a counter for model.
func NewTokenCounter(model string) *TokenCounter {
	return &TokenCounter{model: model}
}

// NewEstimatingCounter returns a counter that never loads an encoding.
func NewEstimatingCounter() *TokenCounter {
	c := &TokenCounter{}
	c.once.Do(func() {})
	return c
}

func (c *TokenCounter) load() {
	enc, err := tiktoken.EncodingForModel(c.model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		slog.Warn("llm: token encoding unavailable, estimating", "model", c.model, "err", err)
		return
	}
	c.enc = enc
}

// Text returns the token count of s.
func (c *TokenCounter) Text(s string) int {
	c.once.Do(c.load)
	if c.enc == nil {
		return (len(s) + 3) / 4
	}
	return len(c.enc.Encode(s, nil, nil))
}

// Messages returns the token count of a chat request carrying messages.
func (c *TokenCounter) Messages(messages []types.Message) int {
	total := TokensPerReply
	for _, m := range messages {
		total += TokensPerMessage + c.Text(m.Role) + c.Text(m.Content)
		if m.Name != "" {
			total += TokensPerName + c.Text(m.Name)
		}
		for _, tc := range m.ToolCalls {
			total += c.Text(tc.Name) + c.Text(tc.Arguments)
		}
	}
	return total
}
