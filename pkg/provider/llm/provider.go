// Package llm defines the language model interface the assistant answers
// with.
//
// The assistant only ever streams: reply text is split into sentences and
// spoken while the model is still generating, so a [Provider] exposes a
// single streaming call. Backends live in sub-packages (openai, anyllm);
// this package also holds the helpers they share for joining streamed tool
// call fragments and for counting tokens.
package llm

import (
	"context"

	"github.com/MrWong99/hark/pkg/types"
)

// Finish reasons reported on the last [Chunk] of a stream.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
	FinishError     = "error"
)

// CompletionRequest is one round of the conversation sent to the model.
type CompletionRequest struct {
	// Messages is the history followed by the new command and, in later
	// rounds, the tool calls and their results. Must not be empty.
	Messages []types.Message

	// Tools offered to the model in this round. Empty disables tool calling.
	Tools []types.ToolDefinition

	// Temperature in [0, 2]. Zero keeps the backend default.
	Temperature float64

	// MaxTokens caps the reply. Zero keeps the backend default.
	MaxTokens int

	// SystemPrompt is sent ahead of Messages in a system message.
	SystemPrompt string
}

// Chunk is one piece of a streamed reply.
type Chunk struct {
	// Text is the next fragment of the reply. It may be empty.
	Text string

	// FinishReason is set on the last chunk only.
	FinishReason string

	// ToolCalls are complete calls, assembled from their fragments. They are
	// delivered on the last chunk.
	ToolCalls []types.ToolCall

	// Err is set when FinishReason is FinishError.
	Err error
}

// Provider is a streaming chat model. Implementations must be safe for
// concurrent use.
type Provider interface {
	// StreamCompletion starts a reply to req. The error return covers
	// failures before the first chunk, such as a rejected key; later failures
	// arrive as a final chunk with FinishError. The channel is closed when the
	// reply ends or ctx is done, and callers must drain it.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// CountTokens estimates the prompt size of messages. The assistant trims
	// history with it, so it should err on the high side.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities describes the model. It does not change over the life of
	// the provider.
	Capabilities() types.ModelCapabilities
}
