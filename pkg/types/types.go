// Package types holds the conversation values passed between the assistant,
// the LLM backends and the tool registry. It has no dependencies so that
// pkg/provider/llm and internal/tools can both import it.
package types

// Roles of a [Message].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation sent to a model.
type Message struct {
	Role    string
	Content string

	// Name optionally labels the speaker.
	Name string

	// ToolCalls are the calls an assistant message asked for.
	ToolCalls []ToolCall

	// ToolCallID links a tool message to the call it answers.
	ToolCallID string
}

// ToolCall is a function call requested by the model. Arguments is the raw
// JSON object the model produced and may be malformed.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition is a tool as offered to the model.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is a JSON Schema of type object.
	Parameters map[string]any

	// MaxDurationMs bounds one execution. Zero uses the registry default.
	MaxDurationMs int
}

// ModelCapabilities describes a model. The assistant reads ContextWindow and
// MaxOutputTokens to trim history, and SupportsToolCalling to decide whether
// tools are offered at all.
type ModelCapabilities struct {
	ContextWindow       int
	MaxOutputTokens     int
	SupportsToolCalling bool
	SupportsVision      bool
	SupportsStreaming   bool
}
