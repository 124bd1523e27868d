package llm

import "github.com/MrWong99/hark/pkg/types"

// ToolCallAccumulator joins streamed tool call fragments by index. Streaming
// APIs send the ID and name once and the JSON arguments in pieces.
type ToolCallAccumulator struct {
	calls []types.ToolCall
}

// Add merges one fragment into the call at idx.
func (a *ToolCallAccumulator) Add(idx int, id, name, args string) {
	if idx < 0 {
		return
	}
	for len(a.calls) <= idx {
		a.calls = append(a.calls, types.ToolCall{})
	}
	tc := &a.calls[idx]
	if id != "" {
		tc.ID = id
	}
	if name != "" {
		tc.Name = name
	}
	tc.Arguments += args
}

// Len returns the number of indices seen so far.
func (a *ToolCallAccumulator) Len() int { return len(a.calls) }

// Done returns the accumulated calls in index order, skipping indices that
// never received a name, and resets the accumulator.
func (a *ToolCallAccumulator) Done() []types.ToolCall {
	var out []types.ToolCall
	for _, tc := range a.calls {
		if tc.Name != "" {
			out = append(out, tc)
		}
	}
	a.calls = nil
	return out
}

// Discard consumes the rest of a reply so its producer can exit. Callers
// that stop reading early, for example after a FinishError chunk, must call
// it.
func Discard(ch <-chan Chunk) {
	for range ch {
	}
}
