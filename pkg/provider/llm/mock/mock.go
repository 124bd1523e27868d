// Package mock provides a scripted llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hark/pkg/provider/llm"
	"github.com/MrWong99/hark/pkg/types"
)

// Provider replays canned chunks and records every request. Configure the
// exported fields before the first call.
type Provider struct {
	// StreamChunks is replayed by calls not covered by StreamScript.
	StreamChunks []llm.Chunk

	// StreamScript[i], when present, is replayed by the i-th call. It lets a
	// test script a tool round followed by the final answer.
	StreamScript [][]llm.Chunk

	// StreamErr makes every StreamCompletion fail before streaming.
	StreamErr error

	// TokenCount and CountTokensErr are returned by CountTokens.
	TokenCount     int
	CountTokensErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities types.ModelCapabilities

	mu       sync.Mutex
	requests []llm.CompletionRequest
	counts   int
}

// StreamCompletion records req and streams the scripted chunks. The stream
// stops early when ctx is done.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	n := len(p.requests)
	p.requests = append(p.requests, req)
	if p.StreamErr != nil {
		p.mu.Unlock()
		return nil, p.StreamErr
	}
	chunks := p.StreamChunks
	if n < len(p.StreamScript) {
		chunks = p.StreamScript[n]
	}
	chunks = append([]llm.Chunk(nil), chunks...)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// CountTokens returns TokenCount and CountTokensErr.
func (p *Provider) CountTokens([]types.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts++
	return p.TokenCount, p.CountTokensErr
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return p.ModelCapabilities
}

// Requests returns the requests passed to StreamCompletion, in order.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.requests...)
}

// CountCalls returns how often CountTokens was called.
func (p *Provider) CountCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts
}

var _ llm.Provider = (*Provider)(nil)
