// Package mock provides a test double for [playback.Player].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hark/internal/playback"
	"github.com/MrWong99/hark/pkg/provider/tts"
)

// Player is a mock implementation of [playback.Player]. It records every
// clip and returns PlayErr.
type Player struct {
	mu sync.Mutex

	// PlayErr is returned by every Play call.
	PlayErr error

	// OnPlay, when set, is called with each clip before Play returns.
	OnPlay func(clip tts.Audio)

	played []tts.Audio
}

// Play implements [playback.Player].
func (p *Player) Play(ctx context.Context, clip tts.Audio) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.played = append(p.played, clip)
	onPlay, err := p.OnPlay, p.PlayErr
	p.mu.Unlock()
	if onPlay != nil {
		onPlay(clip)
	}
	return err
}

// Played returns a copy of the clips passed to Play.
func (p *Player) Played() []tts.Audio {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tts.Audio, len(p.played))
	copy(out, p.played)
	return out
}

// CallCount returns how many times Play was called.
func (p *Player) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

// Reset clears the recorded clips.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = nil
}

var _ playback.Player = (*Player)(nil)
