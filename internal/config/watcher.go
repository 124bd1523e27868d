package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Watcher holds the latest valid configuration read from a file and reloads
// it when the file changes. An edit that does not parse or validate is
// logged and ignored; the previous configuration stays current.
type Watcher struct {
	path  string
	every time.Duration
	kick  chan struct{}

	cur atomic.Pointer[Config]

	mu      sync.Mutex // serialises reloads
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often [Watcher.Run] stats the file. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.every = d
		}
	}
}

// NewWatcher loads path and returns a watcher holding it. Call
// [Watcher.Run] to follow later edits.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:  path,
		every: 5 * time.Second,
		kick:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(w)
	}
	if _, err := w.Reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Current returns the most recent valid configuration.
func (w *Watcher) Current() *Config {
	return w.cur.Load()
}

// Kick asks a running [Watcher.Run] to re-read the file now, even if its
// modification time looks unchanged. It never blocks.
func (w *Watcher) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run polls the file until ctx is done and calls onChange, from the Run
// goroutine, after each successful reload that changed the content. It
// always returns nil.
func (w *Watcher) Run(ctx context.Context, onChange func(old, new *Config)) error {
	t := time.NewTicker(w.every)
	defer t.Stop()
	for {
		force := false
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		case <-w.kick:
			force = true
		}
		if !force && !w.statChanged() {
			continue
		}
		old, err := w.Reload()
		if err != nil {
			slog.Warn("config: reload rejected, keeping previous config", "path", w.path, "err", err)
			continue
		}
		if old == nil {
			continue
		}
		slog.Info("config: reloaded", "path", w.path)
		if onChange != nil {
			onChange(old, w.Current())
		}
	}
}

// Reload reads and validates the file. When the content differs from what is
// loaded it swaps in the new config and returns the one it replaced. It
// returns nil, nil when the content is unchanged.
func (w *Watcher) Reload() (*Config, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", w.path, err)
	}
	if info, err := os.Stat(w.path); err == nil {
		w.modTime, w.size = info.ModTime(), info.Size()
	}
	sum := sha256.Sum256(data)
	prev := w.cur.Load()
	if prev != nil && bytes.Equal(sum[:], w.sum[:]) {
		return nil, nil
	}

	cfg, err := Decode(data, FormatFromPath(w.path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", w.path, err)
	}
	w.sum = sum
	w.cur.Store(cfg)
	if prev == nil {
		return nil, nil
	}
	return prev, nil
}

// statChanged reports whether the file's size or modification time differs
// from the last read.
func (w *Watcher) statChanged() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: cannot stat file", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return !info.ModTime().Equal(w.modTime) || info.Size() != w.size
}
