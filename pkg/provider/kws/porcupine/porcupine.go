// Package porcupine adapts the Picovoice Porcupine wake-word engine to the
// [kws.BlockEngine] interface.
//
// Porcupine expects 16 kHz mono audio in blocks of [porcupine.FrameLength]
// samples. Wrap an [Engine] in [kws.NewBlockVerifier] to verify whole spans.
package porcupine

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	porcupine "github.com/Picovoice/porcupine/binding/go/v3"

	"github.com/MrWong99/hark/pkg/provider/kws"
)

// SampleRate is the only sample rate Porcupine accepts.
const SampleRate = 16000

// Config holds the engine settings.
type Config struct {
	// AccessKey is the Picovoice console access key.
	AccessKey string

	// KeywordPaths are paths to custom .ppn keyword files.
	KeywordPaths []string

	// BuiltInKeywords names bundled keywords such as "porcupine" or
	// "computer". Used when KeywordPaths is empty.
	BuiltInKeywords []string

	// Sensitivities holds one value in [0, 1] per keyword. When empty every
	// keyword uses DefaultSensitivity.
	Sensitivities []float32

	// ModelPath optionally overrides the bundled acoustic model.
	ModelPath string
}

// DefaultSensitivity is applied to keywords without an explicit sensitivity.
const DefaultSensitivity float32 = 0.5

// Engine wraps an initialised Porcupine handle.
type Engine struct {
	mu     sync.Mutex
	handle porcupine.Porcupine
	names  []string
	closed bool
}

// New initialises a Porcupine handle from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.AccessKey == "" {
		return nil, errors.New("porcupine: access key is required")
	}

	var (
		paths []string
		names []string
	)
	for _, p := range cfg.KeywordPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("porcupine: resolve keyword path %q: %w", p, err)
		}
		paths = append(paths, abs)
		names = append(names, keywordName(p))
	}

	var builtins []porcupine.BuiltInKeyword
	if len(paths) == 0 {
		for _, k := range cfg.BuiltInKeywords {
			kw := porcupine.BuiltInKeyword(strings.ToLower(k))
			if !kw.IsValid() {
				return nil, fmt.Errorf("porcupine: unknown built-in keyword %q", k)
			}
			builtins = append(builtins, kw)
			names = append(names, string(kw))
		}
	}
	if len(names) == 0 {
		return nil, errors.New("porcupine: at least one keyword is required")
	}

	sens := cfg.Sensitivities
	switch {
	case len(sens) == 0:
		sens = make([]float32, len(names))
		for i := range sens {
			sens[i] = DefaultSensitivity
		}
	case len(sens) != len(names):
		return nil, fmt.Errorf("porcupine: %d sensitivities for %d keywords", len(sens), len(names))
	}
	for i, s := range sens {
		if s < 0 || s > 1 {
			return nil, fmt.Errorf("porcupine: sensitivity %d out of range [0, 1]: %v", i, s)
		}
	}

	h := porcupine.Porcupine{
		AccessKey:       cfg.AccessKey,
		ModelPath:       cfg.ModelPath,
		KeywordPaths:    paths,
		BuiltInKeywords: builtins,
		Sensitivities:   sens,
	}
	if err := h.Init(); err != nil {
		return nil, fmt.Errorf("porcupine: init: %w", err)
	}
	return &Engine{handle: h, names: names}, nil
}

// BlockSize implements [kws.BlockEngine].
func (e *Engine) BlockSize() int { return porcupine.FrameLength }

// Process implements [kws.BlockEngine].
func (e *Engine) Process(block []int16) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return -1, errors.New("porcupine: engine closed")
	}
	idx, err := e.handle.Process(block)
	if err != nil {
		return -1, fmt.Errorf("porcupine: process: %w", err)
	}
	return idx, nil
}

// Reset implements [kws.Resetter]. Porcupine has no reset call, so the handle
// is deleted and a new one is initialised with the same keywords. If the new
// handle fails to initialise the engine is closed.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("porcupine: engine closed")
	}
	if err := e.handle.Delete(); err != nil {
		e.closed = true
		return fmt.Errorf("porcupine: reset: delete: %w", err)
	}
	h := porcupine.Porcupine{
		AccessKey:       e.handle.AccessKey,
		ModelPath:       e.handle.ModelPath,
		KeywordPaths:    e.handle.KeywordPaths,
		BuiltInKeywords: e.handle.BuiltInKeywords,
		Sensitivities:   e.handle.Sensitivities,
	}
	if err := h.Init(); err != nil {
		e.closed = true
		return fmt.Errorf("porcupine: reset: init: %w", err)
	}
	e.handle = h
	return nil
}

// Keywords implements [kws.BlockEngine].
func (e *Engine) Keywords() []string { return e.names }

// Close implements [kws.BlockEngine].
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.handle.Delete(); err != nil {
		return fmt.Errorf("porcupine: delete: %w", err)
	}
	return nil
}

// keywordName derives a display name from a .ppn path, for example
// "hey-hark_en_linux_v3_0_0.ppn" becomes "hey hark".
func keywordName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if i := strings.Index(base, "_"); i > 0 {
		base = base[:i]
	}
	return strings.ReplaceAll(base, "-", " ")
}

var (
	_ kws.BlockEngine = (*Engine)(nil)
	_ kws.Resetter    = (*Engine)(nil)
)
