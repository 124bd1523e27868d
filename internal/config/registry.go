package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/kws"
	"github.com/MrWong99/hark/pkg/provider/llm"
	"github.com/MrWong99/hark/pkg/provider/stt"
	"github.com/MrWong99/hark/pkg/provider/tts"
	"github.com/MrWong99/hark/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by the Create methods for a name with
// no factory.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// SourceFactory builds a capture source emitting frames of the given format.
type SourceFactory func(entry ProviderEntry, format audio.Format, queue int) (audio.Source, error)

// KWSFactory builds a keyword verifier from the wake word settings.
type KWSFactory func(cfg KWSConfig) (kws.Verifier, error)

// Factory builds a provider of type T from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is one kind's name to constructor table.
type factories[F any] struct {
	kind string
	mu   sync.RWMutex
	m    map[string]F
}

func newFactories[F any](kind string) *factories[F] {
	return &factories[F]{kind: kind, m: make(map[string]F)}
}

func (f *factories[F]) set(name string, fn F) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[name] = fn
}

func (f *factories[F]) get(name string) (F, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fn, ok := f.m[name]
	if !ok {
		return fn, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, name)
	}
	return fn, nil
}

func (f *factories[F]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.m))
}

// Registry maps provider names to constructors, one table per provider
// kind. Registering a name again replaces the earlier factory. It is safe
// for concurrent use.
type Registry struct {
	source *factories[SourceFactory]
	vad    *factories[Factory[vad.Engine]]
	kws    *factories[KWSFactory]
	stt    *factories[Factory[stt.Transcriber]]
	llm    *factories[Factory[llm.Provider]]
	tts    *factories[Factory[tts.Synthesizer]]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		source: newFactories[SourceFactory]("source"),
		vad:    newFactories[Factory[vad.Engine]]("vad"),
		kws:    newFactories[KWSFactory]("kws"),
		stt:    newFactories[Factory[stt.Transcriber]]("stt"),
		llm:    newFactories[Factory[llm.Provider]]("llm"),
		tts:    newFactories[Factory[tts.Synthesizer]]("tts"),
	}
}

// RegisterSource registers a capture source factory under name.
func (r *Registry) RegisterSource(name string, f SourceFactory) { r.source.set(name, f) }

// RegisterVAD registers a voice activity engine factory under name.
func (r *Registry) RegisterVAD(name string, f Factory[vad.Engine]) { r.vad.set(name, f) }

// RegisterKWS registers a keyword verifier factory under name.
func (r *Registry) RegisterKWS(name string, f KWSFactory) { r.kws.set(name, f) }

// RegisterSTT registers a speech-to-text factory under name.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Transcriber]) { r.stt.set(name, f) }

// RegisterLLM registers a language model factory under name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) { r.llm.set(name, f) }

// RegisterTTS registers a speech synthesis factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Synthesizer]) { r.tts.set(name, f) }

// Names returns the registered names of kind ("source", "vad", "kws",
// "stt", "llm" or "tts"), sorted. Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	switch kind {
	case "source":
		return r.source.names()
	case "vad":
		return r.vad.names()
	case "kws":
		return r.kws.names()
	case "stt":
		return r.stt.names()
	case "llm":
		return r.llm.names()
	case "tts":
		return r.tts.names()
	}
	return nil
}

// CreateSource builds the capture source named by entry.Name.
func (r *Registry) CreateSource(entry ProviderEntry, format audio.Format, queue int) (audio.Source, error) {
	f, err := r.source.get(entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry, format, queue)
}

// CreateKWS builds the keyword verifier named by cfg.Name.
func (r *Registry) CreateKWS(cfg KWSConfig) (kws.Verifier, error) {
	f, err := r.kws.get(cfg.Name)
	if err != nil {
		return nil, err
	}
	return f(cfg)
}

// CreateVAD builds the voice activity engine named by entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) { return build(r.vad, entry) }

// CreateSTT builds the transcriber named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) { return build(r.stt, entry) }

// CreateLLM builds the language model named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) { return build(r.llm, entry) }

// CreateTTS builds the synthesizer named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Synthesizer, error) { return build(r.tts, entry) }

func build[T any](f *factories[Factory[T]], entry ProviderEntry) (T, error) {
	fn, err := f.get(entry.Name)
	if err != nil {
		var zero T
		return zero, err
	}
	return fn(entry)
}
