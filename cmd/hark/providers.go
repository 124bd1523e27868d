package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/resilience"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/audio/miniaudio"
	"github.com/MrWong99/hark/pkg/audio/wsstream"
	"github.com/MrWong99/hark/pkg/provider/kws"
	"github.com/MrWong99/hark/pkg/provider/kws/porcupine"
	"github.com/MrWong99/hark/pkg/provider/kws/transcript"
	"github.com/MrWong99/hark/pkg/provider/llm"
	"github.com/MrWong99/hark/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/hark/pkg/provider/llm/openai"
	"github.com/MrWong99/hark/pkg/provider/stt"
	sttopenai "github.com/MrWong99/hark/pkg/provider/stt/openai"
	"github.com/MrWong99/hark/pkg/provider/stt/whisper"
	"github.com/MrWong99/hark/pkg/provider/tts"
	"github.com/MrWong99/hark/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/MrWong99/hark/pkg/provider/tts/openai"
	"github.com/MrWong99/hark/pkg/provider/vad"
	"github.com/MrWong99/hark/pkg/provider/vad/energy"
	"github.com/MrWong99/hark/pkg/provider/vad/webrtc"
)

// defaultWSPath is where the websocket source is mounted unless the
// "path" option says otherwise.
const defaultWSPath = "/audio"

// deps carries what factories need beyond their config entry.
type deps struct {
	// mux receives the websocket source handler.
	mux *http.ServeMux

	// stt is the built transcriber, used by the transcript verifier.
	stt stt.Transcriber
}

// registerBuiltinProviders wires all built-in factories into reg.
func registerBuiltinProviders(reg *config.Registry, d *deps) {
	// ── Capture sources ───────────────────────────────────────────────────────

	reg.RegisterSource("miniaudio", func(e config.ProviderEntry, f audio.Format, queue int) (audio.Source, error) {
		return miniaudio.New(f,
			miniaudio.WithDevice(optString(e.Options, "device")),
			miniaudio.WithQueueFrames(queue))
	})

	reg.RegisterSource("command", func(e config.ProviderEntry, f audio.Format, queue int) (audio.Source, error) {
		argv := strings.Fields(optString(e.Options, "command"))
		if len(argv) == 0 {
			var err error
			if argv, err = audio.RecorderCommand(f, optString(e.Options, "device")); err != nil {
				return nil, err
			}
		}
		return audio.NewCommandSource(argv, f, audio.WithQueueFrames(queue))
	})

	reg.RegisterSource("stdin", func(_ config.ProviderEntry, f audio.Format, queue int) (audio.Source, error) {
		return audio.NewReaderSource(os.Stdin, f, audio.WithQueueFrames(queue))
	})

	reg.RegisterSource("websocket", func(e config.ProviderEntry, f audio.Format, queue int) (audio.Source, error) {
		src, err := wsstream.New(f, queue)
		if err != nil {
			return nil, err
		}
		path := optString(e.Options, "path")
		if path == "" {
			path = defaultWSPath
		}
		d.mux.Handle(path, src)
		slog.Info("websocket capture endpoint mounted", "path", path)
		return src, nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("webrtc", func(config.ProviderEntry) (vad.Engine, error) {
		return webrtc.New(), nil
	})
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ── Keyword verification ─────────────────────────────────────────────────

	reg.RegisterKWS("porcupine", func(c config.KWSConfig) (kws.Verifier, error) {
		pc := porcupine.Config{
			AccessKey: c.APIKey,
			ModelPath: c.Model,
		}
		for _, k := range c.Keywords {
			if strings.HasSuffix(strings.ToLower(k), ".ppn") {
				pc.KeywordPaths = append(pc.KeywordPaths, k)
			} else {
				pc.BuiltInKeywords = append(pc.BuiltInKeywords, k)
			}
		}
		for _, s := range c.Sensitivities {
			pc.Sensitivities = append(pc.Sensitivities, float32(s))
		}
		engine, err := porcupine.New(pc)
		if err != nil {
			return nil, err
		}
		var opts []kws.BlockOption
		if c.Remainder != "" {
			p, err := kws.ParseRemainderPolicy(c.Remainder)
			if err != nil {
				_ = engine.Close()
				return nil, err
			}
			opts = append(opts, kws.WithRemainderPolicy(p))
		}
		v, err := kws.NewBlockVerifier(engine, opts...)
		if err != nil {
			_ = engine.Close()
			return nil, err
		}
		return v, nil
	})

	reg.RegisterKWS("transcript", func(c config.KWSConfig) (kws.Verifier, error) {
		if d.stt == nil {
			return nil, errors.New("transcript verifier requires an stt provider")
		}
		var opts []transcript.Option
		if v, ok := optFloat(c.Options, "phonetic_threshold"); ok {
			opts = append(opts, transcript.WithPhoneticThreshold(v))
		}
		if v, ok := optFloat(c.Options, "fuzzy_threshold"); ok {
			opts = append(opts, transcript.WithFuzzyThreshold(v))
		}
		if lang := optString(c.Options, "language"); lang != "" {
			opts = append(opts, transcript.WithSTTConfig(stt.Config{Language: lang}))
		}
		return transcript.New(d.stt, c.Keywords, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(e config.ProviderEntry) (stt.Transcriber, error) {
		var opts []sttopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(e.BaseURL))
		}
		if e.Model != "" {
			opts = append(opts, sttopenai.WithModel(e.Model))
		}
		if lang := optString(e.Options, "language"); lang != "" {
			opts = append(opts, sttopenai.WithLanguage(lang))
		}
		if timeout, ok := optDuration(e.Options, "timeout"); ok {
			opts = append(opts, sttopenai.WithTimeout(timeout))
		}
		return sttopenai.New(e.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if lang := optString(e.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(e.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(e config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := e.Model
		if modelPath == "" {
			modelPath = optString(e.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(e.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(e.BaseURL))
		}
		if org := optString(e.Options, "organization"); org != "" {
			opts = append(opts, llmopenai.WithOrganization(org))
		}
		if timeout, ok := optDuration(e.Options, "timeout"); ok {
			opts = append(opts, llmopenai.WithTimeout(timeout))
		}
		return llmopenai.New(e.APIKey, e.Model, opts...)
	})

	// The remaining backends share one pattern: optional APIKey and BaseURL.
	for _, backend := range anyllm.Backends() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(backend, e.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(e config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []ttsopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(e.BaseURL))
		}
		if e.Model != "" {
			opts = append(opts, ttsopenai.WithModel(e.Model))
		}
		if voice := optString(e.Options, "voice"); voice != "" {
			opts = append(opts, ttsopenai.WithVoice(voice))
		}
		if f := optString(e.Options, "format"); f != "" {
			c, err := tts.ParseContainer(f)
			if err != nil {
				return nil, err
			}
			opts = append(opts, ttsopenai.WithFormat(c))
		}
		if speed, ok := optFloat(e.Options, "speed"); ok {
			opts = append(opts, ttsopenai.WithSpeed(speed))
		}
		return ttsopenai.New(e.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(e.BaseURL))
		}
		if f := optString(e.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		return elevenlabs.New(e.APIKey, optString(e.Options, "voice_id"), opts...)
	})
}

// chainConfig is shared by every provider chain.
func chainConfig() resilience.ChainConfig {
	return resilience.ChainConfig{
		Breaker: resilience.BreakerConfig{
			Threshold: 3,
			Cooldown:  30 * time.Second,
		},
		Metrics: observe.DefaultMetrics(),
	}
}

// addChain creates e and each of its fallbacks, in order, and adds them with
// add.
func addChain[T any](e config.ProviderEntry, create func(config.ProviderEntry) (T, error), add func(string, T)) error {
	for i, entry := range append([]config.ProviderEntry{e}, e.Fallbacks...) {
		p, err := create(entry)
		if err != nil {
			role := "provider"
			if i > 0 {
				role = "fallback"
			}
			return fmt.Errorf("create %s %q: %w", role, entry.Name, err)
		}
		add(entry.Name, p)
	}
	return nil
}

// buildSTT creates the configured transcriber chain. It returns nil when no
// stt provider is configured.
func buildSTT(reg *config.Registry, e config.ProviderEntry) (stt.Transcriber, error) {
	if e.Name == "" {
		return nil, nil
	}
	s := resilience.NewSTT(chainConfig())
	if err := addChain(e, reg.CreateSTT, s.Add); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("stt: %w", err)
	}
	return s, nil
}

// buildLLM creates the configured LLM chain.
func buildLLM(reg *config.Registry, e config.ProviderEntry) (llm.Provider, error) {
	if e.Name == "" {
		return nil, nil
	}
	l := resilience.NewLLM(chainConfig())
	if err := addChain(e, reg.CreateLLM, l.Add); err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	return l, nil
}

// buildTTS creates the configured synthesizer chain.
func buildTTS(reg *config.Registry, e config.ProviderEntry) (tts.Synthesizer, error) {
	if e.Name == "" {
		return nil, nil
	}
	t := resilience.NewTTS(chainConfig())
	if err := addChain(e, reg.CreateTTS, t.Add); err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	return t, nil
}

// ── Option helpers ────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a number from a provider Options map. YAML and TOML
// decode integers and floats to different types, so both are accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// optDuration parses a Go duration string such as "10s" from a provider
// Options map.
func optDuration(opts map[string]any, key string) (time.Duration, bool) {
	s := optString(opts, key)
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "key", key, "value", s, "err", err)
		return 0, false
	}
	return d, true
}
