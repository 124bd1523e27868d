package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format is a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the syntax from the file extension. Anything that is
// not .toml is read as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"source": {"miniaudio", "command", "stdin", "websocket"},
	"vad":    {"webrtc", "energy"},
	"kws":    {"porcupine", "transcript"},
	"stt":    {"openai", "whisper", "whisper-native"},
	"llm":    {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":    {"openai", "elevenlabs"},
}

// Load reads the configuration file at path, resolves environment
// references, applies defaults and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := Decode(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Decode(data, FormatYAML)
}

// Decode parses data in the given format. Both syntaxes are first read into a
// generic tree so that "${NAME}" values can be resolved, then decoded
// strictly into [Config]: unknown keys are errors.
func Decode(data []byte, format Format) (*Config, error) {
	var tree map[string]any
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(string(data), &tree); err != nil {
			return nil, fmt.Errorf("config: decode toml: %w", err)
		}
	case FormatYAML, "":
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: unknown format %q", format)
	}

	resolved, err := yaml.Marshal(ResolveEnv(tree))
	if err != nil {
		return nil, fmt.Errorf("config: re-encode: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(resolved))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveEnv walks v and replaces every string that is exactly "${NAME}" with
// the value of the environment variable NAME. Unset variables resolve to the
// empty string and are logged. Maps and slices are rewritten in place.
func ResolveEnv(v any) any {
	switch t := v.(type) {
	case string:
		name, ok := envRef(t)
		if !ok {
			return t
		}
		val, set := os.LookupEnv(name)
		if !set {
			slog.Warn("config: environment variable not set", "name", name)
		}
		return val
	case map[string]any:
		for k, e := range t {
			t[k] = ResolveEnv(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = ResolveEnv(e)
		}
		return t
	case []map[string]any:
		// BurntSushi/toml decodes arrays of tables this way.
		for i, e := range t {
			t[i] = ResolveEnv(e).(map[string]any)
		}
		return t
	default:
		return v
	}
}

// envRef returns NAME for a string of the form "${NAME}".
func envRef(s string) (string, bool) {
	if len(s) < 4 || !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	return s[2 : len(s)-1], true
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Audio
	a := cfg.Audio
	if a.Source.Name == "" {
		errs = append(errs, errors.New("audio.source.name is required"))
	}
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", a.SampleRate))
	}
	if a.Channels != 1 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; detection requires mono capture", a.Channels))
	}
	switch a.FrameMs {
	case 10, 20, 30:
	default:
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is invalid; valid values: 10, 20, 30", a.FrameMs))
	}
	if a.QueueFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.queue_frames %d must not be negative", a.QueueFrames))
	}

	// Wake word
	w := cfg.WakeWord
	if w.VAD.Name == "" {
		errs = append(errs, errors.New("wake_word.vad.name is required"))
	}
	if s := w.VAD.Sensitivity; s != nil && (*s < 0 || *s > 3) {
		errs = append(errs, fmt.Errorf("wake_word.vad.sensitivity %d is out of range [0, 3]", *s))
	}
	if w.KWS.Name == "" {
		errs = append(errs, errors.New("wake_word.kws.name is required"))
	}
	if len(w.KWS.Keywords) == 0 {
		errs = append(errs, errors.New("wake_word.kws.keywords must list at least one keyword"))
	}
	if n := len(w.KWS.Sensitivities); n > 0 && n != len(w.KWS.Keywords) {
		errs = append(errs, fmt.Errorf("wake_word.kws.sensitivities has %d values for %d keywords", n, len(w.KWS.Keywords)))
	}
	for i, s := range w.KWS.Sensitivities {
		if s < 0 || s > 1 {
			errs = append(errs, fmt.Errorf("wake_word.kws.sensitivities[%d] %.2f is out of range [0, 1]", i, s))
		}
	}
	switch w.KWS.Remainder {
	case "", "pad", "drop":
	default:
		errs = append(errs, fmt.Errorf("wake_word.kws.remainder %q is invalid; valid values: pad, drop", w.KWS.Remainder))
	}
	if w.PadMs <= 0 || w.MinSpeechMs <= 0 || w.BufferFrames <= 0 {
		errs = append(errs, errors.New("wake_word.pad_ms, min_speech_ms and buffer_frames must be positive"))
	}

	// Command
	c := cfg.Command
	if c.PadMs <= 0 || c.MinSpeechMs <= 0 || c.MaxMs <= 0 || c.NoSpeechMs <= 0 {
		errs = append(errs, errors.New("command.pad_ms, min_speech_ms, max_ms and no_speech_ms must be positive"))
	}
	if c.MaxMs > 0 && c.MaxMs < c.MinSpeechMs+c.PadMs {
		errs = append(errs, fmt.Errorf("command.max_ms %d is shorter than min_speech_ms + pad_ms", c.MaxMs))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("source", a.Source.Name)
	validateProviderName("vad", w.VAD.Name)
	validateProviderName("kws", w.KWS.Name)
	for kind, e := range map[string]ProviderEntry{"stt": cfg.Providers.STT, "llm": cfg.Providers.LLM, "tts": cfg.Providers.TTS} {
		validateProviderName(kind, e.Name)
		for i, fb := range e.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			}
			validateProviderName(kind, fb.Name)
		}
	}

	// Provider availability
	if cfg.Providers.STT.Name == "" || cfg.Providers.LLM.Name == "" {
		slog.Warn("config: stt or llm provider not configured; wakes will only be logged")
	}
	if w.KWS.Name == "transcript" && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("wake_word.kws: the transcript verifier requires providers.stt"))
	}

	// Assistant
	if cfg.Assistant.MaxToolRounds < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_tool_rounds %d must not be negative", cfg.Assistant.MaxToolRounds))
	}
	if cfg.Assistant.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("assistant.history_turns %d must not be negative", cfg.Assistant.HistoryTurns))
	}
	if t := cfg.Assistant.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("assistant.temperature %.2f is out of range [0, 2]", t))
	}

	// MCP servers
	seen := make(map[string]int, len(cfg.Tools.MCP))
	for i, srv := range cfg.Tools.MCP {
		prefix := fmt.Sprintf("tools.mcp[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools.mcp[%d]", prefix, srv.Name, prev))
			}
			seen[srv.Name] = i
		}
		if !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
