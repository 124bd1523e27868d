package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/hark/internal/config"
)

func loadSample(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(loadSample(t), loadSample(t))
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := loadSample(t), loadSample(t)
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone should not require a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_AssistantChanged(t *testing.T) {
	t.Parallel()
	old, new := loadSample(t), loadSample(t)
	new.Assistant.SystemPrompt = "Talk like a pirate."

	d := config.Diff(old, new)
	if !d.AssistantChanged {
		t.Error("expected AssistantChanged=true")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("assistant changes apply live, got %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := loadSample(t), loadSample(t)
	new.Server.ListenAddr = ":9191"
	new.WakeWord.KWS.Keywords = []string{"computer"}
	new.Providers.TTS.Model = "tts-1-hd"

	d := config.Diff(old, new)
	want := []string{"server", "wake_word", "providers"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.LogLevelChanged || d.AssistantChanged {
		t.Errorf("unexpected live changes: %+v", d)
	}
}
