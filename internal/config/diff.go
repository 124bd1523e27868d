package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged  bool
	NewLogLevel      LogLevel
	AssistantChanged bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AssistantChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed. Only
// server.log_level and the assistant section can be applied live.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.AssistantChanged = !reflect.DeepEqual(old.Assistant, new.Assistant)

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"audio", old.Audio, new.Audio},
		{"wake_word", old.WakeWord, new.WakeWord},
		{"command", old.Command, new.Command},
		{"providers", old.Providers, new.Providers},
		{"tools", old.Tools, new.Tools},
		{"journal", old.Journal, new.Journal},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
