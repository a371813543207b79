package config

import "maps"

// ConfigDiff describes what changed between two configs, split into changes
// that can be applied to a running server and changes that need a restart.
type ConfigDiff struct {
	// LogLevelChanged and NewLogLevel track log verbosity, which is applied
	// live.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ScoringChanged is true when the rubric file, step budget, or tier
	// overrides changed. New scoring runs pick these up; in-flight runs
	// finish on the old settings.
	ScoringChanged bool

	// SessionDefaultsChanged is true when the live session defaults (model,
	// voice, instructions, ready timeout) changed. Applies to sessions
	// started after the reload.
	SessionDefaultsChanged bool

	// RestartRequired is true when provider credentials, the history store,
	// tool servers, or the listen address changed. These are wired at
	// startup and cannot be swapped under active sessions.
	RestartRequired bool
}

// Changed reports whether the diff contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ScoringChanged || d.SessionDefaultsChanged || d.RestartRequired
}

// Diff compares old and new configs and classifies what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Scoring.RubricFile != new.Scoring.RubricFile ||
		old.Scoring.MaxSteps != new.Scoring.MaxSteps ||
		!maps.Equal(old.Scoring.TierOverrides, new.Scoring.TierOverrides) {
		d.ScoringChanged = true
	}

	if old.Session != new.Session {
		d.SessionDefaultsChanged = true
	}

	if old.Providers.Live != new.Providers.Live ||
		old.Providers.LLM != new.Providers.LLM ||
		old.Providers.AdvancedLLM != new.Providers.AdvancedLLM ||
		old.Providers.Embeddings != new.Providers.Embeddings ||
		old.Providers.Transcription != new.Providers.Transcription ||
		old.History != new.History ||
		old.Server.ListenAddr != new.Server.ListenAddr ||
		!toolsEqual(old.Tools, new.Tools) {
		d.RestartRequired = true
	}

	return d
}

func toolsEqual(a, b ToolsConfig) bool {
	if a.Concurrency != b.Concurrency || len(a.MCP) != len(b.MCP) {
		return false
	}
	for i := range a.MCP {
		if a.MCP[i].Name != b.MCP[i].Name ||
			a.MCP[i].Transport != b.MCP[i].Transport ||
			a.MCP[i].Command != b.MCP[i].Command ||
			a.MCP[i].URL != b.MCP[i].URL ||
			!maps.Equal(a.MCP[i].Env, b.MCP[i].Env) {
			return false
		}
	}
	return true
}
