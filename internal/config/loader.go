package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/speakdrill/speakdrill/internal/tools"
	"github.com/speakdrill/speakdrill/pkg/provider/transcribe"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":          {"gemini-live"},
	"llm":           {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings":    {"openai"},
	"transcription": {"jobapi", "whisper"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in zero-valued fields that have a sensible default.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.Live.Name == "" {
		cfg.Providers.Live.Name = "gemini-live"
	}
	if cfg.History.EmbeddingDimensions == 0 {
		cfg.History.EmbeddingDimensions = 1536
	}
	if cfg.Session.ReadyTimeout == 0 {
		cfg.Session.ReadyTimeout = Duration(10 * time.Second)
	}
	if cfg.Session.EventBuffer == 0 {
		cfg.Session.EventBuffer = 16
	}
	if cfg.Scoring.MaxSteps == 0 {
		cfg.Scoring.MaxSteps = 6
	}
	if cfg.Tools.Concurrency == 0 {
		cfg.Tools.Concurrency = 4
	}
	if cfg.Providers.Transcription.PollInterval == 0 {
		cfg.Providers.Transcription.PollInterval = Duration(transcribe.DefaultPollInterval)
	}
	if cfg.Providers.Transcription.PollDeadline == 0 {
		cfg.Providers.Transcription.PollDeadline = Duration(transcribe.DefaultPollDeadline)
	}
}

// Validate checks that cfg contains a coherent set of values. Hard problems
// are returned as a joined error listing every failure found; soft problems
// only produce slog warnings.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation. Unknown names only warn, since the name may
	// be a typo or a provider this build does not know about.
	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.AdvancedLLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("transcription", cfg.Providers.Transcription.Name)

	if cfg.Providers.Live.APIKey == "" {
		slog.Warn("providers.live.api_key is empty; live sessions will only work with per-session bootstrap tokens")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; submission scoring will be unavailable")
	}

	// Transcription backend requirements.
	switch cfg.Providers.Transcription.Name {
	case "jobapi":
		if cfg.Providers.Transcription.Endpoint == "" {
			errs = append(errs, errors.New("providers.transcription.endpoint is required when name is jobapi"))
		}
	case "whisper":
		if cfg.Providers.Transcription.ModelPath == "" {
			errs = append(errs, errors.New("providers.transcription.model_path is required when name is whisper"))
		}
	}

	// History and embeddings.
	if cfg.History.PostgresDSN == "" {
		slog.Warn("history.postgres_dsn is empty; transcripts and reports will not be persisted")
	}
	if cfg.History.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("history.embedding_dimensions %d must be positive", cfg.History.EmbeddingDimensions))
	}

	// Session
	if cfg.Session.ReadyTimeout < 0 {
		errs = append(errs, errors.New("session.ready_timeout must not be negative"))
	}
	if cfg.Session.EventBuffer < 0 {
		errs = append(errs, errors.New("session.event_buffer must not be negative"))
	}

	// Scoring
	if cfg.Scoring.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("scoring.max_steps %d must be at least 1", cfg.Scoring.MaxSteps))
	}
	for qt, tier := range cfg.Scoring.TierOverrides {
		if tier != "standard" && tier != "advanced" {
			errs = append(errs, fmt.Errorf("scoring.tier_overrides[%q] %q is invalid; valid values: standard, advanced", qt, tier))
		}
	}

	// Tools
	if cfg.Tools.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("tools.concurrency %d must be at least 1", cfg.Tools.Concurrency))
	}
	mcpNamesSeen := make(map[string]int, len(cfg.Tools.MCP))
	for i, srv := range cfg.Tools.MCP {
		prefix := fmt.Sprintf("tools.mcp[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := mcpNamesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools.mcp[%d]", prefix, srv.Name, prev))
			}
			mcpNamesSeen[srv.Name] = i
		}
		switch srv.Transport {
		case tools.MCPTransportStdio:
			if srv.Command == "" {
				errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
			}
		case tools.MCPTransportStreamableHTTP:
			if srv.URL == "" {
				errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
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
