// Package app wires all SpeakDrill subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, and Shutdown tears everything down in reverse-init order.
//
// For testing, inject mock implementations via functional options
// (WithHistoryStore, WithBootstrapper, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/speakdrill/speakdrill/internal/config"
	"github.com/speakdrill/speakdrill/internal/observe"
	"github.com/speakdrill/speakdrill/internal/resilience"
	"github.com/speakdrill/speakdrill/internal/scoring"
	"github.com/speakdrill/speakdrill/internal/session"
	"github.com/speakdrill/speakdrill/internal/tools"
	"github.com/speakdrill/speakdrill/pkg/history"
	"github.com/speakdrill/speakdrill/pkg/history/postgres"
	"github.com/speakdrill/speakdrill/pkg/provider/embeddings"
	"github.com/speakdrill/speakdrill/pkg/provider/live"
	"github.com/speakdrill/speakdrill/pkg/provider/llm"
	"github.com/speakdrill/speakdrill/pkg/provider/transcribe"
	"github.com/speakdrill/speakdrill/pkg/provider/transcribe/whisper"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Live        live.Provider
	Standard    llm.Provider
	Advanced    llm.Provider
	Embeddings  embeddings.Provider
	Transcriber transcribe.Transcriber
}

// NewProviders constructs every configured provider through the registry.
func NewProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	p := &Providers{}
	var err error

	if p.Live, err = reg.CreateLive(cfg.Providers.Live); err != nil {
		return nil, fmt.Errorf("app: create live provider: %w", err)
	}
	if p.Standard, err = reg.CreateLLM(cfg.Providers.LLM); err != nil {
		return nil, fmt.Errorf("app: create llm provider: %w", err)
	}
	if p.Advanced, err = reg.CreateLLM(cfg.Providers.AdvancedLLM); err != nil {
		return nil, fmt.Errorf("app: create advanced llm provider: %w", err)
	}
	if p.Embeddings, err = reg.CreateEmbeddings(cfg.Providers.Embeddings); err != nil {
		return nil, fmt.Errorf("app: create embeddings provider: %w", err)
	}
	if p.Transcriber, err = reg.CreateTranscriber(cfg.Providers.Transcription); err != nil {
		return nil, fmt.Errorf("app: create transcriber: %w", err)
	}

	return p, nil
}

// App owns all subsystem lifetimes for the SpeakDrill server.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics    *observe.Metrics
	store      history.Store
	dispatcher *tools.Dispatcher
	scorer     *scoring.Orchestrator
	sessions   *SessionManager

	// Injected collaborators.
	bootstrap session.Bootstrapper
	fetcher   scoring.AudioFetcher
	items     tools.ItemSearcher
	goals     tools.GoalTracker

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles
// or platform collaborators.
type Option func(*App)

// WithHistoryStore injects a history store instead of connecting to Postgres.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithBootstrapper injects the platform's session credential minter. When
// absent, sessions run on the live provider's construction-time API key.
func WithBootstrapper(b session.Bootstrapper) Option {
	return func(a *App) { a.bootstrap = b }
}

// WithAudioFetcher injects the resolver that turns submission audio
// references into raw bytes. When absent, an HTTP fetcher is used.
func WithAudioFetcher(f scoring.AudioFetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithItemSearcher injects the question-bank search collaborator, enabling
// the search_practice_items capability.
func WithItemSearcher(s tools.ItemSearcher) Option {
	return func(a *App) { a.items = s }
}

// WithGoalTracker injects the learner goals collaborator, enabling the
// update_goals capability.
func WithGoalTracker(g tools.GoalTracker) Option {
	return func(a *App) { a.goals = g }
}

// WithMetrics injects a metrics bundle instead of creating one from the
// global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: history store connection,
// MCP server registration, scoring pipeline assembly, and session manager
// construction.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Metrics ───────────────────────────────────────────────────────
	if a.metrics == nil {
		m, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("app: init metrics: %w", err)
		}
		a.metrics = m
	}

	// ── 2. History store ─────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 3. Tool dispatcher ───────────────────────────────────────────────
	if err := a.initDispatcher(ctx); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// ── 4. Scoring pipeline ──────────────────────────────────────────────
	if err := a.initScoring(); err != nil {
		return nil, fmt.Errorf("app: init scoring: %w", err)
	}

	// ── 5. Session manager ───────────────────────────────────────────────
	a.initSessions()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHistory connects the PostgreSQL history store unless one was injected.
// An empty DSN leaves the store nil; sessions and scoring then run without
// persistence.
func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.History.PostgresDSN
	if dsn == "" {
		slog.Warn("no history store configured; transcripts and reports will not be persisted")
		return nil
	}

	store, err := postgres.NewStore(ctx, dsn, a.cfg.History.EmbeddingDimensions)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initDispatcher builds the shared tool dispatcher, registers the built-in
// capabilities, and connects every configured MCP server.
func (a *App) initDispatcher(ctx context.Context) error {
	a.dispatcher = tools.NewDispatcher(
		tools.WithMaxConcurrent(a.cfg.Tools.Concurrency),
		tools.WithMetrics(a.metrics),
	)

	if a.store != nil && a.providers.Embeddings != nil {
		tools.RegisterBuiltins(a.dispatcher, tools.BuiltinDeps{
			Store:      a.store,
			Embeddings: a.providers.Embeddings,
			Items:      a.items,
			Goals:      a.goals,
		})
	} else {
		slog.Warn("built-in capabilities disabled; they need both a history store and an embeddings provider")
	}

	for _, srv := range a.cfg.Tools.MCP {
		if err := a.dispatcher.RegisterMCPServer(ctx, srv.Runtime()); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name)
	}

	a.closers = append(a.closers, a.dispatcher.Close)
	return nil
}

// initScoring assembles the scoring orchestrator, wrapping the verdict and
// transcription backends in circuit-breaking fallbacks where the config
// provides an alternative.
func (a *App) initScoring() error {
	if a.providers.Standard == nil {
		slog.Warn("no scoring model configured; submission scoring disabled")
		return nil
	}

	standard := a.providers.Standard
	advanced := a.providers.Advanced
	if advanced != nil {
		// Advanced-tier grading falls back to the standard model when the
		// advanced backend is failing.
		vf := resilience.NewVerdictFallback(advanced, a.cfg.Providers.AdvancedLLM.Name, resilience.FallbackConfig{})
		vf.AddFallback(a.cfg.Providers.LLM.Name, standard)
		advanced = vf
	}

	transcriber := a.providers.Transcriber
	if transcriber != nil {
		transcriber = a.wrapTranscriber(transcriber)
	}

	rubrics, err := a.loadRubrics()
	if err != nil {
		return err
	}

	fetcher := a.fetcher
	if fetcher == nil {
		fetcher = scoring.NewHTTPFetcher(nil)
	}

	scorer, err := scoring.NewOrchestrator(scoring.Config{
		Standard:    standard,
		Advanced:    advanced,
		Transcriber: transcriber,
		Fetcher:     fetcher,
		Dispatcher:  a.dispatcher,
		Store:       a.store,
		Embeddings:  a.providers.Embeddings,
		Rubrics:     rubrics,
		Tiers:       scoring.NewTierRouter(tierOverrides(a.cfg.Scoring.TierOverrides)),
	},
		scoring.WithMaxSteps(a.cfg.Scoring.MaxSteps),
		scoring.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.scorer = scorer
	return nil
}

// wrapTranscriber adds a local whisper.cpp fallback behind the configured
// primary backend when the config names a jobapi endpoint and a whisper
// model file at the same time.
func (a *App) wrapTranscriber(primary transcribe.Transcriber) transcribe.Transcriber {
	tc := a.cfg.Providers.Transcription
	if tc.Name != "jobapi" || tc.ModelPath == "" {
		return primary
	}

	local, err := whisper.New(tc.ModelPath)
	if err != nil {
		slog.Warn("whisper fallback unavailable", "model_path", tc.ModelPath, "err", err)
		return primary
	}

	tf := resilience.NewTranscriberFallback(primary, tc.Name, resilience.FallbackConfig{})
	tf.AddFallback("whisper", local)
	a.closers = append(a.closers, local.Close)
	return tf
}

// loadRubrics reads the rubric file named in the config, or falls back to
// the built-in generic rubric.
func (a *App) loadRubrics() (*scoring.RubricSet, error) {
	if a.cfg.Scoring.RubricFile == "" {
		return scoring.DefaultRubricSet(), nil
	}
	rs, err := scoring.LoadRubricSet(a.cfg.Scoring.RubricFile)
	if err != nil {
		return nil, fmt.Errorf("load rubric file: %w", err)
	}
	slog.Info("loaded rubric file", "path", a.cfg.Scoring.RubricFile)
	return rs, nil
}

// initSessions builds the session manager. Without an injected bootstrapper
// every session runs on the live provider's construction-time credentials.
func (a *App) initSessions() {
	boot := a.bootstrap
	if boot == nil {
		boot = staticBootstrapper{cfg: a.cfg.Session}
	}

	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:     a.cfg,
		Provider:   a.providers.Live,
		Bootstrap:  boot,
		Dispatcher: a.dispatcher,
		Store:      a.store,
		Metrics:    a.metrics,
	})
	a.closers = append(a.closers, func() error {
		a.sessions.StopAll()
		return nil
	})
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Scorer returns the scoring orchestrator, or nil when no scoring model is
// configured.
func (a *App) Scorer() *scoring.Orchestrator { return a.scorer }

// Sessions returns the realtime session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Dispatcher returns the shared tool dispatcher.
func (a *App) Dispatcher() *tools.Dispatcher { return a.dispatcher }

// Metrics returns the metrics bundle backing all subsystems.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// staticBootstrapper mints credentials straight from the config file. The
// empty Token makes per-session-auth providers fall back to their
// construction-time API key.
type staticBootstrapper struct {
	cfg config.SessionConfig
}

func (b staticBootstrapper) Bootstrap(ctx context.Context, userID, sessionID string) (session.Credential, error) {
	return session.Credential{
		Model:        b.cfg.Model,
		Voice:        b.cfg.Voice,
		Instructions: b.cfg.Instructions,
		ExpiresAt:    time.Now().Add(30 * time.Minute),
	}, nil
}

// tierOverrides converts config tier strings into scoring tiers. Values were
// validated at load time.
func tierOverrides(m map[string]string) map[string]scoring.Tier {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]scoring.Tier, len(m))
	for qt, tier := range m {
		out[qt] = scoring.Tier(tier)
	}
	return out
}
