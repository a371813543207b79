package app_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/speakdrill/speakdrill/internal/app"
	"github.com/speakdrill/speakdrill/internal/config"
	"github.com/speakdrill/speakdrill/internal/session"
	"github.com/speakdrill/speakdrill/pkg/audio"
	audiomock "github.com/speakdrill/speakdrill/pkg/audio/mock"
	historymock "github.com/speakdrill/speakdrill/pkg/history/mock"
	embmock "github.com/speakdrill/speakdrill/pkg/provider/embeddings/mock"
	"github.com/speakdrill/speakdrill/pkg/provider/live"
	livemock "github.com/speakdrill/speakdrill/pkg/provider/live/mock"
	"github.com/speakdrill/speakdrill/pkg/provider/llm"
	llmmock "github.com/speakdrill/speakdrill/pkg/provider/llm/mock"
)

func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func testProviders() *app.Providers {
	return &app.Providers{
		Live:       &dialPerCallProvider{},
		Standard:   &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: "{}"}}},
		Embeddings: &embmock.Provider{EmbedResult: []float32{0.1, 0.2}},
	}
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, providers,
		app.WithHistoryStore(historymock.NewStore()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Shutdown(context.Background()) })
	return a
}

func startParams(userID, sessionID string) app.StartParams {
	return app.StartParams{
		UserID:    userID,
		SessionID: sessionID,
		Source:    audiomock.NewSource(audio.WireInputFormat, 320),
		Sink:      audiomock.NewSink(audio.WireOutputFormat),
	}
}

func TestNew_WiresSubsystems(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(t, ""), testProviders())

	if a.Scorer() == nil {
		t.Error("Scorer() = nil, want a configured orchestrator")
	}
	if a.Sessions() == nil {
		t.Error("Sessions() = nil, want a session manager")
	}

	// The built-in capabilities need both a store and embeddings, which
	// this rig provides.
	var names []string
	for _, def := range a.Dispatcher().Definitions() {
		names = append(names, def.Name)
	}
	found := false
	for _, n := range names {
		if n == "fetch_user_statistics" {
			found = true
		}
	}
	if !found {
		t.Errorf("dispatcher definitions = %v, want fetch_user_statistics registered", names)
	}
}

func TestNew_NoScoringModel(t *testing.T) {
	t.Parallel()
	providers := testProviders()
	providers.Standard = nil

	a := newApp(t, testConfig(t, ""), providers)
	if a.Scorer() != nil {
		t.Error("Scorer() should be nil without a scoring model")
	}
}

func TestNew_MissingRubricFile(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, "scoring:\n  rubric_file: /nonexistent/rubrics.yaml\n")

	_, err := app.New(context.Background(), cfg, testProviders(),
		app.WithHistoryStore(historymock.NewStore()),
	)
	if err == nil {
		t.Fatal("expected error for missing rubric file, got nil")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(t, ""), testProviders())

	for range 3 {
		if err := a.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	}
}

// ─── Session manager ─────────────────────────────────────────────────────────

func TestSessionManager_StartAndStop(t *testing.T) {
	t.Parallel()
	sm := newApp(t, testConfig(t, ""), testProviders()).Sessions()

	conn, err := sm.Start(context.Background(), startParams("learner-1", "sess-1"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := conn.State(); got != session.StateActive {
		t.Fatalf("State() = %v, want active", got)
	}

	if _, ok := sm.Get("learner-1", "sess-1"); !ok {
		t.Error("Get should find the active session")
	}

	infos := sm.List()
	if len(infos) != 1 || infos[0].UserID != "learner-1" || infos[0].SessionID != "sess-1" {
		t.Errorf("List() = %+v, want one entry for learner-1/sess-1", infos)
	}

	if err := sm.Stop("learner-1", "sess-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := sm.Get("learner-1", "sess-1"); ok {
		t.Error("Get should not find a stopped session")
	}
	if got := conn.State(); got != session.StateClosed {
		t.Errorf("State() after Stop = %v, want closed", got)
	}
}

func TestSessionManager_DuplicateKeyRejected(t *testing.T) {
	t.Parallel()
	sm := newApp(t, testConfig(t, ""), testProviders()).Sessions()

	if _, err := sm.Start(context.Background(), startParams("learner-1", "sess-1")); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := sm.Start(context.Background(), startParams("learner-1", "sess-1")); err == nil {
		t.Fatal("second Start with the same key should fail")
	}
}

func TestSessionManager_ConcurrentLearners(t *testing.T) {
	t.Parallel()
	sm := newApp(t, testConfig(t, ""), testProviders()).Sessions()

	if _, err := sm.Start(context.Background(), startParams("learner-1", "sess-1")); err != nil {
		t.Fatalf("Start learner-1: %v", err)
	}
	if _, err := sm.Start(context.Background(), startParams("learner-2", "sess-1")); err != nil {
		t.Fatalf("Start learner-2: %v", err)
	}
	if got := len(sm.List()); got != 2 {
		t.Errorf("List() length = %d, want 2", got)
	}
}

func TestSessionManager_StopAll(t *testing.T) {
	t.Parallel()
	sm := newApp(t, testConfig(t, ""), testProviders()).Sessions()

	conns := make([]*session.Connection, 0, 2)
	for _, user := range []string{"learner-1", "learner-2"} {
		conn, err := sm.Start(context.Background(), startParams(user, "sess-1"))
		if err != nil {
			t.Fatalf("Start %s: %v", user, err)
		}
		conns = append(conns, conn)
	}

	sm.StopAll()

	if got := len(sm.List()); got != 0 {
		t.Errorf("List() length after StopAll = %d, want 0", got)
	}
	for i, conn := range conns {
		if got := conn.State(); got != session.StateClosed {
			t.Errorf("conn[%d].State() = %v, want closed", i, got)
		}
	}
}

func TestSessionManager_NoLiveProvider(t *testing.T) {
	t.Parallel()
	providers := testProviders()
	providers.Live = nil

	sm := newApp(t, testConfig(t, ""), providers).Sessions()
	if _, err := sm.Start(context.Background(), startParams("learner-1", "sess-1")); err == nil {
		t.Fatal("Start without a live provider should fail")
	}
}

func TestSessionManager_PrunesEndedSessions(t *testing.T) {
	t.Parallel()
	provider := &dialPerCallProvider{}
	providers := testProviders()
	providers.Live = provider

	sm := newApp(t, testConfig(t, ""), providers).Sessions()

	if _, err := sm.Start(context.Background(), startParams("learner-1", "sess-1")); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Peer-side close moves the connection to a terminal state without the
	// manager being told.
	provider.last.End()
	waitFor(t, func() bool {
		conn, ok := sm.Get("learner-1", "sess-1")
		return ok && conn.State() == session.StateClosed
	})

	// The next Start prunes the dead entry, so the same key is reusable.
	if _, err := sm.Start(context.Background(), startParams("learner-1", "sess-1")); err != nil {
		t.Fatalf("restart after peer close: %v", err)
	}
}

// dialPerCallProvider hands out a fresh ready session for every Connect, so
// several connections can coexist. last is the most recently dialled session.
type dialPerCallProvider struct {
	mu   sync.Mutex
	last *livemock.Session

	ConnectCalls int
}

func (p *dialPerCallProvider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	sess := livemock.NewSession()
	sess.MarkReady()
	p.mu.Lock()
	p.last = sess
	p.ConnectCalls++
	p.mu.Unlock()
	return sess, nil
}

func (p *dialPerCallProvider) Capabilities() live.Capabilities {
	return live.Capabilities{}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
