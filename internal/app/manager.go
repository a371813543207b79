package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/speakdrill/speakdrill/internal/config"
	"github.com/speakdrill/speakdrill/internal/observe"
	"github.com/speakdrill/speakdrill/internal/session"
	"github.com/speakdrill/speakdrill/internal/tools"
	"github.com/speakdrill/speakdrill/pkg/audio"
	"github.com/speakdrill/speakdrill/pkg/history"
	"github.com/speakdrill/speakdrill/pkg/provider/live"
)

// SessionInfo holds metadata about an active practice session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// UserID is the learner the session belongs to.
	UserID string

	// State is the connection state at the time of the snapshot.
	State session.State

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// managedSession pairs a connection with the start metadata the manager
// tracks for it.
type managedSession struct {
	conn      *session.Connection
	userID    string
	sessionID string
	startedAt time.Time
}

// SessionManager owns the set of active realtime practice sessions, keyed by
// learner and session id. Unlike a single-session voice deployment, many
// learners practise concurrently, so Start only rejects a duplicate of the
// same key. All exported methods are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	active map[string]*managedSession

	// Dependencies injected at construction.
	cfg        *config.Config
	provider   live.Provider
	bootstrap  session.Bootstrapper
	dispatcher *tools.Dispatcher
	store      history.Store
	metrics    *observe.Metrics
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config     *config.Config
	Provider   live.Provider
	Bootstrap  session.Bootstrapper
	Dispatcher *tools.Dispatcher
	Store      history.Store
	Metrics    *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{
		active:     make(map[string]*managedSession),
		cfg:        cfg.Config,
		provider:   cfg.Provider,
		bootstrap:  cfg.Bootstrap,
		dispatcher: cfg.Dispatcher,
		store:      cfg.Store,
		metrics:    cfg.Metrics,
	}
}

// StartParams identifies a new session and carries its audio endpoints. The
// source and sink are owned by the connection once Start succeeds.
type StartParams struct {
	UserID    string
	SessionID string
	Source    audio.Source
	Sink      audio.Sink
}

// Start creates and connects a new practice session. It returns an error if
// the live provider is not configured, the key is already active, or the
// connection handshake fails.
func (sm *SessionManager) Start(ctx context.Context, p StartParams) (*session.Connection, error) {
	if sm.provider == nil {
		return nil, fmt.Errorf("session manager: no live provider configured")
	}

	key := sessionKey(p.UserID, p.SessionID)

	sm.mu.Lock()
	sm.pruneLocked()
	if _, exists := sm.active[key]; exists {
		sm.mu.Unlock()
		return nil, fmt.Errorf("session manager: session %q is already active", key)
	}
	// Reserve the key before the handshake so a concurrent Start with the
	// same key fails fast instead of racing the connect.
	sm.active[key] = nil
	sm.mu.Unlock()

	opts := []session.Option{
		session.WithMetrics(sm.metrics),
		session.WithReadyTimeout(time.Duration(sm.cfg.Session.ReadyTimeout)),
		session.WithEventBuffer(sm.cfg.Session.EventBuffer),
	}
	if sm.store != nil {
		opts = append(opts, session.WithHistory(sm.store))
	}

	conn, err := session.New(session.Config{
		SessionID:  p.SessionID,
		UserID:     p.UserID,
		Provider:   sm.provider,
		Bootstrap:  sm.bootstrap,
		Dispatcher: sm.dispatcher,
		Source:     p.Source,
		Sink:       p.Sink,
	}, opts...)
	if err != nil {
		sm.release(key)
		return nil, err
	}

	if err := conn.Connect(ctx); err != nil {
		sm.release(key)
		return nil, err
	}

	sm.mu.Lock()
	sm.active[key] = &managedSession{
		conn:      conn,
		userID:    p.UserID,
		sessionID: p.SessionID,
		startedAt: time.Now(),
	}
	sm.mu.Unlock()

	slog.Info("practice session started", "user", p.UserID, "session", p.SessionID)
	return conn, nil
}

// Get returns the active connection for the given key, if any.
func (sm *SessionManager) Get(userID, sessionID string) (*session.Connection, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ms, ok := sm.active[sessionKey(userID, sessionID)]
	if !ok || ms == nil {
		return nil, false
	}
	return ms.conn, true
}

// Stop disconnects the session for the given key. Stopping an unknown key is
// a no-op.
func (sm *SessionManager) Stop(userID, sessionID string) error {
	key := sessionKey(userID, sessionID)

	sm.mu.Lock()
	ms := sm.active[key]
	delete(sm.active, key)
	sm.mu.Unlock()

	if ms == nil {
		return nil
	}
	slog.Info("practice session stopped", "user", userID, "session", sessionID)
	return ms.conn.Disconnect()
}

// StopAll disconnects every active session. Used at server shutdown.
func (sm *SessionManager) StopAll() {
	sm.mu.Lock()
	sessions := make([]*managedSession, 0, len(sm.active))
	for _, ms := range sm.active {
		if ms != nil {
			sessions = append(sessions, ms)
		}
	}
	sm.active = make(map[string]*managedSession)
	sm.mu.Unlock()

	for _, ms := range sessions {
		if err := ms.conn.Disconnect(); err != nil {
			slog.Warn("session disconnect error", "user", ms.userID, "session", ms.sessionID, "err", err)
		}
	}
}

// List returns a snapshot of every tracked session, including ones that have
// ended but not yet been pruned.
func (sm *SessionManager) List() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sm.active))
	for _, ms := range sm.active {
		if ms == nil {
			continue
		}
		infos = append(infos, SessionInfo{
			SessionID: ms.sessionID,
			UserID:    ms.userID,
			State:     ms.conn.State(),
			StartedAt: ms.startedAt,
		})
	}
	return infos
}

// release drops a reserved or failed key.
func (sm *SessionManager) release(key string) {
	sm.mu.Lock()
	delete(sm.active, key)
	sm.mu.Unlock()
}

// pruneLocked drops sessions that reached a terminal state on their own,
// such as a peer close or transport fault. Callers must hold sm.mu.
func (sm *SessionManager) pruneLocked() {
	for key, ms := range sm.active {
		if ms == nil {
			continue
		}
		switch ms.conn.State() {
		case session.StateClosed, session.StateError:
			delete(sm.active, key)
		}
	}
}

func sessionKey(userID, sessionID string) string {
	return userID + "/" + sessionID
}
