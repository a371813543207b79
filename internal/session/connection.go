// Package session manages the lifecycle of a realtime practice session: the
// state machine around a live provider connection, the audio pipeline wiring
// (capture stream in, playback queue out), tool-call routing through the
// dispatcher, and the append-only turn log.
//
// A [Connection] moves through idle → connecting → handshaking → active →
// closing → closed, with error reachable from any non-terminal state. There
// is no automatic reconnect: a failed session is terminal and a retry is a
// new Connection with a fresh id.
//
// This package is internal because it encapsulates application-private
// session orchestration and is not intended for import by external code.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/speakdrill/speakdrill/internal/observe"
	"github.com/speakdrill/speakdrill/internal/tools"
	"github.com/speakdrill/speakdrill/pkg/audio"
	"github.com/speakdrill/speakdrill/pkg/history"
	"github.com/speakdrill/speakdrill/pkg/provider/live"
)

// ErrNotActive is returned when an operation requires an active session, and
// reported for tool invocations whose results arrive after teardown.
var ErrNotActive = errors.New("session: not active")

const (
	// defaultReadyTimeout bounds the wait for the provider's setup ack
	// during the handshaking state.
	defaultReadyTimeout = 10 * time.Second

	// persistTimeout bounds each best-effort turn write to the history
	// store.
	persistTimeout = 5 * time.Second
)

// Turn roles recorded in the session turn log.
const (
	RoleUser  = live.SpeakerUser
	RoleModel = live.SpeakerModel
	RoleTool  = "tool"
)

// ── State machine ─────────────────────────────────────────────────────────────

// State is the lifecycle state of a Connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateActive
	StateClosing
	StateClosed
	StateError
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ── Bootstrap ─────────────────────────────────────────────────────────────────

// Credential is the short-lived session credential and negotiated
// configuration returned by the platform's bootstrap endpoint.
type Credential struct {
	// Token authenticates exactly one live session.
	Token string

	// Model, Voice and Instructions are the negotiated session parameters.
	// Empty values fall back to provider defaults.
	Model        string
	Voice        string
	Instructions string

	// ExpiresAt is when the token stops being accepted for new dials.
	ExpiresAt time.Time
}

// Bootstrapper fetches session credentials from the platform backend. The
// backend itself (entitlement checks, credit accounting, token minting) is a
// collaborator outside this module.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, userID, sessionID string) (Credential, error)
}

// ── Connection ────────────────────────────────────────────────────────────────

// Config carries the required collaborators for a new Connection.
type Config struct {
	// SessionID identifies this session; it is the key for the turn log.
	SessionID string

	// UserID identifies the learner, for bootstrap and turn persistence.
	UserID string

	Provider   live.Provider
	Bootstrap  Bootstrapper
	Dispatcher *tools.Dispatcher

	// Source and Sink are the audio devices. The Connection owns both for
	// its lifetime and releases the Source on teardown.
	Source audio.Source
	Sink   audio.Sink
}

// Option is a functional option for configuring a [Connection].
type Option func(*Connection)

// WithHistory persists turns to store as they complete. Writes are
// best-effort: a store failure is logged and never faults the session.
func WithHistory(store history.Store) Option {
	return func(c *Connection) { c.store = store }
}

// WithMetrics enables telemetry recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Connection) { c.metrics = m }
}

// WithReadyTimeout overrides the handshake ack deadline.
func WithReadyTimeout(d time.Duration) Option {
	return func(c *Connection) {
		if d > 0 {
			c.readyTimeout = d
		}
	}
}

// WithEventBuffer sets the channel depth of subscriptions returned by
// [Connection.Events].
func WithEventBuffer(n int) Option {
	return func(c *Connection) { c.eventBuffer = n }
}

// WithCaptureOptions forwards options to the capture stream created on
// activation. Useful in tests to shrink the frame interval.
func WithCaptureOptions(opts ...audio.CaptureOption) Option {
	return func(c *Connection) { c.captureOpts = opts }
}

// WithPlaybackOptions forwards options to the playback queue created on
// activation.
func WithPlaybackOptions(opts ...audio.PlaybackOption) Option {
	return func(c *Connection) { c.playbackOpts = opts }
}

// Connection is one learner's realtime practice session. It owns the live
// session handle, the capture stream, the playback queue and the turn log,
// and tears all of them down together on disconnect or fault.
//
// All exported methods are safe for concurrent use.
type Connection struct {
	id     string
	userID string

	provider   live.Provider
	bootstrap  Bootstrapper
	dispatcher *tools.Dispatcher
	source     audio.Source
	sink       audio.Sink
	store      history.Store
	metrics    *observe.Metrics
	log        *slog.Logger

	readyTimeout time.Duration
	eventBuffer  int
	captureOpts  []audio.CaptureOption
	playbackOpts []audio.PlaybackOption

	mu        sync.Mutex
	state     State
	termErr   error
	handle    live.SessionHandle
	capture   *audio.CaptureStream
	playback  *audio.PlaybackQueue
	muted     bool
	turns     []history.Turn
	startedAt time.Time

	events    *broadcaster
	playDepth atomic.Int64

	toolCtx    context.Context
	toolCancel context.CancelFunc

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Connection in the idle state. Nothing is dialed until
// [Connection.Connect].
func New(cfg Config, opts ...Option) (*Connection, error) {
	if cfg.SessionID == "" {
		return nil, errors.New("session: session id is required")
	}
	if cfg.Provider == nil || cfg.Bootstrap == nil || cfg.Dispatcher == nil {
		return nil, errors.New("session: provider, bootstrap and dispatcher are required")
	}
	if cfg.Source == nil || cfg.Sink == nil {
		return nil, errors.New("session: audio source and sink are required")
	}

	c := &Connection{
		id:           cfg.SessionID,
		userID:       cfg.UserID,
		provider:     cfg.Provider,
		bootstrap:    cfg.Bootstrap,
		dispatcher:   cfg.Dispatcher,
		source:       cfg.Source,
		sink:         cfg.Sink,
		log:          slog.Default(),
		readyTimeout: defaultReadyTimeout,
		eventBuffer:  defaultEventBuffer,
		state:        StateIdle,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.events = newBroadcaster(c.eventBuffer)
	c.toolCtx, c.toolCancel = context.WithCancel(context.Background())
	return c, nil
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the fault that moved the session into the error state, or nil.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.termErr
}

// Turns returns a snapshot of the turn log in append order.
func (c *Connection) Turns() []history.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]history.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Events subscribes a new observer to the session's event stream. The
// subscription is bounded; see [Subscription].
func (c *Connection) Events() *Subscription {
	return c.events.subscribe()
}

// SetMuted toggles whether captured frames are transmitted. Frames are still
// read from the device while muted so its timing stays stable.
func (c *Connection) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
	if c.capture != nil {
		c.capture.SetMuted(muted)
	}
}

// Muted reports the current mute flag.
func (c *Connection) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// setStateLocked transitions to s and publishes the change. Callers must
// hold c.mu.
func (c *Connection) setStateLocked(s State) {
	c.state = s
	c.events.publish(Event{Kind: EventStateChanged, State: s, Timestamp: time.Now()})
}

// ── Connect ───────────────────────────────────────────────────────────────────

// Connect fetches a bootstrap credential, dials the live provider, performs
// the setup handshake and activates the audio pipeline. It blocks until the
// session is active or has failed.
//
// Connect can succeed at most once per Connection; a failure moves the
// session into the error state and subsequent calls return an error. A
// Disconnect that overtakes an in-flight Connect aborts it: the attempt
// returns an error, any half-opened handle is closed, and the session keeps
// the terminal state the teardown chose.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("session: connect from %s state", s)
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	cred, err := c.bootstrap.Bootstrap(ctx, c.userID, c.id)
	if err != nil {
		return c.failConnect(fmt.Errorf("session: bootstrap: %w", err))
	}

	// A Disconnect during bootstrap already ran teardown; do not dial.
	c.mu.Lock()
	if c.state != StateConnecting {
		s := c.state
		c.mu.Unlock()
		return connectAborted(s)
	}
	c.mu.Unlock()

	cfg := live.SessionConfig{
		Token:        cred.Token,
		Model:        cred.Model,
		Voice:        cred.Voice,
		Instructions: cred.Instructions,
		Tools:        c.dispatcher.Definitions(),
	}

	handle, err := c.provider.Connect(ctx, cfg)
	if err != nil {
		return c.failConnect(fmt.Errorf("session: connect: %w", err))
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		s := c.state
		c.mu.Unlock()
		_ = handle.Close()
		return connectAborted(s)
	}
	c.handle = handle
	c.setStateLocked(StateHandshaking)
	c.mu.Unlock()

	handle.OnToolCall(c.handleToolCall)

	timer := time.NewTimer(c.readyTimeout)
	defer timer.Stop()
	select {
	case <-handle.Ready():
	case <-c.done:
		_ = handle.Close()
		return connectAborted(c.State())
	case <-ctx.Done():
		_ = handle.Close()
		return c.failConnect(fmt.Errorf("session: handshake: %w", ctx.Err()))
	case <-timer.C:
		cause := handle.Err()
		_ = handle.Close()
		if cause == nil {
			cause = fmt.Errorf("session: handshake: no ack within %s", c.readyTimeout)
		} else {
			cause = fmt.Errorf("session: handshake: %w", cause)
		}
		return c.failConnect(cause)
	}

	c.mu.Lock()
	if c.state != StateHandshaking {
		s := c.state
		c.mu.Unlock()
		_ = handle.Close()
		return connectAborted(s)
	}
	c.capture = audio.NewCaptureStream(c.source, c.captureOpts...)
	c.capture.SetMuted(c.muted)
	playbackOpts := append([]audio.PlaybackOption{
		audio.WithBackpressureFunc(func(depth int) {
			c.log.Warn("session: playback backlog full",
				"session_id", c.id, "depth", depth)
		}),
	}, c.playbackOpts...)
	c.playback = audio.NewPlaybackQueue(c.sink, playbackOpts...)
	c.startedAt = time.Now()
	c.setStateLocked(StateActive)
	capture := c.capture
	c.mu.Unlock()

	// Frames recorded before this point were discarded, not buffered.
	capture.SetGate(true)

	if c.metrics != nil {
		c.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	c.log.Info("session active",
		"session_id", c.id, "user_id", c.userID, "model", cfg.Model)

	c.wg.Add(3)
	go c.sendLoop(handle, capture)
	go c.playLoop(handle)
	go c.captionLoop(handle)
	return nil
}

// connectAborted is the error for a connect attempt overtaken by teardown.
func connectAborted(s State) error {
	return fmt.Errorf("session: connect aborted, session %s", s)
}

// failConnect records err as the terminal fault of a connect attempt that
// never reached the active state. When teardown already ran, its terminal
// state is kept and err is only returned.
func (c *Connection) failConnect(err error) error {
	first := false
	c.closeOnce.Do(func() {
		first = true
		close(c.done)
		c.toolCancel()
		// The capture stream does not exist yet; release the device here.
		_ = c.source.Close()
	})
	if !first {
		return err
	}

	c.mu.Lock()
	c.termErr = err
	c.setStateLocked(StateError)
	c.mu.Unlock()

	c.events.publish(Event{Kind: EventError, Err: err, Timestamp: time.Now()})
	c.events.close()
	c.log.Warn("session connect failed",
		"session_id", c.id, "user_id", c.userID, "err", err)
	return err
}

// ── Teardown ──────────────────────────────────────────────────────────────────

// Disconnect tears the session down: the capture loop stops and the device
// is released, queued playback is discarded, the transport is closed, and
// results of still-running tool invocations are dropped. Idempotent; safe to
// call in any state.
func (c *Connection) Disconnect() error {
	c.shutdown(nil)
	return nil
}

// shutdown performs teardown exactly once. A nil cause ends in the closed
// state; a non-nil cause ends in the error state. Must not be called from
// the pipeline goroutines directly (they spawn it) because it waits for them.
func (c *Connection) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.setStateLocked(StateClosing)
		handle := c.handle
		capture := c.capture
		playback := c.playback
		c.mu.Unlock()

		close(c.done)
		c.toolCancel()

		if capture != nil {
			capture.SetGate(false)
			_ = capture.Close()
		} else {
			// Never activated; the capture stream that would release the
			// device does not exist, so release it here.
			_ = c.source.Close()
		}
		if handle != nil {
			_ = handle.Close()
		}
		c.wg.Wait()
		if playback != nil {
			_ = playback.Close()
		}

		if c.metrics != nil {
			ctx := context.Background()
			c.metrics.ActiveSessions.Add(ctx, -1)
			if d := c.playDepth.Swap(0); d != 0 {
				c.metrics.PlaybackQueueDepth.Add(ctx, -d)
			}
			if capture != nil && capture.Dropped() > 0 {
				c.metrics.FramesDiscarded.Add(ctx, capture.Dropped())
			}
			if !c.startedAt.IsZero() {
				c.metrics.SessionDuration.Record(ctx, time.Since(c.startedAt).Seconds())
			}
		}

		c.mu.Lock()
		if cause != nil {
			c.termErr = cause
			c.setStateLocked(StateError)
		} else {
			c.setStateLocked(StateClosed)
		}
		c.mu.Unlock()

		if cause != nil {
			c.events.publish(Event{Kind: EventError, Err: cause, Timestamp: time.Now()})
			c.log.Warn("session faulted",
				"session_id", c.id, "user_id", c.userID, "err", cause)
		} else {
			c.log.Info("session closed", "session_id", c.id, "user_id", c.userID)
		}
		c.events.close()
	})
}

// ── Pipeline loops ────────────────────────────────────────────────────────────

// sendLoop forwards capture frames to the live session until the capture
// stream or the session ends.
func (c *Connection) sendLoop(handle live.SessionHandle, capture *audio.CaptureStream) {
	defer c.wg.Done()

	ctx := context.Background()
	for {
		select {
		case <-c.done:
			return
		case frame, ok := <-capture.Frames():
			if !ok {
				return
			}
			if err := handle.SendAudio(frame.Data); err != nil {
				if !errors.Is(err, live.ErrSessionClosed) {
					go c.shutdown(fmt.Errorf("session: send audio: %w", err))
				}
				return
			}
			if c.metrics != nil {
				c.metrics.FramesSent.Add(ctx, 1)
			}
		}
	}
}

// playLoop enqueues inbound model audio for FIFO playback. Closure of the
// session's audio channel signals the end of the session: with a nil
// handle.Err this is a clean peer close, otherwise a transport fault.
func (c *Connection) playLoop(handle live.SessionHandle) {
	defer c.wg.Done()

	ctx := context.Background()
	for {
		select {
		case <-c.done:
			return
		case chunk, ok := <-handle.Audio():
			if !ok {
				go c.shutdown(wrapFault(handle.Err()))
				return
			}
			c.playback.Enqueue(audio.AudioFrame{
				Data:       chunk,
				SampleRate: audio.WireOutputFormat.SampleRate,
				Channels:   audio.WireOutputFormat.Channels,
			})
			if c.metrics != nil {
				depth := int64(c.playback.Pending())
				c.metrics.PlaybackQueueDepth.Add(ctx, depth-c.playDepth.Swap(depth))
			}
		}
	}
}

// wrapFault preserves a nil cause (clean close) and wraps anything else.
func wrapFault(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("session: stream fault: %w", err)
}

// captionLoop folds caption fragments into turns. Consecutive fragments from
// the same speaker extend one turn; a speaker change completes the previous
// turn and starts the next.
func (c *Connection) captionLoop(handle live.SessionHandle) {
	defer c.wg.Done()

	var cur *history.Turn
	flush := func() {
		if cur == nil {
			return
		}
		c.appendTurn(*cur)
		cur = nil
	}
	defer flush()

	for {
		select {
		case <-c.done:
			return
		case caption, ok := <-handle.Transcripts():
			if !ok {
				return
			}
			if cur != nil && cur.Role == caption.Speaker {
				cur.Text += caption.Text
				continue
			}
			flush()
			cur = &history.Turn{
				Role:      caption.Speaker,
				Text:      caption.Text,
				Timestamp: caption.Timestamp,
			}
		}
	}
}

// appendTurn adds turn to the log, publishes it, and persists it
// best-effort when a history store is configured.
func (c *Connection) appendTurn(turn history.Turn) {
	c.mu.Lock()
	turn.Index = len(c.turns)
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	c.turns = append(c.turns, turn)
	c.mu.Unlock()

	c.events.publish(Event{Kind: EventTurnAppended, Turn: &turn, Timestamp: time.Now()})

	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.store.AppendTurn(ctx, c.id, turn); err != nil {
		c.log.Warn("session: persist turn failed",
			"session_id", c.id, "index", turn.Index, "err", err)
	}
}

// ── Tool calls ────────────────────────────────────────────────────────────────

// handleToolCall routes a model tool call through the dispatcher. Capability
// failures come back as error payloads, so the session continues regardless
// of the outcome. A result computed after teardown began is discarded.
func (c *Connection) handleToolCall(call live.ToolInvocation) live.ToolResult {
	select {
	case <-c.done:
		return live.ToolResult{Err: ErrNotActive}
	default:
	}

	payload := c.dispatcher.ExecuteSafe(c.toolCtx, call.Name, call.Args)

	select {
	case <-c.done:
		return live.ToolResult{Err: ErrNotActive}
	default:
	}

	c.appendTurn(history.Turn{Role: RoleTool, Text: call.Name, ToolCallID: call.ID})
	return live.ToolResult{Payload: payload}
}
