// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and feed controlled live sessions.
// Use Session to drive the bidirectional audio/caption streams and inspect
// which methods were invoked by the session layer.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.MarkReady()
//	sess.AudioCh <- pcm
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/speakdrill/speakdrill/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a fresh default Session.
	Session live.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectHook, if non-nil, runs inside Connect after recording the call.
	// It can swap Session per call or block to simulate slow dials.
	ConnectHook func(ctx context.Context, cfg live.SessionConfig)

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	hook := p.ConnectHook
	p.mu.Unlock()

	if hook != nil {
		hook(ctx, cfg)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Capabilities records the call and returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ProviderCapabilities
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
	p.CapabilitiesCallCount = 0
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of live.SessionHandle.
// Tests feed AudioCh and TranscriptsCh directly and call MarkReady / End to
// drive the session lifecycle.
type Session struct {
	mu sync.Mutex

	// AudioCh is the channel returned by Audio(). The test owns this channel
	// until End is called.
	AudioCh chan []byte

	// TranscriptsCh is the channel returned by Transcripts(). The test owns
	// this channel until End is called.
	TranscriptsCh chan live.Caption

	// toolHandler is the currently registered ToolCallHandler.
	toolHandler live.ToolCallHandler

	// --- Configurable errors ---

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendTextErr, if non-nil, is returned by every SendText call.
	SendTextErr error

	// CloseErr, if non-nil, is returned by the first Close call.
	CloseErr error

	// SessionErr is returned by Err.
	SessionErr error

	// --- Call records ---

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// SendTextCalls records every text sent via SendText in order.
	SendTextCalls []string

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	// OnToolCallSetCount is the number of times OnToolCall was called.
	OnToolCallSetCount int

	ready     chan struct{}
	readyOnce sync.Once
	endOnce   sync.Once
}

// NewSession returns a Session with buffered channels ready for use.
func NewSession() *Session {
	return &Session{
		AudioCh:       make(chan []byte, 64),
		TranscriptsCh: make(chan live.Caption, 16),
		ready:         make(chan struct{}),
	}
}

// MarkReady closes the Ready channel, simulating the provider's setup ack.
func (s *Session) MarkReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// End closes the audio and caption channels, simulating session termination.
// Set SessionErr first to simulate a mid-stream failure.
func (s *Session) End() {
	s.endOnce.Do(func() {
		close(s.AudioCh)
		close(s.TranscriptsCh)
	})
}

// InvokeTool calls the registered handler as the real provider would.
// It returns an error ToolResult when no handler is registered.
func (s *Session) InvokeTool(call live.ToolInvocation) live.ToolResult {
	s.mu.Lock()
	handler := s.toolHandler
	s.mu.Unlock()
	if handler == nil {
		return live.ToolResult{Err: errors.New("mock: no handler registered")}
	}
	return handler(call)
}

// SentAudio returns a snapshot of all SendAudio calls so far. Use this
// instead of reading SendAudioCalls when the session layer sends
// concurrently.
func (s *Session) SentAudio() []SendAudioCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SendAudioCall, len(s.SendAudioCalls))
	copy(out, s.SendAudioCalls)
	return out
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// SendText records the call and returns SendTextErr.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendTextCalls = append(s.SendTextCalls, text)
	return s.SendTextErr
}

// Ready returns the channel closed by MarkReady.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Audio returns AudioCh.
func (s *Session) Audio() <-chan []byte { return s.AudioCh }

// Transcripts returns TranscriptsCh.
func (s *Session) Transcripts() <-chan live.Caption { return s.TranscriptsCh }

// OnToolCall stores the handler and increments OnToolCallSetCount.
func (s *Session) OnToolCall(handler live.ToolCallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolHandler = handler
	s.OnToolCallSetCount++
}

// Err returns SessionErr.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SessionErr
}

// Close ends the session streams and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	err := s.CloseErr
	s.mu.Unlock()
	s.End()
	return err
}

// Ensure Session implements live.SessionHandle at compile time.
var _ live.SessionHandle = (*Session)(nil)
