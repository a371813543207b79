// Package live defines the Provider interface for realtime speech-to-speech
// session backends.
//
// A live provider wraps a bidirectional voice AI service that accepts raw
// audio input and returns synthesised audio output in a single, stateful
// session, bypassing the separate STT → LLM → TTS pipeline entirely. The
// reference implementation speaks Google's Gemini Live BidiGenerateContent
// protocol.
//
// The central abstraction is SessionHandle: a bidirectional, multiplexed
// channel that carries audio, captions, and tool calls concurrently. Sessions
// are designed to be long-lived (seconds to minutes).
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/speakdrill/speakdrill/pkg/provider/llm"
)

// ErrSessionClosed is returned by SessionHandle methods after Close, or after
// the session terminated on its own.
var ErrSessionClosed = errors.New("live: session closed")

// Speaker labels for Caption values.
const (
	SpeakerUser  = "user"
	SpeakerModel = "model"
)

// Caption is a text rendition of one side of the conversation: either the
// model's recognition of user speech or the text form of the model's spoken
// output. Captions arrive incrementally and in order per speaker.
type Caption struct {
	// Speaker is SpeakerUser or SpeakerModel.
	Speaker string

	// Text is the caption fragment.
	Text string

	// Timestamp is when the fragment was received.
	Timestamp time.Time
}

// ToolInvocation is a single tool call requested by the model mid-session.
type ToolInvocation struct {
	// ID correlates the invocation with its response on the wire.
	ID string

	// Name is the capability name.
	Name string

	// Args is the JSON-encoded arguments object.
	Args json.RawMessage
}

// ToolResult is the outcome of a tool invocation. Either Payload or Err is
// set; an Err is reported to the model as a structured error payload rather
// than terminating the session.
type ToolResult struct {
	// Payload is the JSON result object sent back to the model.
	Payload json.RawMessage

	// Err, when non-nil, is surfaced to the model as an error payload.
	Err error
}

// ToolCallHandler is invoked by the session whenever the model requests a
// tool call. The handler may be called concurrently for overlapping calls;
// each invocation produces exactly one correlated response. The handler must
// not call blocking session methods to avoid deadlocks.
type ToolCallHandler func(call ToolInvocation) ToolResult

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Token is a short-lived session credential minted by the platform's
	// bootstrap endpoint. Providers that authenticate per session use it in
	// place of their long-lived API key; providers authenticated at
	// construction ignore it.
	Token string

	// Model overrides the provider's default model when non-empty.
	Model string

	// Instructions is the system-level prompt that frames the session:
	// examiner persona, task description, behavioural constraints.
	Instructions string

	// Voice selects the synthesised output voice. Empty uses the provider
	// default.
	Voice string

	// Tools is the set of tool definitions offered to the model. Tool calls
	// are surfaced via the handler set with OnToolCall.
	Tools []llm.ToolDefinition
}

// Capabilities describes static properties of a live provider.
// The values are assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// ContextWindow is the maximum token count (or provider-equivalent unit)
	// the model can maintain across the session.
	ContextWindow int

	// MaxSessionDuration is the hard upper bound on session lifetime imposed
	// by the provider. Zero means no documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the voice names available for this provider.
	Voices []string
}

// SessionHandle represents an open live session. It is an interface so that
// test code can supply mock implementations without a live provider
// connection.
//
// The session is the hot path of the audio pipeline; every method must return
// quickly. Audio I/O is channel-based to avoid blocking the caller's audio
// thread. All methods must be safe for concurrent use.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a raw PCM audio chunk (16 kHz, s16le, mono) to the
	// provider for processing. Returns ErrSessionClosed after Close.
	SendAudio(chunk []byte) error

	// SendText injects a typed user turn into the conversation, for text
	// practice modes and accessibility input.
	SendText(text string) error

	// Ready returns a channel that is closed once the provider has
	// acknowledged session setup. If the session fails before setup
	// completes, the Audio channel closes instead and Err reports the cause.
	Ready() <-chan struct{}

	// Audio returns a read-only channel that emits raw PCM audio byte slices
	// (24 kHz, s16le, mono) as the model synthesises its spoken response. The
	// channel is closed when the session ends. After it closes, call
	// [SessionHandle.Err] to check whether the session ended cleanly.
	// Consumers must drain this channel promptly to prevent backpressure from
	// stalling the provider's receive loop.
	Audio() <-chan []byte

	// Transcripts returns a read-only channel that emits Caption values for
	// both user speech and model output. The channel is closed when the
	// session ends.
	Transcripts() <-chan Caption

	// OnToolCall registers the handler invoked for model tool calls. Only one
	// handler can be active at a time; calling OnToolCall again replaces the
	// previous handler. Passing nil causes tool calls to be answered with an
	// error payload.
	OnToolCall(handler ToolCallHandler)

	// Err returns the error that caused the session to terminate prematurely,
	// or nil if it ended cleanly.
	Err() error

	// Close terminates the session, releases all resources, and closes the
	// Audio and Transcripts channels. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Provider is the abstraction over any live session backend.
//
// Implementations must be safe for concurrent use. The session layer may open
// multiple concurrent sessions, one per active learner.
type Provider interface {
	// Connect establishes a new live session with the given configuration.
	// The returned SessionHandle accepts audio immediately; callers that need
	// confirmation of setup wait on [SessionHandle.Ready].
	//
	// Returns an error if the session cannot be established. The caller owns
	// the SessionHandle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider's underlying
	// model. The result is assumed constant for the lifetime of the Provider.
	Capabilities() Capabilities
}
