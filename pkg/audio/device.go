// Package audio defines the types and device abstractions for the SpeakDrill
// audio pipeline.
//
// The two primary abstractions are:
//
//   - [Source] — an input device producing fixed-size PCM frames on demand.
//   - [Sink] — an output device that plays PCM segments to completion.
//
// Implementations are provided by platform-specific adapter packages (e.g.
// audio/discordio for Discord voice channels, audio/mock for tests). The
// session core depends only on these interfaces, never on a concrete device
// API.
package audio

// Source is an input device from which the capture loop pulls audio frames.
//
// Implementations must be safe for concurrent use of Close with a blocked
// ReadFrame; Close must unblock any in-flight ReadFrame with an error.
type Source interface {
	// Format reports the sample rate and channel count of frames produced by
	// ReadFrame. Constant for the lifetime of the Source.
	Format() Format

	// ReadFrame blocks until one frame of the given duration-equivalent size
	// is available and returns it. The returned frame's Data is owned by the
	// caller. Returns an error after Close.
	ReadFrame() (AudioFrame, error)

	// Close releases the input device. Idempotent.
	Close() error
}

// Sink is an output device that plays audio segments.
//
// Play must block until the segment has been played to completion so that a
// single consumer draining a queue through Play never overlaps segments.
type Sink interface {
	// Format reports the sample rate and channel count the sink expects.
	Format() Format

	// Play plays the frame to completion. Returns an error after Close.
	Play(frame AudioFrame) error

	// Close releases the output device. Idempotent.
	Close() error
}
