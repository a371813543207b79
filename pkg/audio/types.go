package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are the atomic unit of audio transport — captured from an
// input device, converted by the codec, transmitted to the model, and played
// through an output device.
type AudioFrame struct {
	// PCM audio data, 16-bit signed little-endian samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for the outbound wire format, 24000 for
	// synthesised model audio).
	SampleRate int

	// Channels: 1 for mono (wire format), 2 for stereo (some capture devices).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Wire formats used by the live session protocol. Outbound microphone audio
// is sent at 16 kHz mono; the model synthesises speech at 24 kHz mono.
var (
	WireInputFormat  = Format{SampleRate: 16000, Channels: 1}
	WireOutputFormat = Format{SampleRate: 24000, Channels: 1}
)
