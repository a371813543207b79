package discordio

import (
	"log/slog"
	"sync"

	"github.com/speakdrill/speakdrill/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Sink = (*Sink)(nil)

// Sink adapts the send side of a Discord voice connection to [audio.Sink].
// Play converts 24 kHz mono examiner audio to 48 kHz stereo, packs it into
// exact Opus frame-sized chunks, encodes each chunk, and hands the packets to
// the voice connection. Backpressure from the connection's send channel paces
// Play, so a queue drained through Play never overlaps segments.
//
// A trailing remainder smaller than one Opus frame stays buffered until the
// next Play and is discarded at Close.
type Sink struct {
	send  chan<- []byte
	speak func(bool) error

	mu       sync.Mutex
	enc      *opusEncoder
	conv     audio.Codec
	buf      []byte
	speaking bool
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
}

func newSink(send chan<- []byte, speak func(bool) error) (*Sink, error) {
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}
	return &Sink{
		send:  send,
		speak: speak,
		enc:   enc,
		conv:  audio.Codec{Target: audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}},
		done:  make(chan struct{}),
	}, nil
}

// Format implements [audio.Sink].
func (s *Sink) Format() audio.Format { return audio.WireOutputFormat }

// Play implements [audio.Sink]. It blocks until every complete Opus frame in
// the segment has been handed to the voice connection, and returns [ErrClosed]
// after Close.
func (s *Sink) Play(frame audio.AudioFrame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.speaking {
		s.setSpeaking(true)
		s.speaking = true
	}

	converted := s.conv.Convert(frame)
	s.buf = append(s.buf, converted.Data...)

	// Encode complete frames under the lock; send outside it so Close can
	// always make progress while a Play is blocked on the voice connection.
	var packets [][]byte
	for len(s.buf) >= opusFrameBytes {
		opus, err := s.enc.encode(s.buf[:opusFrameBytes])
		s.buf = s.buf[opusFrameBytes:]
		if err != nil {
			slog.Warn("discordio: opus encode error", "error", err)
			continue
		}
		packets = append(packets, opus)
	}
	s.mu.Unlock()

	for _, opus := range packets {
		select {
		case s.send <- opus:
		case <-s.done:
			return ErrClosed
		}
	}
	return nil
}

// Close implements [audio.Sink]. It unblocks any in-flight Play, clears the
// speaking flag on Discord, and discards buffered audio. Idempotent.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		s.closed = true
		wasSpeaking := s.speaking
		s.speaking = false
		s.buf = nil
		s.mu.Unlock()

		if wasSpeaking {
			s.setSpeaking(false)
		}
	})
	return nil
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (s *Sink) setSpeaking(b bool) {
	if s.speak == nil {
		return
	}
	if err := s.speak(b); err != nil {
		slog.Warn("discordio: speaking notification error", "speaking", b, "error", err)
	}
}
