package discordio

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/speakdrill/speakdrill/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

const frameChannelBuffer = 64

// Source adapts the receive side of a Discord voice connection to
// [audio.Source]. A background loop decodes incoming Opus packets, downmixes
// 48 kHz stereo to the 16 kHz mono wire input format, and queues the resulting
// frames for ReadFrame.
//
// A practice channel carries a single learner. Packets are decoded per SSRC
// so decoder state stays correct if the learner reconnects under a new SSRC;
// if several participants speak at once their frames interleave on the stream.
type Source struct {
	recv   <-chan *discordgo.Packet
	frames chan audio.AudioFrame

	done      chan struct{}
	closeOnce sync.Once
}

func newSource(recv <-chan *discordgo.Packet) (*Source, error) {
	if recv == nil {
		return nil, errors.New("discordio: voice connection has no receive channel")
	}
	s := &Source{
		recv:   recv,
		frames: make(chan audio.AudioFrame, frameChannelBuffer),
		done:   make(chan struct{}),
	}
	go s.recvLoop()
	return s, nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return audio.WireInputFormat }

// ReadFrame implements [audio.Source]. It blocks until the learner's next
// decoded frame is available and returns [ErrClosed] after Close.
func (s *Source) ReadFrame() (audio.AudioFrame, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-s.done:
		return audio.AudioFrame{}, ErrClosed
	}
}

// Close implements [audio.Source]. It stops the receive loop and unblocks any
// in-flight ReadFrame. Idempotent.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

// recvLoop reads Opus packets from the voice connection, decodes them with a
// per-SSRC decoder, and converts each 20 ms packet to one wire-format frame.
func (s *Source) recvLoop() {
	decoders := make(map[uint32]*opusDecoder)

	for {
		select {
		case <-s.done:
			return
		case pkt, ok := <-s.recv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discordio: failed to create opus decoder", "ssrc", pkt.SSRC, "error", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discordio: opus decode error", "ssrc", pkt.SSRC, "error", err)
				continue
			}

			// 48 kHz stereo -> 16 kHz mono wire input.
			mono := audio.StereoToMono(pcm)
			mono = audio.ResampleMono16(mono, opusSampleRate, audio.WireInputFormat.SampleRate)

			frame := audio.AudioFrame{
				Data:       mono,
				SampleRate: audio.WireInputFormat.SampleRate,
				Channels:   audio.WireInputFormat.Channels,
				Timestamp:  time.Duration(pkt.Timestamp) * time.Second / time.Duration(opusSampleRate),
			}

			select {
			case s.frames <- frame:
			default:
				// Queue full. Drop the frame rather than stall the voice
				// connection's receive path.
			}
		}
	}
}
