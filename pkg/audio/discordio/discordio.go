// Package discordio adapts a Discord voice channel to the [audio.Source] and
// [audio.Sink] device interfaces via the bwmarrin/discordgo library, so a
// practice session can run over a Discord voice call instead of a browser
// microphone.
//
// [Join] connects to a voice channel and returns a [Channel] whose Source
// yields the learner's speech as 16 kHz mono PCM frames and whose Sink accepts
// 24 kHz mono examiner audio, transcoding both directions to and from
// Discord's 48 kHz stereo Opus transport.
package discordio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/speakdrill/speakdrill/pkg/audio"
)

// ErrClosed is returned by Source.ReadFrame and Sink.Play after the device
// has been closed.
var ErrClosed = errors.New("discordio: voice device closed")

// Channel is an active voice-channel membership. It owns the underlying
// discordgo voice connection and the Source/Sink adapters bound to it.
//
// Channel is safe for concurrent use.
type Channel struct {
	vc     *discordgo.VoiceConnection
	source *Source
	sink   *Sink

	closeOnce sync.Once

	// disconnectVC tears down the voice connection during Close.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// Join connects to the voice channel identified by guildID/channelID using an
// active *discordgo.Session (owned by the caller) and returns a ready Channel.
// mute=false because the session sends examiner audio, deaf=false because it
// receives the learner.
func Join(session *discordgo.Session, guildID, channelID string) (*Channel, error) {
	vc, err := session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discordio: join voice channel %q: %w", channelID, err)
	}

	src, err := newSource(vc.OpusRecv)
	if err != nil {
		_ = vc.Disconnect()
		return nil, err
	}
	snk, err := newSink(vc.OpusSend, vc.Speaking)
	if err != nil {
		_ = src.Close()
		_ = vc.Disconnect()
		return nil, err
	}

	return &Channel{
		vc:           vc,
		source:       src,
		sink:         snk,
		disconnectVC: vc.Disconnect,
	}, nil
}

// Source returns the capture device for the learner's speech.
func (c *Channel) Source() audio.Source { return c.source }

// Sink returns the playback device for examiner audio.
func (c *Channel) Sink() audio.Sink { return c.sink }

// Close tears down both adapters and leaves the voice channel. Safe to call
// more than once; subsequent calls return nil.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.source.Close()
		_ = c.sink.Close()
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}
