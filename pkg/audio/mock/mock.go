// Package mock provides in-memory mock implementations of the [audio.Source]
// and [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and played frames, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	src := mock.NewSource(audio.Format{SampleRate: 16000, Channels: 1}, 320)
//	sink := mock.NewSink(audio.WireOutputFormat)
//	// ... exercise the pipeline ...
//	got := sink.Frames()
package mock

import (
	"errors"
	"sync"

	"github.com/speakdrill/speakdrill/pkg/audio"
)

// ErrClosed is returned by mock devices after Close.
var ErrClosed = errors.New("mock audio device is closed")

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source] that produces deterministic frames: a
// repeating int16 ramp of the configured frame size. Tests can also preload
// scripted frames via [Source.Script].
type Source struct {
	mu sync.Mutex

	format    audio.Format
	frameSize int // samples per frame
	scripted  []audio.AudioFrame
	next      int16
	closed    bool

	// ReadError, when set, is returned by every subsequent ReadFrame.
	ReadError error

	// CallCountRead records how many times ReadFrame was called.
	CallCountRead int
}

// NewSource creates a Source producing frames of frameSize samples in the
// given format.
func NewSource(format audio.Format, frameSize int) *Source {
	return &Source{format: format, frameSize: frameSize}
}

// Script preloads frames to be returned, in order, before the generated ramp
// resumes.
func (s *Source) Script(frames ...audio.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripted = append(s.scripted, frames...)
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// ReadFrame implements [audio.Source].
func (s *Source) ReadFrame() (audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountRead++

	if s.closed {
		return audio.AudioFrame{}, ErrClosed
	}
	if s.ReadError != nil {
		return audio.AudioFrame{}, s.ReadError
	}
	if len(s.scripted) > 0 {
		frame := s.scripted[0]
		s.scripted = s.scripted[1:]
		return frame, nil
	}

	data := make([]byte, s.frameSize*2*s.format.Channels)
	for i := 0; i+1 < len(data); i += 2 {
		data[i] = byte(s.next)
		data[i+1] = byte(s.next >> 8)
		s.next++
	}
	return audio.AudioFrame{
		Data:       data,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
	}, nil
}

// Close implements [audio.Source]. Idempotent.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock [audio.Sink] that records every played frame.
type Sink struct {
	mu sync.Mutex

	format audio.Format
	frames []audio.AudioFrame
	closed bool

	// PlayError, when set, is returned by every subsequent Play.
	PlayError error

	// PlayHook, when set, is invoked inside Play before the frame is
	// recorded. Tests use it to simulate a slow playback device.
	PlayHook func(frame audio.AudioFrame)
}

// NewSink creates a Sink expecting frames in the given format.
func NewSink(format audio.Format) *Sink {
	return &Sink{format: format}
}

// Format implements [audio.Sink].
func (s *Sink) Format() audio.Format { return s.format }

// Play implements [audio.Sink]. The frame is recorded in arrival order.
func (s *Sink) Play(frame audio.AudioFrame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	hook := s.PlayHook
	playErr := s.PlayError
	s.mu.Unlock()

	if hook != nil {
		hook(frame)
	}
	if playErr != nil {
		return playErr
	}

	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
	return nil
}

// Frames returns a snapshot of all frames played so far, in order.
func (s *Sink) Frames() []audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.AudioFrame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Close implements [audio.Sink]. Idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
