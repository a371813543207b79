package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultFrameInterval is the capture cadence: how much audio each captured
// frame represents. Small enough to bound end-to-end latency.
const DefaultFrameInterval = 20 * time.Millisecond

// defaultCaptureBuffer is the depth of the outbound frame channel. A full
// channel means the transmitter has stalled; frames are then dropped rather
// than buffered without bound.
const defaultCaptureBuffer = 64

// CaptureOption configures a [CaptureStream].
type CaptureOption func(*CaptureStream)

// WithFrameInterval overrides the capture cadence. Useful in tests to keep
// suite execution fast.
func WithFrameInterval(d time.Duration) CaptureOption {
	return func(cs *CaptureStream) {
		if d > 0 {
			cs.interval = d
		}
	}
}

// WithCaptureBuffer sets the outbound channel depth.
func WithCaptureBuffer(n int) CaptureOption {
	return func(cs *CaptureStream) {
		if n > 0 {
			cs.buffer = n
		}
	}
}

// CaptureStream pulls fixed-size audio frames from a [Source] at a steady
// cadence, converts them to the outbound wire format, and delivers them on
// [CaptureStream.Frames] — but only while the stream is both started and not
// muted. Frames produced while gated are still read from the device (device
// timing stays stable) and then discarded, never buffered.
//
// All exported methods are safe for concurrent use.
type CaptureStream struct {
	source   Source
	interval time.Duration
	buffer   int

	gate    atomic.Bool // true when frames may be transmitted
	muted   atomic.Bool
	dropped atomic.Int64

	out       chan AudioFrame
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewCaptureStream creates a CaptureStream reading from source. The capture
// goroutine starts immediately but frames are discarded until [CaptureStream.SetGate]
// opens the gate (the owning session does this on reaching its active state).
//
// Call [CaptureStream.Close] to stop the loop and release the source.
func NewCaptureStream(source Source, opts ...CaptureOption) *CaptureStream {
	cs := &CaptureStream{
		source:   source,
		interval: DefaultFrameInterval,
		buffer:   defaultCaptureBuffer,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(cs)
	}
	cs.out = make(chan AudioFrame, cs.buffer)

	cs.wg.Add(1)
	go cs.loop()
	return cs
}

// Frames returns the channel on which wire-format frames are delivered.
// The channel is closed when the stream is closed.
func (cs *CaptureStream) Frames() <-chan AudioFrame { return cs.out }

// SetGate opens (true) or closes (false) transmission. While closed, frames
// are captured and discarded.
func (cs *CaptureStream) SetGate(open bool) { cs.gate.Store(open) }

// SetMuted toggles the mute flag. Muted frames are captured and discarded to
// keep device timing stable.
func (cs *CaptureStream) SetMuted(muted bool) { cs.muted.Store(muted) }

// Muted reports the current mute flag.
func (cs *CaptureStream) Muted() bool { return cs.muted.Load() }

// Dropped reports how many frames were discarded because the outbound channel
// was full while the gate was open.
func (cs *CaptureStream) Dropped() int64 { return cs.dropped.Load() }

// Close stops the capture loop, closes the Frames channel, and releases the
// source device. Idempotent.
func (cs *CaptureStream) Close() error {
	var err error
	cs.closeOnce.Do(func() {
		close(cs.done)
		// Unblocks a ReadFrame in flight.
		err = cs.source.Close()
		cs.wg.Wait()
		close(cs.out)
	})
	return err
}

// loop is the capture goroutine: one device read per tick, codec conversion,
// gated delivery.
func (cs *CaptureStream) loop() {
	defer cs.wg.Done()

	codec := Codec{Target: WireInputFormat}
	ticker := time.NewTicker(cs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.done:
			return
		case <-ticker.C:
		}

		frame, err := cs.source.ReadFrame()
		if err != nil {
			select {
			case <-cs.done:
			default:
				slog.Warn("capture: device read failed, stopping", "err", err)
			}
			return
		}

		if !cs.gate.Load() || cs.muted.Load() {
			continue // captured, then discarded
		}

		converted := codec.Convert(frame)
		if len(converted.Data) == 0 {
			continue
		}

		select {
		case cs.out <- converted:
		case <-cs.done:
			return
		default:
			// Transmitter stalled: drop rather than grow without bound.
			cs.dropped.Add(1)
		}
	}
}
