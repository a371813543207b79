package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultPlaybackDepth is the maximum number of decoded segments buffered for
// playback before back-pressure is signalled.
const DefaultPlaybackDepth = 64

// PlaybackOption configures a [PlaybackQueue].
type PlaybackOption func(*PlaybackQueue)

// WithPlaybackDepth sets the maximum queued segment count.
func WithPlaybackDepth(n int) PlaybackOption {
	return func(q *PlaybackQueue) {
		if n > 0 {
			q.depth = n
		}
	}
}

// WithBackpressureFunc registers cb to be invoked (on the enqueueing
// goroutine) whenever a segment arrives while the queue is full. The enqueue
// then blocks until the consumer frees a slot — segments are never dropped,
// since dropped audio breaks dictation and grading.
func WithBackpressureFunc(cb func(depth int)) PlaybackOption {
	return func(q *PlaybackQueue) {
		q.onBackpressure = cb
	}
}

// PlaybackQueue is an ordered buffer of decoded inbound audio segments. A
// single consumer goroutine dequeues strictly FIFO and plays each segment to
// completion on the [Sink] before starting the next — segments never
// interleave, overlap, or get skipped.
//
// All exported methods are safe for concurrent use.
type PlaybackQueue struct {
	sink           Sink
	depth          int
	onBackpressure func(depth int)

	queue   chan AudioFrame
	played  atomic.Int64
	pending atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPlaybackQueue creates a PlaybackQueue draining into sink. The consumer
// goroutine starts immediately. Call [PlaybackQueue.Close] to stop it; the
// sink itself is owned by the caller and is not closed here.
func NewPlaybackQueue(sink Sink, opts ...PlaybackOption) *PlaybackQueue {
	q := &PlaybackQueue{
		sink:  sink,
		depth: DefaultPlaybackDepth,
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.queue = make(chan AudioFrame, q.depth)

	q.wg.Add(1)
	go q.consume()
	return q
}

// Enqueue appends a decoded segment for playback. If the queue is full the
// back-pressure callback fires and the call blocks until space frees up or
// the queue is closed; the segment is never discarded while the queue is open.
func (q *PlaybackQueue) Enqueue(frame AudioFrame) {
	select {
	case q.queue <- frame:
		q.pending.Add(1)
		return
	default:
	}

	// Queue full: warn, then wait for the consumer.
	if q.onBackpressure != nil {
		q.onBackpressure(q.depth)
	}
	slog.Warn("playback: queue full, back-pressure engaged", "depth", q.depth)

	select {
	case q.queue <- frame:
		q.pending.Add(1)
	case <-q.done:
		// Session tearing down; remaining audio is discarded by Close.
	}
}

// Pending reports how many segments are queued but not yet played.
func (q *PlaybackQueue) Pending() int { return int(q.pending.Load()) }

// Played reports how many segments have been played to completion.
func (q *PlaybackQueue) Played() int64 { return q.played.Load() }

// Close stops the consumer and discards any segments still queued.
// Idempotent.
func (q *PlaybackQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
		q.wg.Wait()

		// Discard the backlog so the queue is observably drained.
		for {
			select {
			case <-q.queue:
				q.pending.Add(-1)
			default:
				return
			}
		}
	})
	return nil
}

// consume is the single playback consumer: strict FIFO, one segment at a time.
func (q *PlaybackQueue) consume() {
	defer q.wg.Done()

	codec := Codec{Target: q.sink.Format()}
	for {
		select {
		case <-q.done:
			return
		case frame := <-q.queue:
			q.pending.Add(-1)

			converted := codec.Convert(frame)
			if len(converted.Data) == 0 {
				continue
			}
			if err := q.sink.Play(converted); err != nil {
				select {
				case <-q.done:
				default:
					slog.Warn("playback: sink error", "err", err)
				}
				continue
			}
			q.played.Add(1)
		}
	}
}
