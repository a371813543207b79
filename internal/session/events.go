package session

import (
	"sync"
	"time"

	"github.com/speakdrill/speakdrill/pkg/history"
)

// defaultEventBuffer is the channel depth of a new Subscription.
const defaultEventBuffer = 16

// EventKind discriminates the Event variants emitted by a Connection.
type EventKind int

const (
	// EventStateChanged reports a lifecycle transition. Event.State carries
	// the new state.
	EventStateChanged EventKind = iota

	// EventTurnAppended reports a turn added to the session's turn log.
	// Event.Turn carries the turn.
	EventTurnAppended

	// EventError reports the fault that moved the session into its error
	// state. Event.Err carries the cause.
	EventError

	// EventOverflow marks a gap in a subscriber's event stream: the
	// subscriber fell behind and one or more events were dropped. It is
	// delivered at most once per gap, when the subscriber resumes reading.
	EventOverflow
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventTurnAppended:
		return "turn_appended"
	case EventError:
		return "error"
	case EventOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Event is a single observation of session activity. Which fields are set
// depends on Kind.
type Event struct {
	Kind      EventKind
	State     State
	Turn      *history.Turn
	Err       error
	Timestamp time.Time
}

// Subscription is one observer's view of a Connection's event stream. The
// channel returned by [Subscription.Events] is bounded; a subscriber that
// stops reading loses events and receives a single EventOverflow marker when
// it catches up, so publishing never blocks the session.
//
// The channel is closed when the subscription is closed or the session
// reaches a terminal state.
type Subscription struct {
	b        *broadcaster
	ch       chan Event
	overflow bool // guarded by b.mu
}

// Events returns the channel on which events are delivered.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close cancels the subscription and closes its channel. Idempotent.
func (s *Subscription) Close() { s.b.unsubscribe(s) }

// broadcaster fans events out to any number of Subscriptions without ever
// blocking the publisher. Delivery per subscriber is best-effort bounded:
// when a subscriber's buffer is full, subsequent events are dropped and the
// gap is surfaced as one EventOverflow marker.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
}

func newBroadcaster(buffer int) *broadcaster {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &broadcaster{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// subscribe registers a new subscriber. Subscribing to a closed broadcaster
// yields a subscription whose channel is already closed.
func (b *broadcaster) subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{b: b, ch: make(chan Event, b.buffer)}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

func (b *broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// publish delivers ev to every subscriber that has buffer space. A stalled
// subscriber first receives a pending EventOverflow marker once space frees
// up; events published while it remains stalled are dropped.
func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for sub := range b.subs {
		if sub.overflow {
			select {
			case sub.ch <- Event{Kind: EventOverflow, Timestamp: ev.Timestamp}:
				sub.overflow = false
			default:
				// Still stalled; ev joins the gap.
				continue
			}
		}
		select {
		case sub.ch <- ev:
		default:
			sub.overflow = true
		}
	}
}

// close flushes pending overflow markers where possible and closes every
// subscriber channel. Idempotent.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		if sub.overflow {
			select {
			case sub.ch <- Event{Kind: EventOverflow, Timestamp: time.Now()}:
			default:
			}
		}
		close(sub.ch)
		delete(b.subs, sub)
	}
}
