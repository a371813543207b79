package session

import (
	"testing"
)

func stateEvent(s State) Event {
	return Event{Kind: EventStateChanged, State: s}
}

// ─── TestBroadcaster_DeliversToAllSubscribers ────────────────────────────────

func TestBroadcaster_DeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	b := newBroadcaster(4)
	s1 := b.subscribe()
	s2 := b.subscribe()

	b.publish(stateEvent(StateConnecting))

	for i, sub := range []*Subscription{s1, s2} {
		select {
		case ev := <-sub.Events():
			if ev.Kind != EventStateChanged || ev.State != StateConnecting {
				t.Errorf("subscriber %d: unexpected event %+v", i, ev)
			}
		default:
			t.Errorf("subscriber %d: no event delivered", i)
		}
	}
}

// ─── TestBroadcaster_SlowSubscriberGetsOverflowMarker ────────────────────────

func TestBroadcaster_SlowSubscriberGetsOverflowMarker(t *testing.T) {
	t.Parallel()

	b := newBroadcaster(2)
	sub := b.subscribe()

	// Fill the buffer, then keep publishing while the subscriber stalls.
	b.publish(stateEvent(StateConnecting))
	b.publish(stateEvent(StateHandshaking))
	b.publish(stateEvent(StateActive))  // dropped, gap begins
	b.publish(stateEvent(StateClosing)) // dropped

	// The subscriber catches up.
	if ev := <-sub.Events(); ev.State != StateConnecting {
		t.Fatalf("first event: %+v", ev)
	}
	if ev := <-sub.Events(); ev.State != StateHandshaking {
		t.Fatalf("second event: %+v", ev)
	}

	// The next publish delivers the gap marker before the new event.
	b.publish(stateEvent(StateClosed))
	if ev := <-sub.Events(); ev.Kind != EventOverflow {
		t.Fatalf("want overflow marker after gap, got %+v", ev)
	}
	if ev := <-sub.Events(); ev.Kind != EventStateChanged || ev.State != StateClosed {
		t.Fatalf("want closed state after marker, got %+v", ev)
	}
}

// ─── TestBroadcaster_PublishNeverBlocks ──────────────────────────────────────

func TestBroadcaster_PublishNeverBlocks(t *testing.T) {
	t.Parallel()

	b := newBroadcaster(1)
	_ = b.subscribe() // never read

	// Publishing far past the buffer depth must return promptly.
	for range 100 {
		b.publish(stateEvent(StateActive))
	}
}

// ─── TestBroadcaster_CloseFlushesPendingMarker ───────────────────────────────

func TestBroadcaster_CloseFlushesPendingMarker(t *testing.T) {
	t.Parallel()

	b := newBroadcaster(1)
	sub := b.subscribe()

	b.publish(stateEvent(StateConnecting))
	b.publish(stateEvent(StateHandshaking)) // dropped, gap begins

	if ev := <-sub.Events(); ev.State != StateConnecting {
		t.Fatalf("first event: %+v", ev)
	}

	b.close()

	ev, ok := <-sub.Events()
	if !ok {
		t.Fatal("overflow marker lost on close")
	}
	if ev.Kind != EventOverflow {
		t.Fatalf("want overflow marker, got %+v", ev)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("channel must be closed after the flushed marker")
	}
}

// ─── TestBroadcaster_SubscribeAfterClose ─────────────────────────────────────

func TestBroadcaster_SubscribeAfterClose(t *testing.T) {
	t.Parallel()

	b := newBroadcaster(1)
	b.close()

	sub := b.subscribe()
	if _, ok := <-sub.Events(); ok {
		t.Fatal("subscription on a closed broadcaster must have a closed channel")
	}
}

// ─── TestSubscription_CloseIdempotent ────────────────────────────────────────

func TestSubscription_CloseIdempotent(t *testing.T) {
	t.Parallel()

	b := newBroadcaster(1)
	sub := b.subscribe()

	sub.Close()
	sub.Close()

	// A closed subscription no longer receives events.
	b.publish(stateEvent(StateActive))
	if _, ok := <-sub.Events(); ok {
		t.Fatal("closed subscription received an event")
	}
}
