package relay

import (
	"testing"
	"time"
)

func TestSubscribePublish(t *testing.T) {
	b := NewBroker()
	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()
	if b.ClientCount() != 2 {
		t.Fatalf("ClientCount() = %d, want 2", b.ClientCount())
	}

	sent := Event{Type: TypeSessionReady, SessionID: "ab12cd34ef56", At: time.Now()}
	b.Publish(sent)

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Type != sent.Type || evt.SessionID != sent.SessionID {
				t.Fatalf("subscriber %d got %+v, want %+v", i, evt, sent)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the event", i)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	id, ch := b.Subscribe()

	b.Unsubscribe(id)

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event on unsubscribed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after unsubscribe")
	}
	if b.ClientCount() != 0 {
		t.Fatalf("ClientCount() = %d, want 0", b.ClientCount())
	}

	b.Unsubscribe(id) // repeat is a no-op
}

func TestPublishDropsForSlowSubscribers(t *testing.T) {
	b := NewBroker()
	_, ch := b.Subscribe()

	// Nobody reads: the buffer fills, the overflow drops, publish never
	// blocks.
	for i := 0; i < subscriberBufSize+10; i++ {
		b.Publish(Event{Type: TypeSessionCreated, SessionID: "s", At: time.Now()})
	}

	received := 0
drain:
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed while draining")
			}
			received++
		default:
			break drain
		}
	}
	if received != subscriberBufSize {
		t.Fatalf("received = %d, want the buffer size %d", received, subscriberBufSize)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := NewBroker()
	_, ch := b.Subscribe()

	b.Close()
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event on closed feed")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after Close")
	}

	// Late subscribers get an already-closed channel, late publishes vanish.
	_, late := b.Subscribe()
	b.Publish(Event{Type: TypeSessionReady, SessionID: "s"})
	select {
	case _, ok := <-late:
		if ok {
			t.Fatalf("late subscriber received an event after Close")
		}
	case <-time.After(time.Second):
		t.Fatalf("late subscriber channel not closed")
	}
	if b.ClientCount() != 0 {
		t.Fatalf("ClientCount() = %d, want 0", b.ClientCount())
	}
}
