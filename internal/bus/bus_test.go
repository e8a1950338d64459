package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("socket.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindSocketStatus, Timestamp: time.Now(), Payload: "notifications"})

	select {
	case evt := <-ch:
		if evt.Kind != KindSocketStatus {
			t.Errorf("got kind %q, want %s", evt.Kind, KindSocketStatus)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("rooms.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindRoomMessage})
	b.Publish(Event{Kind: KindRoomsUpdated})

	select {
	case evt := <-ch:
		if evt.Kind != KindRoomsUpdated {
			t.Errorf("got kind %q, want %s", evt.Kind, KindRoomsUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// "room.message" shares the "room" stem but not the "rooms." prefix.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyPrefixMatchesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Publish(Event{Kind: KindUploadChanged})
	b.Publish(Event{Kind: KindRoomDeletion})

	if got := len(ch); got != 2 {
		t.Errorf("buffered events = %d, want 2", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("socket.", 10)
	unsub()
	unsub() // second call is harmless

	b.Publish(Event{Kind: KindSocketStatus})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBufferIsCounted(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("room.", 1)
	defer unsub()

	b.Publish(Event{Kind: "room.one"})
	b.Publish(Event{Kind: "room.two"})

	evt := <-ch
	if evt.Kind != "room.one" {
		t.Errorf("got %q, want room.one", evt.Kind)
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}
}
