package events

import (
	"errors"
	"testing"
)

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	b := NewBus()
	var got []string
	b.Subscribe(func(e Event) { got = append(got, "first:"+string(e.Kind)) })
	b.Subscribe(func(e Event) { got = append(got, "second:"+string(e.Kind)) })

	b.Publish(Event{Kind: MessageStored, MessageID: "m1"})

	if len(got) != 2 || got[0] != "first:message_stored" || got[1] != "second:message_stored" {
		t.Fatalf("deliveries = %v", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	n := 0
	unsub := b.Subscribe(func(Event) { n++ })
	b.Publish(Event{Kind: QueueEmpty})
	unsub()
	unsub() // idempotent
	b.Publish(Event{Kind: QueueEmpty})

	if n != 1 {
		t.Fatalf("handler calls = %d; want 1", n)
	}
	if b.Len() != 0 {
		t.Fatalf("subscribers = %d; want 0", b.Len())
	}
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	b := NewBus()
	var seen Event
	b.Subscribe(func(Event) { panic("boom") })
	b.Subscribe(func(e Event) { seen = e })

	b.Publish(Event{Kind: StorageError, Err: errors.New("disk")})

	if seen.Kind != StorageError || seen.Time.IsZero() {
		t.Fatalf("second handler got %+v", seen)
	}
}

func TestBus_NilIsNoop(t *testing.T) {
	var b *Bus
	b.Publish(Event{Kind: QueueFull}) // must not panic
}
