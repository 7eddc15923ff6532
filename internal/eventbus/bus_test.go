package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: "task.created"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != "task.created" || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	if got := (<-ch).Type; got != "a" {
		t.Fatalf("first event = %s, want a", got)
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "c"})
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestHasPrefix(t *testing.T) {
	if !HasPrefix(Event{Type: "reminder.fired"}, "reminder") {
		t.Fatal("expected match")
	}
	if HasPrefix(Event{Type: "reminders.fired"}, "reminder") {
		t.Fatal("unexpected match on longer namespace")
	}
}
