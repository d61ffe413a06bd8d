package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubC()

	b.Publish(Event{Type: RunStarted, Data: 3})
	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != RunStarted || e.Data != 3 || e.Time.IsZero() {
				t.Fatalf("event = %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatalf("event not delivered")
		}
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatalf("channel still open after unsubscribe")
	}
	b.Publish(Event{Type: RunFinished})
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: OptionsChanged})
	b.Publish(Event{Type: OptionsChanged})
	if got := Dropped(b); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
	if got := Dropped(Nop()); got != 0 {
		t.Fatalf("Dropped(Nop()) = %d", got)
	}
}
