package eventbus

import (
	"testing"
	"time"
)

func TestFanoutAndUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub2()

	b.Publish(Event{Type: TypeAdvance})
	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != TypeAdvance {
				t.Fatalf("sub %d: type = %q", i, e.Type)
			}
			if e.Time.IsZero() {
				t.Fatalf("sub %d: zero timestamp not filled", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub %d: no event delivered", i)
		}
	}

	unsub1()
	unsub1() // idempotent
	b.Publish(Event{Type: TypeAdvance})
	select {
	case e := <-ch2:
		if e.Type != TypeAdvance {
			t.Fatalf("type = %q", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("surviving subscriber got nothing")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: TypePosition, Data: PositionChange{Position: i, Total: 100}})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}
