package eventbus

import "testing"

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	ticks, unsubTicks := b.Subscribe(4, TypeDispatchTick)
	defer unsubTicks()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: TypeDeliveryFailed})
	b.Publish(Event{Type: TypeDispatchTick, Data: 3})

	select {
	case e := <-ticks:
		if e.Type != TypeDispatchTick || e.Data != 3 || e.Time.IsZero() {
			t.Fatalf("unexpected event: %+v", e)
		}
	default:
		t.Fatalf("expected tick event")
	}
	select {
	case e := <-ticks:
		t.Fatalf("filtered subscriber got extra event %+v", e)
	default:
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered subscriber expected 2 events, got %d", len(all))
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: "x"})
	}
	if got := b.Dropped(); got != 4 {
		t.Fatalf("dropped=%d want 4", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	b.Publish(Event{Type: "after"})
}
