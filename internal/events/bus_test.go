package events

import "testing"

func TestPublishDeliversToSubscribersOfType(t *testing.T) {
	bus := NewBus()
	park := bus.Subscribe(EventPark)
	reset := bus.Subscribe(EventReset)

	bus.Publish(EventPark, Payload{"alt": 88.0})

	select {
	case p := <-park:
		if p["alt"] != 88.0 {
			t.Fatalf("payload = %v", p)
		}
	default:
		t.Fatal("park subscriber received nothing")
	}

	select {
	case p := <-reset:
		t.Fatalf("reset subscriber got unexpected %v", p)
	default:
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventBackoff)

	for i := 0; i < cap(sub)+5; i++ {
		bus.Publish(EventBackoff, Payload{"n": i})
	}
	if len(sub) != cap(sub) {
		t.Fatalf("buffered = %d, want %d", len(sub), cap(sub))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventRobState)
	bus.Unsubscribe(EventRobState, sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel")
	}

	// Publishing after unsubscribe must not panic on the closed channel.
	bus.Publish(EventRobState, Payload{"state": "ON"})
}
