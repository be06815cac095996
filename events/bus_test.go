package events

import (
	"fmt"
	"testing"
	"time"
)

func TestBusDeliversInPublishOrder(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	for i := 0; i < 10; i++ {
		bus.Publish(TurnRecorded("CA123", "remote", fmt.Sprintf("turn %d", i)))
	}

	for i := 0; i < 10; i++ {
		select {
		case event := <-sub.C:
			want := fmt.Sprintf("turn %d", i)
			if event.Text != want {
				t.Fatalf("event %d text = %q, want %q", i, event.Text, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	first := bus.Subscribe()
	second := bus.Subscribe()
	defer bus.Unsubscribe(first)
	defer bus.Unsubscribe(second)

	bus.Publish(SessionStarted("CA123", "telephone"))

	for _, sub := range []*Subscription{first, second} {
		select {
		case event := <-sub.C:
			if event.Type != TypeSessionStarted {
				t.Errorf("unexpected type %s", event.Type)
			}
			if event.Transport != "telephone" {
				t.Errorf("unexpected transport %s", event.Transport)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBusSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	sub := bus.SubscribeBuffered(2)
	defer bus.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Publish(StatusChanged("CA123", StatusListening))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	if got := len(sub.C); got != 2 {
		t.Errorf("expected buffer to hold 2 events, got %d", got)
	}
	if bus.Dropped() != 98 {
		t.Errorf("expected 98 dropped events, got %d", bus.Dropped())
	}
}

func TestBusPublishWithNoSubscribers(t *testing.T) {
	bus := NewBus()
	bus.Publish(SessionEnded("CA123", "hangup"))
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)

	if _, ok := <-sub.C; ok {
		t.Error("expected closed channel")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}

	bus.Publish(SessionEnded("CA123", "hangup"))
}
