package events

import (
	"sync"
	"sync/atomic"

	"github.com/karmalabs/karma/logger"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 256

// Subscription is one observer's view of the bus. Events arrive on C in
// publish order. A subscriber that falls more than its buffer behind loses
// events rather than slowing publishers.
type Subscription struct {
	C  <-chan Event
	ch chan Event
	id int
}

// Bus fans events out to zero or more subscribers. Publish never blocks
// and never fails: delivery to each subscriber is a non-blocking send
// into its buffered channel, so a slow or stuck observer is dropped from
// the flow silently instead of backpressuring a live call.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int

	dropped atomic.Uint64
}

// NewBus creates an event bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers an observer with the default buffer size.
func (b *Bus) Subscribe() *Subscription {
	return b.SubscribeBuffered(DefaultSubscriberBuffer)
}

// SubscribeBuffered registers an observer with an explicit buffer size.
func (b *Bus) SubscribeBuffered(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{C: ch, ch: ch, id: b.nextID}
	b.subs[sub.id] = sub
	b.nextID++
	return sub
}

// Unsubscribe removes an observer and closes its channel. Safe to call
// more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)
}

// Publish delivers an event to every subscriber that has buffer room.
// Events published from one goroutine arrive at each subscriber in
// publish order; there is no ordering across publishers.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
			logger.For("events").Debug("dropping event for slow subscriber",
				"type", string(event.Type), "call_id", event.CallID)
		}
	}
}

// SubscriberCount reports the number of registered observers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many events were discarded for slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
