package store

import (
	"context"
	"sync"
	"time"

	"github.com/karmalabs/karma/convo"
	"github.com/karmalabs/karma/events"
	"github.com/karmalabs/karma/logger"
)

const recorderWriteTimeout = 5 * time.Second

// Recorder subscribes to the event bus and persists what it sees: session
// starts become call records, turns become transcript entries, intel items
// accumulate on the record, and session ends close it out. Pipelines never
// touch the store directly.
type Recorder struct {
	store Store
	bus   *events.Bus
	sub   *events.Subscription
	done  chan struct{}
	once  sync.Once
}

// NewRecorder starts persisting bus events into the store.
func NewRecorder(store Store, bus *events.Bus) *Recorder {
	r := &Recorder{
		store: store,
		bus:   bus,
		sub:   bus.Subscribe(),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for event := range r.sub.C {
		r.handle(event)
	}
}

func (r *Recorder) handle(event events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recorderWriteTimeout)
	defer cancel()

	var err error
	switch event.Type {
	case events.TypeSessionStarted:
		err = r.store.CreateCall(ctx, &CallRecord{
			CallID:    event.CallID,
			Transport: event.Transport,
			StartedAt: event.Timestamp,
		})
	case events.TypeTurnRecorded:
		err = r.store.AppendTurn(ctx, event.CallID, convo.Turn{
			Role:      convo.Role(event.Role),
			Text:      event.Text,
			Timestamp: event.Timestamp,
		})
	case events.TypeIntelFound:
		if event.Intel != nil {
			err = r.store.AppendIntel(ctx, event.CallID, *event.Intel)
		}
	case events.TypeSessionEnded:
		err = r.store.EndCall(ctx, event.CallID, event.Reason, event.Timestamp)
	}

	if err != nil {
		logger.For("store.recorder").Error("failed to persist event",
			"type", string(event.Type), "call_id", event.CallID, "error", err)
	}
}

// Close stops the recorder and waits for in-flight writes to finish.
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.bus.Unsubscribe(r.sub)
	})
	<-r.done
}
