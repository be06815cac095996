package prometheus

import (
	"github.com/karmalabs/karma/events"
)

// MetricsListener records call events as Prometheus metrics. It consumes a
// bus subscription on its own goroutine so metric recording never touches
// the pipeline's hot path.
type MetricsListener struct {
	bus  *events.Bus
	sub  *events.Subscription
	done chan struct{}
}

// NewMetricsListener subscribes to the bus and starts recording.
func NewMetricsListener(bus *events.Bus) *MetricsListener {
	l := &MetricsListener{
		bus:  bus,
		sub:  bus.Subscribe(),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// Close detaches the listener from the bus and waits for it to drain.
func (l *MetricsListener) Close() {
	l.bus.Unsubscribe(l.sub)
	<-l.done
}

func (l *MetricsListener) run() {
	defer close(l.done)
	for event := range l.sub.C {
		l.handle(event)
	}
}

func (l *MetricsListener) handle(event events.Event) {
	switch event.Type {
	case events.TypeSessionStarted:
		RecordCallStart()
	case events.TypeTurnRecorded:
		RecordTurn(event.Role)
	case events.TypeIntelFound:
		if event.Intel != nil {
			RecordIntelItem(event.Intel.Field)
		}
	case events.TypeStatusChanged:
		if event.Status == events.StatusFailed {
			RecordTurnFailure()
		}
	}
	// Session end needs the call duration, which the registry records
	// directly; it is not derivable from the event alone.
}
