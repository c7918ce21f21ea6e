package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/decomontenegro/truelabel/internal/domain"
	"github.com/decomontenegro/truelabel/internal/metrics"
)

const publishTimeout = 5 * time.Second

// Dispatcher queues events and publishes them from a background goroutine.
// Dispatch never blocks; when the buffer is full the event is dropped and
// counted.
type Dispatcher struct {
	publisher Publisher
	logger    *slog.Logger

	events    chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewDispatcher starts the delivery goroutine.
func NewDispatcher(publisher Publisher, buffer int, logger *slog.Logger) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	d := &Dispatcher{
		publisher: publisher,
		logger:    logger,
		events:    make(chan domain.Event, buffer),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

// Dispatch implements Sink.
func (d *Dispatcher) Dispatch(event domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		metrics.EventsPublished.WithLabelValues(event.EventType(), "dropped").Inc()
		return
	}

	select {
	case d.events <- event:
	default:
		metrics.EventsPublished.WithLabelValues(event.EventType(), "dropped").Inc()
		d.logger.Warn("event buffer full, dropping event",
			"type", event.EventType(),
			"aggregate_id", event.AggregateID(),
		)
	}
}

// Close stops accepting events and waits until the buffer is drained or ctx
// expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.events)
		d.mu.Unlock()
	})

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for event := range d.events {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := d.publisher.Publish(ctx, event)
		cancel()

		if err != nil {
			metrics.EventsPublished.WithLabelValues(event.EventType(), "failed").Inc()
			d.logger.Error("failed to publish event",
				"type", event.EventType(),
				"aggregate_id", event.AggregateID(),
				"error", err,
			)
			continue
		}
		metrics.EventsPublished.WithLabelValues(event.EventType(), "published").Inc()
	}
}
