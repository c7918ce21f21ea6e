// Package events delivers domain events to external consumers after the
// transaction that produced them has committed.
//
// Delivery is best effort: the Dispatcher buffers events in memory and a
// single goroutine hands them to a Publisher. A Redis Streams publisher is
// used when REDIS_URL is configured; otherwise events are logged.
package events

import (
	"context"

	"github.com/decomontenegro/truelabel/internal/domain"
)

// Publisher delivers one event.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Sink accepts events for asynchronous delivery. Services depend on Sink so
// they never block on the outbound transport.
type Sink interface {
	Dispatch(event domain.Event)
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Dispatch(domain.Event) {}
