package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/decomontenegro/truelabel/internal/domain"
)

// LogPublisher writes events to the application log. Used when no broker is
// configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.logger.Info("event",
		"type", event.EventType(),
		"aggregate_id", event.AggregateID(),
		"payload", json.RawMessage(payload),
	)
	return nil
}
