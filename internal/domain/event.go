package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event type names published on the outbound stream.
const (
	EventValidationCompleted = "validation.completed"
	EventQueueEntryExpired   = "queue.expired"
)

// Event is an outbound notification published after a commit.
type Event interface {
	EventType() string
	AggregateID() uuid.UUID
}

// ValidationCompleted is emitted when a validation reaches a terminal state.
type ValidationCompleted struct {
	ProductID     uuid.UUID        `json:"productId"`
	ValidationID  uuid.UUID        `json:"validationId"`
	Status        ValidationStatus `json:"status"`
	Verdict       Verdict          `json:"verdict,omitempty"`
	ProductStatus ProductStatus    `json:"productStatus"`
	QRCode        string           `json:"qrCode,omitempty"`
	OccurredAt    time.Time        `json:"occurredAt"`
}

func (e ValidationCompleted) EventType() string      { return EventValidationCompleted }
func (e ValidationCompleted) AggregateID() uuid.UUID { return e.ProductID }

// QueueEntryExpired is emitted when an entry lands in the dead letter view.
type QueueEntryExpired struct {
	EntryID    uuid.UUID `json:"entryId"`
	ProductID  uuid.UUID `json:"productId"`
	Attempts   int       `json:"attempts"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (e QueueEntryExpired) EventType() string      { return EventQueueEntryExpired }
func (e QueueEntryExpired) AggregateID() uuid.UUID { return e.EntryID }
