// Package outbox implements the transactional outbox for domain events. Event
// producers append entries; a worker relays unprocessed entries to Kafka and
// marks them processed, so a broker outage never fails the business call.
package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one pending or relayed event.
type Entry struct {
	ID            uuid.UUID
	AggregateType string // e.g. "access_request"
	AggregateID   string // used as the Kafka partition key
	EventType     string // e.g. "access_request.approved"
	Payload       []byte // JSON
	CreatedAt     time.Time
	ProcessedAt   *time.Time // nil = pending
}

// IsPending reports whether the entry still needs relaying.
func (e *Entry) IsPending() bool {
	return e.ProcessedAt == nil
}

// NewEntry creates an entry with a generated id.
func NewEntry(aggregateType, aggregateID, eventType string, payload []byte, createdAt time.Time) *Entry {
	return &Entry{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     createdAt,
	}
}
