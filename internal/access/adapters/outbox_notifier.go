package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"refaccess/internal/access/models"
	"refaccess/pkg/platform/outbox"
)

const aggregateType = "access_request"

// OutboxNotifier implements service.Notifier by appending events to the
// outbox. The outbox worker relays them to Kafka.
type OutboxNotifier struct {
	store outbox.Store
	now   func() time.Time
}

func NewOutboxNotifier(store outbox.Store, now func() time.Time) *OutboxNotifier {
	if now == nil {
		now = time.Now
	}
	return &OutboxNotifier{store: store, now: now}
}

// eventPayload is the JSON body published for every access request event.
type eventPayload struct {
	EventType    string    `json:"event_type"`
	RequestID    string    `json:"request_id"`
	RequesterID  string    `json:"requester_id"`
	TargetUserID string    `json:"target_user_id"`
	Status       string    `json:"status"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func (n *OutboxNotifier) Notify(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(eventPayload{
		EventType:    string(event.Type),
		RequestID:    event.RequestID.String(),
		RequesterID:  event.RequesterID.String(),
		TargetUserID: event.TargetUserID.String(),
		Status:       string(event.Status),
		OccurredAt:   event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	entry := outbox.NewEntry(aggregateType, event.RequestID.String(), string(event.Type), payload, n.now())
	if err := n.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("enqueue %s event: %w", event.Type, err)
	}
	return nil
}
