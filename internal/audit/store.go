package audit

import (
	"context"
	"time"

	id "refaccess/pkg/domain"
)

// Store is the append-only event log. There is no update or delete.
type Store interface {
	Append(ctx context.Context, event Event) error
	Count(ctx context.Context, q Query) (int64, error)
	CountByBucket(ctx context.Context, q Query, interval time.Duration) ([]Bucket, error)
	ListByRequest(ctx context.Context, requestID id.RequestID) ([]Event, error)
}
