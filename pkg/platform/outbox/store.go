package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines the outbox persistence operations.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append adds a new entry to the outbox.
	Append(ctx context.Context, entry *Entry) error

	// FetchUnprocessed returns up to limit pending entries, oldest first.
	FetchUnprocessed(ctx context.Context, limit int) ([]*Entry, error)

	// MarkProcessed marks an entry as relayed.
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error

	// CountPending returns the number of pending entries.
	CountPending(ctx context.Context) (int64, error)

	// DeleteProcessedBefore removes relayed entries older than before.
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// maxBatch caps FetchUnprocessed regardless of the requested limit.
const maxBatch = 1000
