package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	id "refaccess/pkg/domain"
)

// PostgresStore persists events in audit_events. A trigger rejects updates
// and deletes, so the table is append-only at the database level too.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO audit_events (id, request_id, actor_id, event_type, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(event.ID),
		uuid.UUID(event.RequestID),
		uuid.UUID(event.ActorID),
		string(event.Type),
		event.Detail,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context, q Query) (int64, error) {
	where, args := whereClause(q)
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return n, nil
}

// CountByBucket groups matching events by floor((occurred_at - from) / interval)
// and fills empty buckets with zero counts.
func (s *PostgresStore) CountByBucket(ctx context.Context, q Query, interval time.Duration) ([]Bucket, error) {
	where, args := whereClause(q)
	args = append(args, interval.Seconds())
	query := fmt.Sprintf(`
		SELECT FLOOR(EXTRACT(EPOCH FROM (occurred_at - $1))::FLOAT8 / $%d::FLOAT8)::BIGINT AS bucket, COUNT(*)
		FROM audit_events
		WHERE %s
		GROUP BY bucket
		ORDER BY bucket
	`, len(args), where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bucket audit events: %w", err)
	}
	defer rows.Close()

	buckets := emptyBuckets(q, interval)
	for rows.Next() {
		var idx, count int64
		if err := rows.Scan(&idx, &count); err != nil {
			return nil, fmt.Errorf("scan audit bucket: %w", err)
		}
		if idx >= 0 && idx < int64(len(buckets)) {
			buckets[idx].Count = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit buckets: %w", err)
	}
	return buckets, nil
}

func (s *PostgresStore) ListByRequest(ctx context.Context, requestID id.RequestID) ([]Event, error) {
	query := `
		SELECT id, request_id, actor_id, event_type, detail, occurred_at
		FROM audit_events
		WHERE request_id = $1
		ORDER BY occurred_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(requestID))
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                       Event
			eventID, reqID, actorID uuid.UUID
			eventType               string
		)
		if err := rows.Scan(&eventID, &reqID, &actorID, &eventType, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.ID = id.EventID(eventID)
		e.RequestID = id.RequestID(reqID)
		e.ActorID = id.ActorID(actorID)
		e.Type = EventType(eventType)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// whereClause renders the window and optional filters. $1 and $2 are always
// From and To.
func whereClause(q Query) (string, []any) {
	conds := []string{"occurred_at >= $1", "occurred_at < $2"}
	args := []any{q.From, q.To}
	if q.EventType != nil {
		args = append(args, string(*q.EventType))
		conds = append(conds, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if q.RequestID != nil {
		args = append(args, uuid.UUID(*q.RequestID))
		conds = append(conds, fmt.Sprintf("request_id = $%d", len(args)))
	}
	if q.ActorID != nil {
		args = append(args, uuid.UUID(*q.ActorID))
		conds = append(conds, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	return strings.Join(conds, " AND "), args
}
