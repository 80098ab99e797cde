package audit

import (
	"time"

	id "refaccess/pkg/domain"
	dErrors "refaccess/pkg/domain-errors"
)

// EventType classifies an audit event.
type EventType string

const (
	// EventAccess records one disclosure of subject data.
	EventAccess EventType = "access"
	// EventStatusChange records a request status transition; Detail holds the
	// new status.
	EventStatusChange EventType = "status_change"
)

func (t EventType) IsValid() bool {
	return t == EventAccess || t == EventStatusChange
}

// Event is one immutable audit record.
type Event struct {
	ID        id.EventID
	RequestID id.RequestID
	ActorID   id.ActorID
	Type      EventType
	Detail    string
	Timestamp time.Time
}

// Query selects events in the half-open window [From, To). Nil filters match
// every event.
type Query struct {
	EventType *EventType
	RequestID *id.RequestID
	ActorID   *id.ActorID
	From      time.Time
	To        time.Time
}

// MaxBuckets bounds a CountByBucket report.
const MaxBuckets = 1000

// Validate checks the window and, when interval is positive, the bucket count.
func (q Query) Validate(interval time.Duration) error {
	if q.From.IsZero() || q.To.IsZero() {
		return dErrors.New(dErrors.CodeBadRequest, "from and to are required")
	}
	if !q.From.Before(q.To) {
		return dErrors.New(dErrors.CodeBadRequest, "from must be before to")
	}
	if q.EventType != nil && !q.EventType.IsValid() {
		return dErrors.New(dErrors.CodeBadRequest, "invalid event type")
	}
	if interval < 0 {
		return dErrors.New(dErrors.CodeBadRequest, "bucket must be positive")
	}
	if interval > 0 && bucketCount(q, interval) > MaxBuckets {
		return dErrors.New(dErrors.CodeBadRequest, "too many buckets for window")
	}
	return nil
}

func (q Query) matches(e Event) bool {
	if e.Timestamp.Before(q.From) || !e.Timestamp.Before(q.To) {
		return false
	}
	if q.EventType != nil && e.Type != *q.EventType {
		return false
	}
	if q.RequestID != nil && e.RequestID != *q.RequestID {
		return false
	}
	if q.ActorID != nil && e.ActorID != *q.ActorID {
		return false
	}
	return true
}

// Bucket is the event count for [Start, Start+interval).
type Bucket struct {
	Start time.Time
	Count int64
}

func bucketCount(q Query, interval time.Duration) int {
	span := q.To.Sub(q.From)
	n := int(span / interval)
	if span%interval != 0 {
		n++
	}
	return n
}

// emptyBuckets lays out zero-count buckets covering the window. The last
// bucket may extend past To; only events before To are counted into it.
func emptyBuckets(q Query, interval time.Duration) []Bucket {
	buckets := make([]Bucket, bucketCount(q, interval))
	for i := range buckets {
		buckets[i].Start = q.From.Add(time.Duration(i) * interval)
	}
	return buckets
}
