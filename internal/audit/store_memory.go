package audit

import (
	"context"
	"sync"
	"time"

	id "refaccess/pkg/domain"
)

// InMemoryStore keeps events in an append-only slice. Readers copy the slice
// header under a brief read lock and scan without holding it: existing
// elements are never written again, so a scan cannot observe a torn event and
// writers are never blocked for the length of a scan.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) snapshot() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events[:len(s.events):len(s.events)]
}

func (s *InMemoryStore) Count(_ context.Context, q Query) (int64, error) {
	var n int64
	for _, e := range s.snapshot() {
		if q.matches(e) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) CountByBucket(_ context.Context, q Query, interval time.Duration) ([]Bucket, error) {
	buckets := emptyBuckets(q, interval)
	for _, e := range s.snapshot() {
		if q.matches(e) {
			buckets[e.Timestamp.Sub(q.From)/interval].Count++
		}
	}
	return buckets, nil
}

func (s *InMemoryStore) ListByRequest(_ context.Context, requestID id.RequestID) ([]Event, error) {
	var out []Event
	for _, e := range s.snapshot() {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}
