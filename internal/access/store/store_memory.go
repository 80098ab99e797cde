package store

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"refaccess/internal/access/models"
	id "refaccess/pkg/domain"
	"refaccess/pkg/platform/sentinel"
	platformsync "refaccess/pkg/platform/sync"
)

// Error Contract:
// - FindByID and Execute return sentinel.ErrNotFound for unknown ids
// - Create returns sentinel.ErrConflict when the id already exists
// - validate errors from Execute are returned unchanged

// InMemoryStore keeps requests in a map. Mutations of one request are
// serialised by a sharded mutex keyed by request id; the map lock is only held
// for the copy in and out.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[id.RequestID]*models.Request
	locks    *platformsync.ShardedMutex
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		requests: make(map[id.RequestID]*models.Request),
		locks:    platformsync.NewShardedMutex(0),
	}
}

func (s *InMemoryStore) Create(_ context.Context, req *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return sentinel.ErrConflict
	}
	s.requests[req.ID] = clone(req)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, requestID id.RequestID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(req), nil
}

// Execute atomically validates and mutates a request under its shard lock.
func (s *InMemoryStore) Execute(ctx context.Context, requestID id.RequestID, validate func(*models.Request) error, mutate func(*models.Request)) (*models.Request, error) {
	key := requestID.String()
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req, err := s.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := validate(req); err != nil {
		return nil, err
	}
	mutate(req)

	s.mu.Lock()
	s.requests[requestID] = clone(req)
	s.mu.Unlock()
	return req, nil
}

// ExpirePending moves up to limit overdue pending requests to expired and
// returns them in their new state, oldest deadline first.
func (s *InMemoryStore) ExpirePending(ctx context.Context, now time.Time, limit int) ([]*models.Request, error) {
	s.mu.RLock()
	var due []*models.Request
	for _, req := range s.requests {
		if req.IsExpiredAt(now) {
			due = append(due, req)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(due, func(a, b *models.Request) int {
		return a.ExpiresAt.Compare(b.ExpiresAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	expired := make([]*models.Request, 0, len(due))
	for _, candidate := range due {
		req, err := s.Execute(ctx, candidate.ID,
			func(r *models.Request) error {
				// A signal may have landed since the scan.
				if !r.IsExpiredAt(now) {
					return errNotDue
				}
				return nil
			},
			func(r *models.Request) { r.Expire(now) },
		)
		if errors.Is(err, errNotDue) {
			continue
		}
		if err != nil {
			return expired, err
		}
		expired = append(expired, req)
	}
	return expired, nil
}

func clone(req *models.Request) *models.Request {
	c := *req
	return &c
}
