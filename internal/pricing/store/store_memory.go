package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"refaccess/internal/pricing/models"
	id "refaccess/pkg/domain"
	"refaccess/pkg/platform/sentinel"
)

type memoryLock struct {
	token     string
	expiresAt time.Time
}

// InMemoryStore keeps quotes and locks in process. It is for tests and
// single-instance runs; locks expire against the injected clock.
type InMemoryStore struct {
	mu     sync.RWMutex
	quotes map[id.SubjectID]models.Quote
	locks  map[id.SubjectID]memoryLock
	now    func() time.Time
}

type MemoryOption func(*InMemoryStore)

func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryStore) {
		s.now = now
	}
}

func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		quotes: make(map[id.SubjectID]models.Quote),
		locks:  make(map[id.SubjectID]memoryLock),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Get(_ context.Context, subjectID id.SubjectID) (*models.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[subjectID]
	if !ok {
		return nil, sentinel.ErrCacheMiss
	}
	return &q, nil
}

func (s *InMemoryStore) Put(_ context.Context, quote *models.Quote) error {
	if quote == nil {
		return fmt.Errorf("quote is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[quote.SubjectID] = *quote
	return nil
}

func (s *InMemoryStore) TryLock(_ context.Context, subjectID id.SubjectID, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if held, ok := s.locks[subjectID]; ok && now.Before(held.expiresAt) {
		return "", sentinel.ErrLockHeld
	}
	token := uuid.NewString()
	s.locks[subjectID] = memoryLock{token: token, expiresAt: now.Add(ttl)}
	return token, nil
}

func (s *InMemoryStore) Unlock(_ context.Context, subjectID id.SubjectID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.locks[subjectID]; ok && held.token == token {
		delete(s.locks, subjectID)
	}
	return nil
}
