package profile

import (
	"context"
	"maps"
	"slices"
	"sync"

	"refaccess/internal/pricing/models"
	id "refaccess/pkg/domain"
	"refaccess/pkg/platform/sentinel"
)

// InMemoryStore is a seeded profile store for tests and local runs.
type InMemoryStore struct {
	mu        sync.RWMutex
	snapshots map[id.SubjectID]models.CandidateSnapshot
	data      map[id.SubjectID]SubjectData
	market    models.MarketContext
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		snapshots: make(map[id.SubjectID]models.CandidateSnapshot),
		data:      make(map[id.SubjectID]SubjectData),
	}
}

// PutSubject seeds a subject's pricing snapshot and disclosable data.
func (s *InMemoryStore) PutSubject(snapshot models.CandidateSnapshot, data SubjectData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data.SubjectID = snapshot.SubjectID
	s.snapshots[snapshot.SubjectID] = snapshot
	s.data[snapshot.SubjectID] = data
}

func (s *InMemoryStore) SetMarket(market models.MarketContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.market = models.MarketContext{
		AvgQueries30d:    market.AvgQueries30d,
		GeographyIndex:   maps.Clone(market.GeographyIndex),
		IndustryTurnover: maps.Clone(market.IndustryTurnover),
	}
}

func (s *InMemoryStore) FetchSnapshot(_ context.Context, subjectID id.SubjectID) (*models.CandidateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.snapshots[subjectID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &snapshot, nil
}

func (s *InMemoryStore) FetchMarket(_ context.Context) (*models.MarketContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &models.MarketContext{
		AvgQueries30d:    s.market.AvgQueries30d,
		GeographyIndex:   maps.Clone(s.market.GeographyIndex),
		IndustryTurnover: maps.Clone(s.market.IndustryTurnover),
	}, nil
}

func (s *InMemoryStore) FetchSubjectData(_ context.Context, subjectID id.SubjectID, scope Scope) (*SubjectData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[subjectID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	data.Profile = maps.Clone(data.Profile)
	data.References = slices.Clone(data.References)
	return applyScope(&data, scope), nil
}
