package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"refaccess/internal/access/models"
	id "refaccess/pkg/domain"
	"refaccess/pkg/platform/sentinel"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newPending(t *testing.T, createdAt time.Time) *models.Request {
	t.Helper()
	req, err := models.NewRequest(
		id.NewRequestID(),
		id.OrgID(uuid.New()),
		id.SubjectID(uuid.New()),
		models.DataTypeFull,
		"hiring",
		decimal.RequireFromString("114.68"),
		"EUR",
		createdAt,
		models.DefaultRequestWindow,
	)
	require.NoError(t, err)
	return req
}

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) TestCreateAndFind() {
	req := newPending(s.T(), t0)
	s.Require().NoError(s.store.Create(s.ctx, req))

	found, err := s.store.FindByID(s.ctx, req.ID)

	s.Require().NoError(err)
	s.Equal(req, found)
	s.NotSame(req, found)
}

func (s *InMemoryStoreSuite) TestCreateDuplicate() {
	req := newPending(s.T(), t0)
	s.Require().NoError(s.store.Create(s.ctx, req))

	s.ErrorIs(s.store.Create(s.ctx, req), sentinel.ErrConflict)
}

func (s *InMemoryStoreSuite) TestFindUnknown() {
	_, err := s.store.FindByID(s.ctx, id.NewRequestID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestExecute() {
	req := newPending(s.T(), t0)
	s.Require().NoError(s.store.Create(s.ctx, req))

	s.Run("mutation is persisted", func() {
		updated, err := s.store.Execute(s.ctx, req.ID,
			func(*models.Request) error { return nil },
			func(r *models.Request) { r.GiveConsent(t0.Add(time.Hour)) },
		)
		s.Require().NoError(err)
		s.True(updated.HasConsent())

		found, err := s.store.FindByID(s.ctx, req.ID)
		s.Require().NoError(err)
		s.True(found.HasConsent())
	})

	s.Run("validation failure leaves the record untouched", func() {
		boom := errors.New("not allowed")
		_, err := s.store.Execute(s.ctx, req.ID,
			func(*models.Request) error { return boom },
			func(r *models.Request) { r.Reject(t0, "nope") },
		)
		s.ErrorIs(err, boom)

		found, err := s.store.FindByID(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, found.Status)
	})

	s.Run("unknown id", func() {
		_, err := s.store.Execute(s.ctx, id.NewRequestID(),
			func(*models.Request) error { return nil },
			func(*models.Request) {},
		)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestExecuteSerialisesPerRequest() {
	req := newPending(s.T(), t0)
	s.Require().NoError(s.store.Create(s.ctx, req))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(s.ctx, req.ID,
				func(*models.Request) error { return nil },
				func(r *models.Request) { r.RecordAccess(t0) },
			)
			s.NoError(err)
		}()
	}
	wg.Wait()

	found, err := s.store.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(50, found.AccessCount)
}

func (s *InMemoryStoreSuite) TestExpirePending() {
	overdueOld := newPending(s.T(), t0.Add(-10*24*time.Hour))
	overdueNew := newPending(s.T(), t0.Add(-8*24*time.Hour))
	fresh := newPending(s.T(), t0)
	approved := newPending(s.T(), t0.Add(-9*24*time.Hour))
	approved.GiveConsent(t0.Add(-9 * 24 * time.Hour))
	approved.MarkPaid(t0.Add(-9 * 24 * time.Hour))
	for _, r := range []*models.Request{overdueOld, overdueNew, fresh, approved} {
		s.Require().NoError(s.store.Create(s.ctx, r))
	}

	s.Run("respects limit and deadline order", func() {
		expired, err := s.store.ExpirePending(s.ctx, t0, 1)
		s.Require().NoError(err)
		s.Require().Len(expired, 1)
		s.Equal(overdueOld.ID, expired[0].ID)
		s.Equal(models.StatusExpired, expired[0].Status)
		s.Equal(t0, *expired[0].DecidedAt)
	})

	s.Run("remaining overdue requests", func() {
		expired, err := s.store.ExpirePending(s.ctx, t0, 0)
		s.Require().NoError(err)
		s.Require().Len(expired, 1)
		s.Equal(overdueNew.ID, expired[0].ID)
	})

	s.Run("nothing left", func() {
		expired, err := s.store.ExpirePending(s.ctx, t0, 0)
		s.Require().NoError(err)
		s.Empty(expired)

		found, err := s.store.FindByID(s.ctx, fresh.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, found.Status)
		found, err = s.store.FindByID(s.ctx, approved.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, found.Status)
	})
}

func TestInMemoryStore_ExecuteHonoursCancelledContext(t *testing.T) {
	st := NewInMemory()
	req := newPending(t, t0)
	require.NoError(t, st.Create(context.Background(), req))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := st.Execute(ctx, req.ID,
		func(*models.Request) error { return nil },
		func(*models.Request) {},
	)
	assert.ErrorIs(t, err, context.Canceled)
}
