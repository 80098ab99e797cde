//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"refaccess/internal/pricing/models"
	"refaccess/internal/pricing/store"
	id "refaccess/pkg/domain"
	"refaccess/pkg/platform/sentinel"
	"refaccess/pkg/testutil"
	"refaccess/pkg/testutil/containers"
)

type RedisStoreIntegrationSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.RedisStore
}

func TestRedisStoreIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreIntegrationSuite))
}

func (s *RedisStoreIntegrationSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = store.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreIntegrationSuite) SetupTest() {
	s.Require().NoError(s.redis.Flush(context.Background()))
}

// Exactly one of many concurrent callers wins the computation lock.
func (s *RedisStoreIntegrationSuite) TestTryLockSingleWinner() {
	ctx := context.Background()
	subjectID := id.SubjectID(uuid.New())
	var winners atomic.Int32

	result := testutil.RunConcurrent(30, func(int) error {
		_, err := s.store.TryLock(ctx, subjectID, 5*time.Second)
		if errors.Is(err, sentinel.ErrLockHeld) {
			return nil
		}
		if err == nil {
			winners.Add(1)
		}
		return err
	})

	s.Zero(result.Errors)
	s.EqualValues(1, winners.Load())
}

func (s *RedisStoreIntegrationSuite) TestUnlockWithStaleTokenKeepsLock() {
	ctx := context.Background()
	subjectID := id.SubjectID(uuid.New())

	token, err := s.store.TryLock(ctx, subjectID, 5*time.Second)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Unlock(ctx, subjectID, "someone-else"))
	_, err = s.store.TryLock(ctx, subjectID, 5*time.Second)
	s.ErrorIs(err, sentinel.ErrLockHeld)

	s.Require().NoError(s.store.Unlock(ctx, subjectID, token))
	_, err = s.store.TryLock(ctx, subjectID, 5*time.Second)
	s.NoError(err)
}

func (s *RedisStoreIntegrationSuite) TestPutThenGet() {
	ctx := context.Background()
	subjectID := id.SubjectID(uuid.New())
	now := time.Now().UTC().Truncate(time.Millisecond)

	s.Require().NoError(s.store.Put(ctx, &models.Quote{
		SubjectID:  subjectID,
		Amount:     decimal.RequireFromString("87.30"),
		Currency:   "USD",
		Base:       decimal.NewFromInt(25),
		Raw:        decimal.RequireFromString("87.2961"),
		Factors:    map[string]float64{models.FactorRarity: 1.25},
		ComputedAt: now,
		ValidUntil: now.Add(time.Hour),
	}))

	got, err := s.store.Get(ctx, subjectID)
	s.Require().NoError(err)
	s.True(decimal.RequireFromString("87.30").Equal(got.Amount))
	s.True(got.IsFresh(now.Add(time.Minute)))
}
