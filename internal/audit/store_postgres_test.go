package audit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "refaccess/pkg/domain"
)

type PostgresStoreSuite struct {
	suite.Suite
	mock  sqlmock.Sqlmock
	store *PostgresStore
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupTest() {
	db, mock, err := sqlmock.New()
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = db.Close() })
	s.mock = mock
	s.store = NewPostgresStore(db)
	s.ctx = context.Background()
}

func (s *PostgresStoreSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
}

func (s *PostgresStoreSuite) TestAppend() {
	event := Event{
		ID:        id.NewEventID(),
		RequestID: id.NewRequestID(),
		ActorID:   id.ActorID(uuid.New()),
		Type:      EventStatusChange,
		Detail:    "approved",
		Timestamp: t0,
	}
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_events")).
		WithArgs(uuid.UUID(event.ID), uuid.UUID(event.RequestID), uuid.UUID(event.ActorID), "status_change", "approved", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.NoError(s.store.Append(s.ctx, event))
}

func (s *PostgresStoreSuite) TestAppendFailure() {
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_events")).
		WillReturnError(errors.New("audit_events is append-only"))

	err := s.store.Append(s.ctx, Event{Type: EventAccess, Timestamp: t0})

	s.ErrorContains(err, "insert audit event")
}

func (s *PostgresStoreSuite) TestCountBuildsFilters() {
	access := EventAccess
	requestID := id.NewRequestID()
	q := Query{EventType: &access, RequestID: &requestID, From: t0, To: t0.Add(time.Hour)}
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_events WHERE occurred_at >= $1 AND occurred_at < $2 AND event_type = $3 AND request_id = $4")).
		WithArgs(t0, t0.Add(time.Hour), "access", uuid.UUID(requestID)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	n, err := s.store.Count(s.ctx, q)

	s.Require().NoError(err)
	s.Equal(int64(7), n)
}

func (s *PostgresStoreSuite) TestCountByBucketFillsGaps() {
	q := Query{From: t0, To: t0.Add(3 * time.Hour)}
	s.mock.ExpectQuery(regexp.QuoteMeta("GROUP BY bucket")).
		WithArgs(t0, t0.Add(3*time.Hour), float64(3600)).
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "count"}).
			AddRow(int64(0), int64(4)).
			AddRow(int64(2), int64(1)))

	buckets, err := s.store.CountByBucket(s.ctx, q, time.Hour)

	s.Require().NoError(err)
	s.Require().Len(buckets, 3)
	s.Equal(int64(4), buckets[0].Count)
	s.Equal(int64(0), buckets[1].Count)
	s.Equal(int64(1), buckets[2].Count)
	s.Equal(t0.Add(2*time.Hour), buckets[2].Start)
}

func (s *PostgresStoreSuite) TestListByRequest() {
	requestID := id.NewRequestID()
	actor := uuid.New()
	eventID := uuid.New()
	s.mock.ExpectQuery(regexp.QuoteMeta("WHERE request_id = $1")).
		WithArgs(uuid.UUID(requestID)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "request_id", "actor_id", "event_type", "detail", "occurred_at"}).
			AddRow(eventID.String(), requestID.String(), actor.String(), "access", "", t0))

	events, err := s.store.ListByRequest(s.ctx, requestID)

	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(EventAccess, events[0].Type)
	s.Equal(id.ActorID(actor), events[0].ActorID)
	s.Equal(requestID, events[0].RequestID)
}
