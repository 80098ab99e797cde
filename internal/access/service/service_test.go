package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,PriceQuoter,SubjectDataReader,Notifier,Auditor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"refaccess/internal/access/metrics"
	"refaccess/internal/access/models"
	"refaccess/internal/access/service/mocks"
	"refaccess/internal/access/store"
	"refaccess/internal/audit"
	pricingmodels "refaccess/internal/pricing/models"
	"refaccess/internal/pricing/profile"
	id "refaccess/pkg/domain"
	dErrors "refaccess/pkg/domain-errors"
	"refaccess/pkg/testutil"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type ManagerSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	store    *store.InMemoryStore
	prices   *mocks.MockPriceQuoter
	subjects *mocks.MockSubjectDataReader
	notifier *mocks.MockNotifier
	auditor  *mocks.MockAuditor
	manager  *Manager
	ctx      context.Context

	clockMu sync.Mutex
	clock   time.Time

	mu     sync.Mutex
	audits []audit.Event
	events []models.Event

	requester id.OrgID
	target    id.SubjectID
	payment   id.ActorID
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = store.NewInMemory()
	s.prices = mocks.NewMockPriceQuoter(s.ctrl)
	s.subjects = mocks.NewMockSubjectDataReader(s.ctrl)
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.auditor = mocks.NewMockAuditor(s.ctrl)
	s.ctx = context.Background()
	s.clock = t0
	s.audits = nil
	s.events = nil
	s.requester = id.OrgID(uuid.New())
	s.target = id.SubjectID(uuid.New())
	s.payment = id.ActorID(uuid.New())

	s.auditor.EXPECT().Record(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, requestID id.RequestID, actor id.ActorID, eventType audit.EventType, detail string) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.audits = append(s.audits, audit.Event{RequestID: requestID, ActorID: actor, Type: eventType, Detail: detail})
			return nil
		}).AnyTimes()
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event models.Event) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.events = append(s.events, event)
			return nil
		}).AnyTimes()

	s.manager = New(s.store, s.prices, s.subjects, s.notifier, s.auditor,
		WithClock(s.now),
		WithMetrics(metrics.NewWithRegisterer(prometheus.NewRegistry())),
	)
}

func (s *ManagerSuite) now() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	return s.clock
}

func (s *ManagerSuite) advance(d time.Duration) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.clock = s.clock.Add(d)
}

func (s *ManagerSuite) quote() *pricingmodels.Quote {
	return &pricingmodels.Quote{
		SubjectID:  s.target,
		Amount:     decimal.RequireFromString("114.68"),
		Currency:   "EUR",
		ComputedAt: t0,
		ValidUntil: t0.Add(time.Hour),
	}
}

func (s *ManagerSuite) create(dataType models.DataType) *models.Request {
	s.prices.EXPECT().GetPrice(gomock.Any(), s.target).Return(s.quote(), nil)
	req, err := s.manager.CreateRequest(s.ctx, CreateCommand{
		RequesterID:  s.requester,
		TargetUserID: s.target,
		DataType:     dataType,
		Reason:       "hiring",
	})
	s.Require().NoError(err)
	return req
}

func (s *ManagerSuite) approve(req *models.Request) {
	_, err := s.manager.RecordConsent(s.ctx, req.ID, s.target)
	s.Require().NoError(err)
	_, err = s.manager.ConfirmPayment(s.ctx, req.ID, s.payment)
	s.Require().NoError(err)
}

func (s *ManagerSuite) statusAudits(requestID id.RequestID, detail string) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	for _, e := range s.audits {
		if e.RequestID == requestID && e.Type == audit.EventStatusChange && e.Detail == detail {
			out = append(out, e)
		}
	}
	return out
}

func (s *ManagerSuite) eventsOf(requestID id.RequestID, eventType models.EventType) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, e := range s.events {
		if e.RequestID == requestID && e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (s *ManagerSuite) TestCreateRequest() {
	req := s.create(models.DataTypeFull)

	s.Equal(models.StatusPending, req.Status)
	s.Equal(models.PaymentUnpaid, req.PaymentStatus)
	s.Equal("114.68", req.PriceAmount.StringFixed(2))
	s.Equal("EUR", req.Currency)
	s.Equal(t0.Add(7*24*time.Hour), req.ExpiresAt)

	stored, err := s.store.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(req, stored)
	s.Len(s.eventsOf(req.ID, models.EventCreated), 1)
	s.Len(s.statusAudits(req.ID, "pending"), 1)
}

func (s *ManagerSuite) TestCreateRequestErrors() {
	s.Run("unknown data type", func() {
		_, err := s.manager.CreateRequest(s.ctx, CreateCommand{
			RequesterID: s.requester, TargetUserID: s.target, DataType: "everything",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("missing target", func() {
		_, err := s.manager.CreateRequest(s.ctx, CreateCommand{
			RequesterID: s.requester, DataType: models.DataTypeFull,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("unknown subject", func() {
		s.prices.EXPECT().GetPrice(gomock.Any(), s.target).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "subject not found"))
		_, err := s.manager.CreateRequest(s.ctx, CreateCommand{
			RequesterID: s.requester, TargetUserID: s.target, DataType: models.DataTypeFull,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("profile store down", func() {
		s.prices.EXPECT().GetPrice(gomock.Any(), s.target).
			Return(nil, dErrors.New(dErrors.CodeUpstreamUnavailable, "profile store unavailable"))
		_, err := s.manager.CreateRequest(s.ctx, CreateCommand{
			RequesterID: s.requester, TargetUserID: s.target, DataType: models.DataTypeFull,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeUpstreamUnavailable))
	})
}

func (s *ManagerSuite) TestApprovalInEitherOrder() {
	s.Run("consent then payment", func() {
		req := s.create(models.DataTypeFull)

		afterConsent, err := s.manager.RecordConsent(s.ctx, req.ID, s.target)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, afterConsent.Status)

		approved, err := s.manager.ConfirmPayment(s.ctx, req.ID, s.payment)
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, approved.Status)
		s.Len(s.eventsOf(req.ID, models.EventApproved), 1)
		s.Len(s.statusAudits(req.ID, "approved"), 1)
	})

	s.Run("payment then consent", func() {
		req := s.create(models.DataTypeFull)

		afterPayment, err := s.manager.ConfirmPayment(s.ctx, req.ID, s.payment)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, afterPayment.Status)
		s.Equal(models.PaymentPaid, afterPayment.PaymentStatus)

		approved, err := s.manager.RecordConsent(s.ctx, req.ID, s.target)
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, approved.Status)
		s.Len(s.eventsOf(req.ID, models.EventApproved), 1)
	})
}

func (s *ManagerSuite) TestConcurrentSignalsApproveOnce() {
	req := s.create(models.DataTypeFull)

	var wg sync.WaitGroup
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = s.manager.RecordConsent(s.ctx, req.ID, s.target)
			} else {
				_, err = s.manager.ConfirmPayment(s.ctx, req.ID, s.payment)
			}
			// Consent arriving after approval is refused; everything else succeeds.
			if err != nil {
				s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
			}
		}()
	}
	wg.Wait()

	final, err := s.manager.GetStatus(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, final.Status)
	s.Len(s.eventsOf(req.ID, models.EventApproved), 1)
	s.Len(s.statusAudits(req.ID, "approved"), 1)
}

// With payment in, the subject's consent and rejection race to close the
// request. Exactly one of them may win.
func (s *ManagerSuite) TestConsentRacingRejectHasOneWinner() {
	for range 50 {
		req := s.create(models.DataTypeFull)
		_, err := s.manager.ConfirmPayment(s.ctx, req.ID, s.payment)
		s.Require().NoError(err)

		result := testutil.RunConcurrent(2, func(idx int) error {
			if idx == 0 {
				_, err := s.manager.RecordConsent(s.ctx, req.ID, s.target)
				return err
			}
			_, err := s.manager.Reject(s.ctx, req.ID, s.target, "changed my mind")
			return err
		})

		s.EqualValues(1, result.Successes)
		s.EqualValues(1, result.InvalidStates)
		s.Zero(result.Errors)

		final, err := s.store.FindByID(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Contains([]models.Status{models.StatusApproved, models.StatusRejected}, final.Status)

		approved := s.statusAudits(req.ID, "approved")
		rejected := s.statusAudits(req.ID, "rejected")
		s.Len(append(approved, rejected...), 1)
		s.Len(s.eventsOf(req.ID, models.EventApproved), len(approved))
		s.Len(s.eventsOf(req.ID, models.EventRejected), len(rejected))
	}
}

func (s *ManagerSuite) TestRepeatConsentWhilePendingIsNoop() {
	req := s.create(models.DataTypeFull)

	first, err := s.manager.RecordConsent(s.ctx, req.ID, s.target)
	s.Require().NoError(err)
	s.advance(time.Hour)
	second, err := s.manager.RecordConsent(s.ctx, req.ID, s.target)
	s.Require().NoError(err)

	s.Equal(models.StatusPending, second.Status)
	s.Equal(*first.ConsentGivenAt, *second.ConsentGivenAt)
}

func (s *ManagerSuite) TestOnlyTargetMayConsentOrReject() {
	req := s.create(models.DataTypeFull)
	stranger := id.SubjectID(uuid.New())

	_, err := s.manager.RecordConsent(s.ctx, req.ID, stranger)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	_, err = s.manager.Reject(s.ctx, req.ID, stranger, "no")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	stored, err := s.store.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.False(stored.HasConsent())
	s.Equal(models.StatusPending, stored.Status)
}

func (s *ManagerSuite) TestRejectedAbsorbsSignals() {
	req := s.create(models.DataTypeFull)
	rejected, err := s.manager.Reject(s.ctx, req.ID, s.target, "not looking")
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, rejected.Status)
	s.Equal("not looking", rejected.RejectionReason)
	s.Len(s.eventsOf(req.ID, models.EventRejected), 1)

	_, err = s.manager.RecordConsent(s.ctx, req.ID, s.target)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	_, err = s.manager.ConfirmPayment(s.ctx, req.ID, s.payment)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	_, err = s.manager.RecordPaymentFailure(s.ctx, req.ID, s.payment, "card declined")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	_, err = s.manager.Reject(s.ctx, req.ID, s.target, "again")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	stored, err := s.store.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(rejected, stored)
}

func (s *ManagerSuite) TestApprovedSignals() {
	req := s.create(models.DataTypeFull)
	s.approve(req)

	again, err := s.manager.ConfirmPayment(s.ctx, req.ID, s.payment)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, again.Status)

	ignored, err := s.manager.RecordPaymentFailure(s.ctx, req.ID, s.payment, "late webhook")
	s.Require().NoError(err)
	s.Equal(models.PaymentPaid, ignored.PaymentStatus)

	_, err = s.manager.RecordConsent(s.ctx, req.ID, s.target)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	_, err = s.manager.Reject(s.ctx, req.ID, s.target, "changed my mind")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	s.Len(s.eventsOf(req.ID, models.EventApproved), 1)
}

func (s *ManagerSuite) TestPaymentFailureThenSuccess() {
	req := s.create(models.DataTypeFull)

	failed, err := s.manager.RecordPaymentFailure(s.ctx, req.ID, s.payment, "card declined")
	s.Require().NoError(err)
	s.Equal(models.PaymentFailed, failed.PaymentStatus)
	s.Equal(models.StatusPending, failed.Status)

	s.approve(req)
	stored, err := s.store.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, stored.Status)
	s.Equal(models.PaymentPaid, stored.PaymentStatus)
}

func (s *ManagerSuite) TestLazyExpiryBoundary() {
	req := s.create(models.DataTypeFull)

	s.advance(7*24*time.Hour - time.Second)
	status, err := s.manager.GetStatus(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, status.Status)

	s.advance(2 * time.Second)
	status, err = s.manager.GetStatus(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, status.Status)
	s.Equal(s.now(), *status.DecidedAt)

	stored, err := s.store.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, stored.Status)

	audits := s.statusAudits(req.ID, "expired")
	s.Require().Len(audits, 1)
	s.Equal(SystemActor, audits[0].ActorID)
	s.Len(s.eventsOf(req.ID, models.EventExpired), 1)

	again, err := s.manager.GetStatus(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, again.Status)
	s.Len(s.eventsOf(req.ID, models.EventExpired), 1)
}

func (s *ManagerSuite) TestLateSignalsOnOverdueRequest() {
	req := s.create(models.DataTypeFull)
	_, err := s.manager.RecordConsent(s.ctx, req.ID, s.target)
	s.Require().NoError(err)

	s.advance(7*24*time.Hour + time.Second)
	_, err = s.manager.ConfirmPayment(s.ctx, req.ID, s.payment)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	stored, err := s.store.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, stored.Status)
	s.Equal(models.PaymentUnpaid, stored.PaymentStatus)
	s.Len(s.eventsOf(req.ID, models.EventExpired), 1)
	s.Empty(s.eventsOf(req.ID, models.EventApproved))

	_, err = s.manager.RecordConsent(s.ctx, req.ID, s.target)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ManagerSuite) TestReadData() {
	req := s.create(models.DataTypeReference)
	data := &profile.SubjectData{
		SubjectID:  s.target,
		References: []profile.Reference{{Author: "A. Manager", Body: "Reliable"}},
	}

	s.Run("pending is forbidden", func() {
		_, err := s.manager.ReadData(s.ctx, req.ID, s.requester)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.approve(req)

	s.Run("another requester is forbidden", func() {
		_, err := s.manager.ReadData(s.ctx, req.ID, id.OrgID(uuid.New()))
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("each read is counted and audited", func() {
		s.subjects.EXPECT().
			SubjectData(gomock.Any(), s.target, profile.Scope{References: true}).
			Return(data, nil).Times(2)

		first, err := s.manager.ReadData(s.ctx, req.ID, s.requester)
		s.Require().NoError(err)
		s.Equal(data, first.Data)
		s.Equal(1, first.Request.AccessCount)
		s.True(first.Request.DataAccessed)
		s.Equal(t0, *first.Request.DataAccessedAt)

		s.advance(time.Minute)
		second, err := s.manager.ReadData(s.ctx, req.ID, s.requester)
		s.Require().NoError(err)
		s.Equal(2, second.Request.AccessCount)
		s.Equal(t0.Add(time.Minute), *second.Request.DataAccessedAt)

		s.mu.Lock()
		defer s.mu.Unlock()
		var accesses int
		for _, e := range s.audits {
			if e.RequestID == req.ID && e.Type == audit.EventAccess {
				accesses++
				s.Equal(id.ActorID(s.requester), e.ActorID)
			}
		}
		s.Equal(2, accesses)
	})

	s.Run("profile store failure does not count", func() {
		s.subjects.EXPECT().SubjectData(gomock.Any(), s.target, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeUpstreamUnavailable, "profile store unavailable"))

		_, err := s.manager.ReadData(s.ctx, req.ID, s.requester)
		s.True(dErrors.HasCode(err, dErrors.CodeUpstreamUnavailable))

		stored, err := s.store.FindByID(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(2, stored.AccessCount)
	})
}

func (s *ManagerSuite) TestExpireDue() {
	overdue := s.create(models.DataTypeFull)
	s.advance(3 * 24 * time.Hour)
	fresh := s.create(models.DataTypeProfile)
	s.advance(4*24*time.Hour + time.Minute)

	n, err := s.manager.ExpireDue(s.ctx)

	s.Require().NoError(err)
	s.Equal(1, n)
	stored, err := s.store.FindByID(s.ctx, overdue.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, stored.Status)
	stored, err = s.store.FindByID(s.ctx, fresh.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, stored.Status)
	s.Len(s.eventsOf(overdue.ID, models.EventExpired), 1)
}

func (s *ManagerSuite) TestUnknownRequest() {
	_, err := s.manager.GetStatus(s.ctx, id.NewRequestID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = s.manager.RecordConsent(s.ctx, id.NewRequestID(), s.target)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestManager_StoreFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	notifier := mocks.NewMockNotifier(ctrl)
	m := New(st, mocks.NewMockPriceQuoter(ctrl), mocks.NewMockSubjectDataReader(ctrl), notifier, nil)
	ctx := context.Background()

	t.Run("execute failure is internal", func(t *testing.T) {
		st.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, errors.New("connection refused"))

		_, err := m.ConfirmPayment(ctx, id.NewRequestID(), id.ActorID(uuid.New()))
		if !dErrors.HasCode(err, dErrors.CodeInternal) {
			t.Fatalf("expected internal error, got %v", err)
		}
	})

	t.Run("cancelled context is a timeout", func(t *testing.T) {
		st.EXPECT().FindByID(gomock.Any(), gomock.Any()).Return(nil, context.Canceled)

		_, err := m.GetStatus(ctx, id.NewRequestID())
		if !dErrors.HasCode(err, dErrors.CodeTimeout) {
			t.Fatalf("expected timeout, got %v", err)
		}
	})

	t.Run("sweep reports partial progress", func(t *testing.T) {
		req, err := models.NewRequest(id.NewRequestID(), id.OrgID(uuid.New()), id.SubjectID(uuid.New()),
			models.DataTypeFull, "", decimal.NewFromInt(45), "EUR", t0, models.DefaultRequestWindow)
		if err != nil {
			t.Fatal(err)
		}
		req.Expire(t0.Add(8 * 24 * time.Hour))
		st.EXPECT().ExpirePending(gomock.Any(), gomock.Any(), defaultSweepBatch).
			Return([]*models.Request{req}, errors.New("connection reset"))
		notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(errors.New("outbox full"))

		n, err := m.ExpireDue(ctx)
		if n != 1 || !dErrors.HasCode(err, dErrors.CodeInternal) {
			t.Fatalf("expected 1 expired and an internal error, got %d, %v", n, err)
		}
	})
}
