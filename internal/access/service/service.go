// Package service runs the access request state machine. A request starts
// pending and becomes approved once both consent and payment are in, rejected
// by its target, or expired when its window passes. Every transition goes
// through the store's atomic Execute, so concurrent signals never
// double-transition a request.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"refaccess/internal/access/metrics"
	"refaccess/internal/access/models"
	"refaccess/internal/audit"
	pricingmodels "refaccess/internal/pricing/models"
	"refaccess/internal/pricing/profile"
	id "refaccess/pkg/domain"
	dErrors "refaccess/pkg/domain-errors"
	"refaccess/pkg/platform/sentinel"
)

// Store persists access requests.
// Error Contract:
// - FindByID and Execute return sentinel.ErrNotFound for unknown ids
// - Create returns sentinel.ErrConflict for a duplicate id
// - Execute returns validate's error unchanged and does not mutate
type Store interface {
	Create(ctx context.Context, req *models.Request) error
	FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	Execute(ctx context.Context, requestID id.RequestID, validate func(*models.Request) error, mutate func(*models.Request)) (*models.Request, error)
	ExpirePending(ctx context.Context, now time.Time, limit int) ([]*models.Request, error)
}

// PriceQuoter prices a subject's data. Errors carry domain codes.
type PriceQuoter interface {
	GetPrice(ctx context.Context, subjectID id.SubjectID) (*pricingmodels.Quote, error)
}

// SubjectDataReader reads the disclosed data. Errors carry domain codes.
type SubjectDataReader interface {
	SubjectData(ctx context.Context, subjectID id.SubjectID, scope profile.Scope) (*profile.SubjectData, error)
}

// Notifier hands domain events to notification dispatch.
type Notifier interface {
	Notify(ctx context.Context, event models.Event) error
}

// Auditor appends to the audit log.
type Auditor interface {
	Record(ctx context.Context, requestID id.RequestID, actorID id.ActorID, eventType audit.EventType, detail string) error
}

// SystemActor is the audit actor for transitions nobody asked for, such as
// expiry.
var SystemActor = id.ActorID(uuid.Nil)

const (
	signalConsent        = "consent"
	signalPayment        = "payment"
	signalPaymentFailure = "payment_failure"
	signalReject         = "reject"

	defaultSweepBatch = 500
)

// Disclosure is the result of a successful data read.
type Disclosure struct {
	Request *models.Request
	Data    *profile.SubjectData
}

// CreateCommand carries the inputs of CreateRequest.
type CreateCommand struct {
	RequesterID  id.OrgID
	TargetUserID id.SubjectID
	DataType     models.DataType
	Reason       string
}

type Manager struct {
	store    Store
	prices   PriceQuoter
	subjects SubjectDataReader
	notifier Notifier
	auditor  Auditor
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	window   time.Duration
	batch    int
}

type Option func(*Manager)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Manager) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Manager) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Manager) {
		s.now = now
	}
}

// WithRequestWindow overrides how long a request may stay pending.
// Non-positive values keep the seven day default.
func WithRequestWindow(d time.Duration) Option {
	return func(s *Manager) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithSweepBatch bounds how many requests one ExpireDue call expires.
func WithSweepBatch(n int) Option {
	return func(s *Manager) {
		if n > 0 {
			s.batch = n
		}
	}
}

func New(store Store, prices PriceQuoter, subjects SubjectDataReader, notifier Notifier, auditor Auditor, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		prices:   prices,
		subjects: subjects,
		notifier: notifier,
		auditor:  auditor,
		logger:   slog.Default(),
		now:      time.Now,
		window:   models.DefaultRequestWindow,
		batch:    defaultSweepBatch,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateRequest prices the target's data and persists a pending request
// carrying that price.
func (m *Manager) CreateRequest(ctx context.Context, cmd CreateCommand) (*models.Request, error) {
	start := time.Now()
	defer func() { m.metrics.ObserveOperation("create", time.Since(start).Seconds()) }()

	if cmd.RequesterID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing requester")
	}
	if cmd.TargetUserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "target user id is required")
	}
	if !cmd.DataType.IsValid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "data type must be one of reference, profile, full")
	}

	quote, err := m.prices.GetPrice(ctx, cmd.TargetUserID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to price request")
	}

	now := m.now()
	req, err := models.NewRequest(id.NewRequestID(), cmd.RequesterID, cmd.TargetUserID, cmd.DataType,
		cmd.Reason, quote.Amount, quote.Currency, now, m.window)
	if err != nil {
		return nil, err
	}
	if err := m.store.Create(ctx, req); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save access request")
	}

	m.metrics.IncCreated(string(req.DataType))
	m.recordAudit(ctx, req.ID, id.ActorID(req.RequesterID), audit.EventStatusChange, string(req.Status))
	m.notify(ctx, models.EventFor(models.EventCreated, req, now))
	m.logger.InfoContext(ctx, "access request created",
		"access_request_id", req.ID.String(),
		"data_type", string(req.DataType),
		"price_amount", req.PriceAmount.StringFixed(2),
	)
	return req, nil
}

// RecordConsent records the target's consent. Repeat consent while pending is
// a no-op; consent on any other status is InvalidState.
func (m *Manager) RecordConsent(ctx context.Context, requestID id.RequestID, granter id.SubjectID) (*models.Request, error) {
	return m.transition(ctx, requestID, signalConsent, id.ActorID(granter),
		func(r *models.Request) error {
			if r.TargetUserID != granter {
				return dErrors.New(dErrors.CodeForbidden, "only the target user may consent")
			}
			return requirePending(r)
		},
		func(r *models.Request, now time.Time) { r.GiveConsent(now) },
	)
}

// ConfirmPayment records a successful charge. Confirming an approved request
// again is a no-op.
func (m *Manager) ConfirmPayment(ctx context.Context, requestID id.RequestID, actor id.ActorID) (*models.Request, error) {
	return m.transition(ctx, requestID, signalPayment, actor,
		allowPendingOrApproved,
		func(r *models.Request, now time.Time) {
			if r.Status == models.StatusPending {
				r.MarkPaid(now)
			}
		},
	)
}

// RecordPaymentFailure records a failed charge on a pending request. A later
// ConfirmPayment may still succeed. Failures reported after approval are
// ignored.
func (m *Manager) RecordPaymentFailure(ctx context.Context, requestID id.RequestID, actor id.ActorID, reason string) (*models.Request, error) {
	req, err := m.transition(ctx, requestID, signalPaymentFailure, actor,
		allowPendingOrApproved,
		func(r *models.Request, _ time.Time) {
			if r.Status == models.StatusPending {
				r.MarkPaymentFailed()
			}
		},
	)
	if err == nil {
		m.logger.InfoContext(ctx, "payment failure recorded",
			"access_request_id", requestID.String(),
			"reason", reason,
		)
	}
	return req, err
}

// Reject closes a pending request on behalf of its target.
func (m *Manager) Reject(ctx context.Context, requestID id.RequestID, rejecter id.SubjectID, reason string) (*models.Request, error) {
	return m.transition(ctx, requestID, signalReject, id.ActorID(rejecter),
		func(r *models.Request) error {
			if r.TargetUserID != rejecter {
				return dErrors.New(dErrors.CodeForbidden, "only the target user may reject")
			}
			return requirePending(r)
		},
		func(r *models.Request, now time.Time) { r.Reject(now, reason) },
	)
}

// GetStatus returns the request, persisting expiry first when its window has
// passed.
func (m *Manager) GetStatus(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	req, err := m.store.FindByID(ctx, requestID)
	if err != nil {
		return nil, storeError(err, "failed to load access request")
	}
	now := m.now()
	if !req.IsExpiredAt(now) {
		return req, nil
	}

	expired, err := m.store.Execute(ctx, requestID,
		func(r *models.Request) error {
			if !r.IsExpiredAt(now) {
				return errAlreadyResolved
			}
			return nil
		},
		func(r *models.Request) { r.Expire(now) },
	)
	if errors.Is(err, errAlreadyResolved) {
		return m.reload(ctx, requestID)
	}
	if err != nil {
		return nil, storeError(err, "failed to expire access request")
	}
	m.afterTransition(ctx, expired, SystemActor, now)
	return expired, nil
}

// ReadData discloses the target's data to the requester of an approved and
// paid request, scoped by the request's data type. Every successful read
// increments AccessCount and is audited.
func (m *Manager) ReadData(ctx context.Context, requestID id.RequestID, requester id.OrgID) (*Disclosure, error) {
	start := time.Now()
	defer func() { m.metrics.ObserveOperation("read_data", time.Since(start).Seconds()) }()

	req, err := m.store.FindByID(ctx, requestID)
	if err != nil {
		return nil, storeError(err, "failed to load access request")
	}
	if !req.CanDisclose(requester) {
		m.metrics.IncDeniedRead()
		return nil, errAccessDenied
	}

	scope := profile.Scope{
		Profile:    req.DataType.IncludesProfile(),
		References: req.DataType.IncludesReferences(),
	}
	data, err := m.subjects.SubjectData(ctx, req.TargetUserID, scope)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read subject data")
	}

	now := m.now()
	updated, err := m.store.Execute(ctx, requestID,
		func(r *models.Request) error {
			if !r.CanDisclose(requester) {
				return errAccessDenied
			}
			return nil
		},
		func(r *models.Request) { r.RecordAccess(now) },
	)
	if err != nil {
		return nil, storeError(err, "failed to record data access")
	}

	m.metrics.IncDataRead()
	m.recordAudit(ctx, requestID, id.ActorID(requester), audit.EventAccess, string(updated.DataType))
	return &Disclosure{Request: updated, Data: data}, nil
}

// ExpireDue expires one batch of overdue pending requests and reports how
// many it expired.
func (m *Manager) ExpireDue(ctx context.Context) (int, error) {
	now := m.now()
	expired, err := m.store.ExpirePending(ctx, now, m.batch)
	for _, req := range expired {
		m.afterTransition(ctx, req, SystemActor, now)
	}
	if err != nil {
		return len(expired), storeError(err, "failed to expire pending requests")
	}
	return len(expired), nil
}

var (
	errAlreadyResolved = errors.New("request resolved concurrently")
	errAccessDenied    = dErrors.New(dErrors.CodeForbidden, "data is available only to the requester of an approved, paid request")
)

// transition applies a signal to a request under its lock. A pending request
// found past its window is expired in the same step and the signal refused.
func (m *Manager) transition(ctx context.Context, requestID id.RequestID, signal string, actor id.ActorID,
	check func(*models.Request) error, apply func(*models.Request, time.Time),
) (*models.Request, error) {
	start := time.Now()
	defer func() { m.metrics.ObserveOperation(signal, time.Since(start).Seconds()) }()

	now := m.now()
	var (
		before     models.Status
		expiredNow bool
	)
	req, err := m.store.Execute(ctx, requestID,
		func(r *models.Request) error {
			before = r.Status
			return check(r)
		},
		func(r *models.Request) {
			if r.IsExpiredAt(now) {
				r.Expire(now)
				expiredNow = true
				return
			}
			apply(r, now)
		},
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidState) {
			m.refuse(ctx, requestID, signal, before)
		}
		return nil, storeError(err, "failed to update access request")
	}

	if expiredNow {
		m.afterTransition(ctx, req, SystemActor, now)
		m.refuse(ctx, requestID, signal, models.StatusExpired)
		return nil, invalidState(models.StatusExpired)
	}
	if req.Status != before {
		m.afterTransition(ctx, req, actor, now)
	}
	return req, nil
}

func (m *Manager) afterTransition(ctx context.Context, req *models.Request, actor id.ActorID, now time.Time) {
	m.metrics.IncTransition(string(req.Status))
	m.recordAudit(ctx, req.ID, actor, audit.EventStatusChange, string(req.Status))
	if eventType, ok := models.StatusEvent(req.Status); ok {
		m.notify(ctx, models.EventFor(eventType, req, now))
	}
	m.logger.InfoContext(ctx, "access request transitioned",
		"access_request_id", req.ID.String(),
		"status", string(req.Status),
	)
}

func (m *Manager) refuse(ctx context.Context, requestID id.RequestID, signal string, status models.Status) {
	m.metrics.IncRejectedSignal(signal)
	m.logger.WarnContext(ctx, "signal refused for non-pending request",
		"access_request_id", requestID.String(),
		"signal", signal,
		"status", string(status),
	)
}

func (m *Manager) reload(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	req, err := m.store.FindByID(ctx, requestID)
	if err != nil {
		return nil, storeError(err, "failed to load access request")
	}
	return req, nil
}

// recordAudit never fails the caller; the publisher logs and counts its own
// failures.
func (m *Manager) recordAudit(ctx context.Context, requestID id.RequestID, actor id.ActorID, eventType audit.EventType, detail string) {
	if m.auditor == nil {
		return
	}
	if err := m.auditor.Record(ctx, requestID, actor, eventType, detail); err != nil {
		m.logger.ErrorContext(ctx, "failed to record audit event",
			"access_request_id", requestID.String(),
			"event_type", string(eventType),
			"error", err,
		)
	}
}

// notify is fire-and-forget: dispatch failures are logged and counted.
func (m *Manager) notify(ctx context.Context, event models.Event) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, event); err != nil {
		m.metrics.IncNotifyFailure()
		m.logger.WarnContext(ctx, "failed to enqueue notification",
			"access_request_id", event.RequestID.String(),
			"event_type", string(event.Type),
			"error", err,
		)
	}
}

func requirePending(r *models.Request) error {
	if r.Status != models.StatusPending {
		return invalidState(r.Status)
	}
	return nil
}

func allowPendingOrApproved(r *models.Request) error {
	if r.Status == models.StatusPending || r.Status == models.StatusApproved {
		return nil
	}
	return invalidState(r.Status)
}

func invalidState(status models.Status) error {
	return dErrors.New(dErrors.CodeInvalidState, "access request is "+string(status))
}

// storeError translates store errors into domain errors exactly once.
func storeError(err error, msg string) error {
	var domainErr *dErrors.Error
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "access request not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
