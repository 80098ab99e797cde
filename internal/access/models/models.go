package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "refaccess/pkg/domain"
	dErrors "refaccess/pkg/domain-errors"
)

// DefaultRequestWindow is how long a request may wait for consent and payment.
const DefaultRequestWindow = 7 * 24 * time.Hour

// Request is one requester's attempt to see one subject's data. Requests are
// never deleted; terminal requests are kept for audit.
type Request struct {
	ID              id.RequestID
	RequesterID     id.OrgID
	TargetUserID    id.SubjectID
	DataType        DataType
	Reason          string
	Status          Status
	PriceAmount     decimal.Decimal
	Currency        string
	PaymentStatus   PaymentStatus
	CreatedAt       time.Time
	ExpiresAt       time.Time
	ConsentGivenAt  *time.Time
	PaidAt          *time.Time
	DecidedAt       *time.Time
	RejectionReason string
	DataAccessed    bool
	DataAccessedAt  *time.Time
	AccessCount     int
}

// NewRequest builds a pending request priced at amount.
func NewRequest(requestID id.RequestID, requester id.OrgID, target id.SubjectID, dataType DataType, reason string, amount decimal.Decimal, currency string, now time.Time, window time.Duration) (*Request, error) {
	if requestID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "request ID required")
	}
	if requester.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "requester ID required")
	}
	if target.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "target user ID required")
	}
	if !dataType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid data type")
	}
	if amount.IsNegative() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "price must not be negative")
	}
	if window <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "request window must be positive")
	}
	return &Request{
		ID:            requestID,
		RequesterID:   requester,
		TargetUserID:  target,
		DataType:      dataType,
		Reason:        reason,
		Status:        StatusPending,
		PriceAmount:   amount,
		Currency:      currency,
		PaymentStatus: PaymentUnpaid,
		CreatedAt:     now,
		ExpiresAt:     now.Add(window),
	}, nil
}

// IsExpiredAt reports whether a pending request has run past its window. The
// expiry instant itself is still pending.
func (r *Request) IsExpiredAt(now time.Time) bool {
	return r.Status == StatusPending && now.After(r.ExpiresAt)
}

// EffectiveStatus is the status a reader at now should see.
func (r *Request) EffectiveStatus(now time.Time) Status {
	if r.IsExpiredAt(now) {
		return StatusExpired
	}
	return r.Status
}

func (r *Request) HasConsent() bool {
	return r.ConsentGivenAt != nil
}

func (r *Request) IsPaid() bool {
	return r.PaymentStatus == PaymentPaid
}

// CanDisclose reports whether requester may read the subject's data.
func (r *Request) CanDisclose(requester id.OrgID) bool {
	return r.Status == StatusApproved && r.IsPaid() && r.RequesterID == requester
}

// IsParty reports whether actor is the requester or the target.
func (r *Request) IsParty(actor id.ActorID) bool {
	return actor.AsOrg() == r.RequesterID || actor.AsSubject() == r.TargetUserID
}

// The methods below are the only mutations of a request. They assume the
// caller has already validated the transition under the request's lock.

// GiveConsent records consent once and approves when payment is in.
func (r *Request) GiveConsent(now time.Time) {
	if r.ConsentGivenAt == nil {
		r.ConsentGivenAt = &now
	}
	r.approveIfReady(now)
}

// MarkPaid records payment once and approves when consent is in.
func (r *Request) MarkPaid(now time.Time) {
	if r.PaymentStatus != PaymentPaid {
		r.PaymentStatus = PaymentPaid
		r.PaidAt = &now
	}
	r.approveIfReady(now)
}

// MarkPaymentFailed records a failed charge. A later confirmation may still
// succeed.
func (r *Request) MarkPaymentFailed() {
	if r.PaymentStatus == PaymentUnpaid {
		r.PaymentStatus = PaymentFailed
	}
}

func (r *Request) Reject(now time.Time, reason string) {
	r.Status = StatusRejected
	r.RejectionReason = reason
	r.DecidedAt = &now
}

func (r *Request) Expire(now time.Time) {
	r.Status = StatusExpired
	r.DecidedAt = &now
}

func (r *Request) RecordAccess(now time.Time) {
	r.AccessCount++
	r.DataAccessed = true
	r.DataAccessedAt = &now
}

// approveIfReady is the conjunction guard: approval needs both signals, in
// whichever order they arrived.
func (r *Request) approveIfReady(now time.Time) {
	if r.Status == StatusPending && r.HasConsent() && r.IsPaid() {
		r.Status = StatusApproved
		r.DecidedAt = &now
	}
}
