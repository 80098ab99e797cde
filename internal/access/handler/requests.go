package handler

import (
	"strings"

	"refaccess/internal/access/models"
	id "refaccess/pkg/domain"
	dErrors "refaccess/pkg/domain-errors"
	"refaccess/pkg/validation"
)

// CreateRequest opens an access request against a subject.
type CreateRequest struct {
	TargetUserID string `json:"target_user_id" validate:"required,uuid"`
	DataType     string `json:"data_type" validate:"required,oneof=reference profile full"`
	Reason       string `json:"reason" validate:"max=500"`
}

func (r *CreateRequest) Normalize() {
	if r == nil {
		return
	}
	r.TargetUserID = strings.TrimSpace(r.TargetUserID)
	r.DataType = strings.ToLower(strings.TrimSpace(r.DataType))
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *CreateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validation.Validate(r)
}

// Target returns the parsed target id. Call after Validate.
func (r *CreateRequest) Target() (id.SubjectID, error) {
	return id.ParseSubjectID(r.TargetUserID)
}

func (r *CreateRequest) Type() models.DataType {
	return models.DataType(r.DataType)
}

// RejectRequest carries an optional reason shown to the requester.
type RejectRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (r *RejectRequest) Normalize() {
	if r == nil {
		return
	}
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *RejectRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validation.Validate(r)
}

const (
	PaymentOutcomeSucceeded = "succeeded"
	PaymentOutcomeFailed    = "failed"
)

// PaymentRequest is the payment processor's callback.
type PaymentRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=succeeded failed"`
	Reason  string `json:"reason" validate:"max=500"`
}

func (r *PaymentRequest) Normalize() {
	if r == nil {
		return
	}
	r.Outcome = strings.ToLower(strings.TrimSpace(r.Outcome))
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *PaymentRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validation.Validate(r)
}
