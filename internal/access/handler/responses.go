package handler

import (
	"time"

	"refaccess/internal/access/models"
	"refaccess/internal/access/service"
	"refaccess/internal/pricing/profile"
)

type CreateResponse struct {
	RequestID   string    `json:"request_id"`
	PriceAmount string    `json:"price_amount"`
	Currency    string    `json:"currency"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

// RequestResponse is the full view of a request returned by GET.
type RequestResponse struct {
	ID              string     `json:"id"`
	RequesterID     string     `json:"requester_id"`
	TargetUserID    string     `json:"target_user_id"`
	DataType        string     `json:"data_type"`
	Reason          string     `json:"reason,omitempty"`
	Status          string     `json:"status"`
	PriceAmount     string     `json:"price_amount"`
	Currency        string     `json:"currency"`
	PaymentStatus   string     `json:"payment_status"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	ConsentGivenAt  *time.Time `json:"consent_given_at,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	DataAccessed    bool       `json:"data_accessed"`
	DataAccessedAt  *time.Time `json:"data_accessed_at,omitempty"`
	AccessCount     int        `json:"access_count"`
}

type SubjectResponse struct {
	SubjectID   string              `json:"subject_id"`
	DisplayName string              `json:"display_name"`
	Headline    string              `json:"headline,omitempty"`
	Profile     map[string]any      `json:"profile,omitempty"`
	References  []profile.Reference `json:"references,omitempty"`
}

type DataResponse struct {
	RequestID   string          `json:"request_id"`
	DataType    string          `json:"data_type"`
	AccessCount int             `json:"access_count"`
	Subject     SubjectResponse `json:"subject"`
}

func toCreateResponse(r *models.Request) CreateResponse {
	return CreateResponse{
		RequestID:   r.ID.String(),
		PriceAmount: r.PriceAmount.StringFixed(2),
		Currency:    r.Currency,
		ExpiresAt:   r.ExpiresAt,
	}
}

func toRequestResponse(r *models.Request) RequestResponse {
	return RequestResponse{
		ID:              r.ID.String(),
		RequesterID:     r.RequesterID.String(),
		TargetUserID:    r.TargetUserID.String(),
		DataType:        string(r.DataType),
		Reason:          r.Reason,
		Status:          string(r.Status),
		PriceAmount:     r.PriceAmount.StringFixed(2),
		Currency:        r.Currency,
		PaymentStatus:   string(r.PaymentStatus),
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
		ConsentGivenAt:  r.ConsentGivenAt,
		PaidAt:          r.PaidAt,
		DecidedAt:       r.DecidedAt,
		RejectionReason: r.RejectionReason,
		DataAccessed:    r.DataAccessed,
		DataAccessedAt:  r.DataAccessedAt,
		AccessCount:     r.AccessCount,
	}
}

func toDataResponse(d *service.Disclosure) DataResponse {
	return DataResponse{
		RequestID:   d.Request.ID.String(),
		DataType:    string(d.Request.DataType),
		AccessCount: d.Request.AccessCount,
		Subject: SubjectResponse{
			SubjectID:   d.Data.SubjectID.String(),
			DisplayName: d.Data.DisplayName,
			Headline:    d.Data.Headline,
			Profile:     d.Data.Profile,
			References:  d.Data.References,
		},
	}
}
