package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"refaccess/internal/pricing/models"
	id "refaccess/pkg/domain"
	dErrors "refaccess/pkg/domain-errors"
	"refaccess/pkg/platform/httputil"
	"refaccess/pkg/requestcontext"
)

// Service is the quote lookup the admin endpoint exposes.
type Service interface {
	GetPrice(ctx context.Context, subjectID id.SubjectID) (*models.Quote, error)
}

type Handler struct {
	prices Service
	logger *slog.Logger
}

func New(prices Service, logger *slog.Logger) *Handler {
	return &Handler{prices: prices, logger: logger}
}

// Register mounts the admin pricing routes. Callers wrap r with the admin
// role check.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/prices/{subjectId}", h.handleGetPrice)
}

// QuoteResponse is the wire form of a quote. Money is a fixed two-decimal
// string so clients never see float rounding.
type QuoteResponse struct {
	SubjectID  string             `json:"subject_id"`
	Amount     string             `json:"amount"`
	Currency   string             `json:"currency"`
	Base       string             `json:"base"`
	Factors    map[string]float64 `json:"factors"`
	Clamped    bool               `json:"clamped"`
	ComputedAt time.Time          `json:"computed_at"`
	ValidUntil time.Time          `json:"valid_until"`
}

func toQuoteResponse(q *models.Quote) QuoteResponse {
	return QuoteResponse{
		SubjectID:  q.SubjectID.String(),
		Amount:     q.Amount.StringFixed(2),
		Currency:   q.Currency,
		Base:       q.Base.StringFixed(2),
		Factors:    q.Factors,
		Clamped:    q.Clamped(),
		ComputedAt: q.ComputedAt,
		ValidUntil: q.ValidUntil,
	}
}

func (h *Handler) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	subjectID, err := id.ParseSubjectID(chi.URLParam(r, "subjectId"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid subject id"))
		return
	}

	quote, err := h.prices.GetPrice(ctx, subjectID)
	if err != nil {
		h.logger.WarnContext(ctx, "price lookup failed",
			"request_id", requestID,
			"subject_id", subjectID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toQuoteResponse(quote))
}
