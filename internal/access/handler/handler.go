package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"refaccess/internal/access/models"
	"refaccess/internal/access/service"
	id "refaccess/pkg/domain"
	dErrors "refaccess/pkg/domain-errors"
	"refaccess/pkg/platform/httputil"
	"refaccess/pkg/platform/middleware/auth"
	"refaccess/pkg/requestcontext"
)

// Service is the access request lifecycle behind the HTTP surface.
type Service interface {
	CreateRequest(ctx context.Context, cmd service.CreateCommand) (*models.Request, error)
	RecordConsent(ctx context.Context, requestID id.RequestID, granter id.SubjectID) (*models.Request, error)
	ConfirmPayment(ctx context.Context, requestID id.RequestID, actor id.ActorID) (*models.Request, error)
	RecordPaymentFailure(ctx context.Context, requestID id.RequestID, actor id.ActorID, reason string) (*models.Request, error)
	Reject(ctx context.Context, requestID id.RequestID, rejecter id.SubjectID, reason string) (*models.Request, error)
	GetStatus(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	ReadData(ctx context.Context, requestID id.RequestID, requester id.OrgID) (*service.Disclosure, error)
}

type Handler struct {
	requests    Service
	logger      *slog.Logger
	createLimit func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithCreateLimit guards request creation with mw, typically a per-requester
// rate limit.
func WithCreateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.createLimit = mw
	}
}

func New(requests Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{requests: requests, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the access request routes on an authenticated router and
// applies the per-route role checks.
func (h *Handler) Register(r chi.Router) {
	requester := auth.RequireRole(h.logger, requestcontext.RoleRequester)
	subject := auth.RequireRole(h.logger, requestcontext.RoleSubject)
	payment := auth.RequireRole(h.logger, requestcontext.RolePayment)
	viewer := auth.RequireRole(h.logger, requestcontext.RoleRequester, requestcontext.RoleSubject, requestcontext.RoleAdmin)

	create := r.With(requester)
	if h.createLimit != nil {
		create = create.With(h.createLimit)
	}
	create.Post("/access-requests", h.handleCreate)
	r.With(viewer).Get("/access-requests/{id}", h.handleGet)
	r.With(subject).Post("/access-requests/{id}/consent", h.handleConsent)
	r.With(subject).Post("/access-requests/{id}/reject", h.handleReject)
	r.With(payment).Post("/access-requests/{id}/payment", h.handlePayment)
	r.With(requester).Get("/access-requests/{id}/data", h.handleReadData)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	target, err := req.Target()
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid target user id"))
		return
	}

	created, err := h.requests.CreateRequest(ctx, service.CreateCommand{
		RequesterID:  requestcontext.ActorID(ctx).AsOrg(),
		TargetUserID: target,
		DataType:     req.Type(),
		Reason:       req.Reason,
	})
	if err != nil {
		h.logFailure(ctx, "create access request failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toCreateResponse(created))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID, ok := h.pathRequestID(w, r)
	if !ok {
		return
	}

	found, err := h.requests.GetStatus(ctx, reqID)
	if err != nil {
		h.logFailure(ctx, "get access request failed", err)
		httputil.WriteError(w, err)
		return
	}
	// Existence is only revealed to the parties and admins.
	if requestcontext.ActorRole(ctx) != requestcontext.RoleAdmin && !found.IsParty(requestcontext.ActorID(ctx)) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "access request not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(found))
}

func (h *Handler) handleConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID, ok := h.pathRequestID(w, r)
	if !ok {
		return
	}

	updated, err := h.requests.RecordConsent(ctx, reqID, requestcontext.ActorID(ctx).AsSubject())
	if err != nil {
		h.logFailure(ctx, "record consent failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{Status: string(updated.Status)})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID, ok := h.pathRequestID(w, r)
	if !ok {
		return
	}

	var reason string
	if r.ContentLength != 0 {
		body, ok := httputil.DecodeAndPrepare[RejectRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
		if !ok {
			return
		}
		reason = body.Reason
	}

	updated, err := h.requests.Reject(ctx, reqID, requestcontext.ActorID(ctx).AsSubject(), reason)
	if err != nil {
		h.logFailure(ctx, "reject access request failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{Status: string(updated.Status)})
}

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID, ok := h.pathRequestID(w, r)
	if !ok {
		return
	}
	// A callback without a body reports a successful charge.
	body := &PaymentRequest{Outcome: PaymentOutcomeSucceeded}
	if r.ContentLength != 0 {
		body, ok = httputil.DecodeAndPrepare[PaymentRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
		if !ok {
			return
		}
	}

	actor := requestcontext.ActorID(ctx)
	var (
		updated *models.Request
		err     error
	)
	if body.Outcome == PaymentOutcomeFailed {
		updated, err = h.requests.RecordPaymentFailure(ctx, reqID, actor, body.Reason)
	} else {
		updated, err = h.requests.ConfirmPayment(ctx, reqID, actor)
	}
	if err != nil {
		h.logFailure(ctx, "payment signal failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{Status: string(updated.Status)})
}

func (h *Handler) handleReadData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID, ok := h.pathRequestID(w, r)
	if !ok {
		return
	}

	disclosure, err := h.requests.ReadData(ctx, reqID, requestcontext.ActorID(ctx).AsOrg())
	if err != nil {
		h.logFailure(ctx, "read subject data failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDataResponse(disclosure))
}

func (h *Handler) pathRequestID(w http.ResponseWriter, r *http.Request) (id.RequestID, bool) {
	reqID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid access request id"))
		return id.RequestID{}, false
	}
	return reqID, true
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}
