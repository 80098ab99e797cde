package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"refaccess/internal/audit"
	id "refaccess/pkg/domain"
	dErrors "refaccess/pkg/domain-errors"
	"refaccess/pkg/platform/httputil"
	"refaccess/pkg/requestcontext"
)

// Reporter answers windowed count queries over the audit log.
type Reporter interface {
	Count(ctx context.Context, q audit.Query) (int64, error)
	CountByBucket(ctx context.Context, q audit.Query, interval time.Duration) ([]audit.Bucket, error)
}

type Handler struct {
	reporter Reporter
	logger   *slog.Logger
}

func New(reporter Reporter, logger *slog.Logger) *Handler {
	return &Handler{reporter: reporter, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/audit/counts", h.handleCounts)
}

type BucketResponse struct {
	Start time.Time `json:"start"`
	Count int64     `json:"count"`
}

type CountsResponse struct {
	From    time.Time        `json:"from"`
	To      time.Time        `json:"to"`
	Count   int64            `json:"count"`
	Bucket  string           `json:"bucket,omitempty"`
	Buckets []BucketResponse `json:"buckets,omitempty"`
}

func (h *Handler) handleCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	q, interval, err := parseCountsQuery(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	count, err := h.reporter.Count(ctx, q)
	if err != nil {
		h.logger.WarnContext(ctx, "audit count failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	res := CountsResponse{From: q.From, To: q.To, Count: count}

	if interval > 0 {
		buckets, err := h.reporter.CountByBucket(ctx, q, interval)
		if err != nil {
			h.logger.WarnContext(ctx, "audit bucket count failed", "request_id", requestID, "error", err)
			httputil.WriteError(w, err)
			return
		}
		res.Bucket = interval.String()
		res.Buckets = make([]BucketResponse, len(buckets))
		for i, b := range buckets {
			res.Buckets[i] = BucketResponse{Start: b.Start, Count: b.Count}
		}
	}

	httputil.WriteJSON(w, http.StatusOK, res)
}

func parseCountsQuery(v url.Values) (audit.Query, time.Duration, error) {
	var q audit.Query
	var err error

	if q.From, err = time.Parse(time.RFC3339, v.Get("from")); err != nil {
		return q, 0, dErrors.New(dErrors.CodeBadRequest, "from must be an RFC 3339 timestamp")
	}
	if q.To, err = time.Parse(time.RFC3339, v.Get("to")); err != nil {
		return q, 0, dErrors.New(dErrors.CodeBadRequest, "to must be an RFC 3339 timestamp")
	}
	if raw := v.Get("event_type"); raw != "" {
		t := audit.EventType(raw)
		q.EventType = &t
	}
	if raw := v.Get("request_id"); raw != "" {
		requestID, err := id.ParseRequestID(raw)
		if err != nil {
			return q, 0, err
		}
		q.RequestID = &requestID
	}
	if raw := v.Get("actor_id"); raw != "" {
		actorID, err := id.ParseActorID(raw)
		if err != nil {
			return q, 0, err
		}
		q.ActorID = &actorID
	}

	var interval time.Duration
	if raw := v.Get("bucket"); raw != "" {
		if interval, err = time.ParseDuration(raw); err != nil || interval <= 0 {
			return q, 0, dErrors.New(dErrors.CodeBadRequest, "bucket must be a positive duration such as 1h")
		}
	}
	return q, interval, nil
}
