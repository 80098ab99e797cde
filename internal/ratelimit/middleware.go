package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"refaccess/pkg/platform/httputil"
	"refaccess/pkg/requestcontext"
)

// Limiter builds per-actor rate limit middleware over a Store.
type Limiter struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
}

func NewLimiter(store Store, logger *slog.Logger, metrics *Metrics) *Limiter {
	return &Limiter{store: store, logger: logger, metrics: metrics}
}

type exceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"error_description"`
	RetryAfter int    `json:"retry_after"`
}

// PerActor limits the authenticated actor to policy within scope. It must run
// after RequireAuth. A failing store lets the request through.
func (l *Limiter) PerActor(scope string, policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actor := requestcontext.ActorID(ctx)
			if actor.IsNil() {
				next.ServeHTTP(w, r)
				return
			}

			result, err := l.store.AllowN(ctx, scope+":"+actor.String(), 1, policy.Limit, policy.Window)
			if err != nil {
				l.metrics.recordStoreError()
				l.logger.ErrorContext(ctx, "failed to check rate limit",
					"scope", scope,
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}
			l.metrics.recordDecision(scope, result.Allowed)
			addRateLimitHeaders(w, result)

			if !result.Allowed {
				l.logger.WarnContext(ctx, "rate limit exceeded",
					"scope", scope,
					"actor_id", actor.String(),
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteJSON(w, http.StatusTooManyRequests, exceededResponse{
					Error:      "rate_limit_exceeded",
					Message:    "Too many requests for this operation. Please try again later.",
					RetryAfter: result.RetryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
