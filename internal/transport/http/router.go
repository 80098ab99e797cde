// Package httptransport assembles the HTTP surface: the shared middleware
// stack, public probes, and the authenticated API and admin route groups.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"refaccess/pkg/platform/middleware/auth"
	"refaccess/pkg/platform/middleware/request"
	"refaccess/pkg/requestcontext"
)

// Registrar mounts a domain's routes.
type Registrar interface {
	Register(r chi.Router)
}

// RouterDeps carries what NewRouter wires together.
type RouterDeps struct {
	Logger         *slog.Logger
	Validator      auth.Validator
	Health         Registrar
	Metrics        http.Handler // served on /metrics when set
	Latency        *request.Metrics
	RequestTimeout time.Duration
	API            []Registrar // any authenticated actor; handlers apply role checks
	Admin          []Registrar // admin role only
}

const defaultRequestTimeout = 30 * time.Second

// NewRouter wires all endpoints with middleware.
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.RequestTime)
	r.Use(request.Logger(logger))
	r.Use(request.Latency(deps.Latency))
	r.Use(request.Timeout(timeout))
	r.Use(request.ContentTypeJSON)

	if deps.Health != nil {
		deps.Health.Register(r)
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(deps.Validator, logger))
		for _, reg := range deps.API {
			reg.Register(r)
		}
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(logger, requestcontext.RoleAdmin))
			for _, reg := range deps.Admin {
				reg.Register(r)
			}
		})
	})

	return r
}
