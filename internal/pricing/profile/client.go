package profile

import (
	"context"
	"errors"
	"log/slog"

	"refaccess/internal/pricing/metrics"
	"refaccess/internal/pricing/models"
	"refaccess/internal/pricing/tracer"
	id "refaccess/pkg/domain"
	dErrors "refaccess/pkg/domain-errors"
	"refaccess/pkg/platform/circuit"
	"refaccess/pkg/platform/sentinel"
)

const (
	lookupSnapshot    = "snapshot"
	lookupMarket      = "market"
	lookupSubjectData = "subject_data"
)

// Client fronts a Store with a circuit breaker and translates store errors
// into domain errors: unknown subjects become NotFound and every other
// failure becomes UpstreamUnavailable. While the breaker is open calls fail
// fast without touching the store.
type Client struct {
	store   Store
	breaker *circuit.Breaker
	tracer  tracer.Tracer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type ClientOption func(*Client)

func WithBreaker(b *circuit.Breaker) ClientOption {
	return func(c *Client) {
		c.breaker = b
	}
}

func WithTracer(t tracer.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = t
	}
}

func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(store Store, opts ...ClientOption) *Client {
	c := &Client{
		store:   store,
		breaker: circuit.New("profile_store"),
		tracer:  tracer.NewNoop(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Snapshot(ctx context.Context, subjectID id.SubjectID) (*models.CandidateSnapshot, error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanFetchSnapshot, tracer.String(tracer.AttrSubjectID, subjectID.String()))
	var snapshot *models.CandidateSnapshot
	err := c.call(ctx, lookupSnapshot, func(ctx context.Context) error {
		var err error
		snapshot, err = c.store.FetchSnapshot(ctx, subjectID)
		return err
	})
	span.End(err)
	return snapshot, err
}

func (c *Client) Market(ctx context.Context) (*models.MarketContext, error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanFetchMarket)
	var market *models.MarketContext
	err := c.call(ctx, lookupMarket, func(ctx context.Context) error {
		var err error
		market, err = c.store.FetchMarket(ctx)
		return err
	})
	span.End(err)
	return market, err
}

func (c *Client) SubjectData(ctx context.Context, subjectID id.SubjectID, scope Scope) (*SubjectData, error) {
	var data *SubjectData
	err := c.call(ctx, lookupSubjectData, func(ctx context.Context) error {
		var err error
		data, err = c.store.FetchSubjectData(ctx, subjectID, scope)
		return err
	})
	return data, err
}

// call runs fn under the breaker. A NotFound answer means the store is
// healthy, so it counts as a success. A call the caller cancelled says nothing
// about the store and is not counted either way.
func (c *Client) call(ctx context.Context, lookup string, fn func(context.Context) error) error {
	if !c.breaker.Allow() {
		c.recordFailure(lookup)
		return dErrors.New(dErrors.CodeUpstreamUnavailable, "profile store unavailable")
	}

	err := fn(ctx)
	switch {
	case err == nil:
		c.recordSuccess()
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		c.recordSuccess()
		return dErrors.Wrap(err, dErrors.CodeNotFound, "subject not found")
	case ctx.Err() != nil:
		c.breaker.Abandon()
		return dErrors.Wrap(err, dErrors.CodeTimeout, "profile lookup abandoned")
	}

	if c.breaker.RecordFailure() {
		c.logger.WarnContext(ctx, "profile store circuit opened",
			"breaker", c.breaker.Name(),
			"lookup", lookup,
			"error", err,
		)
	}
	c.recordFailure(lookup)
	return dErrors.Wrap(err, dErrors.CodeUpstreamUnavailable, "profile store unavailable")
}

func (c *Client) recordSuccess() {
	if c.breaker.RecordSuccess() {
		c.logger.Info("profile store circuit closed", "breaker", c.breaker.Name())
	}
}

func (c *Client) recordFailure(lookup string) {
	if c.metrics != nil {
		c.metrics.RecordProfileFailure(lookup)
	}
}
