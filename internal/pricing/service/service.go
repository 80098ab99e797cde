// Package service is the read-through quote cache. GetPrice serves a fresh
// cached quote when one exists and otherwise computes one, allowing at most
// one computation per subject in this process and, through an advisory lock
// in the quote store, usually at most one across instances.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"refaccess/internal/pricing/calculator"
	"refaccess/internal/pricing/metrics"
	"refaccess/internal/pricing/models"
	"refaccess/internal/pricing/tracer"
	id "refaccess/pkg/domain"
	dErrors "refaccess/pkg/domain-errors"
	"refaccess/pkg/platform/sentinel"
)

// QuoteStore persists quotes by subject and guards their computation.
type QuoteStore interface {
	Get(ctx context.Context, subjectID id.SubjectID) (*models.Quote, error)
	Put(ctx context.Context, quote *models.Quote) error
	TryLock(ctx context.Context, subjectID id.SubjectID, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, subjectID id.SubjectID, token string) error
}

// ProfileReader supplies calculator inputs. Errors carry domain codes.
type ProfileReader interface {
	Snapshot(ctx context.Context, subjectID id.SubjectID) (*models.CandidateSnapshot, error)
	Market(ctx context.Context) (*models.MarketContext, error)
}

const (
	defaultLockTTL      = 10 * time.Second
	defaultLockWait     = 2 * time.Second
	defaultPollInterval = 100 * time.Millisecond
)

type Service struct {
	calc         *calculator.Calculator
	quotes       QuoteStore
	profiles     ProfileReader
	group        singleflight.Group
	lockTTL      time.Duration
	lockWait     time.Duration
	pollInterval time.Duration
	now          func() time.Time
	metrics      *metrics.Metrics
	tracer       tracer.Tracer
	logger       *slog.Logger
}

type Option func(*Service)

// WithLockTTL bounds how long a computation may hold the subject lock. It
// also bounds the computation itself.
func WithLockTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lockTTL = d
		}
	}
}

// WithLockWait sets how long a caller that lost the lock polls for the
// winner's quote before computing on its own.
func WithLockWait(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.lockWait = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(calc *calculator.Calculator, quotes QuoteStore, profiles ProfileReader, opts ...Option) *Service {
	s := &Service{
		calc:         calc,
		quotes:       quotes,
		profiles:     profiles,
		lockTTL:      defaultLockTTL,
		lockWait:     defaultLockWait,
		pollInterval: defaultPollInterval,
		now:          time.Now,
		tracer:       tracer.NewNoop(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetPrice returns a quote for the subject that is fresh at the time of the
// call. A subject unknown to the profile store is NotFound; a failing profile
// store is UpstreamUnavailable. Cache store failures degrade to computing.
func (s *Service) GetPrice(ctx context.Context, subjectID id.SubjectID) (quote *models.Quote, err error) {
	if subjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "subject id is required")
	}
	ctx, span := s.tracer.Start(ctx, tracer.SpanGetPrice, tracer.String(tracer.AttrSubjectID, subjectID.String()))
	defer func() { span.End(err) }()

	if cached, reason := s.lookup(ctx, subjectID); cached != nil {
		span.SetAttributes(
			tracer.Bool(tracer.AttrCacheHit, true),
			tracer.Duration(tracer.AttrCacheTTLRemain, cached.ValidUntil.Sub(s.now())),
		)
		if s.metrics != nil {
			s.metrics.RecordCacheHit()
		}
		return cached, nil
	} else if s.metrics != nil {
		s.metrics.RecordCacheMiss(reason)
	}
	span.SetAttributes(tracer.Bool(tracer.AttrCacheHit, false))

	// The shared computation outlives any single caller's cancellation; each
	// caller still stops waiting when its own context ends.
	ch := s.group.DoChan(subjectID.String(), func() (any, error) {
		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lockTTL)
		defer cancel()
		return s.refresh(computeCtx, subjectID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Quote), nil
	case <-ctx.Done():
		return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "price computation abandoned")
	}
}

// lookup returns a fresh cached quote, or nil and the miss reason.
func (s *Service) lookup(ctx context.Context, subjectID id.SubjectID) (*models.Quote, string) {
	cached, err := s.quotes.Get(ctx, subjectID)
	switch {
	case err == nil && cached.IsFresh(s.now()):
		return cached, ""
	case err == nil:
		return nil, "stale"
	case !errors.Is(err, sentinel.ErrCacheMiss):
		s.logger.WarnContext(ctx, "quote cache read failed",
			"subject_id", subjectID.String(),
			"error", err,
		)
		return nil, "error"
	}
	return nil, "miss"
}

// refresh runs once per subject per process at a time.
func (s *Service) refresh(ctx context.Context, subjectID id.SubjectID) (*models.Quote, error) {
	// Another instance may have stored a quote while this caller queued.
	if cached, _ := s.lookup(ctx, subjectID); cached != nil {
		return cached, nil
	}

	token, err := s.quotes.TryLock(ctx, subjectID, s.lockTTL)
	switch {
	case err == nil:
		defer s.unlock(subjectID, token)
	case errors.Is(err, sentinel.ErrLockHeld):
		if s.metrics != nil {
			s.metrics.RecordLockContention()
		}
		if winner := s.awaitWinner(ctx, subjectID); winner != nil {
			return winner, nil
		}
	default:
		s.logger.WarnContext(ctx, "quote lock unavailable, computing without it",
			"subject_id", subjectID.String(),
			"error", err,
		)
	}

	quote, err := s.compute(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if err := s.quotes.Put(ctx, quote); err != nil {
		s.logger.WarnContext(ctx, "quote cache write failed",
			"subject_id", subjectID.String(),
			"error", err,
		)
	}
	return quote, nil
}

// awaitWinner polls the store while another owner computes. It returns nil
// once lockWait elapses without a fresh quote.
func (s *Service) awaitWinner(ctx context.Context, subjectID id.SubjectID) *models.Quote {
	if s.lockWait <= 0 {
		return nil
	}
	deadline := time.NewTimer(s.lockWait)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			s.logger.DebugContext(ctx, "quote lock wait expired", "subject_id", subjectID.String())
			return nil
		case <-ticker.C:
			if cached, _ := s.lookup(ctx, subjectID); cached != nil {
				if s.metrics != nil {
					s.metrics.RecordLockWaitHit()
				}
				return cached
			}
		}
	}
}

func (s *Service) compute(ctx context.Context, subjectID id.SubjectID) (*models.Quote, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanCompute, tracer.String(tracer.AttrSubjectID, subjectID.String()))
	start := time.Now()

	var (
		snapshot *models.CandidateSnapshot
		market   *models.MarketContext
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snapshot, err = s.profiles.Snapshot(gctx, subjectID)
		return err
	})
	g.Go(func() error {
		var err error
		market, err = s.profiles.Market(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		span.End(err)
		return nil, dErrors.Wrap(err, dErrors.CodeUpstreamUnavailable, "price inputs unavailable")
	}

	quote := s.calc.Compute(*snapshot, *market, s.now())
	quote.SubjectID = subjectID

	if s.metrics != nil {
		s.metrics.ObserveComputation(time.Since(start).Seconds())
		s.recordClamp(&quote)
	}
	span.SetAttributes(
		tracer.Float64(tracer.AttrAmount, quote.Amount.InexactFloat64()),
		tracer.Bool(tracer.AttrClamped, quote.Clamped()),
	)
	span.End(nil)
	s.logger.InfoContext(ctx, "quote computed",
		"subject_id", subjectID.String(),
		"amount", quote.Amount.StringFixed(2),
		"currency", quote.Currency,
		"valid_until", quote.ValidUntil,
	)
	return &quote, nil
}

func (s *Service) recordClamp(q *models.Quote) {
	policy := s.calc.Policy()
	switch {
	case q.Raw.LessThan(policy.Min):
		s.metrics.RecordClamped("min")
	case q.Raw.GreaterThan(policy.Max):
		s.metrics.RecordClamped("max")
	}
}

func (s *Service) unlock(subjectID id.SubjectID, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.quotes.Unlock(ctx, subjectID, token); err != nil {
		s.logger.Warn("quote lock release failed",
			"subject_id", subjectID.String(),
			"error", err,
		)
	}
}
