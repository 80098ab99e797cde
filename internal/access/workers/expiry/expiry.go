// Package expiry sweeps pending access requests whose window has passed.
// Reads and signals already expire requests lazily; the sweep makes sure
// requests nobody touches still reach their terminal state and notify.
package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"refaccess/internal/access/metrics"
)

// Expirer expires one bounded batch of overdue requests.
type Expirer interface {
	ExpireDue(ctx context.Context) (int, error)
}

// Result summarizes one sweep.
type Result struct {
	Expired int
}

const (
	defaultInterval = time.Minute
	// maxBatches bounds one sweep so a large backlog cannot starve shutdown.
	maxBatches = 20
)

type Sweeper struct {
	expirer  Expirer
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Sweeper)

// WithInterval overrides the sweep interval when greater than zero.
func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func New(expirer Expirer, opts ...Option) (*Sweeper, error) {
	if expirer == nil {
		return nil, fmt.Errorf("expirer is required")
	}
	s := &Sweeper{
		expirer:  expirer,
		interval: defaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Start sweeps periodically until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "access request expiry sweep failed",
					"expired", res.Expired,
					"error", err,
				)
				continue
			}
			if res.Expired > 0 {
				s.logger.InfoContext(ctx, "access requests expired", "expired", res.Expired)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce expires batches until none are left or the per-sweep bound is hit.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result
	defer func() { s.metrics.RecordSweep(res.Expired, time.Since(start).Seconds()) }()

	for range maxBatches {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := s.expirer.ExpireDue(ctx)
		res.Expired += n
		if err != nil {
			return res, fmt.Errorf("expire due requests: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return res, nil
}
