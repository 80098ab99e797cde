package audit

import (
	"context"
	"time"

	id "refaccess/pkg/domain"
	dErrors "refaccess/pkg/domain-errors"
)

// Reporter is the read side used for aggregate reporting.
type Reporter struct {
	store Store
}

func NewReporter(store Store) *Reporter {
	return &Reporter{store: store}
}

func (r *Reporter) Count(ctx context.Context, q Query) (int64, error) {
	if err := q.Validate(0); err != nil {
		return 0, err
	}
	n, err := r.store.Count(ctx, q)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count audit events")
	}
	return n, nil
}

func (r *Reporter) CountByBucket(ctx context.Context, q Query, interval time.Duration) ([]Bucket, error) {
	if interval <= 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "bucket must be positive")
	}
	if err := q.Validate(interval); err != nil {
		return nil, err
	}
	buckets, err := r.store.CountByBucket(ctx, q, interval)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to bucket audit events")
	}
	return buckets, nil
}

func (r *Reporter) ListByRequest(ctx context.Context, requestID id.RequestID) ([]Event, error) {
	events, err := r.store.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events")
	}
	return events, nil
}
