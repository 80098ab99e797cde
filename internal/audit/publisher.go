package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	id "refaccess/pkg/domain"
	dErrors "refaccess/pkg/domain-errors"
)

// Publisher is the write side of the audit log. Synchronous by default;
// WithAsyncBuffer queues events for a background writer.
type Publisher struct {
	store   Store
	events  chan Event
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
	async   bool
}

type PublisherOption func(*Publisher)

// WithAsyncBuffer persists events from a buffered queue. Emit rejects events
// when the queue is full rather than blocking the caller.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan Event, size)
			p.async = true
		}
	}
}

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithPublisherMetrics(m *Metrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		p.now = now
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.processEvents()
	}
	return p
}

func (p *Publisher) processEvents() {
	defer p.wg.Done()
	for event := range p.events {
		_ = p.append(context.Background(), event)
	}
}

// Close stops accepting events and waits for the queue to drain.
func (p *Publisher) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	p.closeMu.Unlock()
	if p.async {
		close(p.events)
		p.wg.Wait()
	}
}

// Record appends one event for a request.
func (p *Publisher) Record(ctx context.Context, requestID id.RequestID, actorID id.ActorID, eventType EventType, detail string) error {
	return p.Emit(ctx, Event{
		RequestID: requestID,
		ActorID:   actorID,
		Type:      eventType,
		Detail:    detail,
	})
}

// Emit fills in the id and timestamp when missing and persists the event.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if !event.Type.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "invalid audit event type")
	}
	if event.ID.IsNil() {
		event.ID = id.NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	if !p.async {
		return p.append(ctx, event)
	}

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return dErrors.New(dErrors.CodeInternal, "audit publisher closed")
	}
	select {
	case p.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if p.metrics != nil {
			p.metrics.EventsDropped.Inc()
		}
		p.logger.WarnContext(ctx, "audit buffer full, event dropped",
			"access_request_id", event.RequestID.String(),
			"event_type", string(event.Type),
		)
		return dErrors.New(dErrors.CodeInternal, "audit buffer full")
	}
}

func (p *Publisher) append(ctx context.Context, event Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		if p.metrics != nil {
			p.metrics.AppendFailures.Inc()
		}
		p.logger.ErrorContext(ctx, "failed to persist audit event",
			"access_request_id", event.RequestID.String(),
			"event_type", string(event.Type),
			"error", err,
		)
		return err
	}
	if p.metrics != nil {
		p.metrics.EventsRecorded.WithLabelValues(string(event.Type)).Inc()
	}
	return nil
}
