// Package worker relays access request events from the outbox to Kafka.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"refaccess/internal/platform/kafka/producer"
	"refaccess/pkg/platform/outbox"
)

// Producer publishes one message and waits for the broker's acknowledgement.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

const DefaultTopic = "access-request-events"

// Headers set on every relayed record. Consumers dedupe on HeaderOutboxID.
const (
	HeaderOutboxID      = "outbox_id"
	HeaderAggregateType = "aggregate_type"
	HeaderEventType     = "event_type"
)

// Config tunes the relay. Zero fields take defaults.
type Config struct {
	Topic        string
	BatchSize    int
	PollInterval time.Duration
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
	return c
}

// Relay moves pending outbox entries onto the event topic.
type Relay struct {
	store    outbox.Store
	producer Producer
	cfg      Config
	now      func() time.Time
	metrics  *outbox.Metrics
	logger   *slog.Logger
}

type Option func(*Relay)

func WithMetrics(m *outbox.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithClock sets the clock used for processed_at stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		r.now = now
	}
}

func New(store outbox.Store, prod Producer, cfg Config, opts ...Option) *Relay {
	r := &Relay{
		store:    store,
		producer: prod,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BatchResult counts what one RelayBatch did with the entries it fetched.
type BatchResult struct {
	Fetched int
	Relayed int
	Held    int
}

// Run relays on every tick until ctx ends, then drains what is left within
// the drain timeout. It returns nil once drained.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case <-ticker.C:
			r.relayBacklog(ctx)
		}
	}
}

// relayBacklog keeps taking batches while they come back full, so a backlog
// clears without waiting a tick per batch.
func (r *Relay) relayBacklog(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := r.RelayBatch(ctx)
		if err != nil {
			r.logger.ErrorContext(ctx, "outbox relay batch failed", "error", err)
			return
		}
		if res.Fetched < r.cfg.BatchSize || res.Relayed == 0 {
			return
		}
	}
}

// RelayBatch publishes one batch in outbox order. After an entry fails, later
// entries for the same access request are held for the next batch so its
// events never reach the topic out of order.
func (r *Relay) RelayBatch(ctx context.Context) (BatchResult, error) {
	start := time.Now()
	defer func() { r.metrics.ObservePollDuration(time.Since(start).Seconds()) }()

	entries, err := r.store.FetchUnprocessed(ctx, r.cfg.BatchSize)
	if err != nil {
		r.metrics.IncPublishFailures()
		return BatchResult{}, fmt.Errorf("fetch outbox entries: %w", err)
	}
	res := BatchResult{Fetched: len(entries)}
	if len(entries) == 0 {
		return res, nil
	}
	r.metrics.ObserveBatchSize(len(entries))

	stalled := make(map[string]struct{})
	for _, entry := range entries {
		if _, ok := stalled[entry.AggregateID]; ok {
			res.Held++
			continue
		}
		if err := r.relay(ctx, entry); err != nil {
			stalled[entry.AggregateID] = struct{}{}
			res.Held++
			r.logger.WarnContext(ctx, "outbox entry not relayed",
				"outbox_id", entry.ID,
				"access_request_id", entry.AggregateID,
				"event_type", entry.EventType,
				"error", err,
			)
			continue
		}
		res.Relayed++
	}
	return res, nil
}

func (r *Relay) relay(ctx context.Context, entry *outbox.Entry) error {
	start := time.Now()
	if err := r.producer.Produce(ctx, toMessage(r.cfg.Topic, entry)); err != nil {
		r.metrics.IncPublishFailures()
		return fmt.Errorf("produce: %w", err)
	}
	r.metrics.ObservePublishDuration(time.Since(start).Seconds())

	// An unmarked entry is produced again by a later batch.
	if err := r.store.MarkProcessed(ctx, entry.ID, r.now()); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	r.metrics.IncPublished()
	return nil
}

func toMessage(topic string, entry *outbox.Entry) *producer.Message {
	return &producer.Message{
		Topic: topic,
		Key:   []byte(entry.AggregateID),
		Value: entry.Payload,
		Headers: map[string]string{
			HeaderOutboxID:      entry.ID.String(),
			HeaderAggregateType: entry.AggregateType,
			HeaderEventType:     entry.EventType,
		},
	}
}

// drain runs after cancellation on its own deadline, since the caller's
// context is already done.
func (r *Relay) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DrainTimeout)
	defer cancel()

	var relayed int
	for ctx.Err() == nil {
		res, err := r.RelayBatch(ctx)
		if err != nil || res.Relayed == 0 {
			break
		}
		relayed += res.Relayed
	}
	r.logger.Info("outbox relay drained", "relayed", relayed)
}

// ReportDepth refreshes the pending depth gauge.
func (r *Relay) ReportDepth(ctx context.Context) error {
	if r.metrics == nil {
		return nil
	}
	count, err := r.store.CountPending(ctx)
	if err != nil {
		return fmt.Errorf("count pending outbox entries: %w", err)
	}
	r.metrics.SetPendingDepth(count)
	return nil
}
