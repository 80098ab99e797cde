package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"refaccess/internal/platform/kafka/producer"
	"refaccess/pkg/platform/outbox"
)

type fakeProducer struct {
	mu       sync.Mutex
	messages []*producer.Message
	failKey  string
}

func (p *fakeProducer) Produce(_ context.Context, msg *producer.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failKey != "" && string(msg.Key) == p.failKey {
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakeProducer) setFailKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failKey = key
}

func (p *fakeProducer) sent() []*producer.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*producer.Message(nil), p.messages...)
}

func eventTypes(msgs []*producer.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Key)+"/"+m.Headers[HeaderEventType])
	}
	return out
}

// brokenStore fails every fetch.
type brokenStore struct {
	*outbox.InMemoryStore
}

func (brokenStore) FetchUnprocessed(context.Context, int) ([]*outbox.Entry, error) {
	return nil, errors.New("connection reset")
}

type RelaySuite struct {
	suite.Suite
	ctx     context.Context
	store   *outbox.InMemoryStore
	prod    *fakeProducer
	metrics *outbox.Metrics
	t0      time.Time
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	s.ctx = context.Background()
	s.store = outbox.NewInMemoryStore()
	s.prod = &fakeProducer{}
	s.metrics = outbox.NewMetricsWithRegisterer(prometheus.NewRegistry())
	s.t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
}

func (s *RelaySuite) newRelay(cfg Config) *Relay {
	return New(s.store, s.prod, cfg,
		WithMetrics(s.metrics),
		WithClock(func() time.Time { return s.t0 }),
	)
}

func (s *RelaySuite) append(requestID, eventType string) *outbox.Entry {
	e := outbox.NewEntry("access_request", requestID, eventType, []byte(`{"request_id":"`+requestID+`"}`), s.t0)
	s.Require().NoError(s.store.Append(s.ctx, e))
	return e
}

func (s *RelaySuite) pending() int64 {
	n, err := s.store.CountPending(s.ctx)
	s.Require().NoError(err)
	return n
}

func (s *RelaySuite) TestRelayBatch_PublishesAndMarks() {
	entry := s.append("req-1", "access_request.created")
	relay := s.newRelay(Config{Topic: "events"})

	res, err := relay.RelayBatch(s.ctx)
	s.Require().NoError(err)
	s.Equal(BatchResult{Fetched: 1, Relayed: 1}, res)

	sent := s.prod.sent()
	s.Require().Len(sent, 1)
	s.Equal("events", sent[0].Topic)
	s.Equal("req-1", string(sent[0].Key))
	s.Equal(entry.ID.String(), sent[0].Headers[HeaderOutboxID])
	s.Equal("access_request", sent[0].Headers[HeaderAggregateType])
	s.JSONEq(`{"request_id":"req-1"}`, string(sent[0].Value))

	s.Zero(s.pending())
	s.InDelta(1, testutil.ToFloat64(s.metrics.PublishedTotal), 0)
}

func (s *RelaySuite) TestRelayBatch_FailedEntryStaysPending() {
	s.append("req-1", "access_request.created")
	s.append("req-2", "access_request.created")
	s.prod.setFailKey("req-1")
	relay := s.newRelay(Config{})

	res, err := relay.RelayBatch(s.ctx)
	s.Require().NoError(err)
	s.Equal(BatchResult{Fetched: 2, Relayed: 1, Held: 1}, res)
	s.InDelta(1, testutil.ToFloat64(s.metrics.PublishFailures), 0)
	s.EqualValues(1, s.pending())

	s.prod.setFailKey("")
	res, err = relay.RelayBatch(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, res.Relayed)
	s.Equal([]string{"req-2/access_request.created", "req-1/access_request.created"}, eventTypes(s.prod.sent()))
}

func (s *RelaySuite) TestRelayBatch_HoldsLaterEventsOfStalledRequest() {
	s.append("req-1", "access_request.created")
	s.append("req-1", "access_request.approved")
	s.append("req-2", "access_request.created")
	s.prod.setFailKey("req-1")
	relay := s.newRelay(Config{})

	res, err := relay.RelayBatch(s.ctx)
	s.Require().NoError(err)
	s.Equal(BatchResult{Fetched: 3, Relayed: 1, Held: 2}, res)
	// The approval was never attempted.
	s.InDelta(1, testutil.ToFloat64(s.metrics.PublishFailures), 0)

	s.prod.setFailKey("")
	res, err = relay.RelayBatch(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, res.Relayed)
	s.Equal([]string{
		"req-2/access_request.created",
		"req-1/access_request.created",
		"req-1/access_request.approved",
	}, eventTypes(s.prod.sent()))
}

func (s *RelaySuite) TestRelayBatch_RespectsBatchSize() {
	for _, requestID := range []string{"a", "b", "c"} {
		s.append(requestID, "access_request.expired")
	}
	relay := s.newRelay(Config{BatchSize: 2})

	res, err := relay.RelayBatch(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, res.Relayed)
	res, err = relay.RelayBatch(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, res.Relayed)
}

func (s *RelaySuite) TestRelayBatch_FetchError() {
	relay := New(brokenStore{s.store}, s.prod, Config{}, WithMetrics(s.metrics))

	_, err := relay.RelayBatch(s.ctx)
	s.ErrorContains(err, "connection reset")
	s.InDelta(1, testutil.ToFloat64(s.metrics.PublishFailures), 0)
}

func (s *RelaySuite) TestRelayBacklog_TakesFullBatchesUntilEmpty() {
	for _, requestID := range []string{"a", "b", "c", "d", "e"} {
		s.append(requestID, "access_request.created")
	}
	relay := s.newRelay(Config{BatchSize: 2})

	relay.relayBacklog(s.ctx)

	s.Len(s.prod.sent(), 5)
	s.Zero(s.pending())
}

func (s *RelaySuite) TestRelayBacklog_StopsWhenNothingMoves() {
	s.append("a", "access_request.created")
	s.append("a", "access_request.approved")
	s.prod.setFailKey("a")
	relay := s.newRelay(Config{BatchSize: 2})

	relay.relayBacklog(s.ctx)

	s.Empty(s.prod.sent())
	s.EqualValues(2, s.pending())
}

func (s *RelaySuite) TestRun_DrainsOnCancel() {
	relay := s.newRelay(Config{PollInterval: time.Hour})
	s.append("req-1", "access_request.rejected")
	s.append("req-2", "access_request.created")

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	s.Require().NoError(relay.Run(ctx))

	s.Len(s.prod.sent(), 2)
	s.Zero(s.pending())
}

func (s *RelaySuite) TestReportDepth() {
	s.append("req-1", "access_request.created")
	relay := s.newRelay(Config{})

	s.Require().NoError(relay.ReportDepth(s.ctx))
	s.InDelta(1, testutil.ToFloat64(s.metrics.PendingDepth), 0)

	s.NoError(New(s.store, s.prod, Config{}).ReportDepth(s.ctx))
}
