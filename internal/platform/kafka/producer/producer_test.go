package producer

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresBrokers(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.ErrorContains(t, err, "brokers not configured")
}

func TestToRecord_CopiesHeaders(t *testing.T) {
	rec := toRecord(&Message{
		Topic:   "access-request-events",
		Key:     []byte("k"),
		Value:   []byte("v"),
		Headers: map[string]string{"event_type": "access_request.expired"},
	})

	assert.Equal(t, "access-request-events", rec.Topic)
	assert.Equal(t, []byte("k"), rec.Key)
	require.Len(t, rec.Headers, 1)
	assert.Equal(t, "event_type", rec.Headers[0].Key)
	assert.Equal(t, "access_request.expired", string(rec.Headers[0].Value))
}

func TestProducer_ClosedRejectsProduce(t *testing.T) {
	// The client connects lazily, so no broker is needed to build and close it.
	p, err := New(Config{Brokers: []string{"127.0.0.1:1"}, Acks: "1"}, nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "second close is a no-op")

	ctx := context.Background()
	assert.ErrorContains(t, p.Produce(ctx, &Message{Topic: "t"}), "producer is closed")
	assert.ErrorContains(t, p.Check(ctx), "producer is closed")
}

func TestNoopProducer(t *testing.T) {
	p := NewNoopProducer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	assert.NoError(t, p.Produce(ctx, &Message{Topic: "t", Key: []byte("k")}))
	assert.NoError(t, p.Check(ctx))
	assert.NoError(t, p.Close())
}
