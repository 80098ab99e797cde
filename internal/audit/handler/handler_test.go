package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refaccess/internal/audit"
	id "refaccess/pkg/domain"
)

var t0 = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func newRouter(t *testing.T) (chi.Router, *audit.InMemoryStore) {
	t.Helper()
	store := audit.NewInMemoryStore()
	r := chi.NewRouter()
	New(audit.NewReporter(store), slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r, store
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestCounts(t *testing.T) {
	r, store := newRouter(t)
	req := id.NewRequestID()
	actor := id.ActorID(id.NewRequestID())
	for _, at := range []time.Duration{time.Minute, 61 * time.Minute, 62 * time.Minute} {
		require.NoError(t, store.Append(context.Background(), audit.Event{
			ID: id.NewEventID(), RequestID: req, ActorID: actor, Type: audit.EventAccess, Timestamp: t0.Add(at),
		}))
	}

	t.Run("total", func(t *testing.T) {
		rec := get(r, "/admin/audit/counts?event_type=access&from=2026-06-01T00:00:00Z&to=2026-06-01T02:00:00Z")

		require.Equal(t, http.StatusOK, rec.Code)
		var body CountsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, int64(3), body.Count)
		assert.Empty(t, body.Buckets)
	})

	t.Run("bucketed", func(t *testing.T) {
		rec := get(r, "/admin/audit/counts?from=2026-06-01T00:00:00Z&to=2026-06-01T02:00:00Z&bucket=1h&request_id="+req.String())

		require.Equal(t, http.StatusOK, rec.Code)
		var body CountsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Len(t, body.Buckets, 2)
		assert.Equal(t, int64(1), body.Buckets[0].Count)
		assert.Equal(t, int64(2), body.Buckets[1].Count)
		assert.Equal(t, "1h0m0s", body.Bucket)
	})
}

func TestCountsRejectsBadQueries(t *testing.T) {
	r, _ := newRouter(t)
	cases := map[string]string{
		"missing from":   "/admin/audit/counts?to=2026-06-01T02:00:00Z",
		"inverted":       "/admin/audit/counts?from=2026-06-02T00:00:00Z&to=2026-06-01T00:00:00Z",
		"bad type":       "/admin/audit/counts?event_type=login&from=2026-06-01T00:00:00Z&to=2026-06-01T02:00:00Z",
		"bad bucket":     "/admin/audit/counts?bucket=-1h&from=2026-06-01T00:00:00Z&to=2026-06-01T02:00:00Z",
		"bad request id": "/admin/audit/counts?request_id=nope&from=2026-06-01T00:00:00Z&to=2026-06-01T02:00:00Z",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, get(r, target).Code)
		})
	}
}
