package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "refaccess/pkg/domain-errors"
)

type plainRequest struct {
	Reason string `json:"reason"`
}

type preparedRequest struct {
	Reason     string `json:"reason"`
	normalized bool
}

func (r *preparedRequest) Normalize() {
	r.normalized = true
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *preparedRequest) Validate() error {
	if r.Reason == "" {
		return errors.New("reason is required")
	}
	return nil
}

type domainValidatedRequest struct{}

func (r *domainValidatedRequest) Validate() error {
	return dErrors.New(dErrors.CodeForbidden, "not yours")
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestDecodeJSON(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("decodes a valid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"reason":"hiring"}`))
		rec := httptest.NewRecorder()

		result, ok := DecodeJSON[plainRequest](rec, req, logger, ctx, "req-1")

		require.True(t, ok)
		assert.Equal(t, "hiring", result.Reason)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{bad`))
		rec := httptest.NewRecorder()

		result, ok := DecodeJSON[plainRequest](rec, req, logger, ctx, "req-1")

		assert.False(t, ok)
		assert.Nil(t, result)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "bad_request", decodeBody(t, rec)["error"])
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"reason":"x","price":1}`))
		rec := httptest.NewRecorder()

		_, ok := DecodeJSON[plainRequest](rec, req, logger, ctx, "req-1")

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDecodeAndPrepare(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("normalizes before validating", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"reason":"  audit  "}`))
		rec := httptest.NewRecorder()

		result, ok := DecodeAndPrepare[preparedRequest](rec, req, logger, ctx, "req-1")

		require.True(t, ok)
		assert.True(t, result.normalized)
		assert.Equal(t, "audit", result.Reason)
	})

	t.Run("plain validation errors become validation_error", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"reason":"   "}`))
		rec := httptest.NewRecorder()

		_, ok := DecodeAndPrepare[preparedRequest](rec, req, logger, ctx, "req-1")

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "validation_error", body["error"])
		assert.Equal(t, "reason is required", body["error_description"])
	})

	t.Run("domain errors keep their code", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{}`))
		rec := httptest.NewRecorder()

		_, ok := DecodeAndPrepare[domainValidatedRequest](rec, req, logger, ctx, "req-1")

		assert.False(t, ok)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestWriteError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{dErrors.New(dErrors.CodeNotFound, "access request not found"), http.StatusNotFound, "not_found"},
		{dErrors.New(dErrors.CodeInvalidState, "request is rejected"), http.StatusConflict, "invalid_state"},
		{dErrors.New(dErrors.CodeForbidden, "not the requester"), http.StatusForbidden, "forbidden"},
		{dErrors.New(dErrors.CodeUpstreamUnavailable, "profile store unavailable"), http.StatusServiceUnavailable, "upstream_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tc.err)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decodeBody(t, rec)["error"])
		})
	}

	t.Run("internal messages are not exposed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, dErrors.New(dErrors.CodeInternal, "pq: connection refused"))
		_, present := decodeBody(t, rec)["error_description"]
		assert.False(t, present)
	})
}
