package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/halyard/pkg/api"
)

func decodeProblemDetail(t *testing.T, w *httptest.ResponseRecorder) api.ProblemDetail {
	t.Helper()
	var p api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	return p
}

func TestWriteError_ProblemEnvelope(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	api.WriteError(w, http.StatusBadRequest, "Bad Request", "field is missing")

	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	p := decodeProblemDetail(t, w)
	assert.Equal(t, http.StatusBadRequest, p.Status)
	assert.Equal(t, "Bad Request", p.Title)
	assert.Equal(t, "field is missing", p.Detail)
	assert.True(t, strings.HasSuffix(p.Type, "/bad-request"), "type URI carries the slug, got %q", p.Type)
}

func TestConvenienceWriters_StatusCodes(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name  string
		write func(w http.ResponseWriter)
		want  int
	}{
		{"bad request", func(w http.ResponseWriter) { api.WriteBadRequest(w, "x") }, http.StatusBadRequest},
		{"unauthorized", func(w http.ResponseWriter) { api.WriteUnauthorized(w, "x") }, http.StatusUnauthorized},
		{"forbidden", func(w http.ResponseWriter) { api.WriteForbidden(w, "x") }, http.StatusForbidden},
		{"not found", func(w http.ResponseWriter) { api.WriteNotFound(w, "x") }, http.StatusNotFound},
		{"method not allowed", api.WriteMethodNotAllowed, http.StatusMethodNotAllowed},
		{"conflict", func(w http.ResponseWriter) { api.WriteConflict(w, "x") }, http.StatusConflict},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			tc.write(w)
			assert.Equal(t, tc.want, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		})
	}
}

func TestWriteUnauthorized_DefaultDetail(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	api.WriteUnauthorized(w, "")

	p := decodeProblemDetail(t, w)
	assert.Equal(t, "Authentication required", p.Detail)
}

func TestWriteInternal_HidesCause(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	api.WriteInternal(w, errors.New("pq: connection refused to host=10.0.0.1"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	p := decodeProblemDetail(t, w)
	assert.NotContains(t, p.Detail, "10.0.0.1", "internal error details must not reach the client")
	assert.NotContains(t, p.Detail, "pq:")
}

func TestWriteTooManyRequests_RetryAfter(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, 30)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
}

func TestWriteErrorR_EnrichesFromRequest(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/destinations/d-1", nil)
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-123")

	api.WriteErrorR(w, req, http.StatusNotFound, "Not Found", "no such destination")

	p := decodeProblemDetail(t, w)
	assert.Equal(t, "/api/v1/destinations/d-1", p.Instance)
	assert.Equal(t, "req-123", p.TraceID)
}
