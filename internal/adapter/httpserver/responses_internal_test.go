package httpserver

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/swissql-sub000/internal/domain"
)

func TestWriteError_StatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid argument", fmt.Errorf("%w: dsn required", domain.ErrInvalidArgument), http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"session not found", fmt.Errorf("%w: ghost", domain.ErrSessionNotFound), http.StatusNotFound, "SESSION_NOT_FOUND"},
		{"collector not found", fmt.Errorf("%w: nope", domain.ErrCollectorNotFound), http.StatusNotFound, "COLLECTOR_NOT_FOUND"},
		{"query not found", fmt.Errorf("%w: nope", domain.ErrQueryNotFound), http.StatusNotFound, "QUERY_NOT_FOUND"},
		{"sampler not found", fmt.Errorf("%w: nope", domain.ErrSamplerNotFound), http.StatusNotFound, "SAMPLER_NOT_FOUND"},
		{"ambiguous", fmt.Errorf("%w: top", domain.ErrCollectorAmbiguous), http.StatusConflict, "COLLECTOR_AMBIGUOUS"},
		{"connection failure", fmt.Errorf("%w: refused", domain.ErrConnectionFailure), http.StatusBadGateway, "CONNECTION_FAILURE"},
		{"execution", fmt.Errorf("%w: ORA-00942", domain.ErrExecution), http.StatusBadRequest, "EXECUTION_ERROR"},
		{"upstream", fmt.Errorf("%w: status 502", domain.ErrUpstream), http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"ai disabled", fmt.Errorf("%w: not configured", domain.ErrAIDisabled), http.StatusServiceUnavailable, "AI_DISABLED"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, httptest.NewRequest(http.MethodGet, "/", nil), tc.err, nil)
			require.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.code, decodeError(t, rr).Code)
		})
	}
}

func TestWriteError_ExecutionMessageSanitized(t *testing.T) {
	err := fmt.Errorf("run query: %w", fmt.Errorf("%w: ERROR: syntax error at or near \"FORM\"", domain.ErrExecution))

	rr := httptest.NewRecorder()
	writeError(rr, httptest.NewRequest(http.MethodGet, "/", nil), err, nil)

	e := decodeError(t, rr)
	assert.Equal(t, "EXECUTION_ERROR", e.Code)
	assert.Equal(t, `syntax error at or near "FORM"`, e.Message)
}

func TestWriteError_TraceIDFallsBackToRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "01J5ZX3Y9GV0")

	rr := httptest.NewRecorder()
	writeError(rr, req, fmt.Errorf("%w: x", domain.ErrInvalidArgument), nil)

	assert.Equal(t, "01J5ZX3Y9GV0", decodeError(t, rr).TraceID)
}

func TestWriteError_DetailsOmittedWhenNil(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("%w: x", domain.ErrInvalidArgument), nil)

	assert.NotContains(t, rr.Body.String(), `"details"`)
}

func TestWriteJSON_SetsContentType(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusOK, map[string]string{"ok": "yes"})

	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestNotAcceptable(t *testing.T) {
	cases := []struct {
		accept  string
		blocked bool
	}{
		{"", false},
		{"*/*", false},
		{"application/json", false},
		{"application/json, text/html", false},
		{"text/html", true},
		{"application/xml", true},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.accept != "" {
			req.Header.Set("Accept", tc.accept)
		}
		rr := httptest.NewRecorder()
		got := notAcceptable(rr, req)
		assert.Equal(t, tc.blocked, got, "accept=%q", tc.accept)
		if tc.blocked {
			assert.Equal(t, http.StatusNotAcceptable, rr.Code)
		}
	}
}
