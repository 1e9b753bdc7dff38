package httpserver

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/swissql-sub000/internal/domain"
)

// samplerRouter mounts the sampler routes the way the app router does so
// chi URL params resolve.
func samplerRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1/sessions/{sid}/samplers", func(r chi.Router) {
		r.Get("/", s.SamplersListHandler())
		r.Put("/{id}", s.SamplerUpsertHandler())
		r.Get("/{id}", s.SamplerStatusHandler())
		r.Delete("/{id}", s.SamplerStopHandler())
		r.Get("/{id}/snapshot", s.SamplerSnapshotHandler())
	})
	return r
}

func TestSamplersListHandler(t *testing.T) {
	f := newFixture(t)
	f.samplers.list = []domain.SamplerStatus{
		{SessionID: "sess-1", SamplerID: "perf-default", Status: domain.SamplerStateRunning, Collecting: true},
		{SessionID: "sess-1", SamplerID: "locks", Status: domain.SamplerStateStopped, Reason: "tick failed"},
	}

	rr := httptest.NewRecorder()
	samplerRouter(f.srv).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/sess-1/samplers", nil))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeMap(t, rr)
	assert.Len(t, body["samplers"], 2)
}

func TestSamplersListHandler_UnknownSession(t *testing.T) {
	f := newFixture(t)

	rr := httptest.NewRecorder()
	samplerRouter(f.srv).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/ghost/samplers", nil))

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", decodeError(t, rr).Code)
}

func TestSamplerUpsertHandler_PathIDWins(t *testing.T) {
	f := newFixture(t)
	f.samplers.status = domain.SamplerStatus{
		SessionID: "sess-1", SamplerID: "perf-default", Status: domain.SamplerStateRunning, Collecting: true, IntervalSec: 30,
	}

	req := httptest.NewRequest(http.MethodPut, "/v1/sessions/sess-1/samplers/perf-default",
		strings.NewReader(`{"sampler_id":"other","schedule":{"interval_sec":30},"target":{"collector_id":"top"}}`))
	rr := httptest.NewRecorder()
	samplerRouter(f.srv).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "perf-default", f.samplers.gotSampler)
	assert.Equal(t, "sess-1", f.samplers.gotSession.ID)
	require.NotNil(t, f.samplers.gotDef.Schedule)
	assert.Equal(t, 30, f.samplers.gotDef.Schedule.IntervalSec)
	body := decodeMap(t, rr)
	assert.Equal(t, "RUNNING", body["status"])
}

func TestSamplerUpsertHandler_EmptyBodyStartsDefaults(t *testing.T) {
	f := newFixture(t)
	f.samplers.status = domain.SamplerStatus{
		SessionID: "sess-1", SamplerID: "perf-default", Status: domain.SamplerStateRunning,
	}

	req := httptest.NewRequest(http.MethodPut, "/v1/sessions/sess-1/samplers/perf-default", nil)
	rr := httptest.NewRecorder()
	samplerRouter(f.srv).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "perf-default", f.samplers.gotSampler)
	assert.Nil(t, f.samplers.gotDef.Schedule)
}

func TestSamplerUpsertHandler_RejectsBadID(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPut, "/v1/sessions/sess-1/samplers/bad*id", nil)
	rr := httptest.NewRecorder()
	samplerRouter(f.srv).ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	e := decodeError(t, rr)
	assert.Equal(t, "INVALID_ARGUMENT", e.Code)
	details, ok := e.Details.([]any)
	require.True(t, ok)
	require.Len(t, details, 1)
	first, ok := details[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "INVALID_FORMAT", first["code"])
}

func TestSamplerStatusHandler_NotFound(t *testing.T) {
	f := newFixture(t)
	f.samplers.err = fmt.Errorf("%w: %s", domain.ErrSamplerNotFound, "ghost")

	rr := httptest.NewRecorder()
	samplerRouter(f.srv).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/sess-1/samplers/ghost", nil))

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "SAMPLER_NOT_FOUND", decodeError(t, rr).Code)
}

func TestSamplerStopHandler(t *testing.T) {
	f := newFixture(t)
	f.samplers.status = domain.SamplerStatus{
		SessionID: "sess-1", SamplerID: "perf-default", Status: domain.SamplerStateStopped,
	}

	rr := httptest.NewRecorder()
	samplerRouter(f.srv).ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/sessions/sess-1/samplers/perf-default", nil))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 1, f.samplers.stops)
	body := decodeMap(t, rr)
	assert.Equal(t, "STOPPED", body["status"])
}

func TestSamplerSnapshotHandler(t *testing.T) {
	f := newFixture(t)
	f.samplers.snapshot = &domain.CollectorResult{
		DBType:      "postgres",
		CollectorID: "top",
		IntervalSec: 30,
	}

	rr := httptest.NewRecorder()
	samplerRouter(f.srv).ServeHTTP(rr, httptest.NewRequest(http.MethodGet,
		"/v1/sessions/sess-1/samplers/perf-default/snapshot", nil))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeMap(t, rr)
	assert.Equal(t, "top", body["collector_id"])
	assert.Equal(t, float64(30), body["interval_sec"])
}

func TestSamplerSnapshotHandler_NoResultYet(t *testing.T) {
	f := newFixture(t)
	f.samplers.err = fmt.Errorf("%w: no snapshot for %s", domain.ErrSamplerNotFound, "perf-default")

	rr := httptest.NewRecorder()
	samplerRouter(f.srv).ServeHTTP(rr, httptest.NewRequest(http.MethodGet,
		"/v1/sessions/sess-1/samplers/perf-default/snapshot", nil))

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "SAMPLER_NOT_FOUND", decodeError(t, rr).Code)
}
