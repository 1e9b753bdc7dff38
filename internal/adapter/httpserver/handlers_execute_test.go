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

func TestExecuteHandler_ReturnsResponseEnvelope(t *testing.T) {
	f := newFixture(t)
	f.exec.resp = &domain.ExecuteResponse{
		Type: domain.ResultTypeTabular,
		Data: domain.ResponseData{
			Columns: []domain.Column{{Name: "id"}},
			Rows:    []domain.Row{{"id": int64(7)}},
		},
		Metadata: domain.ResponseMetadata{RowsAffected: 1, DurationMS: 3},
	}

	rr := httptest.NewRecorder()
	f.srv.ExecuteHandler()(rr, postJSON("/v1/execute",
		`{"session_id":"sess-1","sql":"SELECT id FROM t","options":{"limit":100,"query_timeout_ms":5000}}`))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeMap(t, rr)
	assert.Equal(t, "tabular", body["type"])
	assert.Equal(t, "SELECT id FROM t", f.exec.gotSQL)
	assert.Equal(t, 100, f.exec.gotOpts.Limit)
	assert.Equal(t, 5000, f.exec.gotOpts.QueryTimeoutMS)
}

func TestExecuteHandler_ValidationDetails(t *testing.T) {
	f := newFixture(t)

	rr := httptest.NewRecorder()
	f.srv.ExecuteHandler()(rr, postJSON("/v1/execute", `{"session_id":"sess-1"}`))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	e := decodeError(t, rr)
	assert.Equal(t, "INVALID_ARGUMENT", e.Code)
	details, ok := e.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "required", details["sql"])
}

func TestExecuteHandler_UnknownSession(t *testing.T) {
	f := newFixture(t)

	rr := httptest.NewRecorder()
	f.srv.ExecuteHandler()(rr, postJSON("/v1/execute", `{"session_id":"ghost","sql":"SELECT 1"}`))

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", decodeError(t, rr).Code)
}

func TestExecuteHandler_SanitizesExecutionError(t *testing.T) {
	f := newFixture(t)
	f.exec.err = fmt.Errorf("%w: ERROR: relation \"missing\" does not exist password=hunter2",
		domain.ErrExecution)

	rr := httptest.NewRecorder()
	f.srv.ExecuteHandler()(rr, postJSON("/v1/execute", `{"session_id":"sess-1","sql":"SELECT * FROM missing"}`))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	e := decodeError(t, rr)
	assert.Equal(t, "EXECUTION_ERROR", e.Code)
	assert.Contains(t, e.Message, "does not exist")
	assert.NotContains(t, e.Message, "hunter2")
	assert.NotContains(t, e.Message, "execution error:")
}

func TestExecuteHandler_RejectsOversizedBody(t *testing.T) {
	f := newFixture(t)

	big := make([]byte, maxBodyBytes+1024)
	for i := range big {
		big[i] = 'a'
	}
	rr := httptest.NewRecorder()
	f.srv.ExecuteHandler()(rr, postJSON("/v1/execute",
		`{"session_id":"sess-1","sql":"`+string(big)+`"}`))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_ARGUMENT", decodeError(t, rr).Code)
}
