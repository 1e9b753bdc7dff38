// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the gateway's REST surface: session lifecycle, ad-hoc SQL
// execution, metadata introspection, collector runs, sampler control, and
// AI-assisted SQL generation. Handlers stay thin and delegate to the
// usecase layer; this package owns only wire shapes and status mapping.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/kamusis/swissql-sub000/internal/domain"
	"github.com/kamusis/swissql-sub000/internal/service/aicontext"
)

// apiError is the body of every non-2xx response.
type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	TraceID string      `json:"trace_id"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error, details interface{}) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
		code = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrSessionNotFound):
		status = http.StatusNotFound
		code = "SESSION_NOT_FOUND"
	case errors.Is(err, domain.ErrCollectorNotFound):
		status = http.StatusNotFound
		code = "COLLECTOR_NOT_FOUND"
	case errors.Is(err, domain.ErrQueryNotFound):
		status = http.StatusNotFound
		code = "QUERY_NOT_FOUND"
	case errors.Is(err, domain.ErrSamplerNotFound):
		status = http.StatusNotFound
		code = "SAMPLER_NOT_FOUND"
	case errors.Is(err, domain.ErrCollectorAmbiguous):
		status = http.StatusConflict
		code = "COLLECTOR_AMBIGUOUS"
	case errors.Is(err, domain.ErrConnectionFailure):
		status = http.StatusBadGateway
		code = "CONNECTION_FAILURE"
	case errors.Is(err, domain.ErrExecution):
		// Driver messages can leak DSN fragments or literals; serve the
		// sanitized leaf message only.
		status = http.StatusBadRequest
		code = "EXECUTION_ERROR"
		msg = aicontext.SanitizeError(domain.DeepestMessage(err))
	case errors.Is(err, domain.ErrUpstream):
		status = http.StatusBadGateway
		code = "UPSTREAM_ERROR"
	case errors.Is(err, domain.ErrAIDisabled):
		status = http.StatusServiceUnavailable
		code = "AI_DISABLED"
	}
	writeJSON(w, status, apiError{Code: code, Message: msg, Details: details, TraceID: traceID(r)})
}

// notAcceptable rejects requests whose Accept header excludes JSON; every
// endpoint speaks JSON only. Returns true when the response was written.
func notAcceptable(w http.ResponseWriter, r *http.Request) bool {
	a := r.Header.Get("Accept")
	if a == "" || a == "*/*" || strings.Contains(a, "application/json") {
		return false
	}
	writeJSON(w, http.StatusNotAcceptable, apiError{
		Code:    "INVALID_ARGUMENT",
		Message: "not acceptable",
		Details: map[string]string{"accept": a},
		TraceID: traceID(r),
	})
	return true
}

// traceID prefers the OTEL trace id and falls back to the request id so the
// error envelope always carries a correlation handle.
func traceID(r *http.Request) string {
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return r.Header.Get("X-Request-Id")
}
