// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the gateway's REST surface: session lifecycle, ad-hoc SQL
// execution, metadata introspection, collector runs, sampler control, and
// AI-assisted SQL generation. Handlers stay thin and delegate to the
// usecase layer; this package owns only wire shapes and status mapping.
package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	obsctx "github.com/kamusis/swissql-sub000/internal/adapter/observability"
)

type loggerKey struct{}

// LoggerFrom returns the request-scoped logger installed by RequestID, or
// the default logger when the middleware did not run.
func LoggerFrom(r *http.Request) *slog.Logger {
	if lg, ok := r.Context().Value(loggerKey{}).(*slog.Logger); ok {
		return lg
	}
	return slog.Default()
}

// RequestID assigns each request a ULID, honoring an X-Request-Id supplied
// by the caller, and installs a logger carrying the id together with the
// active trace and span ids. The id is echoed back on the response.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" {
				id = ulid.Make().String()
				r.Header.Set("X-Request-Id", id)
			}
			w.Header().Set("X-Request-Id", id)

			span := trace.SpanContextFromContext(r.Context())
			lg := slog.Default().With(
				slog.String("request_id", id),
				slog.String("trace_id", span.TraceID().String()),
				slog.String("span_id", span.SpanID().String()),
			)
			ctx := context.WithValue(r.Context(), loggerKey{}, lg)
			ctx = obsctx.ContextWithLogger(ctx, lg)
			ctx = obsctx.ContextWithRequestID(ctx, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Recoverer converts a handler panic into a 500 so one bad request cannot
// take the process down. The panic value and stack go to the log.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					LoggerFrom(r).Error("panic recovered",
						slog.Any("panic", rec),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("stack", string(debug.Stack())),
					)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// TimeoutMiddleware bounds handler time with http.TimeoutHandler, which
// answers 503 when the deadline passes before the handler writes.
func TimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, http.StatusText(http.StatusServiceUnavailable))
	}
}

// SecurityHeaders sets a restrictive header set fit for a JSON API that
// never serves markup. TLS policy headers belong on the edge proxy.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// routePattern reports the chi pattern that matched the request, falling
// back to the raw path when the request never reached the router.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func levelForStatus(code int) slog.Level {
	switch {
	case code >= 500:
		return slog.LevelError
	case code >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// AccessLog emits one line per request. The route field carries the chi
// pattern so log queries can group by the same label Prometheus uses.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			span := trace.SpanContextFromContext(r.Context())
			LoggerFrom(r).LogAttrs(r.Context(), levelForStatus(status), "http_access",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", routePattern(r)),
				slog.Int("status", status),
				slog.String("status_text", http.StatusText(status)),
				slog.Duration("duration_ms", time.Since(start)),
				slog.String("request_id", r.Header.Get("X-Request-Id")),
				slog.String("trace_id", span.TraceID().String()),
				slog.String("span_id", span.SpanID().String()),
			)
		})
	}
}
