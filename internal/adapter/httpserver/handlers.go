package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kamusis/swissql-sub000/internal/config"
	"github.com/kamusis/swissql-sub000/internal/domain"
	"github.com/kamusis/swissql-sub000/internal/usecase"
)

// maxBodyBytes caps JSON request bodies. Ad-hoc SQL fits comfortably.
const maxBodyBytes = 1 << 20

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Sessions   usecase.SessionService
	Exec       usecase.ExecuteService
	Meta       usecase.MetaService
	Collectors usecase.CollectorService
	Samplers   usecase.SamplerService
	Generate   usecase.GenerateService

	// Readiness probes; nil checks are skipped.
	RegistryCheck func(ctx context.Context) error
	SessionsCheck func(ctx context.Context) error
	AICheck       func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, sessions usecase.SessionService, exec usecase.ExecuteService, meta usecase.MetaService, collectors usecase.CollectorService, samplers usecase.SamplerService, generate usecase.GenerateService, registryCheck, sessionsCheck, aiCheck func(context.Context) error) *Server {
	return &Server{
		Cfg:           cfg,
		Sessions:      sessions,
		Exec:          exec,
		Meta:          meta,
		Collectors:    collectors,
		Samplers:      samplers,
		Generate:      generate,
		RegistryCheck: registryCheck,
		SessionsCheck: sessionsCheck,
		AICheck:       aiCheck,
	}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// validationDetails flattens validator errors into a field->tag map for the
// error envelope.
func validationDetails(err error) map[string]string {
	verrs := map[string]string{}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			verrs[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return verrs
}

// decodeBody caps and decodes a JSON request body into dst. A nil error with
// ok=false means the response has already been written.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
		return false
	}
	return true
}

// ConnectHandler opens a named session and eagerly probes its pool.
func (s *Server) ConnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req struct {
			DSN     string `json:"dsn" validate:"required"`
			DBType  string `json:"db_type"`
			Options struct {
				ReadOnly            bool `json:"read_only"`
				UseMCP              bool `json:"use_mcp"`
				ConnectionTimeoutMS int  `json:"connection_timeout_ms" validate:"omitempty,min=0"`
			} `json:"options"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		res, err := s.Sessions.Connect(r.Context(), req.DSN, req.DBType, domain.ConnectOptions{
			ReadOnly:            req.Options.ReadOnly,
			UseMCP:              req.Options.UseMCP,
			ConnectionTimeoutMS: req.Options.ConnectionTimeoutMS,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id":     res.Session.ID,
			"db_type":        res.Session.DBType,
			"server_version": res.ServerVersion,
			"read_only":      res.Session.Options.ReadOnly,
			"created_at":     res.Session.CreatedAt,
			"expires_at":     res.Session.ExpiresAt,
		})
	}
}

// DisconnectHandler closes a session, its pool, and its samplers.
func (s *Server) DisconnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		sid := strings.TrimSpace(r.URL.Query().Get("session_id"))
		if err := s.Sessions.Disconnect(r.Context(), sid); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"session_id": sid, "status": "disconnected"})
	}
}

// ExecuteHandler runs one ad-hoc SQL statement on a session's pool.
func (s *Server) ExecuteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req struct {
			SessionID string `json:"session_id" validate:"required"`
			SQL       string `json:"sql" validate:"required"`
			Options   struct {
				Limit          int `json:"limit" validate:"omitempty,min=0"`
				FetchSize      int `json:"fetch_size" validate:"omitempty,min=0"`
				QueryTimeoutMS int `json:"query_timeout_ms" validate:"omitempty,min=0"`
			} `json:"options"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		resp, err := s.Exec.Execute(r.Context(), req.SessionID, req.SQL, domain.ExecuteOptions{
			Limit:          req.Options.Limit,
			FetchSize:      req.Options.FetchSize,
			QueryTimeoutMS: req.Options.QueryTimeoutMS,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ConnInfoHandler reports driver and server details for a session.
func (s *Server) ConnInfoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		info, err := s.Meta.ConnInfo(r.Context(), r.URL.Query().Get("session_id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

// DescribeHandler lists the columns of a named table or view.
func (s *Server) DescribeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		q := r.URL.Query()
		resp, err := s.Meta.Describe(r.Context(), q.Get("session_id"),
			SanitizeString(q.Get("name")), SanitizeString(q.Get("schema")), q.Get("detail"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ListObjectsHandler catalogs tables and views visible to the session.
func (s *Server) ListObjectsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		q := r.URL.Query()
		resp, err := s.Meta.List(r.Context(), q.Get("session_id"), q.Get("kind"), SanitizeString(q.Get("schema")))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ExplainHandler renders the execution plan for a statement.
func (s *Server) ExplainHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req struct {
			SessionID string `json:"session_id" validate:"required"`
			SQL       string `json:"sql" validate:"required"`
			Analyze   bool   `json:"analyze"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		resp, err := s.Meta.Explain(r.Context(), req.SessionID, req.SQL, req.Analyze)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// CompletionsHandler serves identifier hints for interactive clients.
func (s *Server) CompletionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		q := r.URL.Query()
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		items, err := s.Meta.Completions(r.Context(), q.Get("session_id"), SanitizeString(q.Get("prefix")), limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if items == nil {
			items = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

// DriversHandler reports the compiled-in driver matrix with pack counts.
func (s *Server) DriversHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"drivers": s.Meta.Drivers()})
	}
}

// DriversReloadHandler rereads collector packs from disk.
func (s *Server) DriversReloadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		sum, err := s.Meta.ReloadDrivers()
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

// CollectorsListHandler lists collectors whose packs match the session's
// server version.
func (s *Server) CollectorsListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		infos, err := s.Collectors.List(r.Context(), r.URL.Query().Get("session_id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if infos == nil {
			infos = []domain.CollectorInfo{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"collectors": infos})
	}
}

// CollectorQueriesHandler lists runnable queries, optionally narrowed to one
// collector.
func (s *Server) CollectorQueriesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		q := r.URL.Query()
		queries, err := s.Collectors.Queries(r.Context(), q.Get("session_id"), q.Get("collector_id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if queries == nil {
			queries = []domain.QueryInfo{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"queries": queries})
	}
}

// CollectorRunHandler executes a whole collector, or a single named query
// when query_id is present.
func (s *Server) CollectorRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req struct {
			SessionID    string         `json:"session_id" validate:"required"`
			CollectorID  string         `json:"collector_id"`
			CollectorRef string         `json:"collector_ref"`
			QueryID      string         `json:"query_id"`
			Params       map[string]any `json:"params"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		ctx := r.Context()
		if req.QueryID != "" {
			res, err := s.Collectors.RunQuery(ctx, req.SessionID, req.CollectorID, req.CollectorRef, req.QueryID, req.Params)
			if err != nil {
				writeError(w, r, err, nil)
				return
			}
			writeJSON(w, http.StatusOK, res)
			return
		}
		res, err := s.Collectors.Run(ctx, req.SessionID, req.CollectorID, req.CollectorRef)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// SamplersListHandler lists sampler states for a session.
func (s *Server) SamplersListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		statuses, err := s.Samplers.List(r.Context(), chi.URLParam(r, "sid"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if statuses == nil {
			statuses = []domain.SamplerStatus{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"samplers": statuses})
	}
}

// SamplerUpsertHandler creates or reconfigures one sampler. The path id is
// authoritative; an empty body starts the sampler with its default
// definition.
func (s *Server) SamplerUpsertHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		id := chi.URLParam(r, "id")
		if verrs := ValidateSamplerID(id); len(verrs) > 0 {
			writeError(w, r, fmt.Errorf("%w: invalid sampler id", domain.ErrInvalidArgument), verrs)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var def domain.SamplerDefinition
		if err := json.NewDecoder(r.Body).Decode(&def); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		def.SamplerID = id
		st, err := s.Samplers.Upsert(r.Context(), chi.URLParam(r, "sid"), def)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// SamplerStatusHandler reports one sampler's state.
func (s *Server) SamplerStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		st, err := s.Samplers.Status(r.Context(), chi.URLParam(r, "sid"), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// SamplerStopHandler stops one sampler and reports its final state.
func (s *Server) SamplerStopHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		st, err := s.Samplers.Stop(r.Context(), chi.URLParam(r, "sid"), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// SamplerSnapshotHandler serves the sampler's most recent capture.
func (s *Server) SamplerSnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		snap, err := s.Samplers.Snapshot(r.Context(), chi.URLParam(r, "sid"), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// GenerateHandler asks the AI gateway for SQL matching a natural-language
// prompt.
func (s *Server) GenerateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req struct {
			Prompt        string `json:"prompt" validate:"required"`
			DBType        string `json:"db_type"`
			SessionID     string `json:"session_id"`
			ContextMode   string `json:"context_mode" validate:"omitempty,oneof=off auto recent"`
			ContextLimit  int    `json:"context_limit" validate:"omitempty,min=0"`
			SchemaContext string `json:"schema_context"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		out, err := s.Generate.Generate(r.Context(), usecase.GenerateInput{
			Prompt:        req.Prompt,
			DBType:        req.DBType,
			SessionID:     req.SessionID,
			ContextMode:   req.ContextMode,
			ContextLimit:  req.ContextLimit,
			SchemaContext: req.SchemaContext,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// AIContextHandler serves the session's recent statement history.
func (s *Server) AIContextHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		sid := r.URL.Query().Get("session_id")
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		items, err := s.Generate.RecentContext(r.Context(), sid, limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if items == nil {
			items = []domain.ContextItem{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"session_id": sid, "items": items})
	}
}

// AIContextClearHandler drops the session's statement history.
func (s *Server) AIContextClearHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		sid := strings.TrimSpace(r.URL.Query().Get("session_id"))
		if err := s.Generate.ClearContext(r.Context(), sid); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"session_id": sid, "status": "cleared"})
	}
}

// ReadyzHandler probes the collector registry, the session sweeper, and the
// AI gateway configuration.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 3)
		if s.RegistryCheck != nil {
			if err := s.RegistryCheck(ctx); err != nil {
				checks = append(checks, check{Name: "registry", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "registry", OK: true})
			}
		}
		if s.SessionsCheck != nil {
			if err := s.SessionsCheck(ctx); err != nil {
				checks = append(checks, check{Name: "sessions", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "sessions", OK: true})
			}
		}
		if s.AICheck != nil {
			if err := s.AICheck(ctx); err != nil {
				checks = append(checks, check{Name: "ai", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "ai", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// OpenAPIServe serves api/openapi.yaml if present.
func (s *Server) OpenAPIServe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := os.ReadFile("api/openapi.yaml")
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}
}
