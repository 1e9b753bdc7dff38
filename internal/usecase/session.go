package usecase

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kamusis/swissql-sub000/internal/adapter/database"
	"github.com/kamusis/swissql-sub000/internal/domain"
)

// SessionService opens and closes named sessions. Connect eagerly builds
// the session's pool so a bad DSN fails the request instead of the first
// statement.
type SessionService struct {
	Log      *slog.Logger
	Sessions Sessions
	Pools    Pools
	Contexts ContextStore
}

// NewSessionService constructs a SessionService with its dependencies.
func NewSessionService(log *slog.Logger, sessions Sessions, pools Pools, contexts ContextStore) SessionService {
	return SessionService{Log: log, Sessions: sessions, Pools: pools, Contexts: contexts}
}

// ConnectResult reports a freshly opened session and its server.
type ConnectResult struct {
	Session       domain.Session
	ServerVersion string
}

// Connect validates the DSN, normalizes the dialect (inferring it from the
// DSN when omitted), registers a session, and probes one connection within
// the validation window. A failed probe rolls the session back.
func (s SessionService) Connect(ctx domain.Context, dsn, dbType string, opts domain.ConnectOptions) (ConnectResult, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return ConnectResult{}, fmt.Errorf("%w: dsn required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(dbType) == "" {
		dbType = database.InferDBType(dsn)
		if dbType == "" {
			return ConnectResult{}, fmt.Errorf("%w: db_type required when it cannot be inferred from the dsn", domain.ErrInvalidArgument)
		}
	}
	normalized, err := database.NormalizeDBType(dbType)
	if err != nil {
		return ConnectResult{}, err
	}

	sess := s.Sessions.Create(dsn, normalized, opts)
	pool, err := s.Pools.Get(ctx, &sess)
	if err != nil {
		_ = s.Sessions.CloseSession(ctx, sess.ID)
		return ConnectResult{}, err
	}

	version, verr := pool.Version(ctx)
	if verr != nil {
		s.Log.Warn("server version probe failed",
			slog.String("session_id", sess.ID),
			slog.Any("error", verr))
	}

	s.Log.Info("session connected",
		slog.String("session_id", sess.ID),
		slog.String("db_type", sess.DBType),
		slog.String("dsn", database.RedactDSN(dsn)),
		slog.Bool("read_only", opts.ReadOnly))
	return ConnectResult{Session: sess, ServerVersion: version}, nil
}

// Disconnect tears the session down: samplers stop first, then the pool
// closes, then the registry entry and AI context history go.
func (s SessionService) Disconnect(ctx domain.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session_id required", domain.ErrInvalidArgument)
	}
	if err := s.Sessions.CloseSession(ctx, sessionID); err != nil {
		return err
	}
	if s.Contexts != nil {
		s.Contexts.Clear(sessionID)
	}
	return nil
}
