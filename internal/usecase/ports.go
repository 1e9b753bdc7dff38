// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"strings"

	"github.com/kamusis/swissql-sub000/internal/adapter/ai/tokencount"
	"github.com/kamusis/swissql-sub000/internal/adapter/database"
	"github.com/kamusis/swissql-sub000/internal/domain"
	"github.com/kamusis/swissql-sub000/internal/service/registry"
)

// Sessions is the session registry surface the gateway flows consume.
// Get touches the session's last-access time.
type Sessions interface {
	Create(dsn, dbType string, opts domain.ConnectOptions) domain.Session
	Get(id string) (domain.Session, error)
	CloseSession(ctx domain.Context, id string) error
}

// Pools owns one connection pool per live session and lends them out.
type Pools interface {
	Get(ctx domain.Context, sess *domain.Session) (*database.Pool, error)
}

// Executor runs ad-hoc SQL against a borrowed pool.
type Executor interface {
	ExecAdHoc(ctx domain.Context, pool *database.Pool, sqlText string, opts domain.ExecuteOptions) (*domain.ExecuteResponse, error)
}

// Metadata serves the introspection queries behind /v1/meta.
type Metadata interface {
	ConnInfo(ctx domain.Context, pool *database.Pool, sess *domain.Session) (*domain.ConnInfo, error)
	Describe(ctx domain.Context, pool *database.Pool, name, schema string, full bool) (*domain.ExecuteResponse, error)
	ListObjects(ctx domain.Context, pool *database.Pool, kind, schema string) (*domain.ExecuteResponse, error)
	Explain(ctx domain.Context, pool *database.Pool, sqlText string, analyze bool) (*domain.ExecuteResponse, error)
	Completions(ctx domain.Context, pool *database.Pool, prefix string, limit int) ([]string, error)
}

// PackRegistry reloads and summarizes the collector pack snapshot.
type PackRegistry interface {
	Reload() (registry.ReloadSummary, error)
	Summary() registry.ReloadSummary
}

// CollectorRunner resolves and runs collectors and standalone queries.
type CollectorRunner interface {
	RunCollector(ctx domain.Context, pool *database.Pool, collectorID, collectorRef string) (*domain.CollectorResult, error)
	RunQuery(ctx domain.Context, pool *database.Pool, collectorID, collectorRef, queryID string, params map[string]any) (*domain.QueryResult, error)
	ListCollectors(ctx domain.Context, pool *database.Pool) []domain.CollectorInfo
	ListQueries(ctx domain.Context, pool *database.Pool, collectorID string) []domain.QueryInfo
}

// Samplers administers periodic collector runs per session.
type Samplers interface {
	Upsert(ctx domain.Context, sess domain.Session, def domain.SamplerDefinition) (domain.SamplerStatus, error)
	Stop(ctx domain.Context, sessionID, samplerID string) (domain.SamplerStatus, error)
	List(sessionID string) []domain.SamplerStatus
	Status(sessionID, samplerID string) (domain.SamplerStatus, error)
	Snapshot(sessionID, samplerID string) (*domain.CollectorResult, error)
}

// ContextStore is the per-session executed-SQL history used for AI prompts.
type ContextStore interface {
	RecordExecute(sessionID, sql string, resp *domain.ExecuteResponse)
	RecordExecuteError(sessionID, sql string, err error)
	Recent(sessionID string, limit int) []domain.ContextItem
	Clear(sessionID string)
}

// TokenBudget bounds prompt fragments and accounts token usage.
type TokenBudget interface {
	Truncate(text, model string, maxTokens int) string
	CalculateUsage(systemPrompt, userPrompt, completion, model string) *tokencount.Usage
}

// resolvePool looks up the session and borrows its pool, initializing the
// pool on first use.
func resolvePool(ctx domain.Context, sessions Sessions, pools Pools, sessionID string) (domain.Session, *database.Pool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.Session{}, nil, fmt.Errorf("%w: session_id required", domain.ErrInvalidArgument)
	}
	sess, err := sessions.Get(sessionID)
	if err != nil {
		return domain.Session{}, nil, err
	}
	pool, err := pools.Get(ctx, &sess)
	if err != nil {
		return domain.Session{}, nil, err
	}
	return sess, pool, nil
}
