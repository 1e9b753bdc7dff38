package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/swissql-sub000/internal/adapter/ai/tokencount"
	"github.com/kamusis/swissql-sub000/internal/adapter/database"
	"github.com/kamusis/swissql-sub000/internal/domain"
	"github.com/kamusis/swissql-sub000/internal/service/registry"
)

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	created  []domain.Session
	closed   []string
	closeErr error
}

func newFakeSessions(fixtures ...domain.Session) *fakeSessions {
	f := &fakeSessions{sessions: make(map[string]domain.Session)}
	for _, s := range fixtures {
		f.sessions[s.ID] = s
	}
	return f
}

func (f *fakeSessions) Create(dsn, dbType string, opts domain.ConnectOptions) domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	s := domain.Session{
		ID:             fmt.Sprintf("sess-%d", len(f.created)+1),
		DSN:            dsn,
		DBType:         dbType,
		Options:        opts,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(domain.SessionMaxLifetime),
	}
	f.created = append(f.created, s)
	f.sessions[s.ID] = s
	return s
}

func (f *fakeSessions) Get(id string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		return s, nil
	}
	return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
}

func (f *fakeSessions) CloseSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	if f.closeErr != nil {
		return f.closeErr
	}
	if _, ok := f.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	delete(f.sessions, id)
	return nil
}

type fakePools struct {
	pool *database.Pool
	err  error
	gets int
}

func (f *fakePools) Get(_ domain.Context, _ *domain.Session) (*database.Pool, error) {
	f.gets++
	if f.err != nil {
		return nil, f.err
	}
	return f.pool, nil
}

// newSQLMockPool builds a pool over go-sqlmock so fakes have a real
// *database.Pool to hand around.
func newSQLMockPool(t *testing.T, sessionID, dbType string) (*database.Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	pool := database.NewPool(sqlx.NewDb(db, "sqlmock"), sessionID, dbType, false, time.Second)
	return pool, mock
}

type fakeExec struct {
	resp    *domain.ExecuteResponse
	err     error
	gotSQL  string
	gotOpts domain.ExecuteOptions
}

func (f *fakeExec) ExecAdHoc(_ domain.Context, _ *database.Pool, sqlText string, opts domain.ExecuteOptions) (*domain.ExecuteResponse, error) {
	f.gotSQL = sqlText
	f.gotOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeContexts struct {
	mu          sync.Mutex
	executed    []string
	failed      []string
	items       []domain.ContextItem
	recentLimit []int
	cleared     []string
}

func (f *fakeContexts) RecordExecute(_ string, sql string, _ *domain.ExecuteResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, sql)
}

func (f *fakeContexts) RecordExecuteError(_ string, sql string, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, sql)
}

func (f *fakeContexts) Recent(_ string, limit int) []domain.ContextItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recentLimit = append(f.recentLimit, limit)
	if limit > len(f.items) {
		limit = len(f.items)
	}
	return f.items[:limit]
}

func (f *fakeContexts) Clear(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, sessionID)
}

type fakeMeta struct {
	info  *domain.ConnInfo
	resp  *domain.ExecuteResponse
	names []string
	err   error

	gotName    string
	gotSchema  string
	gotFull    bool
	gotKind    string
	gotAnalyze bool
	gotPrefix  string
	gotLimit   int
}

func (f *fakeMeta) ConnInfo(_ domain.Context, _ *database.Pool, _ *domain.Session) (*domain.ConnInfo, error) {
	return f.info, f.err
}

func (f *fakeMeta) Describe(_ domain.Context, _ *database.Pool, name, schema string, full bool) (*domain.ExecuteResponse, error) {
	f.gotName, f.gotSchema, f.gotFull = name, schema, full
	return f.resp, f.err
}

func (f *fakeMeta) ListObjects(_ domain.Context, _ *database.Pool, kind, schema string) (*domain.ExecuteResponse, error) {
	f.gotKind, f.gotSchema = kind, schema
	return f.resp, f.err
}

func (f *fakeMeta) Explain(_ domain.Context, _ *database.Pool, _ string, analyze bool) (*domain.ExecuteResponse, error) {
	f.gotAnalyze = analyze
	return f.resp, f.err
}

func (f *fakeMeta) Completions(_ domain.Context, _ *database.Pool, prefix string, limit int) ([]string, error) {
	f.gotPrefix, f.gotLimit = prefix, limit
	return f.names, f.err
}

type fakeRegistry struct {
	summary   registry.ReloadSummary
	reloadErr error
	reloads   int
}

func (f *fakeRegistry) Reload() (registry.ReloadSummary, error) {
	f.reloads++
	return f.summary, f.reloadErr
}

func (f *fakeRegistry) Summary() registry.ReloadSummary { return f.summary }

type fakeRunner struct {
	collectorResult *domain.CollectorResult
	queryResult     *domain.QueryResult
	collectors      []domain.CollectorInfo
	queries         []domain.QueryInfo
	err             error

	gotCollectorID string
	gotRef         string
	gotQueryID     string
	gotParams      map[string]any
}

func (f *fakeRunner) RunCollector(_ domain.Context, _ *database.Pool, collectorID, collectorRef string) (*domain.CollectorResult, error) {
	f.gotCollectorID, f.gotRef = collectorID, collectorRef
	return f.collectorResult, f.err
}

func (f *fakeRunner) RunQuery(_ domain.Context, _ *database.Pool, collectorID, collectorRef, queryID string, params map[string]any) (*domain.QueryResult, error) {
	f.gotCollectorID, f.gotRef, f.gotQueryID, f.gotParams = collectorID, collectorRef, queryID, params
	return f.queryResult, f.err
}

func (f *fakeRunner) ListCollectors(_ domain.Context, _ *database.Pool) []domain.CollectorInfo {
	return f.collectors
}

func (f *fakeRunner) ListQueries(_ domain.Context, _ *database.Pool, collectorID string) []domain.QueryInfo {
	f.gotCollectorID = collectorID
	return f.queries
}

type fakeSamplers struct {
	status   domain.SamplerStatus
	snapshot *domain.CollectorResult
	list     []domain.SamplerStatus
	err      error

	gotSession domain.Session
	gotSampler string
	stops      int
}

func (f *fakeSamplers) Upsert(_ domain.Context, sess domain.Session, def domain.SamplerDefinition) (domain.SamplerStatus, error) {
	f.gotSession = sess
	f.gotSampler = def.SamplerID
	return f.status, f.err
}

func (f *fakeSamplers) Stop(_ domain.Context, _, samplerID string) (domain.SamplerStatus, error) {
	f.stops++
	f.gotSampler = samplerID
	return f.status, f.err
}

func (f *fakeSamplers) List(string) []domain.SamplerStatus { return f.list }

func (f *fakeSamplers) Status(_, samplerID string) (domain.SamplerStatus, error) {
	f.gotSampler = samplerID
	return f.status, f.err
}

func (f *fakeSamplers) Snapshot(_, samplerID string) (*domain.CollectorResult, error) {
	f.gotSampler = samplerID
	return f.snapshot, f.err
}

type fakeAI struct {
	enabled bool
	model   string
	reply   string
	err     error

	calls     int
	gotSystem string
	gotUser   string
}

func (f *fakeAI) ChatJSON(_ domain.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	f.gotSystem = systemPrompt
	f.gotUser = userPrompt
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeAI) Enabled() bool { return f.enabled }

func (f *fakeAI) Model() string { return f.model }

type fakeTokens struct {
	truncateTo string
	truncates  int
}

func (f *fakeTokens) Truncate(text, _ string, _ int) string {
	f.truncates++
	if f.truncateTo != "" {
		return f.truncateTo
	}
	return text
}

func (f *fakeTokens) CalculateUsage(_, _, _, model string) *tokencount.Usage {
	return &tokencount.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Model: model}
}
