package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/swissql-sub000/internal/domain"
)

func collectorFixture(t *testing.T) (CollectorService, *fakeRunner) {
	t.Helper()
	sessions := newFakeSessions(domain.Session{ID: "sess-1", DBType: domain.DBTypeOracle})
	pool, _ := newSQLMockPool(t, "sess-1", domain.DBTypeOracle)
	runner := &fakeRunner{}
	svc := NewCollectorService(slog.Default(), sessions, &fakePools{pool: pool}, runner)
	return svc, runner
}

func TestCollectorService_List(t *testing.T) {
	t.Parallel()
	svc, runner := collectorFixture(t)
	runner.collectors = []domain.CollectorInfo{{CollectorID: "top", CollectorRef: "oracle-19:top", SourceFile: "oracle-19.yaml"}}

	infos, err := svc.List(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, runner.collectors, infos)

	_, err = svc.List(context.Background(), "ghost")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestCollectorService_Queries(t *testing.T) {
	t.Parallel()
	svc, runner := collectorFixture(t)
	runner.queries = []domain.QueryInfo{{QueryID: "sessions_by_state", CollectorID: "top"}}

	infos, err := svc.Queries(context.Background(), "sess-1", "top")
	require.NoError(t, err)
	assert.Equal(t, runner.queries, infos)
	assert.Equal(t, "top", runner.gotCollectorID)
}

func TestCollectorService_Run(t *testing.T) {
	t.Parallel()
	svc, runner := collectorFixture(t)
	runner.collectorResult = &domain.CollectorResult{DBType: domain.DBTypeOracle, CollectorID: "top"}

	res, err := svc.Run(context.Background(), "sess-1", "top", "oracle-19:top")
	require.NoError(t, err)
	assert.Same(t, runner.collectorResult, res)
	assert.Equal(t, "top", runner.gotCollectorID)
	assert.Equal(t, "oracle-19:top", runner.gotRef)
}

func TestCollectorService_Run_AmbiguityPropagates(t *testing.T) {
	t.Parallel()
	svc, runner := collectorFixture(t)
	runner.err = fmt.Errorf("%w: collector \"top\" in [a.yaml b.yaml]; pass collector_ref", domain.ErrCollectorAmbiguous)

	_, err := svc.Run(context.Background(), "sess-1", "top", "")
	require.ErrorIs(t, err, domain.ErrCollectorAmbiguous)
}

func TestCollectorService_RunQuery(t *testing.T) {
	t.Parallel()
	svc, runner := collectorFixture(t)
	runner.queryResult = &domain.QueryResult{QueryID: "sessions_by_state"}
	params := map[string]any{"min_count": 5}

	res, err := svc.RunQuery(context.Background(), "sess-1", "top", "", "sessions_by_state", params)
	require.NoError(t, err)
	assert.Same(t, runner.queryResult, res)
	assert.Equal(t, "sessions_by_state", runner.gotQueryID)
	assert.Equal(t, params, runner.gotParams)
}

func TestCollectorService_PoolFailure(t *testing.T) {
	t.Parallel()
	sessions := newFakeSessions(domain.Session{ID: "sess-1", DBType: domain.DBTypeOracle})
	pools := &fakePools{err: fmt.Errorf("%w: validate oracle pool: down", domain.ErrConnectionFailure)}
	svc := NewCollectorService(slog.Default(), sessions, pools, &fakeRunner{})

	_, err := svc.Run(context.Background(), "sess-1", "top", "")
	require.ErrorIs(t, err, domain.ErrConnectionFailure)
}
