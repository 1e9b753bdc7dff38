package usecase

import (
	"log/slog"

	"github.com/kamusis/swissql-sub000/internal/domain"
)

// CollectorService lists and runs the collectors whose packs match a
// session's server version.
type CollectorService struct {
	Log      *slog.Logger
	Sessions Sessions
	Pools    Pools
	Runner   CollectorRunner
}

// NewCollectorService constructs a CollectorService with its dependencies.
func NewCollectorService(log *slog.Logger, sessions Sessions, pools Pools, runner CollectorRunner) CollectorService {
	return CollectorService{Log: log, Sessions: sessions, Pools: pools, Runner: runner}
}

// List catalogs every collector available to the session.
func (s CollectorService) List(ctx domain.Context, sessionID string) ([]domain.CollectorInfo, error) {
	_, pool, err := resolvePool(ctx, s.Sessions, s.Pools, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Runner.ListCollectors(ctx, pool), nil
}

// Queries catalogs the runnable standalone queries, optionally narrowed to
// one collector.
func (s CollectorService) Queries(ctx domain.Context, sessionID, collectorID string) ([]domain.QueryInfo, error) {
	_, pool, err := resolvePool(ctx, s.Sessions, s.Pools, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Runner.ListQueries(ctx, pool, collectorID), nil
}

// Run resolves and executes a whole collector.
func (s CollectorService) Run(ctx domain.Context, sessionID, collectorID, collectorRef string) (*domain.CollectorResult, error) {
	_, pool, err := resolvePool(ctx, s.Sessions, s.Pools, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Runner.RunCollector(ctx, pool, collectorID, collectorRef)
}

// RunQuery resolves and executes a single named query with optional
// parameters.
func (s CollectorService) RunQuery(ctx domain.Context, sessionID, collectorID, collectorRef, queryID string, params map[string]any) (*domain.QueryResult, error) {
	_, pool, err := resolvePool(ctx, s.Sessions, s.Pools, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Runner.RunQuery(ctx, pool, collectorID, collectorRef, queryID, params)
}
