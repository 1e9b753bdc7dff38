// Package collector resolves (collector_id, collector_ref, query_id)
// triples against the registry's matching packs and drives the executor
// to produce collector and query results.
package collector

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/kamusis/swissql-sub000/internal/adapter/database"
	"github.com/kamusis/swissql-sub000/internal/adapter/observability"
	"github.com/kamusis/swissql-sub000/internal/domain"
	"github.com/kamusis/swissql-sub000/internal/service/registry"
)

// QueryExecutor is the slice of the executor the runner drives.
type QueryExecutor interface {
	QueryRows(ctx domain.Context, pool *database.Pool, sql string, singleRow bool, params map[string]any) ([]domain.Row, error)
	QueryResponse(ctx domain.Context, pool *database.Pool, sql string, singleRow bool, params map[string]any) (*domain.ExecuteResponse, error)
}

// PackSource yields the packs applicable to a live connection.
type PackSource interface {
	MatchingPacks(ctx domain.Context, src registry.VersionSource, dbType string) []domain.CollectorPack
}

// Runner executes collectors and standalone collector queries.
type Runner struct {
	log   *slog.Logger
	packs PackSource
	exec  QueryExecutor
}

func NewRunner(log *slog.Logger, packs PackSource, exec QueryExecutor) *Runner {
	return &Runner{log: log, packs: packs, exec: exec}
}

// RunCollector resolves and executes a whole collector. Layers run in
// declared order; a failing layer is logged and omitted while the rest
// continue. Query-bundle collectors behave the same way per query.
func (r *Runner) RunCollector(ctx domain.Context, pool *database.Pool, collectorID, collectorRef string) (*domain.CollectorResult, error) {
	packs := r.packs.MatchingPacks(ctx, pool, pool.DBType)
	res, err := resolveCollector(packs, collectorID, collectorRef)
	if err != nil {
		observability.CollectorRun(pool.DBType, "error")
		return nil, err
	}

	out := &domain.CollectorResult{
		DBType:      pool.DBType,
		CollectorID: res.collectorID,
		SourceFile:  res.pack.SourceFile,
	}

	if len(res.collector.Layers) > 0 {
		out.Layers = make(map[string]domain.LayerResult, len(res.collector.Layers))
		for _, lay := range orderedLayers(res.collector.Layers) {
			rows, err := r.exec.QueryRows(ctx, pool, lay.cfg.SQL, lay.cfg.SingleRow, nil)
			if err != nil {
				r.log.Warn("collector layer failed; continuing",
					slog.String("collector_id", res.collectorID),
					slog.String("layer", lay.id),
					slog.Any("error", err))
				continue
			}
			out.Layers[lay.id] = domain.LayerResult{
				Order:      lay.cfg.Order,
				RenderHint: lay.cfg.RenderHint,
				Rows:       rows,
			}
		}
	}

	if len(res.collector.Queries) > 0 {
		out.Queries = make(map[string][]domain.Row, len(res.collector.Queries))
		for qid, q := range res.collector.Queries {
			rows, err := r.exec.QueryRows(ctx, pool, q.SQL, q.SingleRow, nil)
			if err != nil {
				r.log.Warn("collector query failed; continuing",
					slog.String("collector_id", res.collectorID),
					slog.String("query_id", qid),
					slog.Any("error", err))
				continue
			}
			out.Queries[qid] = rows
		}
	}

	observability.CollectorRun(pool.DBType, "ok")
	return out, nil
}

// RunQuery resolves and executes one named query with full response
// capture. Failures flatten to the deepest cause and identify the query
// by the caller's preferred handle (ref when given, id otherwise).
func (r *Runner) RunQuery(ctx domain.Context, pool *database.Pool, collectorID, collectorRef, queryID string, params map[string]any) (*domain.QueryResult, error) {
	packs := r.packs.MatchingPacks(ctx, pool, pool.DBType)
	rq, err := resolveQuery(packs, collectorID, collectorRef, queryID)
	if err != nil {
		return nil, err
	}

	resp, err := r.exec.QueryResponse(ctx, pool, rq.query.SQL, rq.query.SingleRow, params)
	if err != nil {
		preferred := collectorRef
		if preferred == "" {
			preferred = rq.collectorID
		}
		return nil, fmt.Errorf("%w: query %q in collector %q failed: %s",
			domain.ErrExecution, queryID, preferred, domain.DeepestMessage(err))
	}

	return &domain.QueryResult{
		DBType:      pool.DBType,
		CollectorID: rq.collectorID,
		SourceFile:  rq.pack.SourceFile,
		QueryID:     queryID,
		Description: rq.query.Description,
		Result:      *resp,
	}, nil
}

// ListCollectors enumerates every collector of every matching pack as
// "<pack_id>:<collector_id>" refs alongside bare ids.
func (r *Runner) ListCollectors(ctx domain.Context, pool *database.Pool) []domain.CollectorInfo {
	packs := r.packs.MatchingPacks(ctx, pool, pool.DBType)
	var out []domain.CollectorInfo
	for i := range packs {
		for cid, def := range packs[i].Collectors {
			out = append(out, domain.CollectorInfo{
				CollectorID:  cid,
				CollectorRef: packs[i].PackID() + ":" + cid,
				SourceFile:   packs[i].SourceFile,
				LayerCount:   len(def.Layers),
				QueryCount:   len(def.Queries),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CollectorRef < out[j].CollectorRef })
	return out
}

// ListQueries enumerates runnable queries, optionally narrowed to one
// collector id.
func (r *Runner) ListQueries(ctx domain.Context, pool *database.Pool, collectorID string) []domain.QueryInfo {
	packs := r.packs.MatchingPacks(ctx, pool, pool.DBType)
	var out []domain.QueryInfo
	for i := range packs {
		for cid, def := range packs[i].Collectors {
			if collectorID != "" && cid != collectorID {
				continue
			}
			for qid, q := range def.Queries {
				out = append(out, domain.QueryInfo{
					QueryID:      qid,
					CollectorID:  cid,
					CollectorRef: packs[i].PackID() + ":" + cid,
					Description:  q.Description,
					SingleRow:    q.SingleRow,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CollectorRef != out[j].CollectorRef {
			return out[i].CollectorRef < out[j].CollectorRef
		}
		return out[i].QueryID < out[j].QueryID
	})
	return out
}

type layerEntry struct {
	id  string
	cfg domain.LayerConfig
}

// orderedLayers sorts by Order ascending with nil last, ties broken by id.
func orderedLayers(m map[string]domain.LayerConfig) []layerEntry {
	entries := make([]layerEntry, 0, len(m))
	for id, cfg := range m {
		entries = append(entries, layerEntry{id: id, cfg: cfg})
	}
	sort.Slice(entries, func(i, j int) bool {
		oi, oj := layerOrder(entries[i].cfg), layerOrder(entries[j].cfg)
		if oi != oj {
			return oi < oj
		}
		return entries[i].id < entries[j].id
	})
	return entries
}

func layerOrder(cfg domain.LayerConfig) int {
	if cfg.Order == nil {
		return int(^uint(0) >> 1)
	}
	return *cfg.Order
}
