package collector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kamusis/swissql-sub000/internal/domain"
)

// resolved is a concrete (pack, collector) pair produced by resolution.
type resolved struct {
	pack        *domain.CollectorPack
	collectorID string
	collector   *domain.CollectorDefinition
}

type resolvedQuery struct {
	resolved
	queryID string
	query   *domain.QueryConfig
}

// splitRef parses "<pack_id>:<collector_id>"; both halves must be non-blank.
func splitRef(ref string) (packID, collectorID string, err error) {
	parts := strings.SplitN(ref, ":", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", fmt.Errorf("%w: malformed collector_ref %q, want \"<pack>:<collector>\"", domain.ErrInvalidArgument, ref)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// resolveCollector maps (collector_id?, collector_ref?) onto exactly one
// collector within the matching packs.
//
// A ref that names a known pack containing the collector resolves directly.
// A ref that misses (unknown pack, or pack lacking the collector) falls back
// to id-based resolution only when a collector_id was also supplied.
// Id-based resolution demands exactly one defining pack; several defining
// packs is an ambiguity the caller must break with a ref.
func resolveCollector(packs []domain.CollectorPack, collectorID, collectorRef string) (*resolved, error) {
	if len(packs) == 0 {
		return nil, fmt.Errorf("%w: no collector packs for db_type", domain.ErrCollectorNotFound)
	}

	if collectorRef != "" {
		packID, refCollector, err := splitRef(collectorRef)
		if err != nil {
			return nil, err
		}
		var refPack *domain.CollectorPack
		for i := range packs {
			if packs[i].PackID() == packID {
				refPack = &packs[i]
				break
			}
		}
		switch {
		case refPack != nil:
			if def, ok := refPack.Collectors[refCollector]; ok {
				return &resolved{pack: refPack, collectorID: refCollector, collector: &def}, nil
			}
			if collectorID == "" {
				return nil, fmt.Errorf("%w: collector %q not in pack %q", domain.ErrCollectorNotFound, refCollector, packID)
			}
		default:
			if collectorID == "" {
				return nil, fmt.Errorf("%w: pack %q not found", domain.ErrCollectorNotFound, packID)
			}
		}
		// Fall through to id-based resolution.
	}

	if collectorID == "" {
		return nil, fmt.Errorf("%w: collector_id or collector_ref required", domain.ErrInvalidArgument)
	}

	var hits []resolved
	var files []string
	for i := range packs {
		if def, ok := packs[i].Collectors[collectorID]; ok {
			hits = append(hits, resolved{pack: &packs[i], collectorID: collectorID, collector: &def})
			files = append(files, packs[i].SourceFile)
		}
	}
	switch len(hits) {
	case 0:
		return nil, fmt.Errorf("%w: collector %q not found", domain.ErrCollectorNotFound, collectorID)
	case 1:
		return &hits[0], nil
	default:
		sort.Strings(files)
		return nil, fmt.Errorf("%w: collector %q defined in multiple packs [%s]; pass collector_ref",
			domain.ErrCollectorAmbiguous, collectorID, strings.Join(files, ", "))
	}
}

// resolveQuery locates a query either inside an explicitly resolved
// collector, or by shorthand scan across every collector of every pack
// when only a query_id was given.
func resolveQuery(packs []domain.CollectorPack, collectorID, collectorRef, queryID string) (*resolvedQuery, error) {
	if strings.TrimSpace(queryID) == "" {
		return nil, fmt.Errorf("%w: query_id required", domain.ErrInvalidArgument)
	}

	if collectorID != "" || collectorRef != "" {
		res, err := resolveCollector(packs, collectorID, collectorRef)
		if err != nil {
			return nil, err
		}
		q, ok := res.collector.Queries[queryID]
		if !ok {
			return nil, fmt.Errorf("%w: query %q not in collector %q", domain.ErrQueryNotFound, queryID, res.collectorID)
		}
		return &resolvedQuery{resolved: *res, queryID: queryID, query: &q}, nil
	}

	if len(packs) == 0 {
		return nil, fmt.Errorf("%w: no collector packs for db_type", domain.ErrCollectorNotFound)
	}

	var hits []resolvedQuery
	var candidates []string
	for i := range packs {
		for cid, def := range packs[i].Collectors {
			if q, ok := def.Queries[queryID]; ok {
				hits = append(hits, resolvedQuery{
					resolved: resolved{pack: &packs[i], collectorID: cid, collector: &def},
					queryID:  queryID,
					query:    &q,
				})
				candidates = append(candidates, packs[i].PackID()+":"+cid)
			}
		}
	}
	switch len(hits) {
	case 0:
		return nil, fmt.Errorf("%w: query %q not found in any collector", domain.ErrQueryNotFound, queryID)
	case 1:
		return &hits[0], nil
	default:
		sort.Strings(candidates)
		return nil, fmt.Errorf("%w: query %q defined by multiple collectors [%s]; pass collector_id or collector_ref",
			domain.ErrCollectorAmbiguous, queryID, strings.Join(candidates, ", "))
	}
}
