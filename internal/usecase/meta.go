package usecase

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kamusis/swissql-sub000/internal/adapter/database"
	"github.com/kamusis/swissql-sub000/internal/domain"
	"github.com/kamusis/swissql-sub000/internal/service/registry"
)

// MetaService answers metadata introspection requests: connection info,
// object catalogs, column lists, plans, completion feeds, and the driver
// inventory with its collector packs.
type MetaService struct {
	Log      *slog.Logger
	Sessions Sessions
	Pools    Pools
	Meta     Metadata
	Registry PackRegistry
}

// NewMetaService constructs a MetaService with its dependencies.
func NewMetaService(log *slog.Logger, sessions Sessions, pools Pools, meta Metadata, reg PackRegistry) MetaService {
	return MetaService{Log: log, Sessions: sessions, Pools: pools, Meta: meta, Registry: reg}
}

// ConnInfo reports driver and server details for a session.
func (s MetaService) ConnInfo(ctx domain.Context, sessionID string) (*domain.ConnInfo, error) {
	sess, pool, err := resolvePool(ctx, s.Sessions, s.Pools, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Meta.ConnInfo(ctx, pool, &sess)
}

// Describe lists the columns of a named object. detail is "basic" (default)
// or "full".
func (s MetaService) Describe(ctx domain.Context, sessionID, name, schema, detail string) (*domain.ExecuteResponse, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name required", domain.ErrInvalidArgument)
	}
	var full bool
	switch strings.ToLower(strings.TrimSpace(detail)) {
	case "", "basic":
	case "full":
		full = true
	default:
		return nil, fmt.Errorf("%w: detail must be basic or full", domain.ErrInvalidArgument)
	}
	_, pool, err := resolvePool(ctx, s.Sessions, s.Pools, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Meta.Describe(ctx, pool, name, schema, full)
}

// List catalogs tables and views, optionally filtered by kind and schema.
func (s MetaService) List(ctx domain.Context, sessionID, kind, schema string) (*domain.ExecuteResponse, error) {
	_, pool, err := resolvePool(ctx, s.Sessions, s.Pools, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Meta.ListObjects(ctx, pool, kind, schema)
}

// Explain renders the execution plan for a statement.
func (s MetaService) Explain(ctx domain.Context, sessionID, sqlText string, analyze bool) (*domain.ExecuteResponse, error) {
	if strings.TrimSpace(sqlText) == "" {
		return nil, fmt.Errorf("%w: sql is blank", domain.ErrInvalidArgument)
	}
	_, pool, err := resolvePool(ctx, s.Sessions, s.Pools, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Meta.Explain(ctx, pool, sqlText, analyze)
}

// Completions serves identifier hints for interactive clients.
func (s MetaService) Completions(ctx domain.Context, sessionID, prefix string, limit int) ([]string, error) {
	_, pool, err := resolvePool(ctx, s.Sessions, s.Pools, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Meta.Completions(ctx, pool, prefix, limit)
}

// DriverInfo is one row of the compiled-in driver inventory.
type DriverInfo struct {
	DBType string `json:"db_type"`
	Driver string `json:"driver"`
	Packs  int    `json:"packs"`
}

// Drivers reports the compiled-in driver matrix and how many collector
// packs are loaded per dialect.
func (s MetaService) Drivers() []DriverInfo {
	sum := s.Registry.Summary()
	types := database.SupportedDBTypes()
	out := make([]DriverInfo, 0, len(types))
	for _, t := range types {
		driver, err := database.DriverName(t)
		if err != nil {
			continue
		}
		out = append(out, DriverInfo{DBType: t, Driver: driver, Packs: sum.Packs[t]})
	}
	return out
}

// ReloadDrivers rebuilds the collector pack snapshot from disk.
func (s MetaService) ReloadDrivers() (registry.ReloadSummary, error) {
	sum, err := s.Registry.Reload()
	if err != nil {
		return sum, err
	}
	s.Log.Info("collector packs reloaded",
		slog.Int("files", sum.Files),
		slog.Int("skipped", len(sum.Skipped)))
	return sum, nil
}
