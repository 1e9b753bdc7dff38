// Package registry loads versioned collector packs from disk and matches
// them against live server versions. A reload builds a complete snapshot
// and swaps it atomically; readers never see a partial merge.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kamusis/swissql-sub000/internal/domain"
	"github.com/kamusis/swissql-sub000/pkg/dbversion"
)

// VersionSource yields the raw product version string of a live server.
type VersionSource interface {
	Version(ctx context.Context) (string, error)
}

// ReloadSummary describes the outcome of one load pass.
type ReloadSummary struct {
	Files    int            `json:"files"`
	Packs    map[string]int `json:"packs"`
	Skipped  []string       `json:"skipped,omitempty"`
	LoadedAt time.Time      `json:"loaded_at"`
}

type snapshot struct {
	packs   map[string][]domain.CollectorPack
	summary ReloadSummary
}

// Registry holds the live pack snapshot for all database types.
type Registry struct {
	log     *slog.Logger
	root    string
	current atomic.Pointer[snapshot]
}

// New builds an empty registry rooted at the drivers directory. Call
// Reload to populate it.
func New(log *slog.Logger, root string) *Registry {
	r := &Registry{log: log, root: root}
	r.current.Store(&snapshot{packs: map[string][]domain.CollectorPack{}})
	return r
}

// Reload walks <root>/<db_type>/*.y?ml, parses every pack, and swaps the
// snapshot in one store. Packs without supported_versions are skipped and
// reported, not fatal.
func (r *Registry) Reload() (ReloadSummary, error) {
	next := &snapshot{
		packs: make(map[string][]domain.CollectorPack),
		summary: ReloadSummary{
			Packs:    make(map[string]int),
			LoadedAt: time.Now(),
		},
	}

	entries, err := os.ReadDir(r.root)
	if err != nil {
		return ReloadSummary{}, fmt.Errorf("read drivers root %s: %w", r.root, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dbType := strings.ToLower(entry.Name())
		dir := filepath.Join(r.root, entry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			r.log.Warn("skip unreadable pack dir", slog.String("dir", dir), slog.Any("error", err))
			continue
		}
		for _, f := range files {
			if f.IsDir() || !isYAML(f.Name()) {
				continue
			}
			next.summary.Files++
			path := filepath.Join(dir, f.Name())
			pack, err := loadPack(path, dbType, f.Name())
			if err != nil {
				r.log.Warn("skip collector pack",
					slog.String("file", path), slog.Any("error", err))
				next.summary.Skipped = append(next.summary.Skipped, fmt.Sprintf("%s: %v", f.Name(), err))
				continue
			}
			next.packs[dbType] = append(next.packs[dbType], *pack)
			next.summary.Packs[dbType]++
		}
	}

	r.current.Store(next)
	r.log.Info("collector packs loaded",
		slog.Int("files", next.summary.Files),
		slog.Int("db_types", len(next.packs)),
		slog.Int("skipped", len(next.summary.Skipped)))
	return next.summary, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func loadPack(path, dbType, fileName string) (*domain.CollectorPack, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	var pack domain.CollectorPack
	if err := yaml.Unmarshal(raw, &pack); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if pack.SupportedVersions == nil {
		return nil, fmt.Errorf("missing supported_versions")
	}
	pack.DBType = dbType
	pack.SourceFile = fileName
	return &pack, nil
}

// Summary reports the live snapshot's load facts.
func (r *Registry) Summary() ReloadSummary {
	return r.current.Load().summary
}

// PacksFor returns every loaded pack for a db type, regardless of server
// version. The returned slice is the caller's to reorder.
func (r *Registry) PacksFor(dbType string) []domain.CollectorPack {
	packs := r.current.Load().packs[strings.ToLower(dbType)]
	return append([]domain.CollectorPack(nil), packs...)
}

// MatchingPacks extracts the server's version through src and returns all
// packs whose supported range contains it. No match yields an empty slice
// with the available ranges logged for diagnosis.
func (r *Registry) MatchingPacks(ctx domain.Context, src VersionSource, dbType string) []domain.CollectorPack {
	packs := r.PacksFor(dbType)
	if len(packs) == 0 {
		r.log.Debug("no collector packs loaded", slog.String("db_type", dbType))
		return nil
	}
	raw, err := src.Version(ctx)
	if err != nil {
		r.log.Warn("version probe failed during pack matching",
			slog.String("db_type", dbType), slog.Any("error", err))
		return nil
	}
	v := dbversion.Extract(raw)

	var out []domain.CollectorPack
	for _, p := range packs {
		if dbversion.InRange(v, p.SupportedVersions.Min, p.SupportedVersions.Max) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		ranges := make([]string, 0, len(packs))
		for _, p := range packs {
			ranges = append(ranges, fmt.Sprintf("%s[%s..%s]", p.SourceFile, p.SupportedVersions.Min, p.SupportedVersions.Max))
		}
		r.log.Warn("no collector pack matches server version",
			slog.String("db_type", dbType),
			slog.String("version", v),
			slog.String("available", strings.Join(ranges, ", ")))
	}
	return out
}

// BestPack picks the single matching pack with the highest supported max.
func (r *Registry) BestPack(ctx domain.Context, src VersionSource, dbType string) (*domain.CollectorPack, bool) {
	matches := r.MatchingPacks(ctx, src, dbType)
	if len(matches) == 0 {
		return nil, false
	}
	best := 0
	for i := 1; i < len(matches); i++ {
		if dbversion.Compare(matches[i].SupportedVersions.Max, matches[best].SupportedVersions.Max) > 0 {
			best = i
		}
	}
	return &matches[best], true
}
