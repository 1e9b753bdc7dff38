package registry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVersionSource struct {
	v   string
	err error
}

func (f fakeVersionSource) Version(context.Context) (string, error) { return f.v, f.err }

func writePack(t *testing.T, root, dbType, file, content string) {
	t.Helper()
	dir := filepath.Join(root, dbType)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
}

const packA = `
supported_versions:
  min: "19.0"
  max: "19.5"
collectors:
  sessions:
    layers:
      active:
        order: 1
        sql: SELECT sid, status FROM v$session
`

const packB = `
supported_versions:
  min: "19.0"
  max: "19.9"
collectors:
  sessions:
    layers:
      active:
        order: 1
        sql: SELECT sid, status, machine FROM v$session
`

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	return New(slog.Default(), root), root
}

func TestReload_LoadsPacksByDBType(t *testing.T) {
	r, root := newTestRegistry(t)
	writePack(t, root, "oracle", "base-a.yaml", packA)
	writePack(t, root, "postgres", "pg-core.yml", `
supported_versions:
  min: "12"
  max: "17.99"
collectors:
  activity:
    queries:
      backends:
        sql: SELECT count(*) AS n FROM pg_stat_activity
`)

	sum, err := r.Reload()
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Files)
	assert.Equal(t, 1, sum.Packs["oracle"])
	assert.Equal(t, 1, sum.Packs["postgres"])

	packs := r.PacksFor("oracle")
	require.Len(t, packs, 1)
	assert.Equal(t, "base-a.yaml", packs[0].SourceFile)
	assert.Equal(t, "base-a", packs[0].PackID())
	assert.Equal(t, "oracle", packs[0].DBType)
	require.Contains(t, packs[0].Collectors, "sessions")
}

func TestReload_SkipsPackWithoutSupportedVersions(t *testing.T) {
	r, root := newTestRegistry(t)
	writePack(t, root, "oracle", "no-range.yaml", `
collectors:
  sessions:
    queries:
      q1:
        sql: SELECT 1 FROM dual
`)

	sum, err := r.Reload()
	require.NoError(t, err)
	assert.Empty(t, r.PacksFor("oracle"))
	require.Len(t, sum.Skipped, 1)
	assert.Contains(t, sum.Skipped[0], "supported_versions")
}

func TestReload_SkipsMalformedYAML(t *testing.T) {
	r, root := newTestRegistry(t)
	writePack(t, root, "mysql", "broken.yaml", "collectors: [not: a map")

	sum, err := r.Reload()
	require.NoError(t, err)
	assert.Empty(t, r.PacksFor("mysql"))
	assert.Len(t, sum.Skipped, 1)
}

func TestReload_IgnoresNonYAMLFiles(t *testing.T) {
	r, root := newTestRegistry(t)
	writePack(t, root, "oracle", "notes.txt", "not a pack")
	writePack(t, root, "oracle", "base-a.yaml", packA)

	sum, err := r.Reload()
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Files)
	assert.Len(t, r.PacksFor("oracle"), 1)
}

func TestMatchingPacks_SelectsByVersionRange(t *testing.T) {
	r, root := newTestRegistry(t)
	writePack(t, root, "oracle", "base-a.yaml", packA)
	writePack(t, root, "oracle", "base-b.yaml", packB)
	_, err := r.Reload()
	require.NoError(t, err)

	src := fakeVersionSource{v: "Oracle Database 19c Enterprise Edition Release 19.7.0.0.0 - Production"}
	matches := r.MatchingPacks(context.Background(), src, "oracle")
	require.Len(t, matches, 1, "19.7 is beyond base-a's max of 19.5")
	assert.Equal(t, "base-b.yaml", matches[0].SourceFile)
}

func TestBestPack_HighestMaxWins(t *testing.T) {
	r, root := newTestRegistry(t)
	writePack(t, root, "oracle", "base-a.yaml", packA)
	writePack(t, root, "oracle", "base-b.yaml", packB)
	_, err := r.Reload()
	require.NoError(t, err)

	// 19.3.0.0.0 sits inside both ranges; the higher max must win.
	src := fakeVersionSource{v: "Oracle Database 19c Release 19.3.0.0.0 - Production"}
	best, ok := r.BestPack(context.Background(), src, "oracle")
	require.True(t, ok)
	assert.Equal(t, "base-b.yaml", best.SourceFile)
}

func TestBestPack_NoPacks(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Reload()
	require.NoError(t, err)

	_, ok := r.BestPack(context.Background(), fakeVersionSource{v: "19.7"}, "oracle")
	assert.False(t, ok)
}

func TestMatchingPacks_ProbeFailure(t *testing.T) {
	r, root := newTestRegistry(t)
	writePack(t, root, "oracle", "base-a.yaml", packA)
	_, err := r.Reload()
	require.NoError(t, err)

	matches := r.MatchingPacks(context.Background(), fakeVersionSource{err: assert.AnError}, "oracle")
	assert.Empty(t, matches)
}

func TestReload_SwapReplacesWholeSnapshot(t *testing.T) {
	r, root := newTestRegistry(t)
	writePack(t, root, "oracle", "base-a.yaml", packA)
	_, err := r.Reload()
	require.NoError(t, err)
	require.Len(t, r.PacksFor("oracle"), 1)

	require.NoError(t, os.Remove(filepath.Join(root, "oracle", "base-a.yaml")))
	writePack(t, root, "oracle", "base-b.yaml", packB)
	_, err = r.Reload()
	require.NoError(t, err)

	packs := r.PacksFor("oracle")
	require.Len(t, packs, 1)
	assert.Equal(t, "base-b.yaml", packs[0].SourceFile)
}

func TestPacksFor_UnknownType(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Reload()
	require.NoError(t, err)
	assert.Empty(t, r.PacksFor("db2"))
}
