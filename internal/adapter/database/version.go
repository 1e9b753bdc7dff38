package database

import (
	"context"
	"fmt"

	"github.com/kamusis/swissql-sub000/internal/domain"
)

// versionQueries holds the per-dialect statement that yields the server's
// product version string. Postgres reports a bare "16.3" style setting so
// the packaging suffix is stripped server-side; the other dialects embed
// a dotted number the extractor can find.
var versionQueries = map[string]string{
	domain.DBTypePostgres:  `SELECT split_part(current_setting('server_version'), ' ', 1)`,
	domain.DBTypeOracle:    `SELECT banner FROM v$version WHERE banner LIKE 'Oracle%'`,
	domain.DBTypeMySQL:     `SELECT VERSION()`,
	domain.DBTypeSQLServer: `SELECT CAST(SERVERPROPERTY('ProductVersion') AS NVARCHAR(128))`,
}

// probeVersion fetches the raw product version string from a live pool.
func probeVersion(ctx context.Context, p *Pool) (string, error) {
	q, ok := versionQueries[p.DBType]
	if !ok {
		return "", fmt.Errorf("%w: no version query for db_type %q", domain.ErrInvalidArgument, p.DBType)
	}
	var raw string
	if err := p.db.QueryRowxContext(ctx, q).Scan(&raw); err != nil {
		return "", fmt.Errorf("probe version: %w", err)
	}
	return raw, nil
}
