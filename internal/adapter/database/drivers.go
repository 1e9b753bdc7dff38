// Package database owns everything that touches a live database: the
// driver matrix, per-session connection pools, the query executor, value
// coercion, and metadata introspection.
package database

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"

	// Pooled drivers for the supported database types.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "github.com/sijms/go-ora/v2"

	"github.com/kamusis/swissql-sub000/internal/domain"
)

func init() {
	// go-ora self-registers as "oracle" but sqlx does not know its
	// placeholder style; Oracle binds named :argN placeholders.
	sqlx.BindDriver("oracle", sqlx.NAMED)
}

// driverNames maps a canonical db type onto its database/sql driver name.
var driverNames = map[string]string{
	domain.DBTypePostgres:  "pgx",
	domain.DBTypeOracle:    "oracle",
	domain.DBTypeMySQL:     "mysql",
	domain.DBTypeSQLServer: "sqlserver",
}

var dbTypeAliases = map[string]string{
	"postgres":   domain.DBTypePostgres,
	"postgresql": domain.DBTypePostgres,
	"pg":         domain.DBTypePostgres,
	"pgx":        domain.DBTypePostgres,
	"oracle":     domain.DBTypeOracle,
	"ora":        domain.DBTypeOracle,
	"mysql":      domain.DBTypeMySQL,
	"mariadb":    domain.DBTypeMySQL,
	"sqlserver":  domain.DBTypeSQLServer,
	"mssql":      domain.DBTypeSQLServer,
}

// NormalizeDBType folds user-supplied aliases onto a canonical db type.
func NormalizeDBType(dbType string) (string, error) {
	canonical, ok := dbTypeAliases[strings.ToLower(strings.TrimSpace(dbType))]
	if !ok {
		return "", fmt.Errorf("%w: unsupported db_type %q", domain.ErrInvalidArgument, dbType)
	}
	return canonical, nil
}

// DriverName returns the registered database/sql driver for a canonical type.
func DriverName(dbType string) (string, error) {
	name, ok := driverNames[dbType]
	if !ok {
		return "", fmt.Errorf("%w: no driver for db_type %q", domain.ErrInvalidArgument, dbType)
	}
	return name, nil
}

// SupportedDBTypes lists the canonical types with a registered driver.
func SupportedDBTypes() []string {
	return []string{domain.DBTypeOracle, domain.DBTypePostgres, domain.DBTypeMySQL, domain.DBTypeSQLServer}
}

// InferDBType guesses a canonical type from a DSN's scheme or shape.
// Returns an empty string when nothing matches.
func InferDBType(dsn string) string {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return domain.DBTypePostgres
	case strings.HasPrefix(lower, "oracle://"):
		return domain.DBTypeOracle
	case strings.HasPrefix(lower, "sqlserver://"), strings.HasPrefix(lower, "mssql://"):
		return domain.DBTypeSQLServer
	case strings.HasPrefix(lower, "mysql://"):
		return domain.DBTypeMySQL
	case strings.Contains(lower, "@tcp("):
		// go-sql-driver DSN form user:pass@tcp(host:port)/db
		return domain.DBTypeMySQL
	case strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return domain.DBTypePostgres
	}
	return ""
}

var (
	userinfoRe  = regexp.MustCompile(`://([^:/@]+):([^@]*)@`)
	mysqlUserRe = regexp.MustCompile(`^([^:@/]+):([^@]*)@`)
	kvPassRe    = regexp.MustCompile(`(?i)(password|passwd|pwd)=([^;&\s]*)`)
)

// RedactDSN masks credentials so a DSN is safe to log or echo back.
// Covers URL userinfo, mysql's user:pass@tcp(...) shape, and key=value
// password fragments.
func RedactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "***")
			dsn = u.String()
		}
	} else if userinfoRe.MatchString(dsn) {
		dsn = userinfoRe.ReplaceAllString(dsn, "://$1:***@")
	} else if mysqlUserRe.MatchString(dsn) {
		dsn = mysqlUserRe.ReplaceAllString(dsn, "$1:***@")
	}
	return kvPassRe.ReplaceAllString(dsn, "$1=***")
}
