package database

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kamusis/swissql-sub000/internal/domain"
	"github.com/kamusis/swissql-sub000/pkg/dbversion"
)

// Meta answers schema introspection requests against a live pool:
// connection info, object describe/list, plans, and completions.
type Meta struct {
	exec *Executor
	log  *slog.Logger
}

func NewMeta(exec *Executor, log *slog.Logger) *Meta {
	return &Meta{exec: exec, log: log}
}

var identitySQL = map[string]string{
	domain.DBTypePostgres:  `SELECT current_user AS username, current_database() AS dbname`,
	domain.DBTypeMySQL:     `SELECT CURRENT_USER() AS username, DATABASE() AS dbname`,
	domain.DBTypeOracle:    `SELECT USER AS username, SYS_CONTEXT('USERENV','DB_NAME') AS dbname FROM dual`,
	domain.DBTypeSQLServer: `SELECT SUSER_SNAME() AS username, DB_NAME() AS dbname`,
}

// ConnInfo assembles driver and server facts for a session's pool. The
// identity probe is best-effort; a failure leaves those fields blank.
func (m *Meta) ConnInfo(ctx domain.Context, pool *Pool, sess *domain.Session) (*domain.ConnInfo, error) {
	raw, err := pool.Version(ctx)
	if err != nil {
		return nil, err
	}
	driver, err := DriverName(pool.DBType)
	if err != nil {
		return nil, err
	}
	info := &domain.ConnInfo{
		SessionID:     sess.ID,
		DBType:        pool.DBType,
		DriverName:    driver,
		ServerVersion: raw,
		VersionNumber: dbversion.Extract(raw),
		ReadOnly:      pool.ReadOnly(),
	}
	rows, err := m.exec.QueryRows(ctx, pool, identitySQL[pool.DBType], true, nil)
	if err != nil {
		m.log.Warn("identity probe failed",
			slog.String("session_id", sess.ID), slog.Any("error", err))
		return info, nil
	}
	if len(rows) == 1 {
		info.CurrentUser = rowString(rows[0], "username")
		info.CurrentDatabase = rowString(rows[0], "dbname")
	}
	return info, nil
}

// Describe lists the columns of a named table or view. With full set, the
// defaults and size facets are included.
func (m *Meta) Describe(ctx domain.Context, pool *Pool, name, schema string, full bool) (*domain.ExecuteResponse, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name must not be blank", domain.ErrInvalidArgument)
	}
	q := describeQuery(pool.DBType, full)
	params := map[string]any{"name": name, "schema": schema}
	return m.exec.QueryResponse(ctx, pool, q, false, params)
}

func describeQuery(dbType string, full bool) string {
	switch dbType {
	case domain.DBTypeOracle:
		cols := "column_name, data_type, nullable"
		if full {
			cols += ", data_length, data_precision, data_scale, data_default"
		}
		return `SELECT ` + cols + `
FROM all_tab_columns
WHERE table_name = UPPER(:name)
  AND owner = COALESCE(UPPER(:schema), SYS_CONTEXT('USERENV','CURRENT_SCHEMA'))
ORDER BY column_id`
	case domain.DBTypeMySQL:
		cols := "column_name, data_type, is_nullable"
		if full {
			cols += ", column_default, character_maximum_length, numeric_precision, numeric_scale"
		}
		return `SELECT ` + cols + `
FROM information_schema.columns
WHERE table_name = :name
  AND table_schema = COALESCE(NULLIF(:schema, ''), DATABASE())
ORDER BY ordinal_position`
	case domain.DBTypeSQLServer:
		cols := "column_name, data_type, is_nullable"
		if full {
			cols += ", column_default, character_maximum_length, numeric_precision, numeric_scale"
		}
		return `SELECT ` + cols + `
FROM information_schema.columns
WHERE table_name = :name
  AND table_schema = COALESCE(NULLIF(:schema, ''), SCHEMA_NAME())
ORDER BY ordinal_position`
	default: // postgres
		cols := "column_name, data_type, is_nullable"
		if full {
			cols += ", column_default, character_maximum_length, numeric_precision, numeric_scale"
		}
		return `SELECT ` + cols + `
FROM information_schema.columns
WHERE table_name = :name
  AND table_schema = COALESCE(NULLIF(:schema, ''), current_schema())
ORDER BY ordinal_position`
	}
}

// ListObjects lists tables or views, optionally narrowed to one schema.
func (m *Meta) ListObjects(ctx domain.Context, pool *Pool, kind, schema string) (*domain.ExecuteResponse, error) {
	switch kind {
	case "", "table", "view":
	default:
		return nil, fmt.Errorf("%w: kind must be table or view", domain.ErrInvalidArgument)
	}
	wantViews := kind == "view"
	q := listQuery(pool.DBType, wantViews)
	params := map[string]any{"schema": schema}
	return m.exec.QueryResponse(ctx, pool, q, false, params)
}

func listQuery(dbType string, views bool) string {
	if dbType == domain.DBTypeOracle {
		if views {
			return `SELECT owner AS table_schema, view_name AS table_name
FROM all_views
WHERE owner = COALESCE(UPPER(:schema), SYS_CONTEXT('USERENV','CURRENT_SCHEMA'))
ORDER BY view_name`
		}
		return `SELECT owner AS table_schema, table_name
FROM all_tables
WHERE owner = COALESCE(UPPER(:schema), SYS_CONTEXT('USERENV','CURRENT_SCHEMA'))
ORDER BY table_name`
	}

	ttype := "'BASE TABLE'"
	if views {
		ttype = "'VIEW'"
	}
	switch dbType {
	case domain.DBTypeMySQL:
		return `SELECT table_schema, table_name
FROM information_schema.tables
WHERE table_type = ` + ttype + `
  AND table_schema = COALESCE(NULLIF(:schema, ''), DATABASE())
ORDER BY table_name`
	case domain.DBTypeSQLServer:
		return `SELECT table_schema, table_name
FROM information_schema.tables
WHERE table_type = ` + ttype + `
  AND (:schema = '' OR table_schema = :schema)
ORDER BY table_schema, table_name`
	default: // postgres
		return `SELECT table_schema, table_name
FROM information_schema.tables
WHERE table_type = ` + ttype + `
  AND table_schema NOT IN ('pg_catalog', 'information_schema')
  AND (:schema = '' OR table_schema = :schema)
ORDER BY table_schema, table_name`
	}
}

// Explain returns the server's plan for a statement. Postgres and Oracle
// render a text plan; MySQL and SQL Server return the planner's rows.
func (m *Meta) Explain(ctx domain.Context, pool *Pool, sqlText string, analyze bool) (*domain.ExecuteResponse, error) {
	if strings.TrimSpace(sqlText) == "" {
		return nil, fmt.Errorf("%w: sql must not be blank", domain.ErrInvalidArgument)
	}
	start := time.Now()
	switch pool.DBType {
	case domain.DBTypePostgres:
		prefix := "EXPLAIN "
		if analyze {
			prefix = "EXPLAIN ANALYZE "
		}
		res, err := m.exec.runVerbatim(ctx, pool, prefix+sqlText, false, 0, 0)
		if err != nil {
			return nil, err
		}
		return textPlanResponse(res, time.Since(start)), nil
	case domain.DBTypeMySQL:
		prefix := "EXPLAIN "
		if analyze {
			prefix = "EXPLAIN ANALYZE "
		}
		res, err := m.exec.runVerbatim(ctx, pool, prefix+sqlText, false, 0, 0)
		if err != nil {
			return nil, err
		}
		return tabularResponse(res, time.Since(start)), nil
	case domain.DBTypeOracle:
		return m.explainOracle(ctx, pool, sqlText, start)
	case domain.DBTypeSQLServer:
		return m.explainSQLServer(ctx, pool, sqlText, start)
	}
	return nil, fmt.Errorf("%w: no plan support for db_type %q", domain.ErrInvalidArgument, pool.DBType)
}

// explainOracle must keep both statements on one connection: DBMS_XPLAN
// reads the plan the same session just produced.
func (m *Meta) explainOracle(ctx domain.Context, pool *Pool, sqlText string, start time.Time) (*domain.ExecuteResponse, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "EXPLAIN PLAN FOR "+sqlText); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExecution, err)
	}
	rows, err := conn.QueryxContext(ctx, "SELECT plan_table_output FROM TABLE(DBMS_XPLAN.DISPLAY())")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExecution, err)
	}
	defer func() { _ = rows.Close() }()

	res, err := collectRows(rows, false, 0, 0)
	if err != nil {
		return nil, err
	}
	return textPlanResponse(res, time.Since(start)), nil
}

// explainSQLServer brackets the statement with SHOWPLAN on one
// connection; the statement is planned, not executed.
func (m *Meta) explainSQLServer(ctx domain.Context, pool *Pool, sqlText string, start time.Time) (*domain.ExecuteResponse, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "SET SHOWPLAN_ALL ON"); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExecution, err)
	}
	defer func() { _, _ = conn.ExecContext(ctx, "SET SHOWPLAN_ALL OFF") }()

	rows, err := conn.QueryxContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExecution, err)
	}
	defer func() { _ = rows.Close() }()

	res, err := collectRows(rows, false, 0, 0)
	if err != nil {
		return nil, err
	}
	return tabularResponse(res, time.Since(start)), nil
}

func textPlanResponse(res *rowsResult, elapsed time.Duration) *domain.ExecuteResponse {
	lines := make([]string, 0, len(res.rows))
	for _, row := range res.rows {
		for _, col := range res.columns {
			if v := row[col.Name]; v != nil {
				lines = append(lines, fmt.Sprintf("%v", v))
			}
			break
		}
	}
	return &domain.ExecuteResponse{
		Type: domain.ResultTypeText,
		Data: domain.ResponseData{TextContent: strings.Join(lines, "\n")},
		Metadata: domain.ResponseMetadata{
			RowsAffected: int64(len(res.rows)),
			DurationMS:   elapsed.Milliseconds(),
		},
	}
}

var completionsSQL = map[string]string{
	domain.DBTypePostgres: `SELECT DISTINCT table_name AS name FROM information_schema.tables
 WHERE table_schema NOT IN ('pg_catalog', 'information_schema') AND table_name LIKE :prefix || '%'
UNION
SELECT DISTINCT column_name FROM information_schema.columns
 WHERE table_schema NOT IN ('pg_catalog', 'information_schema') AND column_name LIKE :prefix || '%'
ORDER BY 1`,
	domain.DBTypeMySQL: `SELECT DISTINCT table_name AS name FROM information_schema.tables
 WHERE table_schema = DATABASE() AND table_name LIKE CONCAT(:prefix, '%')
UNION
SELECT DISTINCT column_name FROM information_schema.columns
 WHERE table_schema = DATABASE() AND column_name LIKE CONCAT(:prefix, '%')
ORDER BY 1`,
	domain.DBTypeSQLServer: `SELECT DISTINCT table_name AS name FROM information_schema.tables
 WHERE table_name LIKE :prefix + '%'
UNION
SELECT DISTINCT column_name FROM information_schema.columns
 WHERE column_name LIKE :prefix + '%'
ORDER BY 1`,
	domain.DBTypeOracle: `SELECT DISTINCT table_name AS name FROM user_tables
 WHERE table_name LIKE UPPER(:prefix) || '%'
UNION
SELECT DISTINCT column_name FROM user_tab_columns
 WHERE column_name LIKE UPPER(:prefix) || '%'
ORDER BY 1`,
}

var sqlKeywords = []string{
	"SELECT", "FROM", "WHERE", "GROUP BY", "ORDER BY", "HAVING", "LIMIT",
	"INSERT", "UPDATE", "DELETE", "JOIN", "LEFT JOIN", "INNER JOIN",
	"UNION", "DISTINCT", "COUNT", "SUM", "AVG", "MIN", "MAX", "AS",
	"AND", "OR", "NOT", "IN", "EXISTS", "BETWEEN", "LIKE", "CASE",
	"WHEN", "THEN", "ELSE", "END", "NULL", "IS NULL", "IS NOT NULL",
}

// Completions suggests schema object names first, then matching SQL
// keywords, capped at limit.
func (m *Meta) Completions(ctx domain.Context, pool *Pool, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	out := make([]string, 0, limit)
	seen := make(map[string]bool)

	rows, err := m.exec.QueryRows(ctx, pool, completionsSQL[pool.DBType], false, map[string]any{"prefix": prefix})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		name := rowString(row, "name")
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		out = append(out, name)
		if len(out) >= limit {
			return out, nil
		}
	}

	up := strings.ToUpper(strings.TrimSpace(prefix))
	for _, kw := range sqlKeywords {
		if up != "" && !strings.HasPrefix(kw, up) {
			continue
		}
		if seen[strings.ToLower(kw)] {
			continue
		}
		seen[strings.ToLower(kw)] = true
		out = append(out, kw)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func rowString(row domain.Row, key string) string {
	for _, k := range []string{key, strings.ToUpper(key), strings.ToLower(key)} {
		if v, ok := row[k]; ok && v != nil {
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}
