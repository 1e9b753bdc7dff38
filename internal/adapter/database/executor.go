package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kamusis/swissql-sub000/internal/adapter/observability"
	"github.com/kamusis/swissql-sub000/internal/domain"
	"github.com/kamusis/swissql-sub000/pkg/namedsql"
)

// Executor prepares and runs statements against a session's pool. One
// prepared statement is issued per call and the borrowed connection is
// held until the rows are fully consumed.
type Executor struct {
	log *slog.Logger
}

func NewExecutor(log *slog.Logger) *Executor {
	return &Executor{log: log}
}

type rowsResult struct {
	columns   []domain.Column
	rows      []domain.Row
	truncated bool
}

// QueryRows compiles named parameters, binds, and materializes the result
// set into coerced rows. With singleRow set, iteration stops after the
// first row.
func (e *Executor) QueryRows(ctx domain.Context, pool *Pool, sqlText string, singleRow bool, params map[string]any) ([]domain.Row, error) {
	start := time.Now()
	res, err := e.run(ctx, pool, sqlText, singleRow, params, 0, 0)
	observability.ObserveStatement(pool.DBType, outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return res.rows, nil
}

// QueryResponse is QueryRows plus column metadata, row count, and
// wall-clock duration.
func (e *Executor) QueryResponse(ctx domain.Context, pool *Pool, sqlText string, singleRow bool, params map[string]any) (*domain.ExecuteResponse, error) {
	start := time.Now()
	res, err := e.run(ctx, pool, sqlText, singleRow, params, 0, 0)
	elapsed := time.Since(start)
	observability.ObserveStatement(pool.DBType, outcomeOf(err), elapsed)
	if err != nil {
		return nil, err
	}
	return tabularResponse(res, elapsed), nil
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ExecAdHoc runs caller-authored SQL verbatim, honoring the execute
// options. Statements that produce rows return a tabular response;
// update-style statements return a text response with the affected count.
func (e *Executor) ExecAdHoc(ctx domain.Context, pool *Pool, sqlText string, opts domain.ExecuteOptions) (*domain.ExecuteResponse, error) {
	if strings.TrimSpace(sqlText) == "" {
		return nil, fmt.Errorf("%w: sql must not be blank", domain.ErrInvalidArgument)
	}
	if opts.QueryTimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.QueryTimeoutMS)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	if !returnsRows(sqlText) {
		n, err := e.execUpdate(ctx, pool, sqlText)
		elapsed := time.Since(start)
		observability.ObserveStatement(pool.DBType, outcomeOf(err), elapsed)
		if err != nil {
			return nil, err
		}
		return &domain.ExecuteResponse{
			Type: domain.ResultTypeText,
			Data: domain.ResponseData{
				TextContent: fmt.Sprintf("%d row(s) affected", n),
			},
			Metadata: domain.ResponseMetadata{
				RowsAffected: n,
				DurationMS:   elapsed.Milliseconds(),
			},
		}, nil
	}

	res, err := e.runVerbatim(ctx, pool, sqlText, false, opts.Limit, opts.FetchSize)
	elapsed := time.Since(start)
	observability.ObserveStatement(pool.DBType, outcomeOf(err), elapsed)
	if err != nil {
		return nil, err
	}
	return tabularResponse(res, elapsed), nil
}

// run compiles :name placeholders before delegating to the shared
// prepare-and-iterate path.
func (e *Executor) run(ctx domain.Context, pool *Pool, sqlText string, singleRow bool, params map[string]any, limit, fetchSize int) (*rowsResult, error) {
	if strings.TrimSpace(sqlText) == "" {
		return nil, fmt.Errorf("%w: sql must not be blank", domain.ErrInvalidArgument)
	}
	st := namedsql.Compile(sqlText)
	args := st.BindArgs(params)
	return e.query(ctx, pool, pool.Rebind(st.SQL), args, singleRow, limit, fetchSize)
}

// runVerbatim skips named-parameter compilation; ad-hoc SQL is the
// caller's own text and may legitimately contain colon sequences.
func (e *Executor) runVerbatim(ctx domain.Context, pool *Pool, sqlText string, singleRow bool, limit, fetchSize int) (*rowsResult, error) {
	return e.query(ctx, pool, sqlText, nil, singleRow, limit, fetchSize)
}

func (e *Executor) query(ctx domain.Context, pool *Pool, boundSQL string, args []any, singleRow bool, limit, fetchSize int) (*rowsResult, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	stmt, err := conn.PreparexContext(ctx, boundSQL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExecution, err)
	}
	defer func() { _ = stmt.Close() }()

	rows, err := stmt.QueryxContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExecution, err)
	}
	defer func() { _ = rows.Close() }()

	return collectRows(rows, singleRow, limit, fetchSize)
}

func (e *Executor) execUpdate(ctx domain.Context, pool *Pool, sqlText string) (int64, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = conn.Close() }()

	stmt, err := conn.PreparexContext(ctx, sqlText)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrExecution, err)
	}
	defer func() { _ = stmt.Close() }()

	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrExecution, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report the count; the statement still ran.
		return 0, nil
	}
	return n, nil
}

func collectRows(rows *sqlx.Rows, singleRow bool, limit, fetchSize int) (*rowsResult, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExecution, err)
	}
	columns := make([]domain.Column, len(colTypes))
	for i, ct := range colTypes {
		columns[i] = domain.Column{Name: ct.Name(), TypeName: ct.DatabaseTypeName()}
	}

	capHint := 16
	if singleRow {
		capHint = 1
	} else if limit > 0 {
		capHint = limit
	} else if fetchSize > 0 {
		capHint = fetchSize
	}
	out := make([]domain.Row, 0, capHint)

	truncated := false
	for rows.Next() {
		cells, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrExecution, err)
		}
		CoerceRow(cells)
		row := make(domain.Row, len(columns))
		for i, col := range columns {
			row[col.Name] = cells[i]
		}
		out = append(out, row)

		if singleRow {
			break
		}
		if limit > 0 && len(out) >= limit {
			// One more Next tells us whether rows were left behind.
			truncated = rows.Next()
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExecution, err)
	}
	return &rowsResult{columns: columns, rows: out, truncated: truncated}, nil
}

func tabularResponse(res *rowsResult, elapsed time.Duration) *domain.ExecuteResponse {
	return &domain.ExecuteResponse{
		Type: domain.ResultTypeTabular,
		Data: domain.ResponseData{
			Columns: res.columns,
			Rows:    res.rows,
		},
		Metadata: domain.ResponseMetadata{
			Truncated:    res.truncated,
			RowsAffected: int64(len(res.rows)),
			DurationMS:   elapsed.Milliseconds(),
		},
	}
}

// returnsRows sniffs whether a statement produces a result set. Drivers
// expose separate query and exec paths, so the split happens up front.
func returnsRows(sqlText string) bool {
	fields := strings.Fields(strings.ToLower(sqlText))
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "select", "with", "show", "explain", "describe", "desc", "values", "table":
		return true
	}
	for _, f := range fields {
		if f == "returning" {
			return true
		}
	}
	return false
}
