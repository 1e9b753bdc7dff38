package database

import (
	"context"
	"log/slog"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/swissql-sub000/internal/domain"
)

func testMeta() *Meta {
	return NewMeta(NewExecutor(slog.Default()), slog.Default())
}

func TestConnInfo_AssemblesDriverAndServerFacts(t *testing.T) {
	pool, mock := newMockPool(t, domain.DBTypePostgres, true)
	sess := &domain.Session{ID: "sess-test", DBType: domain.DBTypePostgres}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT split_part(current_setting('server_version'), ' ', 1)`)).
		WillReturnRows(sqlmock.NewRows([]string{"split_part"}).AddRow("16.3"))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(identitySQL[domain.DBTypePostgres]))
	prep.ExpectQuery().WillReturnRows(
		sqlmock.NewRows([]string{"username", "dbname"}).AddRow("app", "appdb"))

	info, err := testMeta().ConnInfo(context.Background(), pool, sess)
	require.NoError(t, err)
	assert.Equal(t, "sess-test", info.SessionID)
	assert.Equal(t, "pgx", info.DriverName)
	assert.Equal(t, "16.3", info.ServerVersion)
	assert.Equal(t, "16.3", info.VersionNumber)
	assert.Equal(t, "app", info.CurrentUser)
	assert.Equal(t, "appdb", info.CurrentDatabase)
	assert.True(t, info.ReadOnly)
}

func TestConnInfo_IdentityProbeFailureIsNotFatal(t *testing.T) {
	pool, mock := newMockPool(t, domain.DBTypeMySQL, false)
	sess := &domain.Session{ID: "sess-test", DBType: domain.DBTypeMySQL}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT VERSION()`)).
		WillReturnRows(sqlmock.NewRows([]string{"version()"}).AddRow("8.0.36"))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(identitySQL[domain.DBTypeMySQL]))
	prep.ExpectQuery().WillReturnError(assert.AnError)

	info, err := testMeta().ConnInfo(context.Background(), pool, sess)
	require.NoError(t, err)
	assert.Equal(t, "8.0.36", info.ServerVersion)
	assert.Empty(t, info.CurrentUser)
}

func TestDescribe_BlankName(t *testing.T) {
	pool, _ := newMockPool(t, domain.DBTypePostgres, false)
	_, err := testMeta().Describe(context.Background(), pool, "  ", "", false)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestDescribe_QueriesInformationSchema(t *testing.T) {
	pool, mock := newMockPool(t, domain.DBTypePostgres, false)

	prep := mock.ExpectPrepare("information_schema.columns")
	prep.ExpectQuery().
		WithArgs("orders", "").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable"}).
			AddRow("id", "bigint", "NO").
			AddRow("total", "numeric", "YES"))

	resp, err := testMeta().Describe(context.Background(), pool, "orders", "", false)
	require.NoError(t, err)
	assert.Len(t, resp.Data.Rows, 2)
	assert.Equal(t, "bigint", resp.Data.Rows[0]["data_type"])
}

func TestListObjects_BadKind(t *testing.T) {
	pool, _ := newMockPool(t, domain.DBTypePostgres, false)
	_, err := testMeta().ListObjects(context.Background(), pool, "sequence", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestListObjects_Tables(t *testing.T) {
	pool, mock := newMockPool(t, domain.DBTypePostgres, false)

	prep := mock.ExpectPrepare("BASE TABLE")
	prep.ExpectQuery().
		WithArgs("", "").
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name"}).
			AddRow("public", "orders"))

	resp, err := testMeta().ListObjects(context.Background(), pool, "table", "")
	require.NoError(t, err)
	require.Len(t, resp.Data.Rows, 1)
	assert.Equal(t, "orders", resp.Data.Rows[0]["table_name"])
}

func TestExplain_PostgresTextPlan(t *testing.T) {
	pool, mock := newMockPool(t, domain.DBTypePostgres, false)

	prep := mock.ExpectPrepare(regexp.QuoteMeta("EXPLAIN SELECT 1"))
	prep.ExpectQuery().WillReturnRows(
		sqlmock.NewRows([]string{"QUERY PLAN"}).
			AddRow("Result  (cost=0.00..0.01 rows=1 width=4)"))

	resp, err := testMeta().Explain(context.Background(), pool, "SELECT 1", false)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultTypeText, resp.Type)
	assert.Contains(t, resp.Data.TextContent, "cost=0.00..0.01")
}

func TestExplain_BlankSQL(t *testing.T) {
	pool, _ := newMockPool(t, domain.DBTypePostgres, false)
	_, err := testMeta().Explain(context.Background(), pool, " ", false)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCompletions_ObjectsThenKeywords(t *testing.T) {
	pool, mock := newMockPool(t, domain.DBTypePostgres, false)

	prep := mock.ExpectPrepare("user_tables|information_schema")
	prep.ExpectQuery().
		WithArgs("se", "se").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("seats").AddRow("sessions"))

	out, err := testMeta().Completions(context.Background(), pool, "se", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"seats", "sessions", "SELECT"}, out)
}

func TestCompletions_LimitCapsOutput(t *testing.T) {
	pool, mock := newMockPool(t, domain.DBTypePostgres, false)

	prep := mock.ExpectPrepare("information_schema")
	prep.ExpectQuery().
		WithArgs("", "").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("a").AddRow("b").AddRow("c"))

	out, err := testMeta().Completions(context.Background(), pool, "", 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestRowString_CaseInsensitive(t *testing.T) {
	row := domain.Row{"USERNAME": "scott"}
	assert.Equal(t, "scott", rowString(row, "username"))
	assert.Equal(t, "", rowString(row, "missing"))
}
