package dbconnector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockConnector(t *testing.T, kind Kind, opts ...Option) (DbConnector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)
	conn, err := NewConnectorWithDB(kind, db, opts...)
	require.NoError(t, err)
	return conn, mock
}

func TestQueryTableRunsPageAndCount(t *testing.T) {
	conn, mock := newMockConnector(t, KindSQLite)

	mock.ExpectQuery("SELECT * FROM [users] WHERE [age] >= ? LIMIT 10 OFFSET 10").
		WithArgs(int64(30)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "age"}).
			AddRow(int64(11), []byte("kim"), int64(31)).
			AddRow(int64(12), "lee", int64(44)))
	mock.ExpectQuery("SELECT COUNT(*) FROM [users] WHERE [age] >= ?").
		WithArgs(int64(30)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	result, err := conn.QueryTable(context.Background(), QueryRequest{Table: "users", Page: 2, PageSize: 10, Where: "age >= 30"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"id", "name", "age"}, result.Columns)
	assert.Equal(t, [][]any{{int64(11), "kim", int64(31)}, {int64(12), "lee", int64(44)}}, result.Rows)
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, int64(12), result.TotalRows)
	assert.Equal(t, 2, result.Page)
	assert.Equal(t, 10, result.PageSize)
	assert.Equal(t, 2, result.TotalPages)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryTableDropsRowNumberColumn(t *testing.T) {
	conn, mock := newMockConnector(t, KindSQLServer)

	mock.ExpectQuery("SELECT * FROM (SELECT *, ROW_NUMBER() OVER (ORDER BY (SELECT NULL)) AS [__row_num] FROM [dbo].[orders]) AS [paged] WHERE [__row_num] BETWEEN 1 AND 2 ORDER BY [__row_num]").
		WillReturnRows(sqlmock.NewRows([]string{"id", "total", "__row_num"}).
			AddRow(1, 9.5, 1).
			AddRow(2, 3.25, 2))
	mock.ExpectQuery("SELECT COUNT(*) FROM [dbo].[orders]").
		WillReturnRows(sqlmock.NewRows([]string{""}).AddRow(3))

	result, err := conn.QueryTable(context.Background(), QueryRequest{Table: "dbo.orders", Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "total"}, result.Columns)
	for _, row := range result.Rows {
		assert.Len(t, row, len(result.Columns))
	}
	assert.Equal(t, 2, result.TotalPages)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryTableRejectsUnparseableWhere(t *testing.T) {
	conn, mock := newMockConnector(t, KindMySQL)

	_, err := conn.QueryTable(context.Background(), QueryRequest{Table: "users", Where: "id = 1 OR 1=1"})
	assert.True(t, errors.Is(err, ErrUnparseableWhere))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryTableRejectsOverflowingPage(t *testing.T) {
	conn, mock := newMockConnector(t, KindSQLServer)

	_, err := conn.QueryTable(context.Background(), QueryRequest{Table: "users", Page: math.MaxInt, PageSize: 1000})
	assert.True(t, errors.Is(err, ErrInvalidPage))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryTableCountFailure(t *testing.T) {
	conn, mock := newMockConnector(t, KindPostgres)

	mock.ExpectQuery(`SELECT * FROM "users" LIMIT 100 OFFSET 0`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT COUNT(*) FROM "users"`).
		WillReturnError(fmt.Errorf("relation does not exist"))

	_, err := conn.QueryTable(context.Background(), QueryRequest{Table: "users"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count postgres rows")
}

func TestRawQueryPassesSQLThrough(t *testing.T) {
	conn, mock := newMockConnector(t, KindMySQL)

	mock.ExpectQuery("SELECT name FROM users WHERE id IN (1, 2)").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("a").AddRow("b"))

	result, err := conn.RawQuery(context.Background(), "SELECT name FROM users WHERE id IN (1, 2)")
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, int64(2), result.TotalRows)
	assert.Equal(t, 1, result.TotalPages)
	require.NotNil(t, result.Analysis)
	assert.True(t, result.Analysis.Has("WHERE"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRawQueryReadOnly(t *testing.T) {
	conn, mock := newMockConnector(t, KindSQLite, WithReadOnly(true))

	_, err := conn.RawQuery(context.Background(), "DELETE FROM users")
	assert.True(t, errors.Is(err, ErrReadOnly))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRawQueryReadOnlySession(t *testing.T) {
	conn, mock := newMockConnector(t, KindPostgres, WithReadOnly(true))
	mock.MatchExpectationsInOrder(true)

	mock.ExpectExec("SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectRollback()

	result, err := conn.RawQuery(context.Background(), "SELECT id FROM users")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1)}}, result.Rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRawQueryReadOnlyDatabaseRefusal(t *testing.T) {
	conn, mock := newMockConnector(t, KindPostgres, WithReadOnly(true))

	mock.ExpectExec("SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT bump_counter()").
		WillReturnError(errors.New("pq: cannot execute UPDATE in a read-only transaction"))
	mock.ExpectRollback()

	_, err := conn.RawQuery(context.Background(), "SELECT bump_counter()")
	assert.True(t, errors.Is(err, ErrReadOnly))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteReadOnlyRejectsWrites(t *testing.T) {
	path := seedSQLite(t, 3)
	conn, err := NewConnector(ConnectionConfig{Kind: KindSQLite, DSN: "Data Source=" + path}, WithReadOnly(true))
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	for _, query := range []string{
		"REPLACE INTO users VALUES (1, 'overwritten', 99)",
		"INSERT OR REPLACE INTO users VALUES (1, 'overwritten', 99)",
		"ATTACH DATABASE '" + filepath.Join(t.TempDir(), "other.db") + "' AS other",
		"SELECT 1; DELETE FROM users",
		"SELECT * INTO backup FROM users",
		"PRAGMA query_only = OFF",
	} {
		_, err := conn.RawQuery(ctx, query)
		assert.True(t, errors.Is(err, ErrReadOnly), query)
	}

	// Past the analyzer the session itself refuses to write.
	_, err = conn.(*sqlConnector).runReadOnly(ctx, Statement{SQL: "UPDATE users SET name = 'overwritten' WHERE id = 1"})
	require.Error(t, err)
	assert.True(t, isReadOnlyViolation(err), err.Error())

	raw, err := conn.RawQuery(ctx, "SELECT name FROM users WHERE id = 1")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"user00"}}, raw.Rows)
	count, err := conn.CountRows(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestCatalogErrorsNameTheStep(t *testing.T) {
	boom := errors.New("boom")
	ctx := context.Background()

	conn, mock := newMockConnector(t, KindSQLite)
	mock.ExpectQuery("SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name").
		WillReturnError(boom)
	_, err := conn.ListTables(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "list sqlite tables: query sqlite tables")

	mock.ExpectQuery("PRAGMA table_info([users])").
		WillReturnRows(sqlmock.NewRows([]string{"cid", "name", "type", "notnull", "dflt_value", "pk"}).
			AddRow("x", "id", "INTEGER", int64(0), nil, int64(1)))
	_, err = conn.DescribeTable(ctx, "users")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan sqlite column")
	require.NoError(t, mock.ExpectationsWereMet())

	mssql, mock := newMockConnector(t, KindSQLServer)
	mock.ExpectQuery("SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_CATALOG = DB_NAME() AND TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2 ORDER BY ORDINAL_POSITION").
		WithArgs("sales", "orders").
		WillReturnError(boom)
	_, err = mssql.DescribeTable(ctx, "sales.orders")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "query mssql columns")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewConnectorValidation(t *testing.T) {
	_, err := NewConnector(ConnectionConfig{})
	assert.Error(t, err)

	_, err = NewConnector(ConnectionConfig{Kind: "db2", DSN: "x"})
	assert.True(t, errors.Is(err, ErrUnsupportedKind))

	_, err = NewConnector(ConnectionConfig{Kind: KindOracle, DSN: "x"})
	assert.True(t, errors.Is(err, ErrUnsupportedKind))

	conn, err := NewConnector(ConnectionConfig{Kind: "PostgreSQL", Host: "localhost", User: "app", Database: "app"})
	require.NoError(t, err)
	assert.Equal(t, KindPostgres, conn.Kind())
	require.NoError(t, conn.Close())
}

func seedSQLite(t *testing.T, rows int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, age INTEGER)")
	require.NoError(t, err)
	for i := 0; i < rows; i++ {
		_, err = db.Exec("INSERT INTO users (name, age) VALUES (?, ?)", fmt.Sprintf("user%02d", i), 20+i)
		require.NoError(t, err)
	}
	return path
}

func TestSQLiteEndToEnd(t *testing.T) {
	path := seedSQLite(t, 25)
	conn, err := NewConnector(ConnectionConfig{Kind: KindSQLite, DSN: "Data Source=" + path})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	require.NoError(t, conn.TestConnection(ctx))

	tables, err := conn.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, tables)

	schema, err := conn.DescribeTable(ctx, "users")
	require.NoError(t, err)
	require.Len(t, schema.Columns, 3)
	assert.True(t, schema.Columns[0].IsPK)
	assert.False(t, schema.Columns[1].Nullable)
	assert.True(t, schema.Columns[2].Nullable)

	result, err := conn.QueryTable(ctx, QueryRequest{Table: "users", Page: 2, PageSize: 10, Where: "age >= 30", OrderBy: "id"})
	require.NoError(t, err)
	assert.Equal(t, int64(15), result.TotalRows)
	assert.Equal(t, 5, result.RowCount)
	assert.Equal(t, 2, result.TotalPages)
	assert.Equal(t, []string{"id", "name", "age"}, result.Columns)
	assert.Equal(t, "user20", result.Rows[0][1])

	count, err := conn.CountRows(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(25), count)

	raw, err := conn.RawQuery(ctx, "SELECT name FROM users WHERE id = 1")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"user00"}}, raw.Rows)
}
