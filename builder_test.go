package dbconnector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSelectFirstPageSQLite(t *testing.T) {
	req, err := QueryRequest{ConnectionID: "c1", Table: "users", Page: 1, PageSize: 10}.Normalize(PageLimits{})
	require.NoError(t, err)

	stmt, err := BuildSelect(sqliteDialect{}, req)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM [users] LIMIT 10 OFFSET 0", stmt.SQL)
	assert.Empty(t, stmt.Args)
}

func TestBuildSelectOffsetPerDialect(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindSQLite, "SELECT * FROM [users] LIMIT 50 OFFSET 50"},
		{KindMySQL, "SELECT * FROM `users` LIMIT 50 OFFSET 50"},
		{KindPostgres, `SELECT * FROM "users" LIMIT 50 OFFSET 50`},
		{KindSQLServer, "SELECT * FROM (SELECT *, ROW_NUMBER() OVER (ORDER BY (SELECT NULL)) AS [__row_num] FROM [users]) AS [paged] WHERE [__row_num] BETWEEN 51 AND 100 ORDER BY [__row_num]"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			d, err := DialectFor(tt.kind)
			require.NoError(t, err)
			stmt, err := BuildSelect(d, QueryRequest{Table: "users", Page: 2, PageSize: 50})
			require.NoError(t, err)
			assert.Equal(t, tt.want, stmt.SQL)
			assert.Equal(t, 50, Page{Number: 2, Size: 50}.Offset())
		})
	}
}

func TestBuildSelectBindsLegacyWhere(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindSQLite, "SELECT * FROM [users] WHERE [age] >= ? LIMIT 10 OFFSET 0"},
		{KindMySQL, "SELECT * FROM `users` WHERE `age` >= ? LIMIT 10 OFFSET 0"},
		{KindPostgres, `SELECT * FROM "users" WHERE "age" >= $1 LIMIT 10 OFFSET 0`},
		{KindSQLServer, "SELECT * FROM (SELECT *, ROW_NUMBER() OVER (ORDER BY (SELECT NULL)) AS [__row_num] FROM [users] WHERE [age] >= @p1) AS [paged] WHERE [__row_num] BETWEEN 1 AND 10 ORDER BY [__row_num]"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			d, err := DialectFor(tt.kind)
			require.NoError(t, err)
			stmt, err := BuildSelect(d, QueryRequest{Table: "users", Page: 1, PageSize: 10, Where: "age >= 30"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, stmt.SQL)
			assert.Equal(t, []any{int64(30)}, stmt.Args)
		})
	}
}

func TestBuildSelectRejectsUnparseableWhere(t *testing.T) {
	_, err := BuildSelect(sqliteDialect{}, QueryRequest{
		Table: "users", Page: 1, PageSize: 10,
		Where: "1=1; DROP TABLE users",
	})
	assert.True(t, errors.Is(err, ErrUnparseableWhere), "got %v", err)
}

func TestBuildSelectCombinesFilters(t *testing.T) {
	stmt, err := BuildSelect(postgresDialect{}, QueryRequest{
		Table:    "public.users",
		Page:     1,
		PageSize: 5,
		Where:    "name LIKE 'a%'",
		Filters: &FilterSet{Match: "or", Filters: []Filter{
			{Column: "age", Op: "gt", Value: 18},
			{Column: "role", Op: "in", Value: []string{"admin", "owner"}},
		}},
		OrderBy: "name desc, id",
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "public"."users" WHERE ("age" > $1 OR "role" IN ($2, $3)) AND ("name" LIKE $4) ORDER BY "name" DESC, "id" LIMIT 5 OFFSET 0`, stmt.SQL)
	assert.Equal(t, []any{18, "admin", "owner", "a%"}, stmt.Args)
}

func TestBuildSelectJSONPathFilter(t *testing.T) {
	stmt, err := BuildSelect(postgresDialect{}, QueryRequest{
		Table: "people", Page: 1, PageSize: 10,
		Where: "data->'profile'->>'age' > 30",
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "people" WHERE ("data"->$1::text->>$2::text)::numeric > $3 LIMIT 10 OFFSET 0`, stmt.SQL)
	assert.Equal(t, []any{"profile", "age", int64(30)}, stmt.Args)

	_, err = BuildSelect(sqliteDialect{}, QueryRequest{
		Table: "people", Page: 1, PageSize: 10,
		Where: "data->'profile' = 'x'",
	})
	assert.True(t, errors.Is(err, ErrUnsupportedKind), "got %v", err)
}

func TestBuildSelectOrderByOnSQLServer(t *testing.T) {
	stmt, err := BuildSelect(mssqlDialect{}, QueryRequest{Table: "sales.orders", Page: 1, PageSize: 2, OrderBy: "created_at DESC"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM (SELECT *, ROW_NUMBER() OVER (ORDER BY [created_at] DESC) AS [__row_num] FROM [sales].[orders]) AS [paged] WHERE [__row_num] BETWEEN 1 AND 2 ORDER BY [__row_num]", stmt.SQL)
}

func TestBuildSelectRejectsBadOrderBy(t *testing.T) {
	for _, orderBy := range []string{"name; DROP TABLE users", "(SELECT 1)", "name sideways"} {
		_, err := BuildSelect(sqliteDialect{}, QueryRequest{Table: "users", Page: 1, PageSize: 10, OrderBy: orderBy})
		assert.True(t, errors.Is(err, ErrInvalidOrderBy), "order by %q: got %v", orderBy, err)
	}
}

func TestBuildSelectRejectsInvalidPage(t *testing.T) {
	_, err := BuildSelect(sqliteDialect{}, QueryRequest{Table: "users", Page: 0, PageSize: 10})
	assert.True(t, errors.Is(err, ErrInvalidPage))
}

func TestBuildCount(t *testing.T) {
	where, err := ParseWhere("status = 'open'")
	require.NoError(t, err)

	stmt, err := BuildCount(mysqlDialect{}, "orders", where)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM `orders` WHERE `status` = ?", stmt.SQL)
	assert.Equal(t, []any{"open"}, stmt.Args)

	stmt, err = BuildCount(mssqlDialect{}, "orders")
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM [orders]", stmt.SQL)
}

func TestBuildSelectNullFilters(t *testing.T) {
	stmt, err := BuildSelect(sqliteDialect{}, QueryRequest{Table: "users", Page: 1, PageSize: 10, Where: "deleted_at IS NULL"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM [users] WHERE [deleted_at] IS NULL LIMIT 10 OFFSET 0", stmt.SQL)
	assert.Empty(t, stmt.Args)
}

func TestQueryRequestNormalize(t *testing.T) {
	req, err := QueryRequest{Table: "users"}.Normalize(PageLimits{})
	require.NoError(t, err)
	assert.Equal(t, 1, req.Page)
	assert.Equal(t, DefaultPageSize, req.PageSize)

	req, err = QueryRequest{Table: "users", Page: 1, PageSize: 5000}.Normalize(PageLimits{Default: 50, Max: 200})
	require.NoError(t, err)
	assert.Equal(t, 200, req.PageSize)

	_, err = QueryRequest{Table: " "}.Normalize(PageLimits{})
	assert.True(t, errors.Is(err, ErrInvalidIdentifier))
}
