package dbconnector

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
)

// rowNumberColumn is the synthetic column SQL Server pagination adds; it is
// stripped before results leave the connector.
const rowNumberColumn = "__row_num"

type mssqlDialect struct{}

func (mssqlDialect) Kind() Kind                    { return KindSQLServer }
func (mssqlDialect) DriverName() string            { return "sqlserver" }
func (mssqlDialect) QuoteIdent(name string) string { return quoteBracket(name) }
func (mssqlDialect) Placeholder(n int) string      { return fmt.Sprintf("@p%d", n) }

func (d mssqlDialect) Paginate(table, where, orderBy string, page Page) string {
	over := orderBy
	if over == "" {
		over = "(SELECT NULL)"
	}
	inner := fmt.Sprintf("SELECT *, ROW_NUMBER() OVER (ORDER BY %s) AS %s FROM %s", over, d.QuoteIdent(rowNumberColumn), table)
	if where != "" {
		inner += " WHERE " + where
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS [paged] WHERE %s BETWEEN %d AND %d ORDER BY %s",
		inner, d.QuoteIdent(rowNumberColumn), page.Offset()+1, page.Offset()+page.Size, d.QuoteIdent(rowNumberColumn))
}

func (mssqlDialect) BuildDSN(cfg ConnectionConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 1433
	}
	user := url.QueryEscape(cfg.User)
	pass := url.QueryEscape(cfg.Password)
	encrypt := "true"
	if strings.EqualFold(strings.TrimSpace(cfg.SSLMode), "disable") {
		encrypt = "disable"
	}
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s", user, pass, cfg.Host, port, url.QueryEscape(cfg.Database), encrypt)
}

// NormalizeDSN leaves the string alone: go-mssqldb understands both URL and
// ADO ("Server=...;Database=...") forms.
func (mssqlDialect) NormalizeDSN(dsn string) string {
	return strings.TrimSpace(dsn)
}

// SQL Server has no read-only session switch. Writes are undone by the
// rollback that ends every read-only raw query.
func (mssqlDialect) EnforceReadOnly(context.Context, *sql.Conn) error { return nil }

// The driver refuses sql.TxOptions.ReadOnly.
func (mssqlDialect) ReadOnlyTx() *sql.TxOptions { return nil }

func (mssqlDialect) ListTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT CASE WHEN TABLE_SCHEMA = 'dbo' THEN TABLE_NAME ELSE TABLE_SCHEMA + '.' + TABLE_NAME END FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_CATALOG = DB_NAME() ORDER BY TABLE_SCHEMA, TABLE_NAME")
	if err != nil {
		return nil, fmt.Errorf("query mssql tables: %w", err)
	}
	return scanStrings(rows, "mssql table name")
}

func (d mssqlDialect) DescribeTable(ctx context.Context, db *sql.DB, table string) (*TableSchema, error) {
	schema, name, err := parseMSSQLTable(table)
	if err != nil {
		return nil, fmt.Errorf("invalid mssql table: %w", err)
	}
	rows, err := db.QueryContext(ctx, "SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_CATALOG = DB_NAME() AND TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2 ORDER BY ORDINAL_POSITION", schema, name)
	if err != nil {
		return nil, fmt.Errorf("query mssql columns: %w", err)
	}
	defer rows.Close()
	columns := []ColumnInfo{}
	for rows.Next() {
		var colName, dataType, isNullable string
		if err := rows.Scan(&colName, &dataType, &isNullable); err != nil {
			return nil, fmt.Errorf("scan mssql column: %w", err)
		}
		columns = append(columns, ColumnInfo{
			Name:     colName,
			Type:     dataType,
			Nullable: strings.EqualFold(isNullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mssql columns: %w", err)
	}

	pkRows, err := db.QueryContext(ctx, "SELECT kcu.COLUMN_NAME FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY' AND tc.TABLE_SCHEMA = @p1 AND tc.TABLE_NAME = @p2", schema, name)
	if err != nil {
		return nil, fmt.Errorf("query mssql primary keys: %w", err)
	}
	pks, err := scanStrings(pkRows, "mssql primary key")
	if err != nil {
		return nil, err
	}
	markPrimaryKeys(columns, pks)
	return &TableSchema{Table: name, Columns: columns}, nil
}

func parseMSSQLTable(table string) (string, string, error) {
	_, parts, err := quoteQualified(table, 2, quoteBracket)
	if err != nil {
		return "", "", fmt.Errorf("invalid mssql table: %w", err)
	}
	if len(parts) == 1 {
		return "dbo", parts[0], nil
	}
	return parts[0], parts[1], nil
}
