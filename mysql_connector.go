package dbconnector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

type mysqlDialect struct{}

func (mysqlDialect) Kind() Kind                    { return KindMySQL }
func (mysqlDialect) DriverName() string            { return "mysql" }
func (mysqlDialect) QuoteIdent(name string) string { return quoteBacktick(name) }
func (mysqlDialect) Placeholder(int) string        { return "?" }

func (mysqlDialect) Paginate(table, where, orderBy string, page Page) string {
	return limitOffset(table, where, orderBy, page)
}

func (mysqlDialect) BuildDSN(cfg ConnectionConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.User, cfg.Password, cfg.Host, port, cfg.Database)
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	if sslMode == "disable" {
		dsn += "&tls=false"
	} else if sslMode != "" {
		dsn += "&tls=true"
	}
	return dsn
}

func (mysqlDialect) NormalizeDSN(dsn string) string {
	return strings.TrimPrefix(strings.TrimSpace(dsn), "mysql://")
}

func (mysqlDialect) EnforceReadOnly(ctx context.Context, conn *sql.Conn) error {
	return setSession(ctx, conn, "SET SESSION TRANSACTION READ ONLY")
}

func (mysqlDialect) ReadOnlyTx() *sql.TxOptions { return &sql.TxOptions{ReadOnly: true} }

func (mysqlDialect) ListTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE' ORDER BY table_name")
	if err != nil {
		return nil, fmt.Errorf("query mysql tables: %w", err)
	}
	return scanStrings(rows, "mysql table name")
}

func (d mysqlDialect) DescribeTable(ctx context.Context, db *sql.DB, table string) (*TableSchema, error) {
	_, parts, err := quoteQualified(table, 2, d.QuoteIdent)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql table: %w", err)
	}
	query := "SELECT column_name, column_type, is_nullable, column_key FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position"
	args := []any{parts[len(parts)-1]}
	if len(parts) == 2 {
		query = "SELECT column_name, column_type, is_nullable, column_key FROM information_schema.columns WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position"
		args = []any{parts[0], parts[1]}
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mysql columns: %w", err)
	}
	defer rows.Close()
	columns := []ColumnInfo{}
	for rows.Next() {
		var name, dataType, isNullable, key string
		if err := rows.Scan(&name, &dataType, &isNullable, &key); err != nil {
			return nil, fmt.Errorf("scan mysql column: %w", err)
		}
		columns = append(columns, ColumnInfo{
			Name:     name,
			Type:     dataType,
			Nullable: strings.EqualFold(isNullable, "YES"),
			IsPK:     strings.EqualFold(key, "PRI"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mysql columns: %w", err)
	}
	return &TableSchema{Table: parts[len(parts)-1], Columns: columns}, nil
}
