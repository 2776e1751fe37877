package dbconnector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteDialect struct{}

func (sqliteDialect) Kind() Kind                    { return KindSQLite }
func (sqliteDialect) DriverName() string            { return "sqlite" }
func (sqliteDialect) QuoteIdent(name string) string { return quoteBracket(name) }
func (sqliteDialect) Placeholder(int) string        { return "?" }

func (sqliteDialect) Paginate(table, where, orderBy string, page Page) string {
	return limitOffset(table, where, orderBy, page)
}

func (d sqliteDialect) BuildDSN(cfg ConnectionConfig) string {
	if cfg.Database != "" {
		return d.NormalizeDSN(cfg.Database)
	}
	return d.NormalizeDSN(cfg.Host)
}

// NormalizeDSN accepts ADO-style "Data Source=<path>;..." strings as stored
// by older registries and reduces them to the file path.
func (sqliteDialect) NormalizeDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	for _, part := range strings.Split(trimmed, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "data source", "datasource", "filename":
			return strings.TrimSpace(value)
		}
	}
	return trimmed
}

func (sqliteDialect) EnforceReadOnly(ctx context.Context, conn *sql.Conn) error {
	return setSession(ctx, conn, "PRAGMA query_only = ON")
}

func (sqliteDialect) ReadOnlyTx() *sql.TxOptions { return &sql.TxOptions{ReadOnly: true} }

func (sqliteDialect) ListTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query sqlite tables: %w", err)
	}
	return scanStrings(rows, "sqlite table name")
}

func (d sqliteDialect) DescribeTable(ctx context.Context, db *sql.DB, table string) (*TableSchema, error) {
	quoted, parts, err := quoteQualified(table, 2, d.QuoteIdent)
	if err != nil {
		return nil, fmt.Errorf("invalid sqlite table: %w", err)
	}
	pragma := "PRAGMA table_info(" + quoted + ")"
	if len(parts) == 2 {
		pragma = fmt.Sprintf("PRAGMA %s.table_info(%s)", d.QuoteIdent(parts[0]), d.QuoteIdent(parts[1]))
	}
	rows, err := db.QueryContext(ctx, pragma)
	if err != nil {
		return nil, fmt.Errorf("query sqlite table_info: %w", err)
	}
	defer rows.Close()
	columns := []ColumnInfo{}
	for rows.Next() {
		var (
			cid      int
			name     string
			colType  string
			notNull  int
			defValue sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defValue, &pk); err != nil {
			return nil, fmt.Errorf("scan sqlite column: %w", err)
		}
		columns = append(columns, ColumnInfo{
			Name:     name,
			Type:     colType,
			Nullable: notNull == 0,
			IsPK:     pk > 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sqlite columns: %w", err)
	}
	return &TableSchema{Table: parts[len(parts)-1], Columns: columns}, nil
}
