package dbconnector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

type postgresDialect struct{}

func (postgresDialect) Kind() Kind                    { return KindPostgres }
func (postgresDialect) DriverName() string            { return "postgres" }
func (postgresDialect) QuoteIdent(name string) string { return quoteDouble(name) }
func (postgresDialect) Placeholder(n int) string      { return fmt.Sprintf("$%d", n) }

func (postgresDialect) Paginate(table, where, orderBy string, page Page) string {
	return limitOffset(table, where, orderBy, page)
}

func (postgresDialect) BuildDSN(cfg ConnectionConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", cfg.Host, port, cfg.User, cfg.Password, cfg.Database, sslMode)
}

func (postgresDialect) NormalizeDSN(dsn string) string {
	return strings.TrimSpace(dsn)
}

func (postgresDialect) EnforceReadOnly(ctx context.Context, conn *sql.Conn) error {
	return setSession(ctx, conn, "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY")
}

func (postgresDialect) ReadOnlyTx() *sql.TxOptions { return &sql.TxOptions{ReadOnly: true} }

func (postgresDialect) ListTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' ORDER BY table_name")
	if err != nil {
		return nil, fmt.Errorf("query postgres tables: %w", err)
	}
	return scanStrings(rows, "postgres table name")
}

func (d postgresDialect) DescribeTable(ctx context.Context, db *sql.DB, table string) (*TableSchema, error) {
	_, parts, err := quoteQualified(table, 2, d.QuoteIdent)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres table: %w", err)
	}
	schema := ""
	if len(parts) == 2 {
		schema = parts[0]
	}
	name := parts[len(parts)-1]
	rows, err := db.QueryContext(ctx, "SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND table_name = $2 ORDER BY ordinal_position", schema, name)
	if err != nil {
		return nil, fmt.Errorf("query postgres columns: %w", err)
	}
	defer rows.Close()
	columns := []ColumnInfo{}
	for rows.Next() {
		var colName, dataType, isNullable string
		if err := rows.Scan(&colName, &dataType, &isNullable); err != nil {
			return nil, fmt.Errorf("scan postgres column: %w", err)
		}
		columns = append(columns, ColumnInfo{
			Name:     colName,
			Type:     dataType,
			Nullable: strings.EqualFold(isNullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate postgres columns: %w", err)
	}

	pkRows, err := db.QueryContext(ctx, "SELECT a.attname FROM pg_index i JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey) WHERE i.indrelid = $1::regclass AND i.indisprimary", strings.Join(quotedParts(parts, d.QuoteIdent), "."))
	if err != nil {
		return nil, fmt.Errorf("query postgres primary keys: %w", err)
	}
	pks, err := scanStrings(pkRows, "postgres primary key")
	if err != nil {
		return nil, err
	}
	markPrimaryKeys(columns, pks)
	return &TableSchema{Table: name, Columns: columns}, nil
}

func quotedParts(parts []string, quote func(string) string) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = quote(p)
	}
	return out
}

func markPrimaryKeys(columns []ColumnInfo, pks []string) {
	pkSet := make(map[string]struct{}, len(pks))
	for _, pk := range pks {
		pkSet[pk] = struct{}{}
	}
	for i, col := range columns {
		if _, ok := pkSet[col.Name]; ok {
			columns[i].IsPK = true
		}
	}
}
