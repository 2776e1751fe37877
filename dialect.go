package dbconnector

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect captures everything that differs between engines: quoting,
// bind placeholders, pagination and catalog introspection.
type Dialect interface {
	Kind() Kind
	DriverName() string
	QuoteIdent(name string) string
	// Placeholder returns the bind marker for the n-th argument (1-based).
	Placeholder(n int) string
	// Paginate wraps the pieces of a table scan into a single paged
	// statement. where and orderBy are already rendered, without keywords.
	Paginate(table, where, orderBy string, page Page) string
	BuildDSN(cfg ConnectionConfig) string
	NormalizeDSN(dsn string) string
	ListTables(ctx context.Context, db *sql.DB) ([]string, error)
	DescribeTable(ctx context.Context, db *sql.DB, table string) (*TableSchema, error)
	// EnforceReadOnly switches one pooled session to read-only where the
	// engine has such a setting.
	EnforceReadOnly(ctx context.Context, conn *sql.Conn) error
	// ReadOnlyTx is the transaction a read-only raw query runs in. It is
	// always rolled back.
	ReadOnlyTx() *sql.TxOptions
}

var dialects = map[Kind]Dialect{
	KindSQLite:    sqliteDialect{},
	KindMySQL:     mysqlDialect{},
	KindPostgres:  postgresDialect{},
	KindSQLServer: mssqlDialect{},
}

func DialectFor(kind Kind) (Dialect, error) {
	d, ok := dialects[kind]
	if !ok {
		return nil, fmt.Errorf("no dialect for %q: %w", kind, ErrUnsupportedKind)
	}
	return d, nil
}

func setSession(ctx context.Context, conn *sql.Conn, stmt string) error {
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: %w", stmt, err)
	}
	return nil
}

// limitOffset is the pagination shared by every engine that understands
// LIMIT/OFFSET.
func limitOffset(table, where, orderBy string, page Page) string {
	query := "SELECT * FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	if orderBy != "" {
		query += " ORDER BY " + orderBy
	}
	return fmt.Sprintf("%s LIMIT %d OFFSET %d", query, page.Size, page.Offset())
}

// scanStrings drains a single text column; what names it in errors.
func scanStrings(rows *sql.Rows, what string) ([]string, error) {
	defer rows.Close()
	results := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		results = append(results, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return results, nil
}
