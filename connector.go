package dbconnector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

type DbConnector interface {
	TestConnection(ctx context.Context) error

	ListTables(ctx context.Context) ([]string, error)

	DescribeTable(ctx context.Context, table string) (*TableSchema, error)

	// QueryTable returns one page of a table together with the total row
	// count under the same filters.
	QueryTable(ctx context.Context, req QueryRequest) (*QueryResult, error)

	CountRows(ctx context.Context, table string, filters ...*FilterSet) (int64, error)

	// RawQuery executes caller supplied SQL unmodified.
	RawQuery(ctx context.Context, query string) (*QueryResult, error)

	Kind() Kind

	Close() error
}

type ConnectionConfig struct {
	Kind     Kind   `json:"type"`
	DSN      string `json:"dsn,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Database string `json:"database,omitempty"`
	SSLMode  string `json:"sslMode,omitempty"`
}

type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	IsPK     bool   `json:"isPrimaryKey"`
}

type TableSchema struct {
	Table   string       `json:"table"`
	Columns []ColumnInfo `json:"columns"`
}

type options struct {
	readOnly bool
	limits   PageLimits
	logger   *slog.Logger
}

type Option func(*options)

// WithReadOnly makes RawQuery refuse statements the analyzer flags as writes
// and run the rest in a read-only session whose transaction is rolled back.
func WithReadOnly(readOnly bool) Option {
	return func(o *options) { o.readOnly = readOnly }
}

func WithPageLimits(limits PageLimits) Option {
	return func(o *options) { o.limits = limits }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

type sqlConnector struct {
	cfg     ConnectionConfig
	dialect Dialect
	db      *sql.DB
	opts    options
}

func (c *sqlConnector) Kind() Kind {
	return c.dialect.Kind()
}

func (c *sqlConnector) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *sqlConnector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", c.dialect.Kind(), err)
	}
	return nil
}

func (c *sqlConnector) ListTables(ctx context.Context) ([]string, error) {
	tables, err := c.dialect.ListTables(ctx, c.db)
	if err != nil {
		return nil, fmt.Errorf("list %s tables: %w", c.dialect.Kind(), err)
	}
	return tables, nil
}

func (c *sqlConnector) DescribeTable(ctx context.Context, table string) (*TableSchema, error) {
	schema, err := c.dialect.DescribeTable(ctx, c.db, table)
	if err != nil {
		return nil, fmt.Errorf("describe %s table: %w", c.dialect.Kind(), err)
	}
	return schema, nil
}

func (c *sqlConnector) QueryTable(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	req, err := req.Normalize(c.opts.limits)
	if err != nil {
		return nil, err
	}
	sets, err := req.FilterSets()
	if err != nil {
		if req.Where != "" {
			c.opts.logger.Warn("rejected where clause", slog.String("table", req.Table), slog.String("where", req.Where))
		}
		return nil, err
	}
	selectStmt, err := BuildSelect(c.dialect, req)
	if err != nil {
		return nil, err
	}
	countStmt, err := BuildCount(c.dialect, req.Table, sets...)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		result *QueryResult
		total  int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := c.run(gctx, selectStmt)
		if err != nil {
			return fmt.Errorf("query %s table: %w", c.dialect.Kind(), err)
		}
		result = r
		return nil
	})
	g.Go(func() error {
		if err := c.db.QueryRowContext(gctx, countStmt.SQL, countStmt.Args...).Scan(&total); err != nil {
			return fmt.Errorf("count %s rows: %w", c.dialect.Kind(), err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Page = req.Page
	result.PageSize = req.PageSize
	result.TotalRows = total
	result.TotalPages = TotalPages(total, req.PageSize)
	result.ExecutionTime = time.Since(start).Seconds()
	return result, nil
}

func (c *sqlConnector) CountRows(ctx context.Context, table string, filters ...*FilterSet) (int64, error) {
	stmt, err := BuildCount(c.dialect, table, filters...)
	if err != nil {
		return 0, err
	}
	var total int64
	if err := c.db.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count %s rows: %w", c.dialect.Kind(), err)
	}
	return total, nil
}

func (c *sqlConnector) RawQuery(ctx context.Context, query string) (*QueryResult, error) {
	analysis := AnalyzeQuery(query)
	if c.opts.readOnly && !analysis.ReadOnlySafe() {
		c.opts.logger.Warn("rejected write statement", slog.String("kind", string(c.dialect.Kind())))
		return nil, ErrReadOnly
	}
	c.opts.logger.Info("executing raw query", slog.String("kind", string(c.dialect.Kind())), slog.String("query", query))
	start := time.Now()
	run := c.run
	if c.opts.readOnly {
		run = c.runReadOnly
	}
	result, err := run(ctx, Statement{SQL: query})
	if err != nil {
		if isReadOnlyViolation(err) {
			c.opts.logger.Warn("database refused write", slog.String("kind", string(c.dialect.Kind())), slog.Any("error", err))
			return nil, fmt.Errorf("%w: %v", ErrReadOnly, err)
		}
		return nil, fmt.Errorf("raw %s query: %w", c.dialect.Kind(), err)
	}
	result.Page = 1
	result.PageSize = result.RowCount
	result.TotalRows = int64(result.RowCount)
	result.TotalPages = TotalPages(result.TotalRows, max(result.RowCount, 1))
	result.ExecutionTime = time.Since(start).Seconds()
	result.Analysis = &analysis
	return result, nil
}

func (c *sqlConnector) run(ctx context.Context, stmt Statement) (*QueryResult, error) {
	rows, err := c.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	return collectResult(rows)
}

// runReadOnly executes stmt on a dedicated session that the dialect has
// switched to read-only, inside a transaction that is never committed.
func (c *sqlConnector) runReadOnly(ctx context.Context, stmt Statement) (*QueryResult, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()
	if err := c.dialect.EnforceReadOnly(ctx, conn); err != nil {
		return nil, fmt.Errorf("enforce read-only session: %w", err)
	}
	tx, err := conn.BeginTx(ctx, c.dialect.ReadOnlyTx())
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer tx.Rollback()
	rows, err := tx.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	return collectResult(rows)
}

func collectResult(rows *sql.Rows) (*QueryResult, error) {
	defer rows.Close()
	columns, data, err := scanRows(rows, rowNumberColumn)
	if err != nil {
		return nil, err
	}
	return &QueryResult{
		Success:  true,
		Columns:  columns,
		Rows:     data,
		RowCount: len(data),
	}, nil
}

var readOnlyMessages = []string{
	"readonly database",     // sqlite query_only
	"read-only transaction", // postgres 25006
	"read only transaction", // mysql 1792
}

func isReadOnlyViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, m := range readOnlyMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// scanRows reads every row as a tuple aligned with the returned columns.
// A column named hidden is dropped from both.
func scanRows(rows *sql.Rows, hidden string) ([]string, [][]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	skip := -1
	columns := make([]string, 0, len(cols))
	for i, col := range cols {
		if hidden != "" && col == hidden {
			skip = i
			continue
		}
		columns = append(columns, col)
	}
	results := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make([]any, 0, len(columns))
		for i, v := range values {
			if i == skip {
				continue
			}
			row = append(row, normalizeValue(v))
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, results, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	default:
		return t
	}
}
