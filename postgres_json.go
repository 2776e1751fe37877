package dbconnector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type JSONFieldQuery struct {
	Table    string `json:"tableName"`
	Column   string `json:"jsonColumn"`
	Path     string `json:"jsonPath"`
	Nested   bool   `json:"isNestedPath"`
	Operator string `json:"jsonOperator"`
	Value    string `json:"jsonValue"`
}

type JSONArrayQuery struct {
	Table     string `json:"tableName"`
	Column    string `json:"jsonColumn"`
	ArrayPath string `json:"arrayPath"`
	Value     string `json:"value"`
}

type JSONInsert struct {
	Table    string         `json:"tableName"`
	Column   string         `json:"jsonColumn"`
	Document any            `json:"jsonData"`
	Extra    map[string]any `json:"additionalColumns,omitempty"`
}

type JSONUpdate struct {
	Table   string     `json:"tableName"`
	Column  string     `json:"jsonColumn"`
	Path    string     `json:"jsonPath"`
	Value   any        `json:"value"`
	Filters *FilterSet `json:"filters"`
}

type JSONAppend struct {
	Table     string     `json:"tableName"`
	Column    string     `json:"jsonColumn"`
	ArrayPath string     `json:"arrayPath"`
	Element   any        `json:"element"`
	Filters   *FilterSet `json:"filters"`
}

var pg = postgresDialect{}

// BuildJSONFieldQuery compares a key (or comma separated key path) of a
// jsonb column. Equality compares text; other operators compare jsonb.
func BuildJSONFieldQuery(q JSONFieldQuery) (Statement, error) {
	table, column, err := jsonTarget(q.Table, q.Column)
	if err != nil {
		return Statement{}, err
	}
	if strings.TrimSpace(q.Path) == "" {
		return Statement{}, fmt.Errorf("json path is required: %w", ErrInvalidIdentifier)
	}
	op, err := normalizeOp(q.Operator)
	if err != nil {
		return Statement{}, err
	}
	switch op {
	case "IN", "IS NULL", "IS NOT NULL":
		return Statement{}, fmt.Errorf("json field %s: %w", op, ErrUnsupportedOperator)
	}
	asText := op == "=" || op == "<>" || op == "LIKE" || op == "NOT LIKE"
	var target string
	var pathArg any
	if q.Nested {
		arrow := "#>"
		if asText {
			arrow = "#>>"
		}
		target = fmt.Sprintf("%s%s$1::text[]", column, arrow)
		pathArg = splitJSONPath(q.Path)
	} else {
		arrow := "->"
		if asText {
			arrow = "->>"
		}
		target = fmt.Sprintf("%s%s$1::text", column, arrow)
		pathArg = strings.TrimSpace(q.Path)
	}
	value := any(q.Value)
	rhs := "$2"
	if !asText {
		rhs = "$2::jsonb"
		value = jsonText(q.Value)
	}
	return Statement{
		SQL:  fmt.Sprintf("SELECT * FROM %s WHERE %s %s %s", table, target, op, rhs),
		Args: []any{pathArg, value},
	}, nil
}

// BuildJSONArrayContains matches rows whose array at ArrayPath holds Value.
// An empty path targets the column itself.
func BuildJSONArrayContains(q JSONArrayQuery) (Statement, error) {
	table, column, err := jsonTarget(q.Table, q.Column)
	if err != nil {
		return Statement{}, err
	}
	path := strings.TrimSpace(q.ArrayPath)
	switch {
	case path == "":
		return Statement{
			SQL:  fmt.Sprintf("SELECT * FROM %s WHERE %s ? $1", table, column),
			Args: []any{q.Value},
		}, nil
	case strings.Contains(path, ","):
		return Statement{
			SQL:  fmt.Sprintf("SELECT * FROM %s WHERE %s#>$1::text[] ? $2", table, column),
			Args: []any{splitJSONPath(path), q.Value},
		}, nil
	default:
		return Statement{
			SQL:  fmt.Sprintf("SELECT * FROM %s WHERE %s->$1::text ? $2", table, column),
			Args: []any{path, q.Value},
		}, nil
	}
}

func BuildJSONInsert(q JSONInsert) (Statement, error) {
	table, column, err := jsonTarget(q.Table, q.Column)
	if err != nil {
		return Statement{}, err
	}
	doc, err := jsonDocument(q.Document)
	if err != nil {
		return Statement{}, err
	}
	columns := []string{column}
	values := []string{"$1::jsonb"}
	args := []any{doc}
	names := make([]string, 0, len(q.Extra))
	for name := range q.Extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		quoted, _, err := quoteQualified(name, 1, pg.QuoteIdent)
		if err != nil {
			return Statement{}, err
		}
		columns = append(columns, quoted)
		values = append(values, pg.Placeholder(i+2))
		args = append(args, q.Extra[name])
	}
	return Statement{
		SQL:  fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), strings.Join(values, ", ")),
		Args: args,
	}, nil
}

// BuildJSONUpdate sets one key path with jsonb_set. A filter is mandatory so
// a missing condition cannot rewrite the whole table.
func BuildJSONUpdate(q JSONUpdate) (Statement, error) {
	table, column, err := jsonTarget(q.Table, q.Column)
	if err != nil {
		return Statement{}, err
	}
	if strings.TrimSpace(q.Path) == "" {
		return Statement{}, fmt.Errorf("json path is required: %w", ErrInvalidIdentifier)
	}
	if q.Filters.empty() {
		return Statement{}, ErrMissingFilter
	}
	doc, err := jsonDocument(q.Value)
	if err != nil {
		return Statement{}, err
	}
	where, whereArgs, _, err := q.Filters.build(pg, 3)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:  fmt.Sprintf("UPDATE %s SET %s = jsonb_set(%s, $1::text[], $2::jsonb) WHERE %s", table, column, column, where),
		Args: append([]any{splitJSONPath(q.Path), doc}, whereArgs...),
	}, nil
}

// BuildJSONAppend concatenates Element onto the array at ArrayPath, creating
// the array when the path is absent.
func BuildJSONAppend(q JSONAppend) (Statement, error) {
	table, column, err := jsonTarget(q.Table, q.Column)
	if err != nil {
		return Statement{}, err
	}
	if q.Filters.empty() {
		return Statement{}, ErrMissingFilter
	}
	doc, err := jsonDocument(q.Element)
	if err != nil {
		return Statement{}, err
	}
	path := strings.TrimSpace(q.ArrayPath)
	if path == "" {
		where, whereArgs, _, err := q.Filters.build(pg, 2)
		if err != nil {
			return Statement{}, err
		}
		return Statement{
			SQL:  fmt.Sprintf("UPDATE %s SET %s = COALESCE(%s, '[]'::jsonb) || $1::jsonb WHERE %s", table, column, column, where),
			Args: append([]any{doc}, whereArgs...),
		}, nil
	}
	where, whereArgs, _, err := q.Filters.build(pg, 3)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL: fmt.Sprintf("UPDATE %s SET %s = jsonb_set(%s, $1::text[], COALESCE(%s#>$1::text[], '[]'::jsonb) || $2::jsonb) WHERE %s",
			table, column, column, column, where),
		Args: append([]any{splitJSONPath(path), doc}, whereArgs...),
	}, nil
}

func jsonTarget(table, column string) (string, string, error) {
	quotedTable, err := quoteTable(pg, table)
	if err != nil {
		return "", "", err
	}
	quotedColumn, _, err := quoteQualified(column, 1, pg.QuoteIdent)
	if err != nil {
		return "", "", fmt.Errorf("invalid json column: %w", err)
	}
	return quotedTable, quotedColumn, nil
}

func splitJSONPath(path string) []string {
	parts := strings.Split(strings.Trim(strings.TrimSpace(path), "{}"), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// jsonText passes valid JSON through and encodes anything else as a JSON
// string, so `30` compares as a number and `abc` as "abc".
func jsonText(value string) string {
	if json.Valid([]byte(value)) {
		return value
	}
	encoded, _ := json.Marshal(value)
	return string(encoded)
}

func jsonDocument(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "null", nil
	case string:
		return jsonText(v), nil
	case []byte:
		return jsonText(string(v)), nil
	case json.RawMessage:
		return jsonText(string(v)), nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode json document: %w", err)
	}
	return string(encoded), nil
}

// JSONClient runs the jsonb helpers against one PostgreSQL database, with a
// fresh pgx connection per call.
type JSONClient struct {
	dsn  string
	opts options
}

// NewJSONClient honours WithReadOnly and WithLogger.
func NewJSONClient(cfg ConnectionConfig, opts ...Option) (*JSONClient, error) {
	kind, err := ParseKind(string(cfg.Kind))
	if err != nil {
		return nil, err
	}
	if kind != KindPostgres {
		return nil, fmt.Errorf("json operations need PostgreSQL, got %s: %w", kind.DisplayName(), ErrUnsupportedKind)
	}
	dsn := pg.NormalizeDSN(cfg.DSN)
	if dsn == "" {
		dsn = pg.BuildDSN(cfg)
	}
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return &JSONClient{dsn: dsn, opts: o}, nil
}

func (c *JSONClient) QueryJSONField(ctx context.Context, q JSONFieldQuery) (*QueryResult, error) {
	stmt, err := BuildJSONFieldQuery(q)
	if err != nil {
		return nil, err
	}
	return c.query(ctx, stmt)
}

func (c *JSONClient) QueryJSONArrayContains(ctx context.Context, q JSONArrayQuery) (*QueryResult, error) {
	stmt, err := BuildJSONArrayContains(q)
	if err != nil {
		return nil, err
	}
	return c.query(ctx, stmt)
}

// ExecuteComplexJSON runs caller supplied SQL as is.
func (c *JSONClient) ExecuteComplexJSON(ctx context.Context, sql string) (*QueryResult, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, fmt.Errorf("query is required: %w", ErrUnparseableWhere)
	}
	if c.opts.readOnly && !AnalyzeQuery(sql).ReadOnlySafe() {
		c.opts.logger.Warn("rejected json write statement")
		return nil, ErrReadOnly
	}
	c.opts.logger.Info("executing json query", slog.String("query", sql))
	return c.query(ctx, Statement{SQL: sql})
}

func (c *JSONClient) InsertJSON(ctx context.Context, q JSONInsert) (int64, error) {
	stmt, err := BuildJSONInsert(q)
	if err != nil {
		return 0, err
	}
	return c.exec(ctx, stmt)
}

func (c *JSONClient) UpdateJSONField(ctx context.Context, q JSONUpdate) (int64, error) {
	stmt, err := BuildJSONUpdate(q)
	if err != nil {
		return 0, err
	}
	return c.exec(ctx, stmt)
}

func (c *JSONClient) AppendJSONArray(ctx context.Context, q JSONAppend) (int64, error) {
	stmt, err := BuildJSONAppend(q)
	if err != nil {
		return 0, err
	}
	return c.exec(ctx, stmt)
}

func (c *JSONClient) withConn(ctx context.Context, fn func(*pgx.Conn) error) error {
	conn, err := pgx.Connect(ctx, c.dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))
	return fn(conn)
}

func (c *JSONClient) query(ctx context.Context, stmt Statement) (*QueryResult, error) {
	start := time.Now()
	result := &QueryResult{Success: true, Columns: []string{}, Rows: [][]any{}}
	err := c.withConn(ctx, func(conn *pgx.Conn) error {
		var q interface {
			Query(context.Context, string, ...any) (pgx.Rows, error)
		} = conn
		if c.opts.readOnly {
			tx, err := conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
			if err != nil {
				return fmt.Errorf("begin read-only transaction: %w", err)
			}
			defer tx.Rollback(context.WithoutCancel(ctx))
			q = tx
		}
		rows, err := q.Query(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for _, fd := range rows.FieldDescriptions() {
			result.Columns = append(result.Columns, fd.Name)
		}
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return err
			}
			for i, v := range values {
				values[i] = pgxValue(v)
			}
			result.Rows = append(result.Rows, values)
		}
		return rows.Err()
	})
	if err != nil {
		if c.opts.readOnly && isReadOnlyViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrReadOnly, err)
		}
		return nil, fmt.Errorf("json query: %w", err)
	}
	result.RowCount = len(result.Rows)
	result.TotalRows = int64(result.RowCount)
	result.Page = 1
	result.PageSize = result.RowCount
	result.TotalPages = TotalPages(result.TotalRows, max(result.RowCount, 1))
	result.ExecutionTime = time.Since(start).Seconds()
	return result, nil
}

func (c *JSONClient) exec(ctx context.Context, stmt Statement) (int64, error) {
	if c.opts.readOnly {
		return 0, ErrReadOnly
	}
	var affected int64
	err := c.withConn(ctx, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("json write: %w", err)
	}
	c.opts.logger.Info("json write", slog.Int64("rows_affected", affected))
	return affected, nil
}

func pgxValue(v any) any {
	switch t := v.(type) {
	case [16]byte:
		return uuid.UUID(t).String()
	case []byte:
		return string(t)
	default:
		return t
	}
}
