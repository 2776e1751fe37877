package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	dbconnector "project-echo"
	"project-echo/internal/connections"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603

	maxStdioLine = 4 << 20
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	status  int
}

func (e *rpcError) Error() string { return e.Message }

func invalidParams(msg string) *rpcError {
	return &rpcError{Code: codeInvalidParams, Message: msg, status: http.StatusBadRequest}
}

type baseParams struct {
	ConnectionRef string `json:"connectionRef"`
}

type tableParams struct {
	ConnectionRef string `json:"connectionRef"`
	Table         string `json:"table"`
}

type WhereClause struct {
	Column string `json:"column"`
	Op     string `json:"op"`
	Value  any    `json:"value"`
}

// WhereSpec is the structured filter tool clients send. Type is "and"
// (default) or "or".
type WhereSpec struct {
	Type    string        `json:"type"`
	Clauses []WhereClause `json:"clauses"`
}

func (w *WhereSpec) filterSet() *dbconnector.FilterSet {
	if w == nil || len(w.Clauses) == 0 {
		return nil
	}
	fs := &dbconnector.FilterSet{Match: strings.ToLower(strings.TrimSpace(w.Type))}
	for _, c := range w.Clauses {
		fs.Filters = append(fs.Filters, dbconnector.Filter{Column: c.Column, Op: c.Op, Value: c.Value})
	}
	return fs
}

type queryTableParams struct {
	ConnectionRef string     `json:"connectionRef"`
	Table         string     `json:"table"`
	Page          int        `json:"page"`
	PageSize      int        `json:"pageSize"`
	Where         *WhereSpec `json:"where"`
	WhereClause   string     `json:"whereClause"`
	OrderBy       string     `json:"orderBy"`
}

type rawQueryParams struct {
	ConnectionRef string `json:"connectionRef"`
	Query         string `json:"query"`
}

type detectParams struct {
	ConnectionString string `json:"connectionString"`
}

type Column struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Nullable     bool   `json:"nullable"`
	IsPrimaryKey bool   `json:"isPrimaryKey"`
}

type ConnectorFactory func(cfg dbconnector.ConnectionConfig, opts ...dbconnector.Option) (dbconnector.DbConnector, error)

type DetectFunc func(ctx context.Context, connStr string) (dbconnector.Kind, error)

type rpcMethod func(ctx context.Context, params json.RawMessage) (any, error)

// rpcServer answers JSON-RPC 2.0 calls against registered connections.
type rpcServer struct {
	resolver connections.Resolver
	factory  ConnectorFactory
	detect   DetectFunc
	logger   *slog.Logger
	timeout  time.Duration
	options  []dbconnector.Option
	methods  map[string]rpcMethod
}

func newRPCServer(resolver connections.Resolver, factory ConnectorFactory, detect DetectFunc, logger *slog.Logger, timeout time.Duration, opts ...dbconnector.Option) *rpcServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &rpcServer{
		resolver: resolver,
		factory:  factory,
		detect:   detect,
		logger:   logger,
		timeout:  timeout,
		options:  opts,
	}
	s.methods = map[string]rpcMethod{
		"db.list_tables":    s.listTables,
		"db.describe_table": s.describeTable,
		"db.list_columns":   s.describeTable,
		"db.query_table":    s.queryTable,
		"db.raw_query":      s.rawQuery,
		"db.detect":         s.detectKind,
	}
	return s
}

func (s *rpcServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeRPCError(w, nil, &rpcError{Code: codeInvalidRequest, Message: "method not allowed", status: http.StatusMethodNotAllowed})
		return
	}
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, &rpcError{Code: codeParseError, Message: "invalid json", status: http.StatusBadRequest})
		return
	}
	status, resp := s.dispatch(r.Context(), req)
	writeRPC(w, status, resp)
}

// serveStdio answers newline delimited requests from r until EOF or ctx is
// done, one response line per request.
func (s *rpcServer) serveStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStdioLine)
	enc := json.NewEncoder(w)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var (
			req  rpcRequest
			resp rpcResponse
		)
		if err := json.Unmarshal(line, &req); err != nil {
			resp = rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "invalid json"}}
		} else {
			_, resp = s.dispatch(ctx, req)
		}
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *rpcServer) dispatch(ctx context.Context, req rpcRequest) (int, rpcResponse) {
	if req.JSONRPC != "2.0" || req.Method == "" {
		return rpcFailure(req.ID, &rpcError{Code: codeInvalidRequest, Message: "invalid request", status: http.StatusBadRequest})
	}
	method, ok := s.methods[req.Method]
	if !ok {
		return rpcFailure(req.ID, &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method, status: http.StatusNotFound})
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	result, err := method(ctx, req.Params)
	if err != nil {
		rerr := toRPCError(err)
		s.logger.WarnContext(ctx, "rpc call failed", slog.String("method", req.Method), slog.Int("code", rerr.Code), slog.Any("error", err))
		return rpcFailure(req.ID, rerr)
	}
	return http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func rpcFailure(id any, rerr *rpcError) (int, rpcResponse) {
	return rerr.status, rpcResponse{JSONRPC: "2.0", ID: id, Error: rerr}
}

// toRPCError classifies domain errors. Caller mistakes become invalid
// params; everything else is reported as an internal error.
func toRPCError(err error) *rpcError {
	var rerr *rpcError
	if errors.As(err, &rerr) {
		return rerr
	}
	switch {
	case errors.Is(err, connections.ErrInvalidInput),
		errors.Is(err, connections.ErrNotFound),
		errors.Is(err, dbconnector.ErrUnsupportedKind),
		errors.Is(err, dbconnector.ErrInvalidIdentifier),
		errors.Is(err, dbconnector.ErrUnparseableWhere),
		errors.Is(err, dbconnector.ErrUnsupportedOperator),
		errors.Is(err, dbconnector.ErrInvalidOrderBy),
		errors.Is(err, dbconnector.ErrInvalidPage),
		errors.Is(err, dbconnector.ErrUndetectable),
		errors.Is(err, dbconnector.ErrReadOnly):
		return invalidParams(err.Error())
	default:
		return &rpcError{Code: codeInternal, Message: err.Error(), status: http.StatusInternalServerError}
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return invalidParams("params are required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams("invalid params")
	}
	return nil
}

func (s *rpcServer) withConnector(ctx context.Context, ref string, fn func(dbconnector.DbConnector) (any, error)) (any, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, invalidParams("connectionRef is required")
	}
	cfg, err := s.resolver.ResolveByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	conn, err := s.factory(cfg, s.options...)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return fn(conn)
}

func (s *rpcServer) listTables(ctx context.Context, raw json.RawMessage) (any, error) {
	var params baseParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	return s.withConnector(ctx, params.ConnectionRef, func(conn dbconnector.DbConnector) (any, error) {
		tables, err := conn.ListTables(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"tables": tables}, nil
	})
}

func (s *rpcServer) describeTable(ctx context.Context, raw json.RawMessage) (any, error) {
	var params tableParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Table == "" {
		return nil, invalidParams("table is required")
	}
	return s.withConnector(ctx, params.ConnectionRef, func(conn dbconnector.DbConnector) (any, error) {
		schema, err := conn.DescribeTable(ctx, params.Table)
		if err != nil {
			return nil, err
		}
		columns := make([]Column, 0, len(schema.Columns))
		for _, c := range schema.Columns {
			columns = append(columns, Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable, IsPrimaryKey: c.IsPK})
		}
		return map[string]any{"table": schema.Table, "columns": columns}, nil
	})
}

func (s *rpcServer) queryTable(ctx context.Context, raw json.RawMessage) (any, error) {
	var params queryTableParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	req := dbconnector.QueryRequest{
		ConnectionID: params.ConnectionRef,
		Table:        params.Table,
		Page:         params.Page,
		PageSize:     params.PageSize,
		Where:        params.WhereClause,
		Filters:      params.Where.filterSet(),
		OrderBy:      params.OrderBy,
	}
	return s.withConnector(ctx, params.ConnectionRef, func(conn dbconnector.DbConnector) (any, error) {
		return conn.QueryTable(ctx, req)
	})
}

func (s *rpcServer) rawQuery(ctx context.Context, raw json.RawMessage) (any, error) {
	var params rawQueryParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Query) == "" {
		return nil, invalidParams("query is required")
	}
	return s.withConnector(ctx, params.ConnectionRef, func(conn dbconnector.DbConnector) (any, error) {
		return conn.RawQuery(ctx, params.Query)
	})
}

func (s *rpcServer) detectKind(ctx context.Context, raw json.RawMessage) (any, error) {
	var params detectParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.ConnectionString) == "" {
		return nil, invalidParams("connectionString is required")
	}
	kind, err := s.detect(ctx, params.ConnectionString)
	if err != nil {
		return nil, err
	}
	return map[string]string{"type": string(kind), "name": kind.DisplayName()}, nil
}

func writeRPCError(w http.ResponseWriter, id any, rerr *rpcError) {
	status, resp := rpcFailure(id, rerr)
	writeRPC(w, status, resp)
}

func writeRPC(w http.ResponseWriter, status int, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
