package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	dbconnector "project-echo"
	"project-echo/internal/connections"
)

type ConnectorFactory func(cfg dbconnector.ConnectionConfig, opts ...dbconnector.Option) (dbconnector.DbConnector, error)

type JSONClient interface {
	QueryJSONField(ctx context.Context, q dbconnector.JSONFieldQuery) (*dbconnector.QueryResult, error)
	QueryJSONArrayContains(ctx context.Context, q dbconnector.JSONArrayQuery) (*dbconnector.QueryResult, error)
	ExecuteComplexJSON(ctx context.Context, sql string) (*dbconnector.QueryResult, error)
	InsertJSON(ctx context.Context, q dbconnector.JSONInsert) (int64, error)
	UpdateJSONField(ctx context.Context, q dbconnector.JSONUpdate) (int64, error)
	AppendJSONArray(ctx context.Context, q dbconnector.JSONAppend) (int64, error)
}

type JSONClientFactory func(cfg dbconnector.ConnectionConfig, opts ...dbconnector.Option) (JSONClient, error)

func newJSONClient(cfg dbconnector.ConnectionConfig, opts ...dbconnector.Option) (JSONClient, error) {
	client, err := dbconnector.NewJSONClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Registry is the part of the connection registry the HTTP layer needs.
type Registry interface {
	connections.Resolver
	List() []connections.Connection
	Get(id string) (connections.Connection, error)
	AddConnectionString(ctx context.Context, name, kind, connStr string) (connections.Connection, error)
	AddFile(ctx context.Context, name, kind string, src io.Reader, filename string) (connections.Connection, error)
	Remove(id string) error
}

type DetectFunc func(ctx context.Context, connStr string) (dbconnector.Kind, error)

type Handler struct {
	Registry          Registry
	ConnectorFactory  ConnectorFactory
	JSONClientFactory JSONClientFactory
	Detect            DetectFunc
	Logger            *slog.Logger
	ReadOnly          bool
	Limits            dbconnector.PageLimits
	QueryTimeout      time.Duration
}

func NewHandler(registry Registry, factory ConnectorFactory, detect DetectFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		Registry:          registry,
		ConnectorFactory:  factory,
		JSONClientFactory: newJSONClient,
		Detect:            detect,
		Logger:            logger,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) queryContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.QueryTimeout > 0 {
		return context.WithTimeout(r.Context(), h.QueryTimeout)
	}
	return context.WithCancel(r.Context())
}

func (h *Handler) resolve(ctx context.Context, connectionID string) (dbconnector.ConnectionConfig, error) {
	if h.Registry == nil {
		return dbconnector.ConnectionConfig{}, connections.ErrNotConfigured
	}
	if strings.TrimSpace(connectionID) == "" {
		return dbconnector.ConnectionConfig{}, fmt.Errorf("connectionId is required: %w", connections.ErrInvalidInput)
	}
	return h.Registry.ResolveByRef(ctx, connectionID)
}

// withConnector resolves the connection, opens a connector for the duration
// of fn and writes fn's result as the response.
func (h *Handler) withConnector(w http.ResponseWriter, r *http.Request, connectionID string, fn func(context.Context, dbconnector.DbConnector) (any, error)) {
	ctx, cancel := h.queryContext(r)
	defer cancel()
	cfg, err := h.resolve(ctx, connectionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	conn, err := h.ConnectorFactory(cfg,
		dbconnector.WithReadOnly(h.ReadOnly),
		dbconnector.WithPageLimits(h.Limits),
		dbconnector.WithLogger(h.Logger),
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer conn.Close()
	data, err := fn(ctx, conn)
	if err != nil {
		h.Logger.WarnContext(ctx, "request failed", slog.String("connection_id", connectionID), slog.Any("error", err))
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, data)
}

func (h *Handler) HandleRawQuery(w http.ResponseWriter, r *http.Request) {
	var req rawQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	h.withConnector(w, r, req.ConnectionID, func(ctx context.Context, conn dbconnector.DbConnector) (any, error) {
		return conn.RawQuery(ctx, req.Query)
	})
}

func (h *Handler) HandleListTables(w http.ResponseWriter, r *http.Request) {
	h.withConnector(w, r, chi.URLParam(r, "connectionId"), func(ctx context.Context, conn dbconnector.DbConnector) (any, error) {
		return conn.ListTables(ctx)
	})
}

func (h *Handler) HandleDescribeTable(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	h.withConnector(w, r, chi.URLParam(r, "connectionId"), func(ctx context.Context, conn dbconnector.DbConnector) (any, error) {
		return conn.DescribeTable(ctx, table)
	})
}

func (h *Handler) HandleBrowse(w http.ResponseWriter, r *http.Request) {
	var req dbconnector.QueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.withConnector(w, r, req.ConnectionID, func(ctx context.Context, conn dbconnector.DbConnector) (any, error) {
		return conn.QueryTable(ctx, req)
	})
}

func (h *Handler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ConnectionString) == "" {
		writeError(w, http.StatusBadRequest, "connectionString is required")
		return
	}
	kind, err := h.Detect(r.Context(), req.ConnectionString)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"type": string(kind), "name": kind.DisplayName()})
}

func (h *Handler) HandleListConnections(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.Registry.List())
}

func (h *Handler) HandleGetConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, conn)
}

func (h *Handler) HandleAddConnection(w http.ResponseWriter, r *http.Request) {
	var req addConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var (
		conn connections.Connection
		err  error
	)
	switch {
	case strings.TrimSpace(req.FilePath) != "" && strings.TrimSpace(req.ConnectionString) != "":
		writeError(w, http.StatusBadRequest, "send either connectionString or filePath, not both")
		return
	case strings.TrimSpace(req.FilePath) != "":
		f, openErr := os.Open(req.FilePath)
		if openErr != nil {
			writeError(w, http.StatusBadRequest, openErr.Error())
			return
		}
		defer f.Close()
		conn, err = h.Registry.AddFile(r.Context(), req.Name, req.Type, f, filepath.Base(req.FilePath))
	default:
		conn, err = h.Registry.AddConnectionString(r.Context(), req.Name, req.Type, req.ConnectionString)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, conn)
}

func (h *Handler) HandleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Registry.Remove(id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": id})
}

// withJSONClient is withConnector for the PostgreSQL jsonb helpers.
func (h *Handler) withJSONClient(w http.ResponseWriter, r *http.Request, connectionID string, write bool, fn func(context.Context, JSONClient) (any, error)) {
	if write && h.ReadOnly {
		writeServiceError(w, dbconnector.ErrReadOnly)
		return
	}
	ctx, cancel := h.queryContext(r)
	defer cancel()
	cfg, err := h.resolve(ctx, connectionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	client, err := h.JSONClientFactory(cfg, dbconnector.WithReadOnly(h.ReadOnly), dbconnector.WithLogger(h.Logger))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	data, err := fn(ctx, client)
	if err != nil {
		h.Logger.WarnContext(ctx, "json request failed", slog.String("connection_id", connectionID), slog.Any("error", err))
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, data)
}

func (h *Handler) HandleJSONQuery(w http.ResponseWriter, r *http.Request) {
	var req jsonFieldRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.withJSONClient(w, r, req.ConnectionID, false, func(ctx context.Context, c JSONClient) (any, error) {
		return c.QueryJSONField(ctx, req.JSONFieldQuery)
	})
}

func (h *Handler) HandleJSONArray(w http.ResponseWriter, r *http.Request) {
	var req jsonArrayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.withJSONClient(w, r, req.ConnectionID, false, func(ctx context.Context, c JSONClient) (any, error) {
		return c.QueryJSONArrayContains(ctx, req.JSONArrayQuery)
	})
}

func (h *Handler) HandleJSONComplex(w http.ResponseWriter, r *http.Request) {
	var req jsonComplexRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	write := !dbconnector.AnalyzeQuery(req.Query).ReadOnlySafe()
	h.withJSONClient(w, r, req.ConnectionID, write, func(ctx context.Context, c JSONClient) (any, error) {
		return c.ExecuteComplexJSON(ctx, req.Query)
	})
}

func (h *Handler) HandleJSONInsert(w http.ResponseWriter, r *http.Request) {
	var req jsonInsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.withJSONClient(w, r, req.ConnectionID, true, func(ctx context.Context, c JSONClient) (any, error) {
		n, err := c.InsertJSON(ctx, req.JSONInsert)
		return rowsAffected{RowsAffected: n}, err
	})
}

func (h *Handler) HandleJSONUpdate(w http.ResponseWriter, r *http.Request) {
	var req jsonUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.withJSONClient(w, r, req.ConnectionID, true, func(ctx context.Context, c JSONClient) (any, error) {
		n, err := c.UpdateJSONField(ctx, req.JSONUpdate)
		return rowsAffected{RowsAffected: n}, err
	})
}

func (h *Handler) HandleJSONAppend(w http.ResponseWriter, r *http.Request) {
	var req jsonAppendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.withJSONClient(w, r, req.ConnectionID, true, func(ctx context.Context, c JSONClient) (any, error) {
		n, err := c.AppendJSONArray(ctx, req.JSONAppend)
		return rowsAffected{RowsAffected: n}, err
	})
}
