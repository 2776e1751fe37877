package main

import (
	"bytes"
	"database/sql"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	dbconnector "project-echo"
	"project-echo/internal/connections"
)

func TestBrowseRequestContract(t *testing.T) {
	payload := `{
		"connectionId": "c-123",
		"tableName": "users",
		"page": 3,
		"pageSize": 25,
		"whereClause": "status = 'open'",
		"orderBy": "created_at DESC"
	}`
	var req dbconnector.QueryRequest
	if err := decodeJSON(httptest.NewRequest("POST", "/", strings.NewReader(payload)), &req); err != nil {
		t.Fatalf("failed to decode browse request: %v", err)
	}
	if req.ConnectionID != "c-123" || req.Table != "users" {
		t.Fatalf("unexpected identifiers: %+v", req)
	}
	if req.Page != 3 || req.PageSize != 25 {
		t.Fatalf("unexpected paging: %+v", req)
	}
	if req.Where != "status = 'open'" || req.OrderBy != "created_at DESC" {
		t.Fatalf("unexpected where/order: %+v", req)
	}
}

func TestJSONUpdateRequestContract(t *testing.T) {
	payload := `{
		"connectionId": "c-456",
		"tableName": "people",
		"jsonColumn": "data",
		"jsonPath": "address,city",
		"value": "Porto",
		"filters": {"filters": [{"column": "id", "op": "=", "value": 7}]}
	}`
	var req jsonUpdateRequest
	if err := decodeJSON(httptest.NewRequest("POST", "/", strings.NewReader(payload)), &req); err != nil {
		t.Fatalf("failed to decode update request: %v", err)
	}
	if req.ConnectionID != "c-456" || req.Table != "people" || req.Path != "address,city" {
		t.Fatalf("unexpected fields: %+v", req)
	}
	if req.Filters == nil || len(req.Filters.Filters) != 1 || req.Filters.Filters[0].Column != "id" {
		t.Fatalf("unexpected filters: %+v", req.Filters)
	}
}

func TestDecodeJSONRejectsTrailingData(t *testing.T) {
	var req rawQueryRequest
	err := decodeJSON(httptest.NewRequest("POST", "/", strings.NewReader(`{"query":"SELECT 1"}{"query":"x"}`)), &req)
	if err == nil {
		t.Fatalf("expected trailing payload to be rejected")
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLIRegisterBrowseAndRemove(t *testing.T) {
	work := t.TempDir()
	t.Chdir(work)
	storage := filepath.Join(work, "storage")

	source := filepath.Join(work, "inventory.db")
	db, err := sql.Open("sqlite", source)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := db.Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, qty INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for i := 1; i <= 4; i++ {
		if _, err := db.Exec("INSERT INTO items (qty) VALUES (?)", i*10); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	db.Close()

	out, err := runCLI(t, "--storage-path", storage, "--log-level", "error", "connections", "add", "--file", source)
	if err != nil {
		t.Fatalf("connections add: %v", err)
	}
	var conn connections.Connection
	if err := json.Unmarshal([]byte(out), &conn); err != nil {
		t.Fatalf("decode added connection: %v (%s)", err, out)
	}
	if conn.Kind != dbconnector.KindSQLite || conn.Name != "inventory" {
		t.Fatalf("unexpected connection: %+v", conn)
	}

	out, err = runCLI(t, "--storage-path", storage, "tables", conn.ID)
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	if !strings.Contains(out, `"items"`) {
		t.Fatalf("expected items table, got %s", out)
	}

	out, err = runCLI(t, "--storage-path", storage, "browse", conn.ID, "items", "--where", "qty > 15", "--page-size", "2")
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	var result dbconnector.QueryResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode browse result: %v", err)
	}
	if result.TotalRows != 3 || result.RowCount != 2 || result.TotalPages != 2 {
		t.Fatalf("unexpected page: %+v", result)
	}

	if _, err := runCLI(t, "--storage-path", storage, "--read-only", "query", conn.ID, "DELETE FROM items"); err == nil {
		t.Fatalf("expected read-only mode to refuse DELETE")
	}

	if _, err := runCLI(t, "--storage-path", storage, "connections", "remove", conn.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	out, err = runCLI(t, "--storage-path", storage, "connections", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected empty registry, got %s", out)
	}
}

func TestCLIConnectionsAddNeedsOneSource(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := runCLI(t, "--storage-path", t.TempDir(), "connections", "add", "--name", "x"); err == nil {
		t.Fatalf("expected an error without --file or --connection-string")
	}
}
