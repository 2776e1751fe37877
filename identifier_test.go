package dbconnector

import (
	"errors"
	"reflect"
	"testing"
)

func TestQuoteQualified(t *testing.T) {
	quoted, parts, err := quoteQualified("public.users", 2, quoteDouble)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quoted != "\"public\".\"users\"" {
		t.Fatalf("unexpected quoted value: %s", quoted)
	}
	if !reflect.DeepEqual(parts, []string{"public", "users"}) {
		t.Fatalf("unexpected parts: %#v", parts)
	}
}

func TestQuoteQualifiedTooManySegments(t *testing.T) {
	_, _, err := quoteQualified("a.b.c", 2, func(s string) string { return s })
	if err == nil {
		t.Fatalf("expected error for too many segments")
	}
}

func TestQuoteQualifiedRejectsEmptySegment(t *testing.T) {
	_, _, err := quoteQualified("dbo..users", 3, quoteBracket)
	if !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("expected ErrInvalidIdentifier, got %v", err)
	}
}

func TestQuoteQualifiedKeepsDotsInsideQuotes(t *testing.T) {
	quoted, parts, err := quoteQualified(`"odd.name"`, 1, quoteDouble)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quoted != `"odd.name"` || len(parts) != 1 {
		t.Fatalf("unexpected result: %s %#v", quoted, parts)
	}
}

func TestDialectQuoting(t *testing.T) {
	cases := []struct {
		kind Kind
		in   string
		want string
	}{
		{KindSQLite, "users", "[users]"},
		{KindSQLServer, "users", "[users]"},
		{KindMySQL, "users", "`users`"},
		{KindPostgres, "users", `"users"`},
		{KindSQLite, "we]ird", "[we]]ird]"},
		{KindMySQL, "we`ird", "`we``ird`"},
		{KindPostgres, `we"ird`, `"we""ird"`},
	}
	for _, tc := range cases {
		d, err := DialectFor(tc.kind)
		if err != nil {
			t.Fatalf("dialect %s: %v", tc.kind, err)
		}
		if got := d.QuoteIdent(tc.in); got != tc.want {
			t.Fatalf("%s quote %q: got %s want %s", tc.kind, tc.in, got, tc.want)
		}
	}
}

func TestDialectForOracle(t *testing.T) {
	if _, err := DialectFor(KindOracle); !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected ErrUnsupportedKind, got %v", err)
	}
}

func TestParseKindAliases(t *testing.T) {
	cases := map[string]Kind{
		"SQLite":     KindSQLite,
		"PostgreSQL": KindPostgres,
		"pg":         KindPostgres,
		"MSSQL":      KindSQLServer,
		"SQL Server": KindSQLServer,
		"MySQL":      KindMySQL,
		"Oracle":     KindOracle,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseKind("db2"); !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected ErrUnsupportedKind, got %v", err)
	}
}
