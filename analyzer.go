package dbconnector

import (
	"regexp"
	"strings"
)

const (
	FlagWriteWithoutWhere  = "WRITE_WITHOUT_WHERE"
	FlagMultipleStatements = "MULTIPLE_STATEMENTS"
)

var analyzerPatterns = []struct {
	flag    string
	pattern *regexp.Regexp
}{
	{"SELECT", regexp.MustCompile(`(?i)\bSELECT\b`)},
	{"INSERT", regexp.MustCompile(`(?i)\bINSERT\b`)},
	{"UPDATE", regexp.MustCompile(`(?i)\bUPDATE\b`)},
	{"DELETE", regexp.MustCompile(`(?i)\bDELETE\b`)},
	{"DROP", regexp.MustCompile(`(?i)\bDROP\b`)},
	{"ALTER", regexp.MustCompile(`(?i)\bALTER\b`)},
	{"CREATE", regexp.MustCompile(`(?i)\bCREATE\b`)},
	{"WHERE", regexp.MustCompile(`(?i)\bWHERE\b`)},
	{"JOIN", regexp.MustCompile(`(?i)\bJOIN\b`)},
	{"LIMIT", regexp.MustCompile(`(?i)\bLIMIT\b`)},
	{"OFFSET", regexp.MustCompile(`(?i)\bOFFSET\b`)},
	{"ORDER BY", regexp.MustCompile(`(?i)\bORDER\s+BY\b`)},
	{"GROUP BY", regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)},
	{"TRUNCATE", regexp.MustCompile(`(?i)\bTRUNCATE\b`)},
	{"UNION", regexp.MustCompile(`(?i)\bUNION\b`)},
	{"SEMICOLON", regexp.MustCompile(`;`)},
	{"REPLACE", regexp.MustCompile(`(?i)(^|;)\s*REPLACE\b|\bREPLACE\s+INTO\b`)},
	{"MERGE", regexp.MustCompile(`(?i)(^|;)\s*MERGE\b|\bMERGE\s+INTO\b`)},
	{"GRANT", regexp.MustCompile(`(?i)\bGRANT\b`)},
	{"REVOKE", regexp.MustCompile(`(?i)\bREVOKE\b`)},
	{"COPY", regexp.MustCompile(`(?i)(^|;)\s*COPY\b`)},
	{"CALL", regexp.MustCompile(`(?i)(^|;)\s*CALL\b`)},
	{"EXEC", regexp.MustCompile(`(?i)(^|;)\s*EXEC(UTE)?\b`)},
	{"ATTACH", regexp.MustCompile(`(?i)\b(ATTACH|DETACH)\b`)},
	{"SELECT INTO", regexp.MustCompile(`(?i)\bSELECT\b[^;]*\bINTO\b`)},
	{"SET", regexp.MustCompile(`(?i)(^|;)\s*SET\b`)},
	{"PRAGMA", regexp.MustCompile(`(?i)(^|;)\s*PRAGMA\b[^;]*(=|\bquery_only\b)`)},
	{"TRANSACTION", regexp.MustCompile(`(?i)(^|;)\s*(BEGIN|COMMIT|ROLLBACK|START\s+TRANSACTION|SAVEPOINT|RELEASE)\b`)},
}

var writeFlags = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "TRUNCATE",
	"REPLACE", "MERGE", "GRANT", "REVOKE", "COPY", "CALL", "EXEC", "ATTACH", "SELECT INTO",
}

// sessionFlags change session or transaction state. They write nothing
// themselves but could undo the read-only session.
var sessionFlags = []string{"SET", "PRAGMA", "TRANSACTION"}

var trailingStatement = regexp.MustCompile(`;\s*\S`)

// QueryAnalysis is a keyword level classification of a statement. It is a
// heuristic, not a parser.
type QueryAnalysis struct {
	Flags map[string]bool `json:"flags"`
}

// AnalyzeQuery flags a statement as read under two quoting rules: SQL
// standard doubled quotes and backslash escapes. A flag set under either
// is reported, so an escape that one engine honours cannot hide a keyword.
func AnalyzeQuery(query string) QueryAnalysis {
	flags := map[string]bool{}
	variants := []string{
		strings.TrimSpace(stripSQL(query, false)),
		strings.TrimSpace(stripSQL(query, true)),
	}
	if variants[0] == "" && variants[1] == "" {
		return QueryAnalysis{Flags: flags}
	}
	for _, stripped := range variants {
		for _, p := range analyzerPatterns {
			flags[p.flag] = flags[p.flag] || p.pattern.MatchString(stripped)
		}
		flags[FlagMultipleStatements] = flags[FlagMultipleStatements] || trailingStatement.MatchString(stripped)
	}
	flags[FlagWriteWithoutWhere] = (flags["UPDATE"] || flags["DELETE"] || flags["TRUNCATE"]) && !flags["WHERE"]
	return QueryAnalysis{Flags: flags}
}

func (a QueryAnalysis) Has(flag string) bool {
	return a.Flags[strings.ToUpper(flag)]
}

func (a QueryAnalysis) IsWrite() bool {
	for _, f := range writeFlags {
		if a.Flags[f] {
			return true
		}
	}
	return false
}

// ReadOnlySafe reports whether a read-only connection may run the
// statement: a single statement that neither writes nor touches session
// state.
func (a QueryAnalysis) ReadOnlySafe() bool {
	if a.IsWrite() || a.Flags[FlagMultipleStatements] {
		return false
	}
	for _, f := range sessionFlags {
		if a.Flags[f] {
			return false
		}
	}
	return true
}

func (a QueryAnalysis) WriteWithoutWhere() bool {
	return a.Flags[FlagWriteWithoutWhere]
}

// StripLiteralsAndComments blanks out quoted strings, quoted identifiers and
// comments so keyword matching only sees SQL structure.
func StripLiteralsAndComments(sql string) string {
	return stripSQL(sql, false)
}

// stripSQL is StripLiteralsAndComments; with backslashEscapes a backslash
// inside a quoted string escapes the next byte, as in MySQL strings and
// PostgreSQL E'' literals.
func stripSQL(sql string, backslashEscapes bool) string {
	var b strings.Builder
	b.Grow(len(sql))
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\'' || c == '"' || c == '`' || c == '[':
			closer := c
			if c == '[' {
				closer = ']'
			}
			j := i + 1
			for j < len(sql) {
				if backslashEscapes && c == '\'' && sql[j] == '\\' {
					j += 2
					continue
				}
				if sql[j] == closer {
					if closer != ']' && j+1 < len(sql) && sql[j+1] == closer {
						j += 2
						continue
					}
					break
				}
				j++
			}
			b.WriteByte(' ')
			i = j
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			b.WriteByte('\n')
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = len(sql)
			} else {
				i += end + 3
			}
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
