package dbconnector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	identPart = "(?:\"(?:[^\"]|\"\")+\"|\\[(?:[^\\]]|\\]\\])+\\]|`(?:[^`]|``)+`|[A-Za-z_][A-Za-z0-9_$]*)"
	jsonArrow = `(?:\s*->>?\s*'(?:[^']|'')*')`
	literal   = `'(?:[^']|'')*'|"(?:[^"]|"")*"|[^\s'"]+`
)

var (
	comparisonPattern = regexp.MustCompile(`(?is)^\s*(` + identPart + `(?:\.` + identPart + `){0,2})(` + jsonArrow + `*)(\s*(?:>=|<=|!=|<>|=|>|<)|\s+not\s+like\b|\s+like\b)\s*(` + literal + `)\s*;?\s*$`)
	nullPattern       = regexp.MustCompile(`(?is)^\s*(` + identPart + `(?:\.` + identPart + `){0,2})(` + jsonArrow + `*)\s+(is\s+not\s+null|is\s+null)\s*;?\s*$`)
	jsonKeyPattern    = regexp.MustCompile(`'((?:[^']|'')*)'`)
	integerPattern    = regexp.MustCompile(`^-?\d+$`)
	decimalPattern    = regexp.MustCompile(`^-?\d+\.\d+$`)
)

// ParseWhere converts a free-text condition such as `age >= 30` or
// `data->'profile'->>'city' = 'Lisbon'` into a single bound filter. Only a
// lone comparison (or IS [NOT] NULL) is understood; anything else returns
// ErrUnparseableWhere and is never sent to the database.
func ParseWhere(expr string) (*FilterSet, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	if m := nullPattern.FindStringSubmatch(expr); m != nil {
		return &FilterSet{Match: "and", Filters: []Filter{{
			Column: m[1],
			Op:     strings.Join(strings.Fields(strings.ToUpper(m[3])), " "),
			Path:   jsonPath(m[2]),
		}}}, nil
	}
	m := comparisonPattern.FindStringSubmatch(expr)
	if m == nil {
		return nil, fmt.Errorf("%q: %w", expr, ErrUnparseableWhere)
	}
	return &FilterSet{Match: "and", Filters: []Filter{{
		Column: m[1],
		Op:     strings.Join(strings.Fields(strings.ToUpper(m[3])), " "),
		Value:  literalValue(m[4]),
		Path:   jsonPath(m[2]),
	}}}, nil
}

func jsonPath(arrows string) []string {
	if strings.TrimSpace(arrows) == "" {
		return nil
	}
	matches := jsonKeyPattern.FindAllStringSubmatch(arrows, -1)
	path := make([]string, 0, len(matches))
	for _, m := range matches {
		path = append(path, strings.ReplaceAll(m[1], "''", "'"))
	}
	return path
}

// literalValue unquotes string literals and turns bare numerals into
// numbers so engines compare them numerically.
func literalValue(raw string) any {
	switch {
	case len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'':
		return strings.ReplaceAll(raw[1:len(raw)-1], "''", "'")
	case len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"':
		return strings.ReplaceAll(raw[1:len(raw)-1], `""`, `"`)
	case integerPattern.MatchString(raw):
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case decimalPattern.MatchString(raw):
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}
