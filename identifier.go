package dbconnector

import (
	"fmt"
	"strings"
	"unicode"
)

// quoter wraps an identifier in open/close characters, doubling any close
// character inside it.
func quoter(open, close string) func(string) string {
	return func(s string) string {
		return open + strings.ReplaceAll(s, close, close+close) + close
	}
}

var (
	quoteBracket  = quoter("[", "]")
	quoteBacktick = quoter("`", "`")
	quoteDouble   = quoter(`"`, `"`)
)

func splitIdentifier(ident string) ([]string, error) {
	trimmed := strings.TrimSpace(ident)
	if trimmed == "" {
		return nil, fmt.Errorf("identifier is empty: %w", ErrInvalidIdentifier)
	}
	parts := splitOutsideQuotes(trimmed, '.')
	for i, part := range parts {
		part = unquoteIdent(strings.TrimSpace(part))
		if part == "" {
			return nil, fmt.Errorf("identifier %q contains empty segment: %w", ident, ErrInvalidIdentifier)
		}
		for _, r := range part {
			if unicode.IsControl(r) {
				return nil, fmt.Errorf("identifier %q contains control characters: %w", ident, ErrInvalidIdentifier)
			}
		}
		parts[i] = part
	}
	return parts, nil
}

func quoteQualified(ident string, maxSegments int, quote func(string) string) (string, []string, error) {
	parts, err := splitIdentifier(ident)
	if err != nil {
		return "", nil, err
	}
	if maxSegments > 0 && len(parts) > maxSegments {
		return "", nil, fmt.Errorf("identifier %q has too many segments: %w", ident, ErrInvalidIdentifier)
	}
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = quote(part)
	}
	return strings.Join(quoted, "."), parts, nil
}

// unquoteIdent strips one level of [..], `..` or ".." quoting so callers can
// pass identifiers already quoted for any engine.
func unquoteIdent(s string) string {
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	switch {
	case first == '[' && last == ']':
		return strings.ReplaceAll(s[1:len(s)-1], "]]", "]")
	case first == '`' && last == '`':
		return strings.ReplaceAll(s[1:len(s)-1], "``", "`")
	case first == '"' && last == '"':
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return s
}

func splitOutsideQuotes(s string, sep rune) []string {
	var parts []string
	var current strings.Builder
	var closing rune
	for _, r := range s {
		switch {
		case closing != 0:
			if r == closing {
				closing = 0
			}
		case r == '[':
			closing = ']'
		case r == '`' || r == '"':
			closing = r
		case r == sep:
			parts = append(parts, current.String())
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	return append(parts, current.String())
}
