package dbconnector

import (
	"errors"
	"fmt"
	"strings"
)

// Filter is a single parameterized comparison. Path selects a key path
// inside a jsonb column and is only valid on PostgreSQL.
type Filter struct {
	Column string   `json:"column"`
	Op     string   `json:"op"`
	Value  any      `json:"value,omitempty"`
	Path   []string `json:"path,omitempty"`
}

type FilterSet struct {
	Match   string   `json:"match,omitempty"` // and | or
	Filters []Filter `json:"filters"`
}

func (fs *FilterSet) empty() bool {
	return fs == nil || len(fs.Filters) == 0
}

// build renders the set as a boolean expression with every value bound.
// Placeholders start at startIndex; the next free index is returned.
func (fs *FilterSet) build(d Dialect, startIndex int) (string, []any, int, error) {
	if fs.empty() {
		return "", nil, startIndex, nil
	}
	joiner := "AND"
	switch strings.ToLower(strings.TrimSpace(fs.Match)) {
	case "", "and", "all":
	case "or", "any":
		joiner = "OR"
	default:
		return "", nil, startIndex, fmt.Errorf("unknown filter match %q: %w", fs.Match, ErrUnsupportedOperator)
	}
	clauses := make([]string, 0, len(fs.Filters))
	args := []any{}
	idx := startIndex
	for _, f := range fs.Filters {
		op, err := normalizeOp(f.Op)
		if err != nil {
			return "", nil, idx, err
		}
		target, targetArgs, next, err := filterTarget(d, f, op, idx)
		if err != nil {
			return "", nil, idx, err
		}
		idx = next
		args = append(args, targetArgs...)
		switch op {
		case "IS NULL", "IS NOT NULL":
			clauses = append(clauses, fmt.Sprintf("%s %s", target, op))
		case "IN":
			values, ok := sliceValues(f.Value)
			if !ok || len(values) == 0 {
				return "", nil, idx, errors.New("IN filter needs a non-empty list value")
			}
			placeholders := make([]string, 0, len(values))
			for range values {
				placeholders = append(placeholders, d.Placeholder(idx))
				idx++
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", target, strings.Join(placeholders, ", ")))
			args = append(args, values...)
		default:
			clauses = append(clauses, fmt.Sprintf("%s %s %s", target, op, d.Placeholder(idx)))
			idx++
			args = append(args, f.Value)
		}
	}
	return strings.Join(clauses, " "+joiner+" "), args, idx, nil
}

// filterTarget renders the left side of a comparison: a quoted column, or a
// jsonb key path walk whose keys are themselves bound.
func filterTarget(d Dialect, f Filter, op string, idx int) (string, []any, int, error) {
	col, _, err := quoteQualified(f.Column, 3, d.QuoteIdent)
	if err != nil {
		return "", nil, idx, err
	}
	if len(f.Path) == 0 {
		return col, nil, idx, nil
	}
	if d.Kind() != KindPostgres {
		return "", nil, idx, fmt.Errorf("json path filters need PostgreSQL, not %s: %w", d.Kind().DisplayName(), ErrUnsupportedKind)
	}
	var b strings.Builder
	b.WriteString(col)
	args := make([]any, 0, len(f.Path))
	for i, key := range f.Path {
		arrow := "->"
		if i == len(f.Path)-1 {
			arrow = "->>"
		}
		fmt.Fprintf(&b, "%s%s::text", arrow, d.Placeholder(idx))
		idx++
		args = append(args, key)
	}
	target := b.String()
	if isNumber(f.Value) && op != "LIKE" && op != "NOT LIKE" {
		target = "(" + target + ")::numeric"
	}
	return target, args, idx, nil
}

func normalizeOp(op string) (string, error) {
	switch strings.Join(strings.Fields(strings.ToLower(op)), " ") {
	case "=", "==", "eq":
		return "=", nil
	case "!=", "<>", "ne":
		return "<>", nil
	case ">", "gt":
		return ">", nil
	case ">=", "gte":
		return ">=", nil
	case "<", "lt":
		return "<", nil
	case "<=", "lte":
		return "<=", nil
	case "like":
		return "LIKE", nil
	case "not like":
		return "NOT LIKE", nil
	case "in":
		return "IN", nil
	case "is null":
		return "IS NULL", nil
	case "is not null":
		return "IS NOT NULL", nil
	default:
		return "", fmt.Errorf("operator %q: %w", op, ErrUnsupportedOperator)
	}
}

func sliceValues(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, item)
		}
		return out, true
	case []int:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, item)
		}
		return out, true
	case []int64:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, item)
		}
		return out, true
	case []float64:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, item)
		}
		return out, true
	default:
		return nil, false
	}
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}
