package dbconnector

import (
	"fmt"
	"strings"
)

type QueryRequest struct {
	ConnectionID string     `json:"connectionId"`
	Table        string     `json:"tableName"`
	Page         int        `json:"page"`
	PageSize     int        `json:"pageSize"`
	Where        string     `json:"whereClause,omitempty"`
	Filters      *FilterSet `json:"filters,omitempty"`
	OrderBy      string     `json:"orderBy,omitempty"`
}

// Statement is SQL text plus the values bound to its placeholders.
type Statement struct {
	SQL  string
	Args []any
}

func (r QueryRequest) Normalize(limits PageLimits) (QueryRequest, error) {
	if strings.TrimSpace(r.Table) == "" {
		return r, fmt.Errorf("table name is required: %w", ErrInvalidIdentifier)
	}
	page, err := NormalizePage(r.Page, r.PageSize, limits)
	if err != nil {
		return r, err
	}
	r.Page = page.Number
	r.PageSize = page.Size
	return r, nil
}

// FilterSets returns the structured filters and, when present, the parsed
// legacy where fragment. They are combined with AND.
func (r QueryRequest) FilterSets() ([]*FilterSet, error) {
	var sets []*FilterSet
	if !r.Filters.empty() {
		sets = append(sets, r.Filters)
	}
	parsed, err := ParseWhere(r.Where)
	if err != nil {
		return nil, err
	}
	if parsed != nil {
		sets = append(sets, parsed)
	}
	return sets, nil
}

func BuildSelect(d Dialect, req QueryRequest) (Statement, error) {
	if req.Page < 1 || req.PageSize < 1 {
		return Statement{}, fmt.Errorf("page %d size %d: %w", req.Page, req.PageSize, ErrInvalidPage)
	}
	table, err := quoteTable(d, req.Table)
	if err != nil {
		return Statement{}, err
	}
	sets, err := req.FilterSets()
	if err != nil {
		return Statement{}, err
	}
	where, args, err := buildWhere(d, sets, 1)
	if err != nil {
		return Statement{}, err
	}
	orderBy, err := buildOrderBy(d, req.OrderBy)
	if err != nil {
		return Statement{}, err
	}
	page := Page{Number: req.Page, Size: req.PageSize}
	return Statement{SQL: d.Paginate(table, where, orderBy, page), Args: args}, nil
}

func BuildCount(d Dialect, table string, filters ...*FilterSet) (Statement, error) {
	quoted, err := quoteTable(d, table)
	if err != nil {
		return Statement{}, err
	}
	where, args, err := buildWhere(d, filters, 1)
	if err != nil {
		return Statement{}, err
	}
	query := "SELECT COUNT(*) FROM " + quoted
	if where != "" {
		query += " WHERE " + where
	}
	return Statement{SQL: query, Args: args}, nil
}

func quoteTable(d Dialect, table string) (string, error) {
	quoted, _, err := quoteQualified(table, 3, d.QuoteIdent)
	if err != nil {
		return "", fmt.Errorf("invalid %s table: %w", d.Kind(), err)
	}
	return quoted, nil
}

func buildWhere(d Dialect, sets []*FilterSet, startIndex int) (string, []any, error) {
	clauses := []string{}
	args := []any{}
	idx := startIndex
	for _, set := range sets {
		if set.empty() {
			continue
		}
		clause, setArgs, next, err := set.build(d, idx)
		if err != nil {
			return "", nil, err
		}
		idx = next
		clauses = append(clauses, clause)
		args = append(args, setArgs...)
	}
	if len(clauses) > 1 {
		for i, c := range clauses {
			clauses[i] = "(" + c + ")"
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

// buildOrderBy accepts "col [ASC|DESC], ..." and quotes every column.
func buildOrderBy(d Dialect, orderBy string) (string, error) {
	if strings.TrimSpace(orderBy) == "" {
		return "", nil
	}
	terms := splitOutsideQuotes(orderBy, ',')
	rendered := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		column, direction := term, ""
		if i := strings.LastIndexAny(term, " \t"); i > 0 {
			switch dir := strings.ToUpper(strings.TrimSpace(term[i+1:])); dir {
			case "ASC", "DESC":
				column, direction = strings.TrimSpace(term[:i]), dir
			}
		}
		if strings.ContainsAny(unquoteIdent(column), " \t();'") && !isQuoted(column) {
			return "", fmt.Errorf("order by term %q: %w", term, ErrInvalidOrderBy)
		}
		quoted, _, err := quoteQualified(column, 3, d.QuoteIdent)
		if err != nil {
			return "", fmt.Errorf("order by term %q: %w", term, ErrInvalidOrderBy)
		}
		if direction != "" {
			quoted += " " + direction
		}
		rendered = append(rendered, quoted)
	}
	return strings.Join(rendered, ", "), nil
}

func isQuoted(s string) bool {
	return unquoteIdent(s) != s
}
