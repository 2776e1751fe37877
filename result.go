package dbconnector

type QueryResult struct {
	Success       bool           `json:"success"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	Columns       []string       `json:"columns"`
	Rows          [][]any        `json:"rows"`
	TotalRows     int64          `json:"totalRows"`
	RowCount      int            `json:"rowCount"`
	Page          int            `json:"page"`
	PageSize      int            `json:"pageSize"`
	TotalPages    int            `json:"totalPages"`
	ExecutionTime float64        `json:"executionTime"`
	Analysis      *QueryAnalysis `json:"analysis,omitempty"`
}

// FailedResult is the result shape reported when a query could not run.
func FailedResult(err error) *QueryResult {
	return &QueryResult{
		Success:      false,
		ErrorMessage: err.Error(),
		Columns:      []string{},
		Rows:         [][]any{},
	}
}
