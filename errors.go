package dbconnector

import "errors"

var (
	ErrUnsupportedKind     = errors.New("unsupported database kind")
	ErrInvalidIdentifier   = errors.New("invalid identifier")
	ErrUnparseableWhere    = errors.New("where clause could not be parsed")
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrInvalidOrderBy      = errors.New("invalid order by")
	ErrInvalidPage         = errors.New("invalid page")
	ErrUndetectable        = errors.New("could not determine database type")
	ErrReadOnly            = errors.New("write statements are disabled")
	ErrMissingFilter       = errors.New("a filter is required")
)
