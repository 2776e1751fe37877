package dbconnector

import (
	"fmt"
	"math"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Page is a 1-based page number and a positive page size.
type Page struct {
	Number int
	Size   int
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

type PageLimits struct {
	Default int
	Max     int
}

func (l PageLimits) withDefaults() PageLimits {
	if l.Default <= 0 {
		l.Default = DefaultPageSize
	}
	if l.Max <= 0 {
		l.Max = MaxPageSize
	}
	if l.Default > l.Max {
		l.Default = l.Max
	}
	return l
}

// NormalizePage applies limits: a missing page becomes 1, a missing size the
// default, and sizes above the maximum are clamped. Negative values are
// rejected, as are page numbers whose row offset would overflow int.
func NormalizePage(number, size int, limits PageLimits) (Page, error) {
	limits = limits.withDefaults()
	if number < 0 {
		return Page{}, fmt.Errorf("page %d: %w", number, ErrInvalidPage)
	}
	if size < 0 {
		return Page{}, fmt.Errorf("page size %d: %w", size, ErrInvalidPage)
	}
	if number == 0 {
		number = 1
	}
	if size == 0 {
		size = limits.Default
	}
	if size > limits.Max {
		size = limits.Max
	}
	if number > math.MaxInt/size {
		return Page{}, fmt.Errorf("page %d of size %d: %w", number, size, ErrInvalidPage)
	}
	return Page{Number: number, Size: size}, nil
}

// TotalPages is ceil(totalRows / pageSize).
func TotalPages(totalRows int64, pageSize int) int {
	if pageSize <= 0 || totalRows <= 0 {
		return 0
	}
	return int((totalRows + int64(pageSize) - 1) / int64(pageSize))
}
