// Package projections holds the eventually-consistent read models and the
// page envelope their finder methods return. Projection rows are updated
// after the event append commits; readers must tolerate staleness and use
// waitx to assert on eventual state.
package projections

// DefaultPageSize applies when a caller passes a non-positive size.
const DefaultPageSize = 20

// Page is the envelope every paginated finder returns. Page numbering is
// zero-based.
type Page[T any] struct {
	Items         []T   `json:"items"`
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"total_elements"`
	TotalPages    int   `json:"total_pages"`
	HasNext       bool  `json:"has_next"`
	HasPrevious   bool  `json:"has_previous"`
}

// NewPage computes the envelope. totalPages is ceil(total/size); hasNext
// and hasPrevious derive from the page position, not from the item count,
// so an empty page past the end still reports hasPrevious correctly.
func NewPage[T any](items []T, page int, size int, total int64) Page[T] {
	if size <= 0 {
		size = DefaultPageSize
	}
	if page < 0 {
		page = 0
	}
	if items == nil {
		items = []T{}
	}
	totalPages := int((total + int64(size) - 1) / int64(size))
	return Page[T]{
		Items:         items,
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    totalPages,
		HasNext:       page < totalPages-1,
		HasPrevious:   page > 0,
	}
}

// Normalize clamps paging inputs before they reach SQL.
func Normalize(page int, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	return page, size
}
