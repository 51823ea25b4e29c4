package store

import "math"

const (
	DefaultPageSize = 20
	DefaultMaxPage  = 100
	// MaxOffset bounds the row offset a page request can reach.
	MaxOffset = math.MaxInt32
)

// Page is a 1-indexed page request. Out-of-range values are clamped rather
// than rejected.
type Page struct {
	Number int
	Size   int
}

// Bounds returns LIMIT and OFFSET for p with the size capped at maxSize.
func (p Page) Bounds(maxSize int) (limit, offset int) {
	if maxSize <= 0 {
		maxSize = DefaultMaxPage
	}
	number := p.Number
	if number < 1 {
		number = 1
	}
	limit = p.Size
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > maxSize {
		limit = maxSize
	}
	if number-1 > MaxOffset/limit {
		number = MaxOffset/limit + 1
	}
	return limit, (number - 1) * limit
}
