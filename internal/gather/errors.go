package gather

import "errors"

// Pipeline errors. Both are scoped to one symbol or task; neither aborts a
// run on its own.
var (
	// ErrPaginationStall is returned when the candle cursor fails to advance
	// between two pages.
	ErrPaginationStall = errors.New("pagination stalled")

	// ErrDataIntegrity is returned when a symbol reaches a later stage
	// without a resolved storage identity, or storage has no row for an
	// identity that should exist.
	ErrDataIntegrity = errors.New("data integrity violation")
)
