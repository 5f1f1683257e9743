package query

import "errors"

// Sentinel kinds for read-path errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidQuery = errors.New("invalid query")
)
