package upstream

import "errors"

// Sentinel kinds for upstream failures. ErrUnavailable is transient and
// retried; ErrMalformed is permanent for the fetch.
var (
	ErrUnavailable     = errors.New("upstream unavailable")
	ErrMalformed       = errors.New("upstream payload malformed")
	ErrUnknownCategory = errors.New("no upstream source for category")
)
