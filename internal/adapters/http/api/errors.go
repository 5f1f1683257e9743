package api

import (
	"errors"
	"net/http"

	service "github.com/okian/fplcache/internal/app"
	"github.com/okian/fplcache/internal/domain/query"
	"github.com/okian/fplcache/internal/domain/syncer"
)

// opError annotates an error with the handler operation that produced it.
type opError struct {
	op   string
	kind error
	err  error
}

func (e *opError) Error() string {
	switch {
	case e.err == nil:
		return e.op + ": " + e.kind.Error()
	case e.kind == nil:
		return e.op + ": " + e.err.Error()
	default:
		return e.op + ": " + e.kind.Error() + ": " + e.err.Error()
	}
}

func (e *opError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.kind != nil {
		out = append(out, e.kind)
	}
	if e.err != nil {
		out = append(out, e.err)
	}
	return out
}

// Wrap annotates err with op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &opError{op: op, err: err}
}

// WrapKind annotates err with op and classifies it as kind.
func WrapKind(op string, kind, err error) error {
	return &opError{op: op, kind: kind, err: err}
}

// NewKind returns an error of kind for op.
func NewKind(op string, kind error) error {
	return &opError{op: op, kind: kind}
}

// statusFor maps an error to a response status and code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, query.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, query.ErrInvalidQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, syncer.ErrSyncAlreadyInProgress):
		return http.StatusConflict, "sync_already_in_progress"
	case errors.Is(err, syncer.ErrShuttingDown):
		return http.StatusServiceUnavailable, "shutting_down"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
