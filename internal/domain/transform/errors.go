package transform

import (
	"errors"
	"fmt"

	"github.com/okian/fplcache/internal/domain/model"
)

// Sentinel reasons for a rejected record.
var (
	ErrMissingField = errors.New("missing required field")
	ErrTypeMismatch = errors.New("type mismatch")
	ErrNotObject    = errors.New("record is not a JSON object")
	ErrDuplicateID  = errors.New("duplicate id")
	ErrNoFieldTable = errors.New("no field table for category")
)

// TransformError describes one record that was skipped.
type TransformError struct {
	Category model.Category
	Index    int
	RecordID int64
	Field    string
	Record   model.RawRecord
	Reason   error
}

func (e *TransformError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("transform %s[%d] id=%d field %q: %v", e.Category, e.Index, e.RecordID, e.Field, e.Reason)
	}
	return fmt.Sprintf("transform %s[%d]: %v", e.Category, e.Index, e.Reason)
}

func (e *TransformError) Unwrap() error { return e.Reason }
