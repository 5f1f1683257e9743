package model

import "errors"

// Sentinel kinds for model errors.
var (
	ErrUnknownCategory = errors.New("unknown category")
	ErrUnknownKind     = errors.New("unknown value kind")
	ErrParseValue      = errors.New("parse value failed")
)
