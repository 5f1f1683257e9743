package repository

import "errors"

// Sentinel kinds for snapshot store errors.
var (
	ErrNoSnapshot       = errors.New("no snapshot published")
	ErrUnknownVersion   = errors.New("unknown snapshot version")
	ErrStaleCommit      = errors.New("a newer snapshot is already published")
	ErrHandleClosed     = errors.New("write handle is closed")
	ErrCategoryWritten  = errors.New("category already written for this version")
	ErrMixedCategories  = errors.New("entities span more than one category")
	ErrWrite            = errors.New("snapshot store write failed")
	ErrUnsupportedStore = errors.New("unsupported store driver")
)
