package syncer

import "errors"

// Sentinel kinds for sync coordination errors.
var (
	ErrSyncAlreadyInProgress = errors.New("sync already in progress")
	ErrNoData                = errors.New("no category produced any entities")
	ErrShuttingDown          = errors.New("sync coordinator is shutting down")
	ErrRunNotFound           = errors.New("sync run not found")
)
