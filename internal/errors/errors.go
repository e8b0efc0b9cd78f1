package errors

import "errors"

// Run-level errors.
var (
	ErrSyncInFlight           = errors.New("sync already in progress")
	ErrKeyMismatch            = errors.New("encryption key does not match remote")
	ErrExcessiveModifications = errors.New("aborting: plan modifies too much of the sync set")
)

// Remote store errors.
var (
	ErrObjectNotFound = errors.New("remote object not found")
)
