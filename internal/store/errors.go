package store

import "errors"

var (
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")
	// ErrBusy means the per-schedule serialization could not be entered
	// within the bounded wait. Retryable by the caller.
	ErrBusy = errors.New("schedule busy")
)
