package storage

import "errors"

// Store errors. Callers check them with errors.Is.
var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a write carried a stale revision or targeted an id that already exists.
	ErrConflict = errors.New("revision conflict")
	// ErrDuplicate is ErrConflict narrowed to an idempotent insert of an existing event id.
	ErrDuplicate = errors.New("duplicate event")
)
