package sessions

import "errors"

// Sentinel errors for conversation store operations.
var (
	// ErrNotFound is returned when a conversation does not exist or has been deleted.
	ErrNotFound = errors.New("conversation not found")

	// ErrConflict is returned when a conversation with the given ID already exists.
	ErrConflict = errors.New("conversation already exists")
)
