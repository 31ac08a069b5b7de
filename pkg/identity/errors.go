package identity

import "errors"

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when an account or role does not exist.
	ErrNotFound = errors.New("identity not found")

	// ErrConflict is returned when an account or role with the given
	// name already exists.
	ErrConflict = errors.New("identity already exists")
)
