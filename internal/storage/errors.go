package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose key already exists,
	// including a second active portfolio for one wallet.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConflict is returned when an update carries a stale version.
	ErrConflict = errors.New("version conflict")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
