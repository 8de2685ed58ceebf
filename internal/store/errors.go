package store

import "errors"

// Error taxonomy for store operations. Every rejected operation wraps
// one of these sentinels so callers can branch with errors.Is; no
// operation mutates state before its inputs have been validated.
var (
	// ErrValidation marks malformed input, e.g. a cross-session parent
	// or an unrecognized enum value.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a referenced record that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition marks an illegal branch state change
	// (completed/abandoned branches never return to active).
	ErrInvalidTransition = errors.New("invalid state transition")
)
