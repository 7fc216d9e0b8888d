package interfaces

import "errors"

// Errors shared across component boundaries.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUnauthorized    = errors.New("unauthorized access")
)
