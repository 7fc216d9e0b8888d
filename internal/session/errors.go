package session

import "errors"

// Lifecycle controller errors.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("status transitions must move forward: draft, ongoing, arriving, ended")
	ErrValidation        = errors.New("session validation failed")
)
