package router

import "errors"

// Room router errors. The policy layer decides which of these the
// sender ever hears about.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidRole       = errors.New("role must be 'paramedic', 'guardian' or 'iot'")
	ErrRateLimitExceeded = errors.New("rate limit exceeded: 100 events per minute")
	ErrInvalidReading    = errors.New("invalid health reading")
	ErrInvalidChat       = errors.New("invalid chat message")
	ErrInvalidTransition = errors.New("invalid status transition")
)
