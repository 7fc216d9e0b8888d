package gate

import "errors"

// Access gate errors. Verification failures are deliberately
// indistinguishable to the caller: a missing session, a wrong NIC and
// a wrong code all surface as ErrUnauthorized.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUnauthorized    = errors.New("guardian verification failed")
	ErrInvalidToken    = errors.New("invalid or expired capability token")
)
