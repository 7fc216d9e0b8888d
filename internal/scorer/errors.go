package scorer

import "errors"

// ErrScoreUnavailable covers every scorer failure mode: transport
// errors, timeouts, malformed output and an open circuit. Readings
// continue unscored; the error is never surfaced to clients.
var ErrScoreUnavailable = errors.New("risk scorer unavailable")
