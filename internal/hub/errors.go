package hub

import "errors"

var (
	ErrHubAlreadyRunning     = errors.New("hub is already running")
	ErrHubNotRunning         = errors.New("hub is not running")
	ErrEventChannelFull      = errors.New("event channel is full")
	ErrUnregisterChannelFull = errors.New("unregister channel is full")
	ErrNotJoined             = errors.New("connection has not joined a session")
	ErrSessionMismatch       = errors.New("payload session does not match joined room")
)
