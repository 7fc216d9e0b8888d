package interfaces

// Connection is one live room participant. Implementations must make
// WriteJSON safe for concurrent callers.
type Connection interface {
	// WriteJSON sends a JSON message to the client (thread-safe).
	WriteJSON(v interface{}) error

	// Close closes the connection and releases its resources.
	Close() error

	// GetConnID returns the server-assigned connection identifier.
	GetConnID() string

	// GetRole returns the joined role ("paramedic", "guardian" or "iot").
	GetRole() string

	// GetSessionID returns the session room this connection joined.
	GetSessionID() string

	// IsJoined reports whether the connection has joined a room.
	IsJoined() bool

	// SetMembership binds the connection to a room with a role.
	SetMembership(sessionID, role string) error
}
