package interfaces

import (
	"context"

	"lifeline/pkg/types"
)

// RoomRouter validates, enriches, persists and rebroadcasts room
// events. Lookups of nonexistent sessions are deliberate no-ops for
// room events; the policy layer decides what the sender hears.
type RoomRouter interface {
	// Join adds a connection to a session room. Idempotent per
	// connection. No authorization check happens at this layer.
	Join(conn Connection, sessionID, role string) error

	// SubmitHealth scores, persists and broadcasts one reading.
	SubmitHealth(ctx context.Context, sessionID string, point *types.HealthPoint) error

	// SubmitChat persists and broadcasts one chat message with a
	// server-assigned timestamp.
	SubmitChat(ctx context.Context, sessionID, sender, text string) error

	// UpdateStatus advances the session status through the lifecycle
	// controller and broadcasts the change.
	UpdateStatus(ctx context.Context, sessionID, status string) error
}
