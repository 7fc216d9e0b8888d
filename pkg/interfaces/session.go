package interfaces

import (
	"context"

	"lifeline/pkg/types"
)

// SessionManager is the session lifecycle controller. It is the sole
// writer of session status; every transition goes through it.
type SessionManager interface {
	// CreateSession constructs a draft session.
	CreateSession(ctx context.Context, session *types.Session) (*types.Session, error)

	// StartSession moves draft -> ongoing and stamps StartedAt.
	StartSession(ctx context.Context, sessionID string) (*types.Session, error)

	// StopSession moves ongoing -> arriving and stamps EndedAt.
	StopSession(ctx context.Context, sessionID string) error

	// EndSession moves arriving -> ended and sends the guardian the
	// final summary (fire-and-forget).
	EndSession(ctx context.Context, sessionID string) error

	// AdvanceStatus applies a generic forward-only transition. Used by
	// the room router's status:update path.
	AdvanceStatus(ctx context.Context, sessionID, status string) error

	// GetSession retrieves a session, cache-first.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// ListByAmbulance returns an ambulance's recent sessions.
	ListByAmbulance(ctx context.Context, ambulanceID string) ([]*types.Session, error)

	// GetActive returns the ambulance's current live session, if any.
	GetActive(ctx context.Context, ambulanceID string) (*types.Session, error)
}
