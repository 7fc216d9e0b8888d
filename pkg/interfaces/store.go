package interfaces

import (
	"context"

	"lifeline/pkg/types"
)

// SessionStore is the durable record of sessions, readings and chat.
// Appends to a session's health or chat sequence must be atomic with
// respect to concurrent appenders.
type SessionStore interface {
	// CreateSession persists a new session row.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession retrieves a session by ID, without child sequences.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// UpdateSessionStatus sets status and stamps started/ended times.
	UpdateSessionStatus(ctx context.Context, session *types.Session) error

	// SetGuardianOTP overwrites the single active verification code.
	SetGuardianOTP(ctx context.Context, sessionID, otp string) error

	// MarkGuardianVerified flags the session verified; gender is
	// recorded when non-nil.
	MarkGuardianVerified(ctx context.Context, sessionID string, gender *int) error

	// AppendHealthPoint appends one immutable reading.
	AppendHealthPoint(ctx context.Context, point *types.HealthPoint) error

	// AppendChatMessage appends one immutable transcript entry.
	AppendChatMessage(ctx context.Context, message *types.ChatMessage) error

	// GetHealthHistory returns all readings in append order.
	GetHealthHistory(ctx context.Context, sessionID string) ([]*types.HealthPoint, error)

	// GetChatHistory returns the transcript in append order.
	GetChatHistory(ctx context.Context, sessionID string) ([]*types.ChatMessage, error)

	// ListSessionsByAmbulance returns an ambulance's sessions, most
	// recently started first.
	ListSessionsByAmbulance(ctx context.Context, ambulanceID string, limit int) ([]*types.Session, error)

	// GetActiveSessionByAmbulance returns the newest ongoing/arriving
	// session for an ambulance, or ErrSessionNotFound.
	GetActiveSessionByAmbulance(ctx context.Context, ambulanceID string) (*types.Session, error)

	// HealthCheck verifies store connectivity.
	HealthCheck(ctx context.Context) error

	// Close flushes and closes the store.
	Close() error
}
