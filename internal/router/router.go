package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifeline/internal/metrics"
	"lifeline/internal/session"
	"lifeline/internal/websocket"
	"lifeline/pkg/interfaces"
	"lifeline/pkg/types"
)

// Router is the room router: it validates, enriches, persists and
// rebroadcasts role-tagged events addressed to a session room. It
// holds no authoritative session state; the store does.
type Router struct {
	registry      *websocket.Registry
	sessions      interfaces.SessionManager
	store         interfaces.SessionStore
	scorer        interfaces.Scorer
	scorerTimeout time.Duration
	rateLimiter   *RateLimiter
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// NewRouter creates a room router.
func NewRouter(
	registry *websocket.Registry,
	sessions interfaces.SessionManager,
	store interfaces.SessionStore,
	scorer interfaces.Scorer,
	scorerTimeout time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Router {
	if scorerTimeout <= 0 {
		scorerTimeout = 3 * time.Second
	}
	return &Router{
		registry:      registry,
		sessions:      sessions,
		store:         store,
		scorer:        scorer,
		scorerTimeout: scorerTimeout,
		rateLimiter:   NewRateLimiter(),
		metrics:       m,
		logger:        logger,
	}
}

// Join adds a connection to a session room tagged with a role. No
// authorization check happens here: the caller was gated out-of-band
// (ambulance login or guardian verification) before the socket opened.
// Idempotent per connection.
func (r *Router) Join(conn interfaces.Connection, sessionID, role string) error {
	if !types.IsValidRole(role) {
		return ErrInvalidRole
	}

	wsConn, ok := conn.(*websocket.Connection)
	if !ok {
		return fmt.Errorf("unsupported connection type %T", conn)
	}

	if _, err := r.sessions.GetSession(context.Background(), sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	if err := wsConn.SetMembership(sessionID, role); err != nil {
		return err
	}
	if err := r.registry.Register(wsConn); err != nil {
		return err
	}

	r.logger.Info("joined room",
		zap.String("session_id", sessionID),
		zap.String("role", role),
		zap.String("conn_id", conn.GetConnID()))
	return nil
}

// SubmitHealth scores, persists and broadcasts one vitals reading.
// The scorer is best-effort: on failure or timeout the reading is
// appended and broadcast unscored, with no error surfaced anywhere.
func (r *Router) SubmitHealth(ctx context.Context, sessionID string, point *types.HealthPoint) error {
	sess, err := r.lookupSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := point.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}

	point.ID = uuid.New().String()
	point.SessionID = sessionID
	if point.Timestamp.IsZero() {
		point.Timestamp = time.Now()
	}

	// The assessment is attached at most once and never retried.
	if point.RiskPrediction == nil && r.scorer != nil {
		r.enrichWithRisk(ctx, sess, point)
	}

	if err := r.store.AppendHealthPoint(ctx, point); err != nil {
		return fmt.Errorf("failed to persist health point: %w", err)
	}

	r.broadcast(sessionID, &types.Event{Event: types.EventHealthUpdate, Data: point})
	return nil
}

// SubmitChat persists and broadcasts one chat message. The timestamp
// is server-assigned.
func (r *Router) SubmitChat(ctx context.Context, sessionID, sender, text string) error {
	if _, err := r.lookupSession(ctx, sessionID); err != nil {
		return err
	}

	message := &types.ChatMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Sender:    sender,
		Text:      text,
		Timestamp: time.Now(),
	}
	if err := message.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChat, err)
	}

	if err := r.store.AppendChatMessage(ctx, message); err != nil {
		return fmt.Errorf("failed to persist chat message: %w", err)
	}

	r.broadcast(sessionID, &types.Event{Event: types.EventChatMessage, Data: message})
	return nil
}

// UpdateStatus advances the session's lifecycle status and broadcasts
// the change. The lifecycle controller is the sole status writer; this
// path only delegates, so the two entry points can never diverge.
func (r *Router) UpdateStatus(ctx context.Context, sessionID, status string) error {
	if err := r.sessions.AdvanceStatus(ctx, sessionID, status); err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			return ErrSessionNotFound
		case errors.Is(err, session.ErrInvalidTransition):
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		default:
			return err
		}
	}

	r.broadcast(sessionID, &types.Event{
		Event: types.EventStatusChanged,
		Data:  types.StatusChanged{Status: status},
	})
	return nil
}

// Allow applies the per-connection rate limit.
func (r *Router) Allow(connID string) bool {
	return r.rateLimiter.Allow(connID)
}

func (r *Router) lookupSession(ctx context.Context, sessionID string) (*types.Session, error) {
	sess, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

// enrichWithRisk asks the scorer for an assessment under a bounded
// timeout. A timeout is treated like any other scorer failure: the
// reading proceeds unscored.
func (r *Router) enrichWithRisk(ctx context.Context, sess *types.Session, point *types.HealthPoint) {
	scoreCtx, cancel := context.WithTimeout(ctx, r.scorerTimeout)
	defer cancel()

	input := interfaces.ScoreInput{
		HeartRate:       point.HeartRate,
		BodyTemperature: point.BodyTemperature,
		BloodOxygen:     point.BloodOxygen,
		Age:             sess.PatientAge,
	}
	if sess.PatientGender != nil {
		input.Gender = *sess.PatientGender
	}

	assessment, err := r.scorer.Score(scoreCtx, input)
	if err != nil {
		r.metrics.ScorerFailures.Inc()
		r.logger.Warn("risk scoring failed, reading proceeds unscored",
			zap.String("session_id", sess.ID),
			zap.Error(err))
		return
	}

	point.RiskPrediction = assessment
}

// broadcast fans an event out to every current room member. Delivery
// to one member failing never blocks the others.
func (r *Router) broadcast(sessionID string, event *types.Event) {
	members := r.registry.GetRoomMembers(sessionID)
	for _, member := range members {
		if err := member.WriteJSON(event); err != nil {
			r.logger.Warn("failed to deliver event",
				zap.String("session_id", sessionID),
				zap.String("conn_id", member.GetConnID()),
				zap.Error(err))
		}
	}
	if len(members) > 0 {
		r.metrics.Broadcasts.Inc()
	}
}
