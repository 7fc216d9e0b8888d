package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifeline/pkg/interfaces"
	"lifeline/pkg/types"
)

// Manager is the session lifecycle controller and the sole writer of
// session status. Every transition, including those triggered by room
// status:update events, goes through it, so the persisted state
// machine can never be advanced by two diverging code paths.
//
// The store is authoritative. liveSessions holds private copies of
// draft..arriving sessions, refreshed on every successful store read
// and replaced only after a store write succeeds; it is consulted only
// when a store read fails, so room traffic survives a transient store
// outage without ever observing state the store has not accepted.
type Manager struct {
	store        interfaces.SessionStore
	notifier     interfaces.Notifier
	logger       *zap.Logger
	liveSessions map[string]*types.Session
	mu           sync.RWMutex
}

// NewManager creates a lifecycle controller.
func NewManager(store interfaces.SessionStore, notifier interfaces.Notifier, logger *zap.Logger) *Manager {
	return &Manager{
		store:        store,
		notifier:     notifier,
		logger:       logger,
		liveSessions: make(map[string]*types.Session),
	}
}

// CreateSession constructs and persists a draft session.
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) (*types.Session, error) {
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	session.ID = uuid.New().String()
	session.Status = types.StatusDraft
	if session.Mode == "" {
		session.Mode = types.ModeManual
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	cached := *session
	m.mu.Lock()
	m.liveSessions[session.ID] = &cached
	m.mu.Unlock()

	m.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("ambulance_id", session.AmbulanceID),
		zap.String("mode", session.Mode))
	return session, nil
}

// StartSession moves draft -> ongoing and stamps StartedAt.
func (m *Manager) StartSession(ctx context.Context, sessionID string) (*types.Session, error) {
	if err := m.AdvanceStatus(ctx, sessionID, types.StatusOngoing); err != nil {
		return nil, err
	}
	return m.GetSession(ctx, sessionID)
}

// StopSession moves the session to arriving; EndedAt is stamped here,
// exactly once.
func (m *Manager) StopSession(ctx context.Context, sessionID string) error {
	return m.AdvanceStatus(ctx, sessionID, types.StatusArriving)
}

// EndSession moves the session to ended and sends the guardian a final
// summary built from the last reading and the reading count. The
// notification is fire-and-forget: its failure never fails the end.
func (m *Manager) EndSession(ctx context.Context, sessionID string) error {
	if err := m.AdvanceStatus(ctx, sessionID, types.StatusEnded); err != nil {
		return err
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	summary := m.buildArrivalSummary(ctx, session)
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := m.notifier.Send(sendCtx, session.GuardianContact, summary); err != nil {
			m.logger.Warn("arrival notification failed",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}()

	return nil
}

// AdvanceStatus applies one forward-only transition and persists it.
// Backward or repeated transitions are rejected. The whole transition
// runs under the manager's lock so two racing transitions cannot both
// read the same starting status, and the cache is touched only after
// the store accepted the write.
func (m *Manager) AdvanceStatus(ctx context.Context, sessionID, status string) error {
	if !types.IsValidStatus(status) {
		return fmt.Errorf("%w: %v", ErrValidation, types.ErrInvalidStatus)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			delete(m.liveSessions, sessionID)
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to load session: %w", err)
	}

	if !types.CanTransition(current.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}

	updated := *current
	now := time.Now()
	updated.Status = status
	switch {
	case status == types.StatusOngoing && updated.StartedAt == nil:
		updated.StartedAt = &now
	case status != types.StatusOngoing && updated.EndedAt == nil:
		// EndedAt is set exactly once, at the arriving-or-later
		// transition.
		updated.EndedAt = &now
	}

	if err := m.store.UpdateSessionStatus(ctx, &updated); err != nil {
		// The cache must never get ahead of the store.
		delete(m.liveSessions, sessionID)
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to persist status: %w", err)
	}

	if status == types.StatusEnded {
		delete(m.liveSessions, sessionID)
	} else {
		m.liveSessions[sessionID] = &updated
	}

	m.logger.Info("session status advanced",
		zap.String("session_id", sessionID),
		zap.String("status", status))
	return nil
}

// GetSession reads the session from the store, so guardian
// verification and other out-of-band writes are always visible. The
// live cache answers only when the store read itself fails.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err == nil {
		m.mu.Lock()
		if session.Status == types.StatusEnded {
			delete(m.liveSessions, sessionID)
		} else {
			cached := *session
			m.liveSessions[sessionID] = &cached
		}
		m.mu.Unlock()
		return session, nil
	}

	if errors.Is(err, interfaces.ErrSessionNotFound) {
		m.mu.Lock()
		delete(m.liveSessions, sessionID)
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}

	m.mu.RLock()
	cached, exists := m.liveSessions[sessionID]
	m.mu.RUnlock()
	if exists {
		m.logger.Warn("serving cached session, store read failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		copied := *cached
		return &copied, nil
	}

	return nil, err
}

// ListByAmbulance returns the ambulance's recent sessions.
func (m *Manager) ListByAmbulance(ctx context.Context, ambulanceID string) ([]*types.Session, error) {
	return m.store.ListSessionsByAmbulance(ctx, ambulanceID, 20)
}

// GetActive returns the ambulance's current live session.
func (m *Manager) GetActive(ctx context.Context, ambulanceID string) (*types.Session, error) {
	session, err := m.store.GetActiveSessionByAmbulance(ctx, ambulanceID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

// buildArrivalSummary assembles the hospital-arrival message for the
// guardian from the most recent reading and the total reading count.
func (m *Manager) buildArrivalSummary(ctx context.Context, session *types.Session) string {
	summary := fmt.Sprintf("Hospital Arrival: %s (Age %d) has arrived safely.\n\n",
		session.PatientName, session.PatientAge)

	points, err := m.store.GetHealthHistory(ctx, session.ID)
	if err != nil {
		m.logger.Warn("could not load health history for summary",
			zap.String("session_id", session.ID),
			zap.Error(err))
		points = nil
	}

	if len(points) > 0 {
		last := points[len(points)-1]
		summary += "Final Vitals:\n"
		summary += fmt.Sprintf("Heart Rate: %.0f bpm, Temp: %.1fC, SpO2: %.0f%%\n",
			last.HeartRate, last.BodyTemperature, last.BloodOxygen)
		if last.RiskPrediction != nil {
			summary += fmt.Sprintf("AI Risk: %s\n", last.RiskPrediction.Prediction)
		}
	}
	summary += fmt.Sprintf("Total readings: %d\n\n", len(points))
	summary += "Please stay calm. Your loved one is now receiving professional medical care."

	return summary
}
