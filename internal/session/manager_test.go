package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"lifeline/pkg/interfaces"
	"lifeline/pkg/types"
)

type mockStore struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	points   map[string][]*types.HealthPoint
	messages map[string][]*types.ChatMessage

	shouldFailCreate bool
	shouldFailUpdate bool
	shouldFailGet    bool
}

func newMockStore() *mockStore {
	return &mockStore{
		sessions: make(map[string]*types.Session),
		points:   make(map[string][]*types.HealthPoint),
		messages: make(map[string][]*types.ChatMessage),
	}
}

func (m *mockStore) CreateSession(ctx context.Context, session *types.Session) error {
	if m.shouldFailCreate {
		return errors.New("store create failed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *mockStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.shouldFailGet {
		return nil, errors.New("store read failed")
	}
	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, interfaces.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *mockStore) UpdateSessionStatus(ctx context.Context, session *types.Session) error {
	if m.shouldFailUpdate {
		return errors.New("store update failed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; !exists {
		return interfaces.ErrSessionNotFound
	}
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *mockStore) SetGuardianOTP(ctx context.Context, sessionID, otp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, exists := m.sessions[sessionID]
	if !exists {
		return interfaces.ErrSessionNotFound
	}
	session.GuardianOTP = &otp
	return nil
}

func (m *mockStore) MarkGuardianVerified(ctx context.Context, sessionID string, gender *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, exists := m.sessions[sessionID]
	if !exists {
		return interfaces.ErrSessionNotFound
	}
	session.GuardianVerified = true
	if gender != nil {
		session.PatientGender = gender
	}
	return nil
}

func (m *mockStore) AppendHealthPoint(ctx context.Context, point *types.HealthPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[point.SessionID] = append(m.points[point.SessionID], point)
	return nil
}

func (m *mockStore) AppendChatMessage(ctx context.Context, message *types.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[message.SessionID] = append(m.messages[message.SessionID], message)
	return nil
}

func (m *mockStore) GetHealthHistory(ctx context.Context, sessionID string) ([]*types.HealthPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*types.HealthPoint(nil), m.points[sessionID]...), nil
}

func (m *mockStore) GetChatHistory(ctx context.Context, sessionID string) ([]*types.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*types.ChatMessage(nil), m.messages[sessionID]...), nil
}

func (m *mockStore) ListSessionsByAmbulance(ctx context.Context, ambulanceID string, limit int) ([]*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*types.Session
	for _, session := range m.sessions {
		if session.AmbulanceID == ambulanceID {
			copied := *session
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *mockStore) GetActiveSessionByAmbulance(ctx context.Context, ambulanceID string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, session := range m.sessions {
		if session.AmbulanceID == ambulanceID &&
			(session.Status == types.StatusOngoing || session.Status == types.StatusArriving) {
			copied := *session
			return &copied, nil
		}
	}
	return nil, interfaces.ErrSessionNotFound
}

func (m *mockStore) HealthCheck(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                          { return nil }

type captureNotifier struct {
	mu     sync.Mutex
	sent   []string
	toList []string
}

func (n *captureNotifier) Send(ctx context.Context, to, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toList = append(n.toList, to)
	n.sent = append(n.sent, body)
	return nil
}

func (n *captureNotifier) lastBody() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return "", false
	}
	return n.sent[len(n.sent)-1], true
}

func newTestManager() (*Manager, *mockStore, *captureNotifier) {
	store := newMockStore()
	notifier := &captureNotifier{}
	return NewManager(store, notifier, zap.NewNop()), store, notifier
}

func draftSession() *types.Session {
	return &types.Session{
		AmbulanceID:     "AMB-07",
		ParamedicName:   "Kasun",
		PatientName:     "Nimal Perera",
		PatientAge:      61,
		GuardianNIC:     "851234567V",
		GuardianContact: "+94771234567",
	}
}

func TestCreateSessionDefaults(t *testing.T) {
	manager, _, _ := newTestManager()

	created, err := manager.CreateSession(context.Background(), draftSession())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if created.ID == "" {
		t.Error("Expected generated session ID")
	}
	if created.Status != types.StatusDraft {
		t.Errorf("Expected status %q, got %q", types.StatusDraft, created.Status)
	}
	if created.Mode != types.ModeManual {
		t.Errorf("Expected default mode %q, got %q", types.ModeManual, created.Mode)
	}
	if created.StartedAt != nil {
		t.Error("Draft session should not have StartedAt")
	}
}

func TestCreateSessionValidation(t *testing.T) {
	manager, _, _ := newTestManager()

	_, err := manager.CreateSession(context.Background(), &types.Session{})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

func TestLifecycleForwardOnly(t *testing.T) {
	manager, _, _ := newTestManager()
	ctx := context.Background()

	created, err := manager.CreateSession(ctx, draftSession())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	started, err := manager.StartSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if started.Status != types.StatusOngoing {
		t.Errorf("Expected status ongoing, got %q", started.Status)
	}
	if started.StartedAt == nil {
		t.Error("Expected StartedAt stamped on start")
	}

	// Backward transition is rejected.
	if err := manager.AdvanceStatus(ctx, created.ID, types.StatusDraft); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for ongoing->draft, got %v", err)
	}

	if err := manager.StopSession(ctx, created.ID); err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}

	// Repeating a transition is rejected.
	if err := manager.StopSession(ctx, created.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for repeated stop, got %v", err)
	}

	if err := manager.EndSession(ctx, created.ID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	if err := manager.AdvanceStatus(ctx, created.ID, types.StatusOngoing); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition after end, got %v", err)
	}
}

func TestEndedAtStampedOnce(t *testing.T) {
	manager, store, _ := newTestManager()
	ctx := context.Background()

	created, err := manager.CreateSession(ctx, draftSession())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := manager.StartSession(ctx, created.ID); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if err := manager.StopSession(ctx, created.ID); err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}

	arriving, err := store.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if arriving.EndedAt == nil {
		t.Fatal("Expected EndedAt stamped at arriving")
	}
	stamped := *arriving.EndedAt

	time.Sleep(5 * time.Millisecond)
	if err := manager.EndSession(ctx, created.ID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	ended, err := store.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !ended.EndedAt.Equal(stamped) {
		t.Errorf("EndedAt restamped: %v != %v", ended.EndedAt, stamped)
	}
}

func TestSkipArrivingStillEnds(t *testing.T) {
	manager, _, _ := newTestManager()
	ctx := context.Background()

	created, err := manager.CreateSession(ctx, draftSession())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := manager.StartSession(ctx, created.ID); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	// ongoing -> ended skips arriving but is still a forward step.
	if err := manager.EndSession(ctx, created.ID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
}

func TestEndSessionSendsArrivalSummary(t *testing.T) {
	manager, store, notifier := newTestManager()
	ctx := context.Background()

	created, err := manager.CreateSession(ctx, draftSession())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := manager.StartSession(ctx, created.ID); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	prediction := &types.RiskAssessment{Prediction: types.RiskLow, RiskScore: 0.2, Timestamp: time.Now()}
	for i := 0; i < 3; i++ {
		point := &types.HealthPoint{
			SessionID:       created.ID,
			Timestamp:       time.Now(),
			HeartRate:       80,
			BodyTemperature: 36.8,
			BloodOxygen:     97,
		}
		if i == 2 {
			point.RiskPrediction = prediction
		}
		if err := store.AppendHealthPoint(ctx, point); err != nil {
			t.Fatalf("AppendHealthPoint failed: %v", err)
		}
	}

	if err := manager.EndSession(ctx, created.ID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	// Notification is async.
	deadline := time.Now().Add(time.Second)
	var body string
	for time.Now().Before(deadline) {
		var ok bool
		if body, ok = notifier.lastBody(); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if body == "" {
		t.Fatal("Expected arrival summary to be sent")
	}

	for _, want := range []string{"Nimal Perera", "Total readings: 3", "Heart Rate: 80", types.RiskLow} {
		if !strings.Contains(body, want) {
			t.Errorf("Summary missing %q:\n%s", want, body)
		}
	}
}

func TestGetSessionCacheEvictionOnEnd(t *testing.T) {
	manager, _, _ := newTestManager()
	ctx := context.Background()

	created, err := manager.CreateSession(ctx, draftSession())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := manager.StartSession(ctx, created.ID); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if err := manager.EndSession(ctx, created.ID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	manager.mu.RLock()
	_, cached := manager.liveSessions[created.ID]
	manager.mu.RUnlock()
	if cached {
		t.Error("Ended session should be evicted from the live cache")
	}

	// Still readable through the store.
	got, err := manager.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession after end failed: %v", err)
	}
	if got.Status != types.StatusEnded {
		t.Errorf("Expected status ended, got %q", got.Status)
	}
}

func TestFailedPersistKeepsStoreAuthority(t *testing.T) {
	manager, store, _ := newTestManager()
	ctx := context.Background()

	created, err := manager.CreateSession(ctx, draftSession())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := manager.StartSession(ctx, created.ID); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	store.shouldFailUpdate = true
	if err := manager.StopSession(ctx, created.ID); err == nil {
		t.Fatal("Expected StopSession to fail when the store write fails")
	}

	// The manager must still report what the store holds.
	got, err := manager.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != types.StatusOngoing {
		t.Errorf("Expected status ongoing after failed persist, got %q", got.Status)
	}

	// Once the store recovers, the same transition goes through.
	store.shouldFailUpdate = false
	if err := manager.StopSession(ctx, created.ID); err != nil {
		t.Fatalf("Retried StopSession failed: %v", err)
	}
	got, err = manager.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != types.StatusArriving {
		t.Errorf("Expected status arriving after retry, got %q", got.Status)
	}
}

func TestGetSessionReflectsGuardianVerification(t *testing.T) {
	manager, store, _ := newTestManager()
	ctx := context.Background()

	created, err := manager.CreateSession(ctx, draftSession())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := manager.StartSession(ctx, created.ID); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	// The gate writes verification straight to the store.
	gender := 0
	if err := store.MarkGuardianVerified(ctx, created.ID, &gender); err != nil {
		t.Fatalf("MarkGuardianVerified failed: %v", err)
	}

	got, err := manager.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !got.GuardianVerified {
		t.Error("Expected guardian verification to be visible immediately")
	}
	if got.PatientGender == nil || *got.PatientGender != 0 {
		t.Errorf("Expected patient gender 0, got %v", got.PatientGender)
	}
}

func TestGetSessionServesCacheWhenStoreFails(t *testing.T) {
	manager, store, _ := newTestManager()
	ctx := context.Background()

	created, err := manager.CreateSession(ctx, draftSession())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := manager.StartSession(ctx, created.ID); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	store.shouldFailGet = true
	got, err := manager.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("Expected cached session during store outage, got error: %v", err)
	}
	if got.Status != types.StatusOngoing {
		t.Errorf("Expected cached status ongoing, got %q", got.Status)
	}

	// The returned session is a copy: callers cannot reach the cache.
	got.Status = types.StatusEnded
	again, err := manager.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if again.Status != types.StatusOngoing {
		t.Errorf("Caller mutation leaked into the cache: %q", again.Status)
	}

	// Unknown sessions still miss during an outage.
	if _, err := manager.GetSession(ctx, "never-created"); err == nil {
		t.Error("Expected error for uncached session during store outage")
	}
}

func TestGetActive(t *testing.T) {
	manager, _, _ := newTestManager()
	ctx := context.Background()

	if _, err := manager.GetActive(ctx, "AMB-07"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}

	created, err := manager.CreateSession(ctx, draftSession())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := manager.StartSession(ctx, created.ID); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	active, err := manager.GetActive(ctx, "AMB-07")
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if active.ID != created.ID {
		t.Errorf("Expected active session %s, got %s", created.ID, active.ID)
	}
}
