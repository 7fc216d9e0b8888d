package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"lifeline/internal/metrics"
	"lifeline/internal/router"
	"lifeline/internal/session"
	"lifeline/internal/websocket"
	"lifeline/pkg/interfaces"
	"lifeline/pkg/types"
)

type mockStore struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	messages map[string][]*types.ChatMessage
}

func newMockStore() *mockStore {
	return &mockStore{
		sessions: make(map[string]*types.Session),
		messages: make(map[string][]*types.ChatMessage),
	}
}

func (m *mockStore) CreateSession(ctx context.Context, s *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *s
	m.sessions[s.ID] = &copied
	return nil
}

func (m *mockStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, exists := m.sessions[sessionID]
	if !exists {
		return nil, interfaces.ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *mockStore) UpdateSessionStatus(ctx context.Context, s *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *s
	m.sessions[s.ID] = &copied
	return nil
}

func (m *mockStore) SetGuardianOTP(ctx context.Context, sessionID, otp string) error { return nil }
func (m *mockStore) MarkGuardianVerified(ctx context.Context, sessionID string, gender *int) error {
	return nil
}
func (m *mockStore) AppendHealthPoint(ctx context.Context, point *types.HealthPoint) error {
	return nil
}

func (m *mockStore) AppendChatMessage(ctx context.Context, message *types.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[message.SessionID] = append(m.messages[message.SessionID], message)
	return nil
}

func (m *mockStore) chatCount(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages[sessionID])
}

func (m *mockStore) GetHealthHistory(ctx context.Context, sessionID string) ([]*types.HealthPoint, error) {
	return nil, nil
}
func (m *mockStore) GetChatHistory(ctx context.Context, sessionID string) ([]*types.ChatMessage, error) {
	return nil, nil
}
func (m *mockStore) ListSessionsByAmbulance(ctx context.Context, ambulanceID string, limit int) ([]*types.Session, error) {
	return nil, nil
}
func (m *mockStore) GetActiveSessionByAmbulance(ctx context.Context, ambulanceID string) (*types.Session, error) {
	return nil, interfaces.ErrSessionNotFound
}
func (m *mockStore) HealthCheck(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                          { return nil }

type nopNotifier struct{}

func (nopNotifier) Send(ctx context.Context, to, body string) error { return nil }

func newTestHub() (*Hub, *mockStore, *websocket.Registry) {
	h, store, registry, _ := newTestHubWithMetrics()
	return h, store, registry
}

func newTestHubWithMetrics() (*Hub, *mockStore, *websocket.Registry, *metrics.Metrics) {
	store := newMockStore()
	sessions := session.NewManager(store, nopNotifier{}, zap.NewNop())
	m := metrics.New(prometheus.NewRegistry())
	registry := websocket.NewRegistry(m)
	r := router.NewRouter(registry, sessions, store, nil, time.Second, m, zap.NewNop())
	h := NewHub(registry, r, m, zap.NewNop())
	return h, store, registry, m
}

// dialJoinedConn builds a live server-side connection joined to a room,
// plus its client peer for reading what the hub sends back.
func dialJoinedConn(t *testing.T, connID, sessionID, role string) (*websocket.Connection, *gorillaws.Conn) {
	t.Helper()

	upgrader := gorillaws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	connCh := make(chan *websocket.Connection, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- websocket.NewConnection(raw, connID)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	serverConn := <-connCh
	t.Cleanup(func() { _ = serverConn.Close() })

	if err := serverConn.SetMembership(sessionID, role); err != nil {
		t.Fatalf("SetMembership failed: %v", err)
	}
	return serverConn, client
}

func joinedConn(t *testing.T, connID, sessionID, role string) *websocket.Connection {
	t.Helper()
	conn := websocket.NewConnection(nil, connID)
	if err := conn.SetMembership(sessionID, role); err != nil {
		t.Fatalf("SetMembership failed: %v", err)
	}
	return conn
}

func TestStartStop(t *testing.T) {
	h, _, _ := newTestHub()
	ctx := context.Background()

	if err := h.Stop(); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.Start(ctx); err != ErrHubAlreadyRunning {
		t.Errorf("Expected ErrHubAlreadyRunning, got %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestSubmitRequiresRunningHub(t *testing.T) {
	h, _, _ := newTestHub()
	conn := joinedConn(t, "conn-1", "sess-1", types.RoleParamedic)

	if err := h.Submit(conn, types.EventChatSend, nil); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
}

func TestSubmitRequiresJoinedConnection(t *testing.T) {
	h, _, _ := newTestHub()
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = h.Stop() }()

	conn := websocket.NewConnection(nil, "conn-1")
	if err := h.Submit(conn, types.EventChatSend, nil); err != ErrNotJoined {
		t.Errorf("Expected ErrNotJoined, got %v", err)
	}
}

func TestDispatchPersistsChat(t *testing.T) {
	h, store, _ := newTestHub()
	_ = store.CreateSession(context.Background(), &types.Session{
		ID:          "sess-1",
		AmbulanceID: "AMB-07",
		PatientName: "Nimal Perera",
		PatientAge:  61,
		Mode:        types.ModeManual,
		Status:      types.StatusOngoing,
	})

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = h.Stop() }()

	conn := joinedConn(t, "conn-1", "sess-1", types.RoleParamedic)
	payload, _ := json.Marshal(types.ChatPayload{SessionID: "sess-1", Sender: "paramedic", Text: "eta 5"})

	if err := h.Submit(conn, types.EventChatSend, payload); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.chatCount("sess-1") == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Expected chat message persisted via dispatch")
}

func TestDispatchDropsStaleSessionSilently(t *testing.T) {
	h, store, _ := newTestHub()

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = h.Stop() }()

	// The session never existed; the event is dropped with no error
	// surfaced anywhere.
	conn := joinedConn(t, "conn-1", "vanished", types.RoleIoT)
	payload, _ := json.Marshal(types.HealthPayload{
		SessionID: "vanished",
		Point:     types.HealthPoint{HeartRate: 80, BodyTemperature: 36.8, BloodOxygen: 97},
	})

	if err := h.Submit(conn, types.EventHealthUpdate, payload); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if store.chatCount("vanished") != 0 {
		t.Error("Nothing should be persisted for a vanished session")
	}
}

func TestDispatchRejectsCrossRoomPayload(t *testing.T) {
	h, store, _ := newTestHub()
	ctx := context.Background()
	for _, id := range []string{"sess-1", "sess-2"} {
		_ = store.CreateSession(ctx, &types.Session{
			ID:          id,
			AmbulanceID: "AMB-07",
			Mode:        types.ModeManual,
			Status:      types.StatusOngoing,
		})
	}

	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = h.Stop() }()

	conn, client := dialJoinedConn(t, "conn-1", "sess-1", types.RoleParamedic)

	// Payload addressed to a room the sender never joined.
	payload, _ := json.Marshal(types.ChatPayload{SessionID: "sess-2", Sender: "paramedic", Text: "smuggled"})
	if err := h.Submit(conn, types.EventChatSend, payload); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply types.Event
	if err := client.ReadJSON(&reply); err != nil {
		t.Fatalf("Expected an error event for the sender: %v", err)
	}
	if reply.Event != types.EventSystem {
		t.Errorf("Expected system event, got %q", reply.Event)
	}

	if store.chatCount("sess-1") != 0 || store.chatCount("sess-2") != 0 {
		t.Error("A cross-room payload must not be persisted anywhere")
	}
}

func TestDispatchBucketsUnknownEventLabel(t *testing.T) {
	h, store, _, m := newTestHubWithMetrics()
	ctx := context.Background()
	_ = store.CreateSession(ctx, &types.Session{
		ID:          "sess-1",
		AmbulanceID: "AMB-07",
		Mode:        types.ModeManual,
		Status:      types.StatusOngoing,
	})

	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = h.Stop() }()

	conn, client := dialJoinedConn(t, "conn-1", "sess-1", types.RoleParamedic)

	if err := h.Submit(conn, "made:up:event", nil); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// The sender is told; the raw event string never becomes a label.
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply types.Event
	if err := client.ReadJSON(&reply); err != nil {
		t.Fatalf("Expected an error event for the sender: %v", err)
	}

	if got := testutil.ToFloat64(m.RoomEvents.WithLabelValues("invalid")); got != 1 {
		t.Errorf("Expected 1 event under the invalid label, got %v", got)
	}
}
