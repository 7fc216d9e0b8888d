package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"lifeline/internal/metrics"
	"lifeline/internal/router"
	"lifeline/internal/websocket"
	"lifeline/pkg/types"
)

// Hub is the single dispatch point between room connections and the
// router. All inbound room events funnel through one goroutine, so
// routing decisions never race.
type Hub struct {
	eventChannel      chan *RoomEvent
	unregisterChannel chan *websocket.Connection
	shutdownChannel   chan struct{}

	registry *websocket.Registry
	router   *router.Router
	policy   router.Policy
	metrics  *metrics.Metrics
	logger   *zap.Logger

	running bool
	mu      sync.RWMutex
}

// RoomEvent is one decoded envelope from a joined connection, queued
// for dispatch.
type RoomEvent struct {
	Conn       *websocket.Connection
	Event      string
	Data       json.RawMessage
	ReceivedAt time.Time
}

// NewHub creates a hub.
func NewHub(registry *websocket.Registry, r *router.Router, m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		eventChannel:      make(chan *RoomEvent, 1000),
		unregisterChannel: make(chan *websocket.Connection, 100),
		shutdownChannel:   make(chan struct{}),
		registry:          registry,
		router:            r,
		metrics:           m,
		logger:            logger,
	}
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	h.logger.Info("starting hub")
	go h.run(ctx)
	return nil
}

// Stop shuts the hub down. Queued events are abandoned.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	h.logger.Info("stopping hub")
	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}
	return nil
}

// Submit queues a room event for dispatch. Non-blocking: a full queue
// rejects rather than stalling the reader goroutine.
func (h *Hub) Submit(conn *websocket.Connection, event string, data json.RawMessage) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	if !conn.IsJoined() {
		return ErrNotJoined
	}

	roomEvent := &RoomEvent{
		Conn:       conn,
		Event:      event,
		Data:       data,
		ReceivedAt: time.Now(),
	}

	select {
	case h.eventChannel <- roomEvent:
		return nil
	default:
		h.metrics.DroppedEvents.WithLabelValues("queue_full").Inc()
		return ErrEventChannelFull
	}
}

// Unregister queues a connection for removal from its room.
func (h *Hub) Unregister(conn *websocket.Connection) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	select {
	case h.unregisterChannel <- conn:
		return nil
	default:
		return ErrUnregisterChannelFull
	}
}

// run is the single dispatch loop.
func (h *Hub) run(ctx context.Context) {
	defer h.logger.Info("hub stopped")

	for {
		select {
		case roomEvent := <-h.eventChannel:
			h.dispatch(ctx, roomEvent)

		case conn := <-h.unregisterChannel:
			h.registry.Unregister(conn)

		case <-h.shutdownChannel:
			return

		case <-ctx.Done():
			return
		}
	}
}

// dispatch routes one event and applies the error policy to whatever
// comes back. A failed event never stops the loop.
func (h *Hub) dispatch(ctx context.Context, roomEvent *RoomEvent) {
	// Client input must not mint metric label values.
	eventLabel := roomEvent.Event
	if !types.IsValidClientEvent(eventLabel) {
		eventLabel = "invalid"
	}
	h.metrics.RoomEvents.WithLabelValues(eventLabel).Inc()

	conn := roomEvent.Conn
	sessionID := conn.GetSessionID()

	if !h.router.Allow(conn.GetConnID()) {
		h.metrics.DroppedEvents.WithLabelValues("rate_limited").Inc()
		h.handleFailure(conn, roomEvent.Event, router.ErrRateLimitExceeded)
		return
	}

	// The joined room is authoritative. A payload naming a different
	// session is rejected, never rerouted.
	var err error
	switch roomEvent.Event {
	case types.EventHealthUpdate:
		var payload types.HealthPayload
		if err = json.Unmarshal(roomEvent.Data, &payload); err == nil {
			if err = checkRoom(sessionID, payload.SessionID); err == nil {
				point := payload.Point
				err = h.router.SubmitHealth(ctx, sessionID, &point)
			}
		}

	case types.EventChatSend:
		var payload types.ChatPayload
		if err = json.Unmarshal(roomEvent.Data, &payload); err == nil {
			if err = checkRoom(sessionID, payload.SessionID); err == nil {
				err = h.router.SubmitChat(ctx, sessionID, payload.Sender, payload.Text)
			}
		}

	case types.EventStatusUpdate:
		var payload types.StatusPayload
		if err = json.Unmarshal(roomEvent.Data, &payload); err == nil {
			if err = checkRoom(sessionID, payload.SessionID); err == nil {
				err = h.router.UpdateStatus(ctx, sessionID, payload.Status)
			}
		}

	default:
		err = types.ErrInvalidEventType
	}

	if err != nil {
		h.handleFailure(conn, roomEvent.Event, err)
	}
}

// checkRoom rejects payloads addressed to a session other than the one
// the connection joined. An empty payload session is allowed; the
// joined room fills it in.
func checkRoom(joined, claimed string) error {
	if claimed != "" && claimed != joined {
		return ErrSessionMismatch
	}
	return nil
}

func (h *Hub) handleFailure(conn *websocket.Connection, event string, dispatchErr error) {
	action := h.policy.Decide(event, dispatchErr)

	if action == router.DropSilently {
		h.metrics.DroppedEvents.WithLabelValues("stale_session").Inc()
		h.logger.Debug("room event dropped",
			zap.String("event", event),
			zap.String("conn_id", conn.GetConnID()),
			zap.Error(dispatchErr))
		return
	}

	h.logger.Warn("room event failed",
		zap.String("event", event),
		zap.String("conn_id", conn.GetConnID()),
		zap.Error(dispatchErr))
	h.sendErrorToSender(conn, event, dispatchErr)
}

// sendErrorToSender reports a failure back to the sender as a system
// event. Internal error text is not leaked.
func (h *Hub) sendErrorToSender(conn *websocket.Connection, event string, dispatchErr error) {
	systemEvent := &types.Event{
		Event: types.EventSystem,
		Data: map[string]interface{}{
			"event":     "event_error",
			"for":       event,
			"message":   "event could not be processed",
			"timestamp": time.Now(),
		},
	}

	if err := conn.WriteJSON(systemEvent); err != nil {
		h.logger.Warn("failed to deliver error event",
			zap.String("conn_id", conn.GetConnID()),
			zap.Error(err))
	}
}
