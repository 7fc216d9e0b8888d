package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lifeline/pkg/interfaces"
	"lifeline/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is delegated to the deployment's proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Joiner admits a connection into a session room.
type Joiner interface {
	Join(conn interfaces.Connection, sessionID, role string) error
}

// Dispatcher accepts room events and departures from the read loop.
type Dispatcher interface {
	Submit(conn *Connection, event string, data json.RawMessage) error
	Unregister(conn *Connection) error
}

// Handler upgrades HTTP requests into room connections and pumps their
// event streams. A connection is anonymous until its first joinSession.
type Handler struct {
	joiner     Joiner
	dispatcher Dispatcher
	store      interfaces.SessionStore
	opts       Options
	logger     *zap.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(joiner Joiner, dispatcher Dispatcher, store interfaces.SessionStore, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		joiner:     joiner,
		dispatcher: dispatcher,
		store:      store,
		opts:       opts.withDefaults(),
		logger:     logger,
	}
}

// envelope is the decoded wire frame. Data stays raw until the event
// type selects a payload shape.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// HandleWebSocket upgrades the request and runs the connection until
// the client goes away.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	wsConn := NewConnectionWithOptions(conn, uuid.New().String(), h.opts)
	h.logger.Info("connection opened", zap.String("conn_id", wsConn.GetConnID()))

	go h.handleConnection(wsConn)
}

// handleConnection is the per-connection read pump with heartbeat.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		if conn.IsJoined() {
			if err := h.dispatcher.Unregister(conn); err != nil {
				h.logger.Warn("unregister failed",
					zap.String("conn_id", conn.GetConnID()),
					zap.Error(err))
			}
		}
		_ = conn.Close()
		h.logger.Info("connection closed", zap.String("conn_id", conn.GetConnID()))
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error",
					zap.String("conn_id", conn.GetConnID()),
					zap.Error(err))
			}
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var frame envelope
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendSystemError(conn, "", "malformed event envelope")
			continue
		}

		if frame.Event == types.EventJoinSession {
			h.handleJoin(conn, frame.Data)
			continue
		}

		if err := h.dispatcher.Submit(conn, frame.Event, frame.Data); err != nil {
			h.sendSystemError(conn, frame.Event, "event could not be queued")
		}
	}
}

// handleJoin admits the connection to its room and replays history.
func (h *Handler) handleJoin(conn *Connection, data json.RawMessage) {
	var payload types.JoinPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.sendSystemError(conn, types.EventJoinSession, "malformed join payload")
		return
	}

	if err := h.joiner.Join(conn, payload.SessionID, payload.Role); err != nil {
		h.logger.Warn("join rejected",
			zap.String("conn_id", conn.GetConnID()),
			zap.String("session_id", payload.SessionID),
			zap.String("role", payload.Role),
			zap.Error(err))
		h.sendSystemError(conn, types.EventJoinSession, "could not join session")
		return
	}

	go h.sendSessionHistory(conn)
}

// sendSessionHistory replays the stored vitals and transcript to a
// freshly joined connection, then marks the replay complete so the
// client can flip out of its loading state.
func (h *Handler) sendSessionHistory(conn *Connection) {
	sessionID := conn.GetSessionID()
	ctx := context.Background()

	points, err := h.store.GetHealthHistory(ctx, sessionID)
	if err != nil {
		h.logger.Warn("failed to load health history",
			zap.String("session_id", sessionID),
			zap.Error(err))
		h.sendSystemError(conn, "", "history unavailable")
		return
	}

	messages, err := h.store.GetChatHistory(ctx, sessionID)
	if err != nil {
		h.logger.Warn("failed to load chat history",
			zap.String("session_id", sessionID),
			zap.Error(err))
		h.sendSystemError(conn, "", "history unavailable")
		return
	}

	for _, point := range points {
		if err := conn.WriteJSON(&types.Event{Event: types.EventHealthUpdate, Data: point}); err != nil {
			return
		}
	}
	for _, message := range messages {
		if err := conn.WriteJSON(&types.Event{Event: types.EventChatMessage, Data: message}); err != nil {
			return
		}
	}

	complete := &types.Event{
		Event: types.EventSystem,
		Data: map[string]interface{}{
			"event":     "history_complete",
			"timestamp": time.Now(),
		},
	}
	if err := conn.WriteJSON(complete); err != nil {
		h.logger.Warn("failed to send history marker",
			zap.String("conn_id", conn.GetConnID()),
			zap.Error(err))
	}
}

func (h *Handler) sendSystemError(conn *Connection, forEvent, message string) {
	systemEvent := &types.Event{
		Event: types.EventSystem,
		Data: map[string]interface{}{
			"event":     "event_error",
			"for":       forEvent,
			"message":   message,
			"timestamp": time.Now(),
		},
	}
	if err := conn.WriteJSON(systemEvent); err != nil {
		h.logger.Warn("failed to deliver error event",
			zap.String("conn_id", conn.GetConnID()),
			zap.Error(err))
	}
}
