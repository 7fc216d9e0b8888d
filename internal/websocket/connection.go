package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Options tunes timeouts and buffering, shared by the handler and
// every connection it spawns.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		SendBuffer:   100,
	}
}

// withDefaults fills unset fields so partially built options stay safe.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	return o
}

// Connection wraps one WebSocket client. All writes go through a
// single writer goroutine; membership fields are set once the client
// joins a room.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	connID       string
	role         string
	sessionID    string
	joined       bool
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	mu           sync.RWMutex
}

// NewConnection creates a connection wrapper with default options and
// starts its writer.
func NewConnection(conn *websocket.Conn, connID string) *Connection {
	return NewConnectionWithOptions(conn, connID, DefaultOptions())
}

// NewConnectionWithOptions creates a connection wrapper with explicit
// tuning and starts its writer.
func NewConnectionWithOptions(conn *websocket.Conn, connID string, opts Options) *Connection {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, opts.SendBuffer),
		writeTimeout: opts.WriteTimeout,
		connID:       connID,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop drains writeCh until the connection is closed. The channel
// itself is never closed; the context guards every send.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.cancel()
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues a JSON message for the client. Safe for concurrent
// callers; a full buffer times out rather than blocking a broadcast.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close shuts down the writer and the underlying socket. Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// SetMembership binds the connection to a session room with a role.
func (c *Connection) SetMembership(sessionID, role string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionID = sessionID
	c.role = role
	c.joined = true

	return nil
}

// IsJoined reports whether the connection has joined a room.
func (c *Connection) IsJoined() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.joined
}

// GetConnID returns the server-assigned connection identifier.
func (c *Connection) GetConnID() string {
	return c.connID
}

// GetRole returns the joined role.
func (c *Connection) GetRole() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// GetSessionID returns the joined session room.
func (c *Connection) GetSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Done exposes the connection's lifetime for heartbeat goroutines.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}
