// Package gateway carries the participant link over websockets: the host side that
// attaches remote racers to the coordinator, and the racer side dialer.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/practicetree/go/internal/race/coordinator"
	"github.com/rs/zerolog/log"
)

// Coordinator is what the gateway needs from the race coordinator.
type Coordinator interface {
	Connect(ctx context.Context, participantID string, n coordinator.Notifier) (int, error)
	Disconnect(ctx context.Context, participantID string) error
	Read(ctx context.Context, participantID string, target uuid.UUID) ([]byte, error)
	Write(ctx context.Context, participantID string, target uuid.UUID, value []byte) error
	SetNotify(ctx context.Context, participantID string, target uuid.UUID, enable bool) error
	Snapshot(ctx context.Context) (coordinator.Snapshot, error)
}

// ConnectionManager attaches websocket connections to the coordinator
type ConnectionManager struct {
	coord Coordinator

	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
}

// Connection is one remote racer
type Connection struct {
	ID      string
	Name    string
	RacerID int
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time

	mu     sync.Mutex
	closed bool
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	RequestTimeout  time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		RequestTimeout:  5 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      64,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a connection manager for coord
func NewConnectionManager(coord Coordinator, config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		coord:       coord,
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// UpgradeConnection upgrades an HTTP connection and admits it as a racer. A refused
// racer gets a close frame carrying the reason.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, name string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Name:        name,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBuffer),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), cm.config.RequestTimeout)
	racerID, err := cm.coord.Connect(ctx, connection.ID, connection)
	cancel()
	if err != nil {
		reason := err.Error()
		code := websocket.CloseInternalServerErr
		if errors.Is(err, coordinator.ErrRaceFull) {
			code = websocket.ClosePolicyViolation
		}
		deadline := time.Now().Add(cm.config.WriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		conn.Close()
		log.Warn().Err(err).Str("name", name).Msg("racer refused")
		return nil
	}
	connection.RacerID = racerID

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("name", name).
		Int("racer_id", racerID).
		Msg("WebSocket connection established")
	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection and detaches it from the coordinator once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	_, exists := cm.connections[conn]
	delete(cm.connections, conn)
	cm.mu.Unlock()
	if !exists {
		return
	}

	conn.mu.Lock()
	conn.closed = true
	close(conn.Send)
	conn.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cm.config.RequestTimeout)
	defer cancel()
	if err := cm.coord.Disconnect(ctx, conn.ID); err != nil {
		log.Warn().Err(err).Str("connection_id", conn.ID).Msg("failed to detach racer")
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("name", conn.Name).
		Int("racer_id", conn.RacerID).
		Msg("connection unregistered")
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	racers := make(map[string]int, len(cm.connections))
	for conn := range cm.connections {
		racers[conn.Name] = conn.RacerID
	}
	return map[string]interface{}{
		"total_connections": len(cm.connections),
		"racers":            racers,
	}
}

// Close drops every connection.
func (cm *ConnectionManager) Close() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		conn.Conn.Close()
	}
}

// Notify implements coordinator.Notifier. It runs on the coordinator goroutine, so a
// connection that cannot keep up is closed instead of waited for.
func (c *Connection) Notify(target uuid.UUID, value []byte) {
	if !c.send(Frame{Op: OpNotify, UUID: target, Value: string(value)}) {
		log.Warn().
			Str("connection_id", c.ID).
			Int("racer_id", c.RacerID).
			Msg("connection send buffer full, closing connection")
		c.Conn.Close()
	}
}

// send queues a frame. It reports false when the buffer is full; a frame for a closed
// connection is dropped.
func (c *Connection) send(f Frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal frame")
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump applies the racer's requests in order and answers each with a result frame
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if !c.send(c.handleClientMessage(message)) {
			log.Warn().Str("connection_id", c.ID).Msg("connection send buffer full, closing connection")
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage applies one request frame and builds its result
func (c *Connection) handleClientMessage(message []byte) Frame {
	var req Frame
	if err := json.Unmarshal(message, &req); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("malformed frame")
		return Frame{Op: OpResult, Error: fmt.Sprintf("malformed frame: %v", err)}
	}
	res := Frame{Op: OpResult, Seq: req.Seq, UUID: req.UUID, Request: req.Op}

	ctx, cancel := context.WithTimeout(context.Background(), c.Manager.config.RequestTimeout)
	defer cancel()

	var err error
	coord := c.Manager.coord
	switch req.Op {
	case OpRead:
		var value []byte
		value, err = coord.Read(ctx, c.ID, req.UUID)
		res.Value = string(value)
	case OpWrite:
		err = coord.Write(ctx, c.ID, req.UUID, []byte(req.Value))
	case OpSubscribe:
		err = coord.SetNotify(ctx, c.ID, req.UUID, true)
	case OpUnsubscribe:
		err = coord.SetNotify(ctx, c.ID, req.UUID, false)
	default:
		err = fmt.Errorf("unsupported op %q", req.Op)
	}
	if err != nil {
		res.Error = err.Error()
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Str("op", string(req.Op)).
			Str("target", req.UUID.String()).
			Msg("request refused")
	}
	return res
}
