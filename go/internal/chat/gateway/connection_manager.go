package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/astromitra/consultroom/go/internal/metrics"
)

// InboundHandler receives raw frames read from a connection.
type InboundHandler func(conn *Connection, frame []byte)

// ConnectionManager owns the WebSocket connection pools, one pool per room.
// Fan-out runs through a single broadcast channel drained by one goroutine,
// so events enqueued for a room are delivered to every member in enqueue
// order with no reordering.
type ConnectionManager struct {
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage
	inbound     InboundHandler
	onDetach    func(conn *Connection)
}

// Connection represents one WebSocket client. RoomID, UserID and Role are
// zero until the client joins a room; the gateway holds no other business
// state per connection. mu serializes enqueues against the close of Send so
// a detach can never race an in-flight send.
type Connection struct {
	ID      string
	UserID  string
	RoomID  string
	Role    string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time

	mu     sync.Mutex
	closed bool
}

type sendResult int

const (
	sendOK sendResult = iota
	sendBufferFull
	sendDetached
)

// enqueueFrame queues an outbound frame for the writePump. Frames buffered
// before a detach are still drained and written.
func (c *Connection) enqueueFrame(data []byte) sendResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return sendDetached
	}
	select {
	case c.Send <- data:
		return sendOK
	default:
		return sendBufferFull
	}
}

// ConnectionConfig holds WebSocket transport tuning.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is one fan-out request: an event for every member of a
// room, optionally narrowed to a single user or excluding one connection.
type BroadcastMessage struct {
	RoomID        string
	Event         *ChatEvent
	UserID        string // if set, only send to this user
	ExcludeConnID string // if set, skip this connection
}

// DefaultConnectionConfig returns the default WebSocket transport tuning.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// SetInboundHandler wires the dispatcher that interprets client frames.
func (cm *ConnectionManager) SetInboundHandler(h InboundHandler) {
	cm.inbound = h
}

// SetDetachHandler wires the callback fired when a connection leaves its
// room pool (disconnect or eviction).
func (cm *ConnectionManager) SetDetachHandler(fn func(conn *Connection)) {
	cm.onDetach = fn
}

// Start begins draining the broadcast channel. Blocks until ctx is done.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket connection. The
// connection starts unbound; membership is established by a join_room event.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	go connection.writePump()
	go connection.readPump()

	metrics.ConnectionsOpened.Inc()
	log.Info().
		Str("connection_id", connection.ID).
		Msg("WebSocket connection established")

	return connection, nil
}

// Attach binds a connection to a room's pool after a successful join. Any
// prior connection for the same user in that room is evicted and closed so a
// user holds at most one live connection per room.
func (cm *ConnectionManager) Attach(conn *Connection, roomID, userID, role string) {
	var stale []*Connection

	cm.mu.Lock()
	conn.RoomID = roomID
	conn.UserID = userID
	conn.Role = role

	if cm.roomConnections[roomID] == nil {
		cm.roomConnections[roomID] = make(map[*Connection]bool)
	}
	for other := range cm.roomConnections[roomID] {
		if other != conn && other.UserID == userID {
			stale = append(stale, other)
		}
	}
	cm.roomConnections[roomID][conn] = true
	total := len(cm.roomConnections[roomID])
	cm.mu.Unlock()

	for _, old := range stale {
		log.Info().
			Str("connection_id", old.ID).
			Str("user_id", userID).
			Str("room_id", roomID).
			Msg("evicting superseded connection after rejoin")
		cm.detach(old)
		old.Conn.Close()
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", roomID).
		Int("total_connections", total).
		Msg("connection attached to room")
}

// detach removes a connection from its room pool and closes its send
// channel. Safe to call more than once.
func (cm *ConnectionManager) detach(conn *Connection) {
	cm.mu.Lock()
	roomID := conn.RoomID
	connections, exists := cm.roomConnections[roomID]
	if !exists || !connections[conn] {
		cm.mu.Unlock()
		return
	}
	delete(connections, conn)
	if len(connections) == 0 {
		delete(cm.roomConnections, roomID)
	}
	cm.mu.Unlock()

	// Mark closed before closing Send: enqueueFrame holds the same lock,
	// so a concurrent unicast or fan-out sees the flag instead of sending
	// on a closed channel.
	conn.mu.Lock()
	conn.closed = true
	close(conn.Send)
	conn.mu.Unlock()

	metrics.ConnectionsClosed.Inc()
	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Str("room_id", roomID).
		Msg("connection detached")

	if cm.onDetach != nil {
		cm.onDetach(conn)
	}
}

// SendToConnection delivers an event to a single connection, bypassing the
// room fan-out. Used for unicast replies like room_history.
func (cm *ConnectionManager) SendToConnection(conn *Connection, event *ChatEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("failed to marshal unicast event")
		return
	}
	switch conn.enqueueFrame(data) {
	case sendOK:
	case sendDetached:
		log.Debug().
			Str("connection_id", conn.ID).
			Str("event_type", string(event.Type)).
			Msg("dropping unicast to detached connection")
	case sendBufferFull:
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("send buffer full, closing connection")
		cm.detach(conn)
		conn.Conn.Close()
	}
}

// BroadcastToRoom enqueues an event for every member of a room.
func (cm *ConnectionManager) BroadcastToRoom(roomID string, event *ChatEvent) {
	cm.enqueue(BroadcastMessage{RoomID: roomID, Event: event})
}

// BroadcastToRoomExcept enqueues an event for every member except one
// connection, e.g. user_joined to everyone but the joiner.
func (cm *ConnectionManager) BroadcastToRoomExcept(roomID, excludeConnID string, event *ChatEvent) {
	cm.enqueue(BroadcastMessage{RoomID: roomID, Event: event, ExcludeConnID: excludeConnID})
}

// BroadcastToUser enqueues an event for one user's connection in a room.
func (cm *ConnectionManager) BroadcastToUser(roomID, userID string, event *ChatEvent) {
	cm.enqueue(BroadcastMessage{RoomID: roomID, Event: event, UserID: userID})
}

func (cm *ConnectionManager) enqueue(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		metrics.BroadcastsDropped.Inc()
		log.Warn().Str("room_id", message.RoomID).Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast fans one event out to the target connections.
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	start := time.Now()

	cm.mu.RLock()
	connections, exists := cm.roomConnections[message.RoomID]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	var targets []*Connection
	for conn := range connections {
		if message.UserID != "" && conn.UserID != message.UserID {
			continue
		}
		if message.ExcludeConnID != "" && conn.ID == message.ExcludeConnID {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		switch conn.enqueueFrame(eventData) {
		case sendOK:
		case sendDetached:
			// Lost the race with a disconnect between snapshot and send.
		case sendBufferFull:
			// Connection is slow or dead, close it.
			log.Warn().
				Str("connection_id", conn.ID).
				Str("user_id", conn.UserID).
				Msg("connection send buffer full, closing connection")
			cm.detach(conn)
			conn.Conn.Close()
		}
	}

	metrics.EventsBroadcast.WithLabelValues(string(message.Event.Type)).Inc()
	metrics.BroadcastFanoutDuration.Observe(time.Since(start).Seconds())

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("room_id", message.RoomID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// Stats returns counts of active connections per room.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// GetConnectionStats returns statistics about active connections.
func (cm *ConnectionManager) GetConnectionStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{RoomConnections: make(map[string]int)}
	for roomID, connections := range cm.roomConnections {
		count := len(connections)
		stats.TotalConnections += count
		stats.RoomConnections[roomID] = count
	}
	stats.ActiveRooms = len(cm.roomConnections)
	return stats
}

// writePump sends outbound frames and keepalive pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.detach(c)
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
			c.LastPing = time.Now()
		}
	}
}

// readPump reads client frames and hands them to the inbound dispatcher.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.detach(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.Manager.inbound != nil {
			c.Manager.inbound(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
