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

	"github.com/mcdev12/artphone/go/internal/events"
	"github.com/mcdev12/artphone/go/internal/models"
	"github.com/mcdev12/artphone/go/internal/presence"
	"github.com/mcdev12/artphone/go/internal/room"
	"github.com/mcdev12/artphone/go/internal/session"
)

// ConnectionManager is the room-keyed websocket hub. Every connection runs a
// session participant for its player and reports the player's presence.
type ConnectionManager struct {
	rooms    *room.Service
	engine   *session.Engine
	presence presence.Tracker

	mu              sync.RWMutex
	roomConnections map[string]map[*Connection]bool
	upgrader        websocket.Upgrader
	config          ConnectionConfig
	broadcastCh     chan BroadcastMessage
}

// Connection is one websocket of one player.
type Connection struct {
	ID          string
	PlayerID    string
	RoomCode    string
	Conn        *websocket.Conn
	Manager     *ConnectionManager
	ConnectedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	ctx         context.Context
	cancel      context.CancelFunc
	participant *session.Participant
}

// ConnectionConfig holds websocket settings.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is a message addressed to a room, optionally to one player.
type BroadcastMessage struct {
	RoomCode string
	PlayerID string
	Message  ServerMessage
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  512 * 1024, // drawings travel as serialized strokes
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		SendBuffer:      64,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig, rooms *room.Service, engine *session.Engine, tracker presence.Tracker) *ConnectionManager {
	return &ConnectionManager{
		rooms:           rooms,
		engine:          engine,
		presence:        tracker,
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

// Start processes broadcasts until ctx is done, then closes every connection.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Admit checks that playerID may open a socket for the room and returns the
// normalized room code.
func (cm *ConnectionManager) Admit(ctx context.Context, code, playerID string) (string, error) {
	code, err := room.NormalizeCode(code)
	if err != nil {
		return "", err
	}
	if playerID == "" {
		return "", room.ErrPlayerIDRequired
	}
	v, err := cm.rooms.LoadState(ctx, code)
	if err != nil {
		return "", err
	}
	if _, ok := v.Player(playerID); !ok {
		return "", ErrNotMember
	}
	return code, nil
}

// UpgradeConnection upgrades the request and starts following the room for
// playerID. The caller must have admitted the player.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, code, playerID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		ID:          uuid.New().String(),
		PlayerID:    playerID,
		RoomCode:    code,
		Conn:        conn,
		Manager:     cm,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, cm.config.SendBuffer),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.participant = session.NewParticipant(cm.engine, code, playerID, session.Hooks{
		OnView: func(v *room.View) {
			c.sendMessage(ServerMessage{
				Type:      MessageTypeState,
				RoomCode:  code,
				Timestamp: time.Now(),
				Data:      NewRoomState(v, playerID),
			})
		},
		OnPenalty: func(round, previous, current int) {
			c.sendMessage(ServerMessage{
				Type:      MessageTypePenalty,
				RoomCode:  code,
				Timestamp: time.Now(),
				Data:      PenaltyState{Round: round, Previous: previous, Current: current},
			})
		},
	})

	cm.registerConnection(c)
	if err := cm.presence.Set(ctx, code, playerID, models.PresenceOnline); err != nil {
		log.Error().Err(err).Str("room_code", code).Str("player_id", playerID).Msg("failed to mark player online")
	}

	go c.writePump()
	go c.readPump()
	go func() {
		if err := c.participant.Run(ctx); err != nil {
			log.Error().Err(err).Str("connection_id", c.ID).Msg("participant stopped")
			cm.unregisterConnection(c)
		}
	}()

	log.Info().
		Str("connection_id", c.ID).
		Str("player_id", playerID).
		Str("room_code", code).
		Msg("websocket connection established")
	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[conn.RoomCode] == nil {
		cm.roomConnections[conn.RoomCode] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.RoomCode][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_code", conn.RoomCode).
		Int("total_connections", len(cm.roomConnections[conn.RoomCode])).
		Msg("connection registered")
}

// unregisterConnection drops conn, stops its participant and marks the
// player offline once their last socket in the room is gone.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	connections, exists := cm.roomConnections[conn.RoomCode]
	if !exists || !connections[conn] {
		cm.mu.Unlock()
		return
	}
	delete(connections, conn)
	stillConnected := false
	for other := range connections {
		if other.PlayerID == conn.PlayerID {
			stillConnected = true
			break
		}
	}
	if len(connections) == 0 {
		delete(cm.roomConnections, conn.RoomCode)
	}
	cm.mu.Unlock()

	conn.close()

	if !stillConnected {
		ctx, cancel := context.WithTimeout(context.Background(), cm.config.WriteTimeout)
		defer cancel()
		if err := cm.presence.Set(ctx, conn.RoomCode, conn.PlayerID, models.PresenceOffline); err != nil {
			log.Error().Err(err).Str("room_code", conn.RoomCode).Str("player_id", conn.PlayerID).Msg("failed to mark player offline")
		}
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("player_id", conn.PlayerID).
		Str("room_code", conn.RoomCode).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.roomConnections {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
	}
}

// BroadcastToRoom queues msg for every socket of a room.
func (cm *ConnectionManager) BroadcastToRoom(code string, msg ServerMessage) {
	select {
	case cm.broadcastCh <- BroadcastMessage{RoomCode: code, Message: msg}:
	default:
		log.Warn().Str("room_code", code).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastToPlayer queues msg for the sockets of one player.
func (cm *ConnectionManager) BroadcastToPlayer(code, playerID string, msg ServerMessage) {
	select {
	case cm.broadcastCh <- BroadcastMessage{RoomCode: code, PlayerID: playerID, Message: msg}:
	default:
		log.Warn().
			Str("room_code", code).
			Str("player_id", playerID).
			Msg("broadcast channel full, dropping player message")
	}
}

// Publish forwards a domain event to the room's sockets, which makes the
// manager usable as an in-process events.Publisher.
func (cm *ConnectionManager) Publish(ctx context.Context, ev events.Event) error {
	cm.BroadcastToRoom(ev.RoomCode, eventMessage(ev))
	return nil
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	var targets []*Connection
	for conn := range cm.roomConnections[message.RoomCode] {
		if message.PlayerID != "" && conn.PlayerID != message.PlayerID {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	data, err := encode(message.Message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal broadcast message")
		return
	}
	for _, conn := range targets {
		if !conn.enqueue(data) {
			log.Warn().
				Str("connection_id", conn.ID).
				Str("player_id", conn.PlayerID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
		}
	}

	log.Debug().
		Str("message_type", string(message.Message.Type)).
		Str("room_code", message.RoomCode).
		Int("connections", len(targets)).
		Msg("message broadcasted")
}

// ConnectionStats summarizes the hub.
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{RoomConnections: make(map[string]int, len(cm.roomConnections))}
	for code, connections := range cm.roomConnections {
		stats.TotalConnections += len(connections)
		stats.RoomConnections[code] = len(connections)
	}
	stats.ActiveRooms = len(cm.roomConnections)
	return stats
}

// close stops the participant and both pumps. Safe to call repeatedly.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
		c.Conn.Close()
	})
}

// enqueue hands data to the write pump without blocking. It reports false
// when the buffer is full.
func (c *Connection) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendMessage is used for per-connection pushes. A full buffer drops the
// message; the next state push supersedes it.
func (c *Connection) sendMessage(msg ServerMessage) {
	data, err := encode(msg)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal message")
		return
	}
	if !c.enqueue(data) {
		log.Warn().
			Str("connection_id", c.ID).
			Str("message_type", string(msg.Type)).
			Msg("send buffer full, dropping message")
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
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

func (c *Connection) readPump() {
	defer c.Manager.unregisterConnection(c)

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
					Msg("unexpected websocket close error")
			}
			return
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

func (c *Connection) handleClientMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.sendError(fmt.Errorf("malformed message: %w", err))
		return
	}

	switch msg.Type {
	case "ping":
		c.sendMessage(ServerMessage{Type: MessageTypePong, RoomCode: c.RoomCode, Timestamp: time.Now()})
	case "submit":
		res, err := c.participant.Submit(c.ctx, msg.Value)
		if err != nil {
			c.sendError(err)
			return
		}
		c.sendMessage(ServerMessage{
			Type:      MessageTypeSubmitted,
			RoomCode:  c.RoomCode,
			Timestamp: time.Now(),
			Data: SubmittedState{
				Accepted: res.Accepted,
				Round:    res.Assignment.Round,
				OwnerID:  res.Assignment.OwnerID,
				PageType: res.Page.Type,
			},
		})
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("player_id", c.PlayerID).
			Str("message_type", msg.Type).
			Msg("ignoring unknown client message")
	}
}

func (c *Connection) sendError(err error) {
	c.sendMessage(ServerMessage{
		Type:      MessageTypeError,
		RoomCode:  c.RoomCode,
		Timestamp: time.Now(),
		Data:      ErrorState{Message: err.Error()},
	})
}
