package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60
)

// Role of a connection inside a session room.
type Role string

const (
	RoleHost      Role = "host"
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// PresenceHandler is called when the first connection of a player opens or
// the last one closes.
type PresenceHandler func(sessionCode, playerID string, connected bool)

// CommandHandler receives the client messages of a room.
type CommandHandler interface {
	HandleCommand(c *Client, msg WSMessage)
}

// Publisher publishes room events for other instances.
type Publisher interface {
	PublishSessionEvent(sessionCode, event string, payload []byte) error
}

// Subscriber subscribes to room events published by other instances.
type Subscriber interface {
	SubscribeSession(sessionCode string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains session code -> set of connections and broadcasts messages.
// Spectators on other instances are reached through Redis.
type Hub struct {
	rooms      map[string]map[string]*Client
	players    map[string]map[string]int // code -> player ID -> open connections
	subs       map[string]func()
	mu         sync.RWMutex
	logger     *zap.Logger
	pub        Publisher
	sub        Subscriber
	onPresence PresenceHandler
	commands   CommandHandler
}

// NewHub creates a new WebSocket hub. pub and sub may be nil for a single instance.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:   make(map[string]map[string]*Client),
		players: make(map[string]map[string]int),
		subs:    make(map[string]func()),
		logger:  logger,
		pub:     pub,
		sub:     sub,
	}
}

// SetPresenceHandler sets the callback for player connect/disconnect.
func (h *Hub) SetPresenceHandler(fn PresenceHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPresence = fn
}

// SetCommandHandler sets the receiver of client commands.
func (h *Hub) SetCommandHandler(ch CommandHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = ch
}

func (h *Hub) commandHandler() CommandHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.commands
}

// Register adds a client to a session room. Starts the Redis subscription of the room on its first client.
func (h *Hub) Register(c *Client) {
	code := c.SessionCode
	h.mu.Lock()
	if h.rooms[code] == nil {
		h.rooms[code] = make(map[string]*Client)
		if h.sub != nil {
			cancel, err := h.sub.SubscribeSession(code, func(event string, payload []byte) {
				h.Broadcast(code, event, json.RawMessage(payload), RolePlayer, RoleSpectator)
			})
			if err != nil {
				h.logger.Warn("redis subscribe failed", zap.String("session_code", code), zap.Error(err))
			} else {
				h.subs[code] = cancel
			}
		}
	}
	h.rooms[code][c.ID] = c
	first := false
	if c.Role == RolePlayer && c.PlayerID != "" {
		if h.players[code] == nil {
			h.players[code] = make(map[string]int)
		}
		h.players[code][c.PlayerID]++
		first = h.players[code][c.PlayerID] == 1
	}
	onPresence := h.onPresence
	h.mu.Unlock()
	if first && onPresence != nil {
		onPresence(code, c.PlayerID, true)
	}
	h.logger.Debug("client joined session",
		zap.String("client_id", c.ID),
		zap.String("session_code", code),
		zap.String("role", string(c.Role)),
	)
}

// Unregister removes a client from its room. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	code := c.SessionCode
	h.mu.Lock()
	m, ok := h.rooms[code]
	if !ok || m[c.ID] == nil {
		h.mu.Unlock()
		return
	}
	delete(m, c.ID)
	if len(m) == 0 {
		delete(h.rooms, code)
		if cancel, ok := h.subs[code]; ok {
			cancel()
			delete(h.subs, code)
		}
	}
	last := false
	if c.Role == RolePlayer && c.PlayerID != "" && h.players[code] != nil {
		h.players[code][c.PlayerID]--
		if h.players[code][c.PlayerID] <= 0 {
			delete(h.players[code], c.PlayerID)
			last = true
		}
		if len(h.players[code]) == 0 {
			delete(h.players, code)
		}
	}
	onPresence := h.onPresence
	h.mu.Unlock()
	close(c.send)
	if last && onPresence != nil {
		onPresence(code, c.PlayerID, false)
	}
	h.logger.Debug("client left session", zap.String("client_id", c.ID), zap.String("session_code", code))
}

func encode(event string, payload interface{}) (WSMessage, bool) {
	var data []byte
	switch v := payload.(type) {
	case nil:
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return WSMessage{}, false
		}
	}
	return WSMessage{Event: event, Data: data}, true
}

// Broadcast sends a message to the local clients of a room. With roles set,
// only clients holding one of them receive it.
func (h *Hub) Broadcast(code, event string, payload interface{}, roles ...Role) {
	msg, ok := encode(event, payload)
	if !ok {
		h.logger.Error("encode broadcast", zap.String("event", event))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[code] {
		if len(roles) > 0 && !hasRole(roles, c.Role) {
			continue
		}
		c.enqueue(msg)
	}
}

// BroadcastAndPublish sends to local clients and publishes to Redis for the
// spectators connected to other instances.
func (h *Hub) BroadcastAndPublish(code, event string, payload interface{}, roles ...Role) {
	msg, ok := encode(event, payload)
	if !ok {
		return
	}
	h.Broadcast(code, event, json.RawMessage(msg.Data), roles...)
	if h.pub == nil || (len(roles) > 0 && !hasRole(roles, RoleSpectator)) {
		return
	}
	if err := h.pub.PublishSessionEvent(code, event, msg.Data); err != nil {
		h.logger.Warn("redis publish failed", zap.String("session_code", code), zap.String("event", event), zap.Error(err))
	}
}

// SendToPlayer sends a message to every connection of one player.
func (h *Hub) SendToPlayer(code, playerID, event string, payload interface{}) {
	msg, ok := encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[code] {
		if c.Role == RolePlayer && c.PlayerID == playerID {
			c.enqueue(msg)
		}
	}
}

// PlayerIDs returns the players that currently have a live connection.
func (h *Hub) PlayerIDs(code string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.players[code]))
	for id := range h.players[code] {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of connected clients in a room.
func (h *Hub) Count(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

// CloseRoom drops every client of a room, e.g. after the session was deleted.
func (h *Hub) CloseRoom(code string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[code]))
	for _, c := range h.rooms[code] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.Close()
	}
}

func hasRole(roles []Role, r Role) bool {
	for _, x := range roles {
		if x == r {
			return true
		}
	}
	return false
}
