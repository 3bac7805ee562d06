package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxMessageSize = 4096
	writeWait      = 10 * time.Second
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // buzzers and the TV are served from other origins
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Identity is who a connection speaks for.
type Identity struct {
	Role     Role
	PlayerID string
}

// Authenticator resolves the token of a connection to the given session.
// An empty token is a spectator when the session exists.
type Authenticator func(sessionCode, token string) (Identity, error)

// Client represents a single WebSocket connection in a session room.
type Client struct {
	ID          string
	SessionCode string
	PlayerID    string
	Role        Role
	JoinedAt    time.Time
	hub         *Hub
	conn        *websocket.Conn
	send        chan WSMessage
	closeOnce   sync.Once
	logger      *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, logger *zap.Logger, authenticate Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := strings.ToUpper(strings.TrimSpace(c.Query("code")))
		if code == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "code required"})
			return
		}
		id, err := authenticate(code, c.Query("token"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:          uuid.NewString(),
			SessionCode: code,
			PlayerID:    id.PlayerID,
			Role:        id.Role,
			JoinedAt:    time.Now(),
			hub:         hub,
			conn:        conn,
			send:        make(chan WSMessage, sendBuffer),
			logger:      logger,
		}
		hub.Register(client)
		go client.writePump()
		if h := hub.commandHandler(); h != nil {
			h.HandleCommand(client, WSMessage{Event: "sync"})
		}
		client.readPump()
	}
}

// Send queues a message for this connection only.
func (c *Client) Send(event string, payload interface{}) {
	msg, ok := encode(event, payload)
	if !ok {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.hub.rooms[c.SessionCode][c.ID] == c {
		c.enqueue(msg)
	}
}

// Close ends the connection; the read loop unregisters it.
func (c *Client) Close() {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
}

// enqueue must be called with the hub lock held, which keeps it from racing
// the close of send in Unregister.
func (c *Client) enqueue(msg WSMessage) {
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("client send buffer full, dropping message",
			zap.String("client_id", c.ID), zap.String("event", msg.Event))
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read", zap.String("client_id", c.ID), zap.Error(err))
			}
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if msg.Event == "" {
			continue
		}
		if h := c.hub.commandHandler(); h != nil {
			h.HandleCommand(c, msg)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
