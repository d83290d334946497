package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/manpreetbhatti/coderoom/internal/protocol"
	"github.com/manpreetbhatti/coderoom/internal/ratelimit"
	"github.com/manpreetbhatti/coderoom/internal/room"
	"github.com/manpreetbhatti/coderoom/pkg/logger"
)

const (
	writeWait                = 10 * time.Second
	pongWait                 = 60 * time.Second
	pingPeriod               = (pongWait * 9) / 10
	maxMessageSize           = 1024 * 1024
	sendBufferSize           = 512
	defaultMessagesPerSecond = 100
	defaultMessageBurst      = 200
	maxRateLimitWarnings     = 1000
)

var errNotJoined = errors.New("connection has not joined a room")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// sessionState is the per-connection lifecycle: unjoined until a join
// succeeds, then joined to exactly one room.
type sessionState interface {
	isSessionState()
}

type unjoined struct{}

type joined struct {
	roomID string
}

func (unjoined) isSessionState() {}
func (joined) isSessionState()   {}

type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	id          string
	rateLimiter *ratelimit.Limiter

	// Owned by the hub goroutine
	state  sessionState
	closed bool
}

func (c *Client) closeSend() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	client := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		id:          room.NewID(),
		rateLimiter: ratelimit.NewLimiter(hub.messagesPerSecond, hub.messageBurst),
		state:       unjoined{},
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	logger.Debug("Client %s connected from %s", client.id, conn.RemoteAddr())

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leaveHub(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket error for client %s: %v", c.id, err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				logger.Warn("⚠️ Rate limit exceeded for client %s (warning #%d)", c.id, rateLimitWarnings)
			}
			if rateLimitWarnings > maxRateLimitWarnings {
				logger.Warn("🚫 Disconnecting client %s for excessive rate limit violations", c.id)
				return
			}
			continue
		}

		if messageType != websocket.TextMessage {
			logger.Warn("⚠️ Client %s sent non-text frame type %d", c.id, messageType)
			continue
		}

		env, err := protocol.ParseEnvelope(message)
		if err != nil {
			logger.Warn("⚠️ Invalid message from client %s: %v", c.id, err)
			continue
		}

		if !c.hub.enqueue(&Event{Client: c, Type: env.Type, Payload: env.Payload}) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("Write error for client %s: %v", c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
