package server

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pixelchess/chess-server/pkg/messages"
)

// Connection is one authenticated websocket client.
type Connection struct {
	ID       uuid.UUID
	UserID   string
	Username string

	ws        *websocket.Conn // The underlying Websocket connection
	hub       *Hub
	send      chan []byte   // Buffered channel of outbound messages.
	done      chan struct{} // Closed once on teardown; send is never closed.
	closeOnce sync.Once
	writeMu   sync.Mutex // Mutex to protect concurrent writes to ws.

	logger *zap.Logger
}

// NewConnection wraps an upgraded websocket for an authenticated user.
func NewConnection(
	ws *websocket.Conn,
	hub *Hub,
	userID string,
	username string,
	logger *zap.Logger,
) *Connection {
	return &Connection{
		ID:       uuid.New(),
		UserID:   userID,
		Username: username,
		ws:       ws,
		hub:      hub,
		send:     make(chan []byte, 256), // buffered for outgoing messages
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Close signals teardown to WritePump and future SendJSON calls. The send
// channel itself is never closed: senders on other goroutines (session clock
// loops, game events) may race with teardown, and sending on a closed channel
// would panic the process.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// ReadPump handles inbound messages from the client
func (c *Connection) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.ws.Close()
	}()

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("read error", zap.Error(err))
			}
			break
		}

		// We only handle text
		if msgType == websocket.TextMessage {
			var inbound messages.InboundMessage
			if err := json.Unmarshal(msg, &inbound); err == nil {
				c.hub.inbound <- InboundHubMessage{
					Conn:    c,
					Message: inbound,
				}
			} else {
				c.logger.Error("Failed to parse inbound JSON", zap.Error(err))
			}
		}
	}
}

// WritePump handles outbound messages to the client
func (c *Connection) WritePump() {
	defer func() {
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.logger.Info(
				"Connection closed, stopping writer",
				zap.String("connection_id", c.ID.String()),
			)
			return
		case message := <-c.send:
			c.writeMu.Lock()
			err := c.ws.WriteMessage(websocket.TextMessage, message)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Error("write error", zap.Error(err))
				return
			}
		}
	}
}

// SendJSON is a helper for sending JSON to this connection. A connection
// whose buffer is full drops the message rather than stalling the sender;
// the client resynchronizes through the reconnect snapshot.
func (c *Connection) SendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Error marshaling JSON", zap.Error(err))
		return
	}

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping message",
			zap.String("connection_id", c.ID.String()),
			zap.String("user_id", c.UserID),
		)
	}
}
