// Package server is the connection gateway: it maps authenticated users to
// live websocket connections and routes events between them and the
// matchmaking/session core.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pixelchess/chess-server/pkg/chess"
	"github.com/pixelchess/chess-server/pkg/events"
	"github.com/pixelchess/chess-server/pkg/game"
	"github.com/pixelchess/chess-server/pkg/matchmaker"
	"github.com/pixelchess/chess-server/pkg/messages"
	"github.com/pixelchess/chess-server/pkg/repository"
)

const maxChatMessageLength = 200

// InboundHubMessage are the messages that the hub receives
type InboundHubMessage struct {
	Conn    *Connection             // who sent it
	Message messages.InboundMessage // decoded envelope
}

// Hub keeps track of all active connections and the user routing table, and
// routes inbound events to the matchmaker or the session manager. Outbound
// error events go to the originating connection only.
type Hub struct {
	mu          sync.RWMutex         // Mutex to protect direct access to the connection maps.
	connections map[*Connection]bool // Registered connections
	byUser      map[string]*Connection

	register   chan *Connection       // Incoming registration
	unregister chan *Connection       // Incoming unregistration
	inbound    chan InboundHubMessage // Channel of inbound messages the hub routes

	shutdown chan struct{}

	games       *game.Manager
	matchmaking *matchmaker.Matchmaker
	users       repository.UserRepository

	publisher *events.Publisher
	logger    *zap.Logger
}

// NewHub creates a new hub. The game manager and matchmaker are attached
// afterwards, since both need the hub as their broadcaster.
func NewHub(users repository.UserRepository, publisher *events.Publisher, logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[*Connection]bool),
		byUser:      make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		inbound:     make(chan InboundHubMessage),
		shutdown:    make(chan struct{}),
		users:       users,
		publisher:   publisher,
		logger:      logger,
	}
}

// Attach wires the matchmaking and session components the hub routes to.
func (h *Hub) Attach(games *game.Manager, matchmaking *matchmaker.Matchmaker) {
	h.games = games
	h.matchmaking = matchmaking
}

// Run is the main execution of the hub
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.registerConnection(conn)

		case conn := <-h.unregister:
			h.unregisterConnection(conn)

		case msg := <-h.inbound:
			h.handleInbound(msg)

		case <-h.shutdown:
			h.closeAll()
			return
		}
	}
}

func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Shutdown stops the run loop and closes every connection.
func (h *Hub) Shutdown() {
	close(h.shutdown)
}

// Send implements game.Broadcaster: deliver to the user's current
// connection, silently dropping when the user is offline. A disconnected
// player's game keeps running against the clock.
func (h *Hub) Send(userID string, msg messages.OutboundMessage) {
	h.mu.RLock()
	conn, ok := h.byUser[userID]
	h.mu.RUnlock()

	if ok {
		conn.SendJSON(msg)
	}
}

func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	h.connections[conn] = true
	// Latest connection wins the routing entry; an older connection of the
	// same user keeps draining but no longer receives game events.
	h.byUser[conn.UserID] = conn
	h.mu.Unlock()

	h.logger.Info("connection registered",
		zap.String("connection_id", conn.ID.String()),
		zap.String("user_id", conn.UserID),
	)

	payload := messages.ConnectedPayload{
		UserID:   conn.UserID,
		Username: conn.Username,
	}
	if user, err := h.getUser(conn.UserID); err == nil {
		payload.Ratings = ratingsPayload(user)
		payload.Wins = user.Wins
		payload.Losses = user.Losses
		payload.Draws = user.Draws
	} else {
		h.logger.Error("failed to load user record", zap.Error(err))
	}

	conn.SendJSON(messages.OutboundMessage{Event: messages.EventConnected, Payload: payload})
}

func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	current := false
	if _, ok := h.connections[conn]; ok {
		delete(h.connections, conn)
		conn.Close()
		if h.byUser[conn.UserID] == conn {
			delete(h.byUser, conn.UserID)
			current = true
		}
	}
	h.mu.Unlock()

	if !current {
		return
	}

	h.logger.Info("connection unregistered",
		zap.String("connection_id", conn.ID.String()),
		zap.String("user_id", conn.UserID),
	)

	// Purges queue membership; ongoing sessions deliberately stay live so
	// the player can reconnect.
	h.publisher.Publish(events.Event{
		Type:    events.EventConnectionClosed,
		Payload: events.ConnectionClosedPayload{UserID: conn.UserID},
	})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.connections {
		conn.Close()
		delete(h.connections, conn)
	}
	h.byUser = make(map[string]*Connection)
}

// handleInbound decodes and routes one client event.
func (h *Hub) handleInbound(msg InboundHubMessage) {
	conn := msg.Conn

	switch msg.Message.Event {
	case messages.EventJoinQueue:
		var payload messages.JoinQueuePayload
		if err := json.Unmarshal(msg.Message.Payload, &payload); err != nil {
			h.sendError(conn, "Invalid joinQueue payload")
			return
		}
		h.handleJoinQueue(conn, payload)

	case messages.EventLeaveQueue:
		var payload messages.LeaveQueuePayload
		if len(msg.Message.Payload) > 0 {
			if err := json.Unmarshal(msg.Message.Payload, &payload); err != nil {
				h.sendError(conn, "Invalid leaveQueue payload")
				return
			}
		}
		h.handleLeaveQueue(conn, payload)

	case messages.EventMakeMove:
		var payload messages.MakeMovePayload
		if err := json.Unmarshal(msg.Message.Payload, &payload); err != nil {
			h.sendError(conn, "Invalid makeMove payload")
			return
		}
		h.handleMakeMove(conn, payload)

	case messages.EventResign:
		var payload messages.GameRefPayload
		if err := json.Unmarshal(msg.Message.Payload, &payload); err != nil {
			h.sendError(conn, "Invalid resign payload")
			return
		}
		session, ok := h.lookupSession(conn, payload.GameID)
		if !ok {
			return
		}
		if err := session.Resign(conn.UserID); err != nil {
			h.sendError(conn, err.Error())
		}

	case messages.EventRequestDraw:
		var payload messages.GameRefPayload
		if err := json.Unmarshal(msg.Message.Payload, &payload); err != nil {
			h.sendError(conn, "Invalid requestDraw payload")
			return
		}
		session, ok := h.lookupSession(conn, payload.GameID)
		if !ok {
			return
		}
		if err := session.OfferDraw(conn.UserID); err != nil {
			h.sendError(conn, err.Error())
		}

	case messages.EventRespondToDraw:
		var payload messages.RespondToDrawPayload
		if err := json.Unmarshal(msg.Message.Payload, &payload); err != nil {
			h.sendError(conn, "Invalid respondToDraw payload")
			return
		}
		session, ok := h.lookupSession(conn, payload.GameID)
		if !ok {
			return
		}
		if err := session.RespondToDraw(conn.UserID, payload.Accept); err != nil {
			h.sendError(conn, err.Error())
		}

	case messages.EventJoinGame:
		var payload messages.GameRefPayload
		if err := json.Unmarshal(msg.Message.Payload, &payload); err != nil {
			h.sendError(conn, "Invalid joinGame payload")
			return
		}
		session, ok := h.lookupSession(conn, payload.GameID)
		if !ok {
			return
		}
		snapshot, err := session.Snapshot(conn.UserID)
		if err != nil {
			h.sendError(conn, err.Error())
			return
		}
		conn.SendJSON(messages.OutboundMessage{Event: messages.EventGameJoined, Payload: snapshot})

	case messages.EventGetActiveGames:
		summaries := h.games.ActiveGamesFor(conn.UserID)
		conn.SendJSON(messages.OutboundMessage{
			Event:   messages.EventActiveGames,
			Payload: messages.ActiveGamesPayload{Games: summaries},
		})

	case messages.EventSendMessage:
		var payload messages.SendMessagePayload
		if err := json.Unmarshal(msg.Message.Payload, &payload); err != nil {
			h.sendError(conn, "Invalid sendMessage payload")
			return
		}
		h.handleSendMessage(conn, payload)

	default:
		h.sendError(conn, "Unknown message type")
	}
}

func (h *Hub) handleJoinQueue(conn *Connection, payload messages.JoinQueuePayload) {
	mode, err := chess.ParseMode(payload.Mode)
	if err != nil {
		h.sendError(conn, "Invalid game mode")
		return
	}

	// Ratings are read at match time, not from the handshake snapshot.
	user, err := h.getUser(conn.UserID)
	if err != nil {
		h.sendError(conn, "Failed to join queue")
		h.logger.Error("join queue user lookup failed",
			zap.String("user_id", conn.UserID),
			zap.Error(err),
		)
		return
	}

	result, err := h.matchmaking.JoinQueue(conn.UserID, conn.Username, user.Rating(mode), mode)
	if err != nil {
		h.sendError(conn, err.Error())
		return
	}

	// An immediate match skips the acknowledgement; gameStart already went
	// out to both players.
	if result.Queued {
		conn.SendJSON(messages.OutboundMessage{
			Event: messages.EventQueueJoined,
			Payload: messages.QueueJoinedPayload{
				Mode:              string(mode),
				QueuePosition:     result.QueuePosition,
				EstimatedWaitTime: result.EstimatedWaitTime,
			},
		})
	}
}

func (h *Hub) handleLeaveQueue(conn *Connection, payload messages.LeaveQueuePayload) {
	if payload.Mode == "" {
		h.matchmaking.LeaveAllQueues(conn.UserID)
	} else {
		mode, err := chess.ParseMode(payload.Mode)
		if err != nil {
			h.sendError(conn, "Invalid game mode")
			return
		}
		h.matchmaking.LeaveQueue(conn.UserID, mode)
	}

	conn.SendJSON(messages.OutboundMessage{Event: messages.EventQueueLeft, Payload: struct{}{}})
}

func (h *Hub) handleMakeMove(conn *Connection, payload messages.MakeMovePayload) {
	id, err := uuid.Parse(payload.GameID)
	if err != nil {
		h.sendInvalidMove(conn, game.ErrSessionNotFound.Error())
		return
	}

	session, ok := h.games.GetSession(id)
	if !ok {
		h.sendInvalidMove(conn, game.ErrSessionNotFound.Error())
		return
	}

	if err := session.SubmitMove(conn.UserID, payload.Move); err != nil {
		h.sendInvalidMove(conn, err.Error())
	}
}

func (h *Hub) handleSendMessage(conn *Connection, payload messages.SendMessagePayload) {
	text := strings.TrimSpace(payload.Message)
	if text == "" || len(payload.Message) > maxChatMessageLength {
		h.sendError(conn, "Invalid chat message")
		return
	}

	session, ok := h.lookupSession(conn, payload.GameID)
	if !ok {
		return
	}

	whiteID, blackID := session.Participants()
	if conn.UserID != whiteID && conn.UserID != blackID {
		h.sendError(conn, game.ErrNotAParticipant.Error())
		return
	}

	msg := messages.OutboundMessage{
		Event: messages.EventMessageReceived,
		Payload: messages.MessageReceivedPayload{
			From:      conn.UserID,
			Username:  conn.Username,
			Message:   text,
			Timestamp: time.Now().UnixMilli(),
		},
	}
	h.Send(whiteID, msg)
	h.Send(blackID, msg)
}

// lookupSession resolves a game reference or reports the failure back to
// the originating connection.
func (h *Hub) lookupSession(conn *Connection, gameID string) (*game.Session, bool) {
	id, err := uuid.Parse(gameID)
	if err != nil {
		h.sendError(conn, game.ErrSessionNotFound.Error())
		return nil, false
	}
	session, ok := h.games.GetSession(id)
	if !ok {
		h.sendError(conn, game.ErrSessionNotFound.Error())
		return nil, false
	}
	return session, true
}

func (h *Hub) getUser(userID string) (*repository.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user, err := h.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.New("user record missing")
	}
	return user, nil
}

func (h *Hub) sendError(conn *Connection, msg string) {
	conn.SendJSON(messages.OutboundMessage{
		Event:   messages.EventError,
		Payload: messages.ErrorPayload{Message: msg},
	})
}

func (h *Hub) sendInvalidMove(conn *Connection, msg string) {
	conn.SendJSON(messages.OutboundMessage{
		Event:   messages.EventInvalidMove,
		Payload: messages.InvalidMovePayload{Error: msg},
	})
}

func ratingsPayload(user *repository.User) map[string]int {
	ratings := make(map[string]int, len(user.Ratings))
	for mode, rating := range user.Ratings {
		ratings[string(mode)] = rating
	}
	return ratings
}
