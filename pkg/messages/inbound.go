// Package messages defines the wire protocol payloads.
package messages

import "encoding/json"

// Inbound event names.
const (
	EventJoinQueue      = "joinQueue"
	EventLeaveQueue     = "leaveQueue"
	EventMakeMove       = "makeMove"
	EventResign         = "resign"
	EventRequestDraw    = "requestDraw"
	EventRespondToDraw  = "respondToDraw"
	EventJoinGame       = "joinGame"
	EventGetActiveGames = "getActiveGames"
	EventSendMessage    = "sendMessage"
)

// InboundMessage is the generic wrapper for messages coming from the client.
// The "event" field tells us the action; "payload" is the data we parse further.
type InboundMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// JoinQueuePayload asks the matchmaker to queue the caller for a mode.
type JoinQueuePayload struct {
	Mode string `json:"mode"`
}

// LeaveQueuePayload removes the caller from one queue, or from all queues
// when the mode is omitted.
type LeaveQueuePayload struct {
	Mode string `json:"mode,omitempty"`
}

// MakeMovePayload represents the payload for making a move during a game
type MakeMovePayload struct {
	GameID string `json:"gameId"`
	Move   string `json:"move"`
}

// GameRefPayload carries just a game reference (resign, requestDraw, joinGame).
type GameRefPayload struct {
	GameID string `json:"gameId"`
}

// RespondToDrawPayload answers a pending draw offer.
type RespondToDrawPayload struct {
	GameID string `json:"gameId"`
	Accept bool   `json:"accept"`
}

// SendMessagePayload relays an in-game chat message.
type SendMessagePayload struct {
	GameID  string `json:"gameId"`
	Message string `json:"message"`
}
