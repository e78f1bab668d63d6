package messages

// Outbound event names.
const (
	EventConnected       = "connected"
	EventQueueJoined     = "queueJoined"
	EventQueueLeft       = "queueLeft"
	EventGameStart       = "gameStart"
	EventMoveMade        = "moveMade"
	EventTimeUpdate      = "timeUpdate"
	EventGameOver        = "gameOver"
	EventDrawOffered     = "drawOffered"
	EventDrawDeclined    = "drawDeclined"
	EventInvalidMove     = "invalidMove"
	EventError           = "error"
	EventMessageReceived = "messageReceived"
	EventGameJoined      = "gameJoined"
	EventActiveGames     = "activeGames"
)

// OutboundMessage is how we wrap responses before sending
// them to the client
type OutboundMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// ConnectedPayload greets an authenticated connection with its identity.
type ConnectedPayload struct {
	UserID   string         `json:"userId"`
	Username string         `json:"username"`
	Ratings  map[string]int `json:"elo"`
	Wins     int            `json:"wins"`
	Losses   int            `json:"losses"`
	Draws    int            `json:"draws"`
}

// QueueJoinedPayload acknowledges a queue join.
type QueueJoinedPayload struct {
	Mode              string `json:"mode"`
	QueuePosition     int    `json:"queuePosition"`
	EstimatedWaitTime int    `json:"estimatedWaitTime"` // seconds
}

// PlayerPayload describes one participant of a game.
type PlayerPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Time     int64  `json:"time"`
}

// GameStartPayload announces a new game to both participants.
type GameStartPayload struct {
	GameID      string        `json:"gameId"`
	Mode        string        `json:"mode"`
	FEN         string        `json:"fen"`
	White       PlayerPayload `json:"white"`
	Black       PlayerPayload `json:"black"`
	CurrentTurn string        `json:"currentTurn"`
}

// TimeRemainingPayload is a clock snapshot in milliseconds.
type TimeRemainingPayload struct {
	White int64 `json:"white"`
	Black int64 `json:"black"`
}

// MoveMadePayload broadcasts an accepted move with the updated state.
type MoveMadePayload struct {
	Move          string               `json:"move"`
	FEN           string               `json:"fen"`
	PlayerID      string               `json:"playerId"`
	MoveNumber    int                  `json:"moveNumber"`
	IsCheck       bool                 `json:"isCheck"`
	Turn          string               `json:"turn"`
	TimeRemaining TimeRemainingPayload `json:"timeRemaining"`
}

// GameOverPayload announces the single authoritative outcome of a game.
type GameOverPayload struct {
	Winner        string `json:"winner,omitempty"` // empty on draws
	Reason        string `json:"reason"`
	FinalPosition string `json:"finalPosition"`
}

// DrawOfferedPayload notifies the opponent of a pending draw offer.
type DrawOfferedPayload struct {
	From string `json:"from"`
}

// InvalidMovePayload rejects a move attempt.
type InvalidMovePayload struct {
	Error string `json:"error"`
}

// ErrorPayload reports a failure to the originating connection only.
type ErrorPayload struct {
	Message string `json:"message"`
}

// MessageReceivedPayload relays in-game chat.
type MessageReceivedPayload struct {
	From      string `json:"from"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// GameSnapshotPayload is the reconnect/late-join projection of a game.
type GameSnapshotPayload struct {
	GameID        string               `json:"gameId"`
	Mode          string               `json:"mode"`
	FEN           string               `json:"fen"`
	Status        string               `json:"status"`
	Moves         []string             `json:"moves"`
	White         PlayerPayload        `json:"white"`
	Black         PlayerPayload        `json:"black"`
	Winner        string               `json:"winner,omitempty"`
	YourColor     string               `json:"yourColor"`
	IsYourTurn    bool                 `json:"isYourTurn"`
	IsCheck       bool                 `json:"isCheck"`
	TimeRemaining TimeRemainingPayload `json:"timeRemaining"`
}

// GameSummaryPayload is one entry of an active-games listing.
type GameSummaryPayload struct {
	GameID    string `json:"gameId"`
	Mode      string `json:"mode"`
	Opponent  string `json:"opponent"`
	YourColor string `json:"yourColor"`
	YourTurn  bool   `json:"yourTurn"`
}

// ActiveGamesPayload lists the caller's ongoing games.
type ActiveGamesPayload struct {
	Games []GameSummaryPayload `json:"games"`
}
