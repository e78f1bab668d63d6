package game

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pixelchess/chess-server/internal/color"
	"github.com/pixelchess/chess-server/pkg/chess"
	"github.com/pixelchess/chess-server/pkg/events"
	"github.com/pixelchess/chess-server/pkg/messages"
)

// Manager owns the live session table: sessions are created when the
// matchmaker pairs two players and evicted when they finish.
type Manager struct {
	sessions map[uuid.UUID]*Session
	byUser   map[string]uuid.UUID
	mu       sync.RWMutex

	broadcaster Broadcaster
	ratings     RatingService
	publisher   *events.Publisher
	logger      *zap.Logger
}

// NewManager creates a manager and subscribes it to game-finished events so
// finalized sessions leave the table once their terminal events went out.
func NewManager(
	broadcaster Broadcaster,
	ratings RatingService,
	publisher *events.Publisher,
	logger *zap.Logger,
) *Manager {
	m := &Manager{
		sessions:    make(map[uuid.UUID]*Session),
		byUser:      make(map[string]uuid.UUID),
		broadcaster: broadcaster,
		ratings:     ratings,
		publisher:   publisher,
		logger:      logger,
	}

	m.publisher.Subscribe(events.EventGameFinished, func(event events.Event) {
		payload, ok := event.Payload.(events.GameFinishedPayload)
		if !ok {
			m.logger.Error("invalid game finished payload type")
			return
		}
		id, err := uuid.Parse(payload.GameID)
		if err != nil {
			m.logger.Error("invalid game id in game finished event", zap.Error(err))
			return
		}
		m.removeSession(id, payload.WhiteID, payload.BlackID)
	})

	return m
}

// CreateSession builds the authoritative state for a freshly matched pair,
// registers it, announces gameStart to both players and starts the clock.
func (m *Manager) CreateSession(mode chess.Mode, white, black Player) (*Session, error) {
	tc, ok := chess.TimeControls[mode]
	if !ok {
		return nil, fmt.Errorf("no time control for mode %q", mode)
	}

	session := &Session{
		ID:          uuid.New(),
		Mode:        mode,
		rules:       chess.NewRules(),
		clock:       chess.NewClock(tc),
		turn:        color.White,
		white:       white,
		black:       black,
		status:      StatusOngoing,
		done:        make(chan struct{}),
		broadcaster: m.broadcaster,
		ratings:     m.ratings,
		publisher:   m.publisher,
		logger:      m.logger,
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.byUser[white.ID] = session.ID
	m.byUser[black.ID] = session.ID
	m.mu.Unlock()

	m.logger.Info("created game session",
		zap.String("game_id", session.ID.String()),
		zap.String("mode", string(mode)),
		zap.String("time_control", chess.FormatClockTime(tc.InitialMs)),
		zap.String("white_id", white.ID),
		zap.String("black_id", black.ID),
	)

	start := messages.GameStartPayload{
		GameID: session.ID.String(),
		Mode:   string(mode),
		FEN:    session.rules.FEN(),
		White: messages.PlayerPayload{
			ID: white.ID, Username: white.Username, Rating: white.Rating, Time: tc.InitialMs,
		},
		Black: messages.PlayerPayload{
			ID: black.ID, Username: black.Username, Rating: black.Rating, Time: tc.InitialMs,
		},
		CurrentTurn: string(color.White),
	}
	msg := messages.OutboundMessage{Event: messages.EventGameStart, Payload: start}
	m.broadcaster.Send(white.ID, msg)
	m.broadcaster.Send(black.ID, msg)

	session.clock.Start()
	go session.runClock()

	return session, nil
}

// GetSession returns a session by ID
func (m *Manager) GetSession(id uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	return session, ok
}

// HasActiveGame reports whether the user participates in an ongoing session.
func (m *Manager) HasActiveGame(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byUser[userID]
	return ok
}

// ActiveGamesFor lists the caller's ongoing sessions. Session locks are only
// taken after the table lock is released.
func (m *Manager) ActiveGamesFor(userID string) []messages.GameSummaryPayload {
	m.mu.RLock()
	var sessions []*Session
	if id, ok := m.byUser[userID]; ok {
		if session, ok := m.sessions[id]; ok {
			sessions = append(sessions, session)
		}
	}
	m.mu.RUnlock()

	summaries := make([]messages.GameSummaryPayload, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, session.Summary(userID))
	}
	return summaries
}

// removeSession evicts a finished session and its user index entries.
func (m *Manager) removeSession(id uuid.UUID, whiteID, blackID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return
	}
	delete(m.sessions, id)
	if m.byUser[whiteID] == id {
		delete(m.byUser, whiteID)
	}
	if m.byUser[blackID] == id {
		delete(m.byUser, blackID)
	}

	m.logger.Info("removed game session", zap.String("game_id", id.String()))
}
