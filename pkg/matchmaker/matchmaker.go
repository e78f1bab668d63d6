// Package matchmaker pairs queued players into game sessions.
package matchmaker

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pixelchess/chess-server/pkg/chess"
	"github.com/pixelchess/chess-server/pkg/events"
	"github.com/pixelchess/chess-server/pkg/game"
)

// Errors returned by queue operations.
var (
	ErrAlreadyQueued = errors.New("already in queue")
	ErrAlreadyInGame = errors.New("you are already in an active game")
)

// Search tuning: the rating tolerance starts narrow and widens on every
// retry until the cap.
const (
	initialRange   = 100
	rangeStep      = 50
	maxRange       = 500
	searchInterval = 3 * time.Second
)

// Entry is a waiting player's matchmaking record. It lives only while the
// player waits: created on join, destroyed on match, leave or disconnect.
type Entry struct {
	UserID   string
	Username string
	Rating   int

	cancel chan struct{}
}

// JoinResult tells the caller whether they were queued or matched right away.
type JoinResult struct {
	Queued            bool
	QueuePosition     int
	EstimatedWaitTime int // seconds
}

// Matchmaker keeps one FIFO queue per mode and one background search task
// per waiting player. All queue state is guarded by a single mutex so the
// already-queued check and the insertion are atomic.
type Matchmaker struct {
	queues map[chess.Mode][]*Entry
	mu     sync.Mutex

	games  *game.Manager
	logger *zap.Logger
}

// NewMatchmaker creates the matchmaker and subscribes it to connection
// closures so disconnected players are purged from every queue.
func NewMatchmaker(games *game.Manager, publisher *events.Publisher, logger *zap.Logger) *Matchmaker {
	m := &Matchmaker{
		queues: make(map[chess.Mode][]*Entry),
		games:  games,
		logger: logger,
	}

	publisher.Subscribe(events.EventConnectionClosed, func(event events.Event) {
		payload, ok := event.Payload.(events.ConnectionClosedPayload)
		if !ok {
			m.logger.Error("invalid connection closed payload type")
			return
		}
		m.LeaveAllQueues(payload.UserID)
	})

	return m
}

// JoinQueue queues a player for a mode, or starts a game immediately when a
// compatible opponent is already waiting. A player may hold at most one
// queue entry across all modes and must not be in an ongoing game.
func (m *Matchmaker) JoinQueue(userID, username string, rating int, mode chess.Mode) (JoinResult, error) {
	if m.games.HasActiveGame(userID) {
		return JoinResult{}, ErrAlreadyInGame
	}

	entry := &Entry{
		UserID:   userID,
		Username: username,
		Rating:   rating,
		cancel:   make(chan struct{}),
	}

	m.mu.Lock()
	if m.queuedAnywhereLocked(userID) {
		m.mu.Unlock()
		return JoinResult{}, ErrAlreadyQueued
	}

	if opponent := m.takeCandidateLocked(mode, entry, initialRange); opponent != nil {
		m.mu.Unlock()
		m.startGame(mode, entry, opponent)
		return JoinResult{Queued: false}, nil
	}

	m.queues[mode] = append(m.queues[mode], entry)
	position := len(m.queues[mode])
	m.mu.Unlock()

	go m.searchForOpponent(entry, mode)

	m.logger.Info("player queued",
		zap.String("user_id", userID),
		zap.String("mode", string(mode)),
		zap.Int("rating", rating),
	)

	wait := position * 5
	if wait > 30 {
		wait = 30
	}
	return JoinResult{Queued: true, QueuePosition: position, EstimatedWaitTime: wait}, nil
}

// LeaveQueue removes the player from one mode's queue and cancels their
// search task. Idempotent: leaving a queue you are not in is a no-op.
func (m *Matchmaker) LeaveQueue(userID string, mode chess.Mode) {
	m.mu.Lock()
	m.removeLocked(mode, userID)
	m.mu.Unlock()
}

// LeaveAllQueues removes the player from every mode's queue. Used for the
// omitted-mode leave and for disconnect purges.
func (m *Matchmaker) LeaveAllQueues(userID string) {
	m.mu.Lock()
	for mode := range m.queues {
		m.removeLocked(mode, userID)
	}
	m.mu.Unlock()
}

// searchForOpponent re-scans the queue on a fixed interval with an expanding
// rating tolerance. It stops the moment its entry leaves the queue, whether
// by match, leave or disconnect.
func (m *Matchmaker) searchForOpponent(entry *Entry, mode chess.Mode) {
	ticker := time.NewTicker(searchInterval)
	defer ticker.Stop()

	tolerance := initialRange
	for {
		select {
		case <-entry.cancel:
			return
		case <-ticker.C:
			m.mu.Lock()
			if !m.containsLocked(mode, entry.UserID) {
				m.mu.Unlock()
				return
			}
			opponent := m.takeCandidateLocked(mode, entry, tolerance)
			if opponent == nil {
				m.mu.Unlock()
				tolerance += rangeStep
				if tolerance > maxRange {
					tolerance = maxRange
				}
				continue
			}
			m.removeLocked(mode, entry.UserID)
			m.mu.Unlock()

			m.startGame(mode, entry, opponent)
			return
		}
	}
}

// startGame assigns colors randomly and hands the pair to the session
// manager, which announces gameStart to both players.
func (m *Matchmaker) startGame(mode chess.Mode, a, b *Entry) {
	white, black := a, b
	if rand.Intn(2) == 0 {
		white, black = b, a
	}

	_, err := m.games.CreateSession(mode,
		game.Player{ID: white.UserID, Username: white.Username, Rating: white.Rating},
		game.Player{ID: black.UserID, Username: black.Username, Rating: black.Rating},
	)
	if err != nil {
		m.logger.Error("failed to create session for matched pair",
			zap.String("mode", string(mode)),
			zap.String("white_id", white.UserID),
			zap.String("black_id", black.UserID),
			zap.Error(err),
		)
	}
}

// takeCandidateLocked removes and returns the first waiting player within
// the rating tolerance. First candidate found wins, not the oldest entry.
func (m *Matchmaker) takeCandidateLocked(mode chess.Mode, entry *Entry, tolerance int) *Entry {
	for i, candidate := range m.queues[mode] {
		if candidate.UserID == entry.UserID {
			continue
		}
		diff := candidate.Rating - entry.Rating
		if diff < 0 {
			diff = -diff
		}
		if diff <= tolerance {
			m.queues[mode] = append(m.queues[mode][:i], m.queues[mode][i+1:]...)
			close(candidate.cancel)
			return candidate
		}
	}
	return nil
}

func (m *Matchmaker) removeLocked(mode chess.Mode, userID string) {
	queue := m.queues[mode]
	for i, candidate := range queue {
		if candidate.UserID == userID {
			m.queues[mode] = append(queue[:i], queue[i+1:]...)
			close(candidate.cancel)
			return
		}
	}
}

func (m *Matchmaker) containsLocked(mode chess.Mode, userID string) bool {
	for _, candidate := range m.queues[mode] {
		if candidate.UserID == userID {
			return true
		}
	}
	return false
}

func (m *Matchmaker) queuedAnywhereLocked(userID string) bool {
	for mode := range m.queues {
		if m.containsLocked(mode, userID) {
			return true
		}
	}
	return false
}
