package repository

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pixelchess/chess-server/pkg/chess"
)

// InMemoryUserRepository is an in-memory implementation of UserRepository,
// used by tests and storeless runs.
type InMemoryUserRepository struct {
	users  map[string]*User
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository(logger *zap.Logger) *InMemoryUserRepository {
	return &InMemoryUserRepository{
		users:  make(map[string]*User),
		logger: logger,
	}
}

// SaveUser inserts or replaces a record.
func (r *InMemoryUserRepository) SaveUser(user *User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users[user.ID] = user
}

// GetUser retrieves a user by ID
func (r *InMemoryUserRepository) GetUser(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}

	copied := *user
	copied.Ratings = make(map[chess.Mode]int, len(user.Ratings))
	for mode, rating := range user.Ratings {
		copied.Ratings[mode] = rating
	}

	return &copied, nil
}

// UpdateGameResult atomically applies a rating change and a result counter.
func (r *InMemoryUserRepository) UpdateGameResult(
	_ context.Context,
	id string,
	mode chess.Mode,
	newRating int,
	outcome Outcome,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}

	if user.Ratings == nil {
		user.Ratings = make(map[chess.Mode]int)
	}
	user.Ratings[mode] = newRating

	switch outcome {
	case OutcomeWin:
		user.Wins++
	case OutcomeLoss:
		user.Losses++
	case OutcomeDraw:
		user.Draws++
	}

	return nil
}
