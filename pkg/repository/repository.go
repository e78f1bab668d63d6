// Package repository is the boundary to the external user-record store.
package repository

import (
	"context"
	"errors"

	"github.com/pixelchess/chess-server/pkg/chess"
)

// ErrUserNotFound is returned when no record exists for the requested id.
var ErrUserNotFound = errors.New("user not found")

// Outcome is a single user's result of a finished game.
type Outcome string

// Possible per-user game outcomes.
const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// User is the account record the core reads ratings from and writes results to.
type User struct {
	ID       string
	Username string
	Ratings  map[chess.Mode]int
	Wins     int
	Losses   int
	Draws    int
}

// Rating returns the user's rating for a mode, falling back to the default
// rating for users who have never played it.
func (u *User) Rating(mode chess.Mode) int {
	if r, ok := u.Ratings[mode]; ok {
		return r
	}
	return DefaultRating
}

// DefaultRating is the rating assigned to fresh accounts.
const DefaultRating = 1200

// UserRepository exposes the two operations the core needs from the account
// store: read by id, and atomically persist one game result.
type UserRepository interface {
	// GetUser returns the record for id or ErrUserNotFound.
	GetUser(ctx context.Context, id string) (*User, error)

	// UpdateGameResult atomically writes the user's new rating for the mode
	// and increments the matching win/loss/draw counter.
	UpdateGameResult(ctx context.Context, id string, mode chess.Mode, newRating int, outcome Outcome) error
}
