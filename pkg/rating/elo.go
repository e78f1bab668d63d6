// Package rating recalculates Elo ratings when a game ends.
package rating

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/pixelchess/chess-server/pkg/chess"
	"github.com/pixelchess/chess-server/pkg/repository"
)

// KFactors is the maximum rating swing per game, tuned per mode.
var KFactors = map[chess.Mode]int{
	chess.ModeBullet: 40,
	chess.ModeBlitz:  32,
	chess.ModeRapid:  24,
}

// ExpectedScore is the logistic Elo expectation of the player rated r
// against an opponent rated opp.
func ExpectedScore(r, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-r)/400))
}

// NextRating applies one game result: score is 1 for a win, 0.5 for a draw,
// 0 for a loss.
func NextRating(r, opp int, score float64, k int) int {
	return int(math.Round(float64(r) + float64(k)*(score-ExpectedScore(r, opp))))
}

// Updater persists rating changes and win/loss/draw counters through the
// user store.
type Updater struct {
	users  repository.UserRepository
	logger *zap.Logger
}

// NewUpdater creates a rating updater backed by the given user store.
func NewUpdater(users repository.UserRepository, logger *zap.Logger) *Updater {
	return &Updater{users: users, logger: logger}
}

// ApplyResult recomputes both participants' ratings for the game's mode and
// persists them together with the result counters. winnerID is empty for a
// draw. Callers must invoke this exactly once per finished game.
func (u *Updater) ApplyResult(ctx context.Context, mode chess.Mode, whiteID, blackID, winnerID string) error {
	white, err := u.users.GetUser(ctx, whiteID)
	if err != nil {
		return fmt.Errorf("load white player: %w", err)
	}
	black, err := u.users.GetUser(ctx, blackID)
	if err != nil {
		return fmt.Errorf("load black player: %w", err)
	}

	whiteScore := 0.5
	whiteOutcome, blackOutcome := repository.OutcomeDraw, repository.OutcomeDraw
	switch winnerID {
	case whiteID:
		whiteScore = 1
		whiteOutcome, blackOutcome = repository.OutcomeWin, repository.OutcomeLoss
	case blackID:
		whiteScore = 0
		whiteOutcome, blackOutcome = repository.OutcomeLoss, repository.OutcomeWin
	}

	k := KFactors[mode]
	whiteRating := white.Rating(mode)
	blackRating := black.Rating(mode)

	newWhite := NextRating(whiteRating, blackRating, whiteScore, k)
	newBlack := NextRating(blackRating, whiteRating, 1-whiteScore, k)

	if err := u.users.UpdateGameResult(ctx, whiteID, mode, newWhite, whiteOutcome); err != nil {
		return fmt.Errorf("persist white result: %w", err)
	}
	if err := u.users.UpdateGameResult(ctx, blackID, mode, newBlack, blackOutcome); err != nil {
		return fmt.Errorf("persist black result: %w", err)
	}

	u.logger.Info("ratings updated",
		zap.String("mode", string(mode)),
		zap.String("white_id", whiteID),
		zap.Int("white_rating", newWhite),
		zap.String("black_id", blackID),
		zap.Int("black_rating", newBlack),
	)

	return nil
}
