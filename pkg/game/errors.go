package game

import "errors"

// Errors returned by session operations. The gateway maps these onto wire
// error events for the originating connection.
var (
	ErrSessionNotFound = errors.New("game not found")
	ErrNotOngoing      = errors.New("game is not ongoing")
	ErrNotAParticipant = errors.New("you are not a player in this game")
	ErrOutOfTurn       = errors.New("it's not your turn")
	ErrAccessDenied    = errors.New("access denied")
	ErrNoDrawOffer     = errors.New("no draw offer is pending")
)
