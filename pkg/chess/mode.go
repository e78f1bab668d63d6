package chess

import "fmt"

// Mode is a supported time-control mode.
type Mode string

// All the playable modes.
const (
	ModeRapid  Mode = "rapid"
	ModeBlitz  Mode = "blitz"
	ModeBullet Mode = "bullet"
)

// ParseMode validates a client-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeRapid, ModeBlitz, ModeBullet:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid game mode %q", s)
}

// TimeControl defines the time settings for a game
type TimeControl struct {
	InitialMs   int64 // Initial time in milliseconds
	IncrementMs int64 // Increment per move in milliseconds
}

// TimeControls maps each mode to its time control.
var TimeControls = map[Mode]TimeControl{
	ModeBullet: {InitialMs: 60_000, IncrementMs: 0},  // 1+0
	ModeBlitz:  {InitialMs: 300_000, IncrementMs: 0}, // 5+0
	ModeRapid:  {InitialMs: 600_000, IncrementMs: 0}, // 10+0
}
