// Package chess defines the game entities: modes, the per-game clock and the
// rules adapter over the move-generation engine.
package chess

import (
	"fmt"
	"sync"
	"time"

	"github.com/pixelchess/chess-server/internal/color"
)

// Clock manages the chess clock for both players. Remaining time is always
// derived from wall-clock deltas since the last reference point, never from
// counting ticks, so delayed ticks cannot desynchronize it from reality.
type Clock struct {
	whiteMs int64
	blackMs int64

	incrementMs int64

	active   color.Color
	lastTick time.Time
	running  bool

	mutex sync.Mutex
}

// Snapshot is the remaining time of both players in milliseconds.
type Snapshot struct {
	White int64
	Black int64
}

// NewClock creates a clock for the given time control. White starts active.
func NewClock(tc TimeControl) *Clock {
	return &Clock{
		whiteMs:     tc.InitialMs,
		blackMs:     tc.InitialMs,
		incrementMs: tc.IncrementMs,
		active:      color.White,
	}
}

// Start sets the reference timestamp and begins charging the active color.
func (c *Clock) Start() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.running {
		return
	}
	c.lastTick = time.Now()
	c.running = true
}

// Stop freezes the clock after charging the elapsed time.
func (c *Clock) Stop() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.running {
		return
	}
	c.chargeLocked()
	c.running = false
}

// Tick charges the elapsed wall-clock time to the active color and reports
// the new remaining times. The second return value names the exhausted color,
// or "" while the active side still has time. Once a side is exhausted the
// clock stops charging.
func (c *Clock) Tick() (Snapshot, color.Color) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.running {
		return Snapshot{White: c.whiteMs, Black: c.blackMs}, ""
	}

	c.chargeLocked()

	snap := Snapshot{White: c.whiteMs, Black: c.blackMs}
	if c.remainingLocked(c.active) <= 0 {
		c.running = false
		return snap, c.active
	}

	return snap, ""
}

// OnMove charges the elapsed time to the mover, adds the increment, switches
// the active color and resets the reference timestamp.
func (c *Clock) OnMove(mover color.Color) Snapshot {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.running {
		c.chargeLocked()
	}

	if c.remainingLocked(mover) > 0 {
		if mover == color.White {
			c.whiteMs += c.incrementMs
		} else {
			c.blackMs += c.incrementMs
		}
	}

	c.active = mover.Opp()
	c.lastTick = time.Now()

	return Snapshot{White: c.whiteMs, Black: c.blackMs}
}

// Remaining returns the live remaining time for a color, accounting for the
// time elapsed since the last reference point when that color is active.
func (c *Clock) Remaining(col color.Color) int64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	remaining := c.remainingLocked(col)
	if c.running && c.active == col {
		remaining -= time.Since(c.lastTick).Milliseconds()
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// GetSnapshot returns the live remaining times for transmission.
func (c *Clock) GetSnapshot() Snapshot {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	snap := Snapshot{White: c.whiteMs, Black: c.blackMs}
	if c.running {
		elapsed := time.Since(c.lastTick).Milliseconds()
		if c.active == color.White {
			snap.White -= elapsed
		} else {
			snap.Black -= elapsed
		}
	}
	if snap.White < 0 {
		snap.White = 0
	}
	if snap.Black < 0 {
		snap.Black = 0
	}
	return snap
}

// Active returns the color currently being charged.
func (c *Clock) Active() color.Color {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.active
}

// chargeLocked charges the time elapsed since lastTick to the active color,
// clamped at zero, and moves the reference point forward.
func (c *Clock) chargeLocked() {
	elapsed := time.Since(c.lastTick).Milliseconds()
	c.lastTick = time.Now()

	if c.active == color.White {
		c.whiteMs -= elapsed
		if c.whiteMs < 0 {
			c.whiteMs = 0
		}
	} else {
		c.blackMs -= elapsed
		if c.blackMs < 0 {
			c.blackMs = 0
		}
	}
}

func (c *Clock) remainingLocked(col color.Color) int64 {
	if col == color.White {
		return c.whiteMs
	}
	return c.blackMs
}

// FormatClockTime formats a duration in milliseconds to a user-friendly string (e.g., "1:30")
func FormatClockTime(timeMs int64) string {
	if timeMs < 0 {
		timeMs = 0
	}

	totalSeconds := timeMs / 1000
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60

	// For times less than 10 seconds, show decimal
	if timeMs < 10000 {
		tenths := (timeMs % 1000) / 100
		return fmt.Sprintf("%d.%d", totalSeconds, tenths)
	}

	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
