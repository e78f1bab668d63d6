// Package game owns the authoritative state of every in-progress game.
package game

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pixelchess/chess-server/internal/color"
	"github.com/pixelchess/chess-server/pkg/chess"
	"github.com/pixelchess/chess-server/pkg/events"
	"github.com/pixelchess/chess-server/pkg/messages"
)

// Status is the lifecycle state of a session.
type Status string

// A session is ongoing until it is finalized, exactly once.
const (
	StatusOngoing  Status = "ongoing"
	StatusFinished Status = "finished"
)

const clockTickInterval = 100 * time.Millisecond

// Player identifies one participant and the rating captured at match time.
type Player struct {
	ID       string
	Username string
	Rating   int
}

// Broadcaster delivers an outbound message to a user's live connection, if
// any. Implemented by the connection gateway.
type Broadcaster interface {
	Send(userID string, msg messages.OutboundMessage)
}

// RatingService applies the rating and stat changes of one finished game.
// winnerID is empty for draws. Implemented by the rating updater.
type RatingService interface {
	ApplyResult(ctx context.Context, mode chess.Mode, whiteID, blackID, winnerID string) error
}

// Session is the authoritative state of a single game. Every mutating
// operation serializes on the session mutex; outbound events for a game are
// emitted under that mutex so participants observe them in finalization
// order.
type Session struct {
	ID   uuid.UUID
	Mode chess.Mode

	rules *chess.Rules
	clock *chess.Clock

	moves []string // SAN, append-only
	turn  color.Color

	white Player
	black Player

	status        Status
	drawOfferFrom string
	reason        chess.Termination
	winnerID      string

	finalized bool
	done      chan struct{}

	mu sync.Mutex

	broadcaster Broadcaster
	ratings     RatingService
	publisher   *events.Publisher
	logger      *zap.Logger
}

// finishRecord captures a finalized outcome for work that must happen after
// the session mutex is released (rating update, eviction).
type finishRecord struct {
	reason   chess.Termination
	winnerID string
}

// Participants returns the two player ids, white first.
func (s *Session) Participants() (string, string) {
	return s.white.ID, s.black.ID
}

// SubmitMove validates, applies and broadcasts a move by userID.
func (s *Session) SubmitMove(userID, move string) error {
	s.mu.Lock()

	if s.status != StatusOngoing {
		s.mu.Unlock()
		return ErrNotOngoing
	}

	mover := s.colorOf(userID)
	if mover == "" {
		s.mu.Unlock()
		return ErrNotAParticipant
	}
	if mover != s.turn {
		s.mu.Unlock()
		return ErrOutOfTurn
	}

	// The mover's flag may have fallen between ticks. The move loses to the
	// clock: finalize a timeout instead of applying it.
	if s.clock.Remaining(mover) <= 0 {
		rec := s.finalizeLocked(chess.TerminationTimeout, s.playerOf(mover.Opp()).ID)
		s.mu.Unlock()
		s.settle(rec)
		return nil
	}

	result, err := s.rules.ApplyMove(move)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	snap := s.clock.OnMove(mover)
	s.moves = append(s.moves, result.SAN)
	s.turn = result.Turn // recomputed from the position, never toggled
	s.drawOfferFrom = ""

	if result.Terminal {
		winnerID := ""
		if !result.Reason.IsDraw() {
			winnerID = s.playerOf(result.Winner).ID
		}
		s.broadcastLocked(messages.EventMoveMade, s.moveMadePayload(userID, result, snap))
		rec := s.finalizeLocked(result.Reason, winnerID)
		s.mu.Unlock()
		s.settle(rec)
		return nil
	}

	s.broadcastLocked(messages.EventMoveMade, s.moveMadePayload(userID, result, snap))
	s.mu.Unlock()
	return nil
}

// Resign ends the game in favor of the resigner's opponent.
func (s *Session) Resign(userID string) error {
	s.mu.Lock()

	if s.status != StatusOngoing {
		s.mu.Unlock()
		return ErrNotOngoing
	}
	resigner := s.colorOf(userID)
	if resigner == "" {
		s.mu.Unlock()
		return ErrNotAParticipant
	}

	s.rules.Resign(resigner)
	rec := s.finalizeLocked(chess.TerminationResignation, s.playerOf(resigner.Opp()).ID)
	s.mu.Unlock()
	s.settle(rec)
	return nil
}

// OfferDraw records a pending draw offer and notifies the opponent. A later
// offer overwrites a pending one (last offer wins).
func (s *Session) OfferDraw(userID string) error {
	s.mu.Lock()

	if s.status != StatusOngoing {
		s.mu.Unlock()
		return ErrNotOngoing
	}
	offerer := s.colorOf(userID)
	if offerer == "" {
		s.mu.Unlock()
		return ErrNotAParticipant
	}

	s.drawOfferFrom = userID
	opponent := s.playerOf(offerer.Opp()).ID
	s.sendLocked(opponent, messages.EventDrawOffered, messages.DrawOfferedPayload{From: userID})
	s.mu.Unlock()
	return nil
}

// RespondToDraw accepts or declines the opponent's pending offer. Accepting
// ends the game by agreement with no winner; declining clears the offer and
// notifies the offerer.
func (s *Session) RespondToDraw(userID string, accept bool) error {
	s.mu.Lock()

	if s.status != StatusOngoing {
		s.mu.Unlock()
		return ErrNotOngoing
	}
	if s.colorOf(userID) == "" {
		s.mu.Unlock()
		return ErrNotAParticipant
	}
	if s.drawOfferFrom == "" || s.drawOfferFrom == userID {
		s.mu.Unlock()
		return ErrNoDrawOffer
	}

	offerer := s.drawOfferFrom
	s.drawOfferFrom = ""

	if !accept {
		s.sendLocked(offerer, messages.EventDrawDeclined, struct{}{})
		s.mu.Unlock()
		return nil
	}

	s.rules.AgreeDraw()
	rec := s.finalizeLocked(chess.TerminationDrawAgreement, "")
	s.mu.Unlock()
	s.settle(rec)
	return nil
}

// HandleTimeout ends the game against the exhausted color. Invoked by the
// clock loop, never by client request. Safe to race with any other
// termination path: exactly one wins.
func (s *Session) HandleTimeout(exhausted color.Color) {
	s.mu.Lock()

	if s.status != StatusOngoing {
		s.mu.Unlock()
		return
	}

	rec := s.finalizeLocked(chess.TerminationTimeout, s.playerOf(exhausted.Opp()).ID)
	s.mu.Unlock()
	s.settle(rec)
}

// Snapshot returns the reconnect projection of the game for a participant.
func (s *Session) Snapshot(userID string) (messages.GameSnapshotPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	viewer := s.colorOf(userID)
	if viewer == "" {
		return messages.GameSnapshotPayload{}, ErrAccessDenied
	}

	snap := s.clock.GetSnapshot()
	return messages.GameSnapshotPayload{
		GameID:     s.ID.String(),
		Mode:       string(s.Mode),
		FEN:        s.rules.FEN(),
		Status:     string(s.status),
		Moves:      append([]string(nil), s.moves...),
		White:      s.playerPayload(color.White, snap),
		Black:      s.playerPayload(color.Black, snap),
		Winner:     s.winnerID,
		YourColor:  string(viewer),
		IsYourTurn: s.status == StatusOngoing && s.turn == viewer,
		IsCheck:    s.rules.InCheck(),
		TimeRemaining: messages.TimeRemainingPayload{
			White: snap.White,
			Black: snap.Black,
		},
	}, nil
}

// Summary is the active-games listing entry for a participant.
func (s *Session) Summary(userID string) messages.GameSummaryPayload {
	s.mu.Lock()
	defer s.mu.Unlock()

	viewer := s.colorOf(userID)
	opponent := s.playerOf(viewer.Opp())
	return messages.GameSummaryPayload{
		GameID:    s.ID.String(),
		Mode:      string(s.Mode),
		Opponent:  opponent.Username,
		YourColor: string(viewer),
		YourTurn:  s.status == StatusOngoing && s.turn == viewer,
	}
}

// runClock drives the 100ms tick loop: stream clock updates, detect
// exhaustion, stop on finalize.
func (s *Session) runClock() {
	ticker := time.NewTicker(clockTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			snap, exhausted := s.clock.Tick()

			payload := messages.TimeRemainingPayload{White: snap.White, Black: snap.Black}
			s.broadcaster.Send(s.white.ID, messages.OutboundMessage{
				Event:   messages.EventTimeUpdate,
				Payload: payload,
			})
			s.broadcaster.Send(s.black.ID, messages.OutboundMessage{
				Event:   messages.EventTimeUpdate,
				Payload: payload,
			})

			if exhausted != "" {
				s.HandleTimeout(exhausted)
				return
			}
		}
	}
}

// finalizeLocked transitions the session to finished. All termination paths
// converge here; the finalized guard makes the transition happen exactly
// once even when two paths race. Returns nil if another path already won.
func (s *Session) finalizeLocked(reason chess.Termination, winnerID string) *finishRecord {
	if s.finalized {
		return nil
	}
	s.finalized = true

	s.status = StatusFinished
	s.reason = reason
	s.winnerID = winnerID
	s.clock.Stop()
	close(s.done)

	s.broadcastLocked(messages.EventGameOver, messages.GameOverPayload{
		Winner:        winnerID,
		Reason:        string(reason),
		FinalPosition: s.rules.FEN(),
	})

	s.logger.Info("game finished",
		zap.String("game_id", s.ID.String()),
		zap.String("reason", string(reason)),
		zap.String("winner", winnerID),
	)

	return &finishRecord{reason: reason, winnerID: winnerID}
}

// settle performs the post-finalize work that must not run under the session
// mutex: the single rating update and the eviction event.
func (s *Session) settle(rec *finishRecord) {
	if rec == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	winnerID := rec.winnerID
	if rec.reason.IsDraw() {
		winnerID = ""
	}
	if err := s.ratings.ApplyResult(ctx, s.Mode, s.white.ID, s.black.ID, winnerID); err != nil {
		s.logger.Error("rating update failed",
			zap.String("game_id", s.ID.String()),
			zap.Error(err),
		)
	}

	s.publisher.Publish(events.Event{
		Type:   events.EventGameFinished,
		GameID: s.ID.String(),
		Payload: events.GameFinishedPayload{
			GameID:  s.ID.String(),
			WhiteID: s.white.ID,
			BlackID: s.black.ID,
		},
	})
}

func (s *Session) moveMadePayload(moverID string, result chess.MoveResult, snap chess.Snapshot) messages.MoveMadePayload {
	return messages.MoveMadePayload{
		Move:       result.SAN,
		FEN:        result.FEN,
		PlayerID:   moverID,
		MoveNumber: (len(s.moves) + 1) / 2,
		IsCheck:    result.Check,
		Turn:       string(s.turn),
		TimeRemaining: messages.TimeRemainingPayload{
			White: snap.White,
			Black: snap.Black,
		},
	}
}

func (s *Session) playerPayload(c color.Color, snap chess.Snapshot) messages.PlayerPayload {
	p := s.playerOf(c)
	remaining := snap.White
	if c == color.Black {
		remaining = snap.Black
	}
	return messages.PlayerPayload{
		ID:       p.ID,
		Username: p.Username,
		Rating:   p.Rating,
		Time:     remaining,
	}
}

func (s *Session) colorOf(userID string) color.Color {
	switch userID {
	case s.white.ID:
		return color.White
	case s.black.ID:
		return color.Black
	}
	return ""
}

func (s *Session) playerOf(c color.Color) Player {
	if c == color.White {
		return s.white
	}
	return s.black
}

func (s *Session) broadcastLocked(event string, payload interface{}) {
	msg := messages.OutboundMessage{Event: event, Payload: payload}
	s.broadcaster.Send(s.white.ID, msg)
	s.broadcaster.Send(s.black.ID, msg)
}

func (s *Session) sendLocked(userID, event string, payload interface{}) {
	s.broadcaster.Send(userID, messages.OutboundMessage{Event: event, Payload: payload})
}
