package chess

import (
	"errors"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/pixelchess/chess-server/internal/color"
)

// ErrIllegalMove is returned when a move cannot be played in the current
// position. The position is left unchanged.
var ErrIllegalMove = errors.New("illegal move")

// Termination names why a game ended.
type Termination string

// All the ways a game can end.
const (
	TerminationCheckmate            Termination = "checkmate"
	TerminationStalemate            Termination = "stalemate"
	TerminationRepetition           Termination = "repetition"
	TerminationInsufficientMaterial Termination = "insufficient_material"
	TerminationDraw                 Termination = "draw"
	TerminationTimeout              Termination = "timeout"
	TerminationResignation          Termination = "resignation"
	TerminationDrawAgreement        Termination = "draw_agreement"
)

// IsDraw reports whether the termination carries no winner.
func (t Termination) IsDraw() bool {
	switch t {
	case TerminationStalemate, TerminationRepetition,
		TerminationInsufficientMaterial, TerminationDraw,
		TerminationDrawAgreement:
		return true
	}
	return false
}

// MoveResult describes the position after a successfully applied move.
type MoveResult struct {
	SAN  string
	UCI  string
	FEN  string
	Turn color.Color

	// Check reports whether the move put the opponent in check.
	Check bool

	// Terminal is set when the move ended the game; Reason and Winner
	// carry the verdict (Winner is empty on draws).
	Terminal bool
	Reason   Termination
	Winner   color.Color
}

// Rules wraps the external move-generation engine behind the operations the
// session manager needs: apply a move against the authoritative position and
// report legality, check and terminal status.
type Rules struct {
	game *nchess.Game
}

// NewRules starts a rules instance at the standard starting position.
func NewRules() *Rules {
	return &Rules{game: nchess.NewGame()}
}

// FEN returns the authoritative position encoding.
func (r *Rules) FEN() string {
	return r.game.FEN()
}

// Turn returns the side to move, derived from the position.
func (r *Rules) Turn() color.Color {
	return fromEngineColor(r.game.Position().Turn())
}

// InCheck reports whether the side to move is currently in check.
func (r *Rules) InCheck() bool {
	moves := r.game.Moves()
	if len(moves) == 0 {
		return false
	}
	return moves[len(moves)-1].HasTag(nchess.Check)
}

// ApplyMove validates and plays a move given in UCI or algebraic notation.
// An illegal or unparseable move returns ErrIllegalMove with no state change.
func (r *Rules) ApplyMove(notation string) (MoveResult, error) {
	raw := strings.TrimSpace(notation)
	if raw == "" {
		return MoveResult{}, ErrIllegalMove
	}

	pos := r.game.Position()

	if move, err := (nchess.UCINotation{}).Decode(pos, strings.ToLower(raw)); err == nil {
		if err := r.game.Move(move, nil); err != nil {
			return MoveResult{}, ErrIllegalMove
		}
	} else if err := r.game.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err != nil {
		return MoveResult{}, ErrIllegalMove
	}

	moves := r.game.Moves()
	played := moves[len(moves)-1]

	// Threefold repetition ends the game without requiring a claim.
	if r.game.Outcome() == nchess.NoOutcome {
		for _, method := range r.game.EligibleDraws() {
			if method == nchess.ThreefoldRepetition {
				_ = r.game.Draw(nchess.ThreefoldRepetition)
				break
			}
		}
	}

	result := MoveResult{
		SAN:   nchess.AlgebraicNotation{}.Encode(pos, played),
		UCI:   played.String(),
		FEN:   r.game.FEN(),
		Turn:  r.Turn(),
		Check: played.HasTag(nchess.Check),
	}

	if outcome := r.game.Outcome(); outcome != nchess.NoOutcome {
		result.Terminal = true
		result.Reason = terminationFromMethod(r.game.Method())
		switch outcome {
		case nchess.WhiteWon:
			result.Winner = color.White
		case nchess.BlackWon:
			result.Winner = color.Black
		}
	}

	return result, nil
}

// Resign records a resignation by the given color in the engine.
func (r *Rules) Resign(c color.Color) {
	if c == color.White {
		r.game.Resign(nchess.White)
	} else {
		r.game.Resign(nchess.Black)
	}
}

// AgreeDraw records a draw by agreement in the engine.
func (r *Rules) AgreeDraw() {
	_ = r.game.Draw(nchess.DrawOffer)
}

func fromEngineColor(c nchess.Color) color.Color {
	if c == nchess.White {
		return color.White
	}
	return color.Black
}

func terminationFromMethod(method nchess.Method) Termination {
	switch method {
	case nchess.Checkmate:
		return TerminationCheckmate
	case nchess.Stalemate:
		return TerminationStalemate
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		return TerminationRepetition
	case nchess.InsufficientMaterial:
		return TerminationInsufficientMaterial
	default:
		return TerminationDraw
	}
}
