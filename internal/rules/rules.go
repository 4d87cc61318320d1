package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sides of a session. Stored on the session row and echoed in every clock
// snapshot.
const (
	SideWhite = "white"
	SideBlack = "black"
)

// InitialPosition is the position new sessions start from.
const InitialPosition = "start"

var ErrIllegalMove = errors.New("illegal move")

// Verdict is the engine's read of a position after a move.
type Verdict struct {
	Terminal bool   `json:"terminal"`
	Winner   string `json:"winner"` // SideWhite, SideBlack, or "" on draw
	Reason   string `json:"reason"` // "checkmate", "stalemate", "" while ongoing
}

// Engine validates moves and detects terminal positions. The session manager
// treats it as the single authority on legality; swapping in a full chess
// engine means implementing these two methods.
type Engine interface {
	// ApplyMove validates move for the side to act on position and returns
	// the resulting position. Returns ErrIllegalMove (possibly wrapped) when
	// the move is not playable.
	ApplyMove(position, sideToMove, move string) (string, error)
	// Evaluate reports whether position is terminal and for whom.
	Evaluate(position string) Verdict
}

// TokenEngine is a coordinate-notation engine: a position is the initial
// marker followed by the moves played, and a move is a from-square/to-square
// pair with an optional outcome suffix ("#" mate, "=" stalemate). It enforces
// notation and turn order but no piece rules, which is enough for the session
// layer and its tests; real deployments plug in a full engine.
type TokenEngine struct{}

var movePattern = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?[#=]?$`)

func NewTokenEngine() *TokenEngine {
	return &TokenEngine{}
}

func (e *TokenEngine) ApplyMove(position, sideToMove, move string) (string, error) {
	move = strings.TrimSpace(move)
	if !movePattern.MatchString(move) {
		return "", fmt.Errorf("%w: %q", ErrIllegalMove, move)
	}
	if v := e.Evaluate(position); v.Terminal {
		return "", fmt.Errorf("%w: game is over", ErrIllegalMove)
	}
	if sideToMove != SideWhite && sideToMove != SideBlack {
		return "", fmt.Errorf("%w: unknown side %q", ErrIllegalMove, sideToMove)
	}
	return position + " " + move, nil
}

func (e *TokenEngine) Evaluate(position string) Verdict {
	moves := Moves(position)
	if len(moves) == 0 {
		return Verdict{}
	}
	last := moves[len(moves)-1]
	switch {
	case strings.HasSuffix(last, "#"):
		// The mover delivered mate; odd move counts mean white just moved.
		winner := SideWhite
		if len(moves)%2 == 0 {
			winner = SideBlack
		}
		return Verdict{Terminal: true, Winner: winner, Reason: "checkmate"}
	case strings.HasSuffix(last, "="):
		return Verdict{Terminal: true, Reason: "stalemate"}
	}
	return Verdict{}
}

// Moves splits a position back into its move tokens.
func Moves(position string) []string {
	fields := strings.Fields(position)
	if len(fields) > 0 && fields[0] == InitialPosition {
		fields = fields[1:]
	}
	return fields
}

// Opponent returns the other side.
func Opponent(side string) string {
	if side == SideWhite {
		return SideBlack
	}
	return SideWhite
}
