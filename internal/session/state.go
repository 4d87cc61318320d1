package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/blitzwager/backend/internal/rules"
	"github.com/blitzwager/backend/internal/settle"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotParticipant  = errors.New("player is not a participant of this session")
	ErrNotActive       = errors.New("session is not active")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrFlagFallen      = errors.New("flag has fallen")
	ErrFlagNotFallen   = errors.New("flag has not fallen")
)

// Session is the in-memory authoritative state of one game. Mutation happens
// under mu; the manager is the only writer.
type Session struct {
	ID            int
	Token         string
	GameType      string
	WhitePlayerID int
	BlackPlayerID int
	Wager         float64
	Position      string
	SideToMove    string
	WhiteMs       int64
	BlackMs       int64
	ClockRunning  bool
	LastTick      time.Time
	MoveCount     int
	Status        string
	EndReason     string
	WinnerID      *int

	connected      map[int]bool
	disconnectedAt map[int]time.Time

	mu sync.RWMutex
}

// sideOf returns the side playerID plays, or "" for non-participants.
// Callers hold s.mu.
func (s *Session) sideOf(playerID int) string {
	switch playerID {
	case s.WhitePlayerID:
		return rules.SideWhite
	case s.BlackPlayerID:
		return rules.SideBlack
	}
	return ""
}

func (s *Session) playerOnSide(side string) int {
	if side == rules.SideWhite {
		return s.WhitePlayerID
	}
	return s.BlackPlayerID
}

func (s *Session) snapshotLocked(now time.Time) Snapshot {
	return SnapshotAt(s.WhiteMs, s.BlackMs, s.SideToMove, s.ClockRunning, s.LastTick, now)
}

// Snapshot derives the current clock view.
func (s *Session) Snapshot(now time.Time) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(now)
}

func (s *Session) finished() bool {
	return s.Status == settle.StatusFinished
}

// EndState describes a terminal session to callers and event consumers.
type EndState struct {
	SessionID      int     `json:"db_session_id"`
	Token          string  `json:"session_id"`
	Reason         string  `json:"reason"`
	WinnerID       *int    `json:"winner_id"`
	WinnerSide     *string `json:"winner_side"`
	Wager          float64 `json:"wager"`
	CreditsUpdated bool    `json:"credits_updated"`
}

// SyncState is the full authoritative snapshot returned by RequestSync and
// pushed after every applied move.
type SyncState struct {
	SessionID int       `json:"db_session_id"`
	Token     string    `json:"session_id"`
	GameType  string    `json:"game_type"`
	Wager     float64   `json:"wager"`
	Position  string    `json:"position"`
	YourSide  string    `json:"your_side,omitempty"`
	MoveCount int       `json:"move_count"`
	Status    string    `json:"status"`
	Clock     Snapshot  `json:"clock"`
	End       *EndState `json:"end,omitempty"`
}

// MoveResult is returned by ApplyMove.
type MoveResult struct {
	Move  string    `json:"move"`
	State SyncState `json:"state"`
	End   *EndState `json:"end,omitempty"`
}

// redisSessionState is the hot-state payload persisted to Redis after every
// mutation so another node can serve a sync without the DB.
type redisSessionState struct {
	ID            int       `json:"id"`
	Token         string    `json:"token"`
	GameType      string    `json:"game_type"`
	WhitePlayerID int       `json:"white_player_id"`
	BlackPlayerID int       `json:"black_player_id"`
	Wager         float64   `json:"wager"`
	Position      string    `json:"position"`
	SideToMove    string    `json:"side_to_move"`
	WhiteMs       int64     `json:"white_ms"`
	BlackMs       int64     `json:"black_ms"`
	ClockRunning  bool      `json:"clock_running"`
	LastTick      time.Time `json:"last_tick"`
	MoveCount     int       `json:"move_count"`
	Status        string    `json:"status"`
	EndReason     string    `json:"end_reason"`
	WinnerID      *int      `json:"winner_id"`
}

// generateToken generates a secure random token
func generateToken(length int) string {
	bytes := make([]byte, length)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
