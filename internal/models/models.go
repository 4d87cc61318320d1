package models

import (
	"database/sql"
	"time"
)

// Player is the core-local projection of an externally owned identity.
// Rows are created lazily on the player's first session-related action and
// are never deleted; the balance itself lives in the accounts table.
type Player struct {
	ID               int            `db:"id" json:"id"`
	IdentityID       string         `db:"identity_id" json:"identity_id"`
	DisplayName      string         `db:"display_name" json:"display_name"`
	IsPrivileged     bool           `db:"is_privileged" json:"is_privileged"`
	TotalGamesPlayed int            `db:"total_games_played" json:"total_games_played"`
	TotalGamesWon    int            `db:"total_games_won" json:"total_games_won"`
	TotalWinnings    float64        `db:"total_winnings" json:"total_winnings"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	LastActive       sql.NullTime   `db:"last_active" json:"last_active,omitempty"`
	BlockReason      sql.NullString `db:"block_reason" json:"block_reason,omitempty"`
}

// Account holds a durable balance. Player accounts are owned; escrow and
// house accounts are system accounts with a NULL owner.
type Account struct {
	ID            int           `db:"id" json:"id"`
	AccountType   string        `db:"account_type" json:"account_type"`
	OwnerPlayerID sql.NullInt64 `db:"owner_player_id" json:"owner_player_id,omitempty"`
	Balance       float64       `db:"balance" json:"balance"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// GameSession is the central session row. wager_locked_at and settlement_id
// are each set at most once; status only moves forward
// (created -> active -> finished).
type GameSession struct {
	ID             int            `db:"id" json:"id"`
	SessionToken   string         `db:"session_token" json:"session_token"`
	GameType       string         `db:"game_type" json:"game_type"`
	WhitePlayerID  int            `db:"white_player_id" json:"white_player_id"`
	BlackPlayerID  int            `db:"black_player_id" json:"black_player_id"`
	Wager          float64        `db:"wager" json:"wager"`
	Position       string         `db:"position" json:"position"`
	SideToMove     string         `db:"side_to_move" json:"side_to_move"`
	WhiteMs        int64          `db:"white_ms" json:"white_ms"`
	BlackMs        int64          `db:"black_ms" json:"black_ms"`
	ClockRunning   bool           `db:"clock_running" json:"clock_running"`
	LastTick       time.Time      `db:"last_tick" json:"last_tick"`
	MoveCount      int            `db:"move_count" json:"move_count"`
	Status         string         `db:"status" json:"status"`
	EndReason      sql.NullString `db:"end_reason" json:"end_reason,omitempty"`
	WinnerID       sql.NullInt64  `db:"winner_id" json:"winner_id,omitempty"`
	WagerLockedAt  sql.NullTime   `db:"wager_locked_at" json:"wager_locked_at,omitempty"`
	SettlementID   sql.NullString `db:"settlement_id" json:"settlement_id,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// QueueRow is a matchmaking queue entry. A player holds at most one live row.
type QueueRow struct {
	ID               int           `db:"id" json:"id"`
	PlayerID         int           `db:"player_id" json:"player_id"`
	GameType         string        `db:"game_type" json:"game_type"`
	Wager            float64       `db:"wager" json:"wager"`
	Status           string        `db:"status" json:"status"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	ExpiresAt        time.Time     `db:"expires_at" json:"expires_at"`
	MatchedAt        sql.NullTime  `db:"matched_at" json:"matched_at,omitempty"`
	MatchedSessionID sql.NullInt64 `db:"matched_session_id" json:"matched_session_id,omitempty"`
}

// LedgerEntry is an append-only audit row tied to a session settlement step.
// The unique constraint on (session_id, player_id, entry_type) is the
// DB-enforced idempotency backstop for lock and payout.
type LedgerEntry struct {
	ID           int       `db:"id" json:"id"`
	SessionID    int       `db:"session_id" json:"session_id"`
	PlayerID     int       `db:"player_id" json:"player_id"`
	EntryType    string    `db:"entry_type" json:"entry_type"`
	Amount       float64   `db:"amount" json:"amount"`
	BalanceAfter float64   `db:"balance_after" json:"balance_after"`
	Description  string    `db:"description" json:"description,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// AdminAccount is an operator credential used for privileged actions
// (administrative abort, privileged-balance players).
type AdminAccount struct {
	ID          int       `db:"id" json:"id"`
	Login       string    `db:"login" json:"login"`
	DisplayName string    `db:"display_name" json:"display_name"`
	TokenHash   string    `db:"token_hash" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
