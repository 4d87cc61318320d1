package settle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/blitzwager/backend/internal/config"
	"github.com/blitzwager/backend/internal/ledger"
	"github.com/blitzwager/backend/internal/models"
)

// session statuses
const (
	StatusCreated  = "created"
	StatusActive   = "active"
	StatusFinished = "finished"
)

// settlement reasons
const (
	ReasonCheckmate  = "checkmate"
	ReasonStalemate  = "stalemate"
	ReasonDraw       = "draw"
	ReasonResign     = "resignation"
	ReasonTimeout    = "timeout"
	ReasonDisconnect = "disconnect"
	ReasonAbort      = "admin_abort"
	ReasonNoContest  = "no_contest"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotLockable     = errors.New("session status does not allow wager locking")
	ErrNotLocked       = errors.New("wager was never locked for this session")
)

// Engine moves funds between the participants of a session exactly once per
// settlement step, regardless of retries. Both RPCs derive idempotency from
// the session row's once-settable columns (wager_locked_at, settlement_id)
// under a row lock, with the wager_ledger unique constraint as backstop.
type Engine struct {
	db  *sqlx.DB
	cfg *config.Config
}

func NewEngine(db *sqlx.DB, cfg *config.Config) *Engine {
	return &Engine{db: db, cfg: cfg}
}

// LockResult reports the outcome of a LockWager call.
type LockResult struct {
	AlreadyLocked bool            `json:"already_locked"`
	Balances      map[int]float64 `json:"balances"` // player id -> balance after
}

// SettleResult reports the outcome of a SettleSession call.
type SettleResult struct {
	AlreadySettled bool            `json:"already_settled"`
	SettlementID   string          `json:"settlement_id"`
	CreditsUpdated bool            `json:"credits_updated"`
	Balances       map[int]float64 `json:"balances"`
}

// LockWager debits the wager from both participants into escrow and promotes
// the session to active. Safe to retry: a second call observes the stamped
// wager_locked_at and short-circuits.
func (e *Engine) LockWager(ctx context.Context, sessionID int) (*LockResult, error) {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	sess, err := lockSessionRow(tx, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.WagerLockedAt.Valid {
		balances, err := e.balances(sess.WhitePlayerID, sess.BlackPlayerID)
		if err != nil {
			return nil, err
		}
		log.Printf("[SETTLE] LockWager session=%d already locked at %v", sessionID, sess.WagerLockedAt.Time)
		return &LockResult{AlreadyLocked: true, Balances: balances}, nil
	}

	if sess.Status != StatusCreated {
		return nil, fmt.Errorf("%w: status=%s", ErrNotLockable, sess.Status)
	}

	escrowAcc, err := ledger.GetOrCreateAccount(e.db, ledger.AccountEscrow, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve escrow account: %w", err)
	}

	balances := make(map[int]float64, 2)
	for _, pid := range []int{sess.WhitePlayerID, sess.BlackPlayerID} {
		playerID := pid
		acc, err := ledger.GetOrCreateAccount(e.db, ledger.AccountPlayer, &playerID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve player account %d: %w", playerID, err)
		}

		privileged, err := e.isPrivileged(playerID)
		if err != nil {
			return nil, err
		}

		after, _, err := ledger.Transfer(tx, acc.ID, escrowAcc.ID, sess.Wager, privileged)
		if err != nil {
			return nil, err
		}
		if err := ledger.RecordEntry(tx, sessionID, playerID, ledger.EntryLock, sess.Wager, after, "Wager locked at session start"); err != nil {
			return nil, fmt.Errorf("failed to record lock entry: %w", err)
		}
		balances[playerID] = after
	}

	if _, err := tx.Exec(`UPDATE game_sessions SET wager_locked_at=NOW(), status=$1, clock_running=TRUE, last_tick=NOW(), updated_at=NOW() WHERE id=$2`, StatusActive, sessionID); err != nil {
		return nil, fmt.Errorf("failed to stamp wager lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit wager lock: %w", err)
	}

	log.Printf("[SETTLE] Wager locked: session=%d wager=%.2f players=[%d,%d]",
		sessionID, sess.Wager, sess.WhitePlayerID, sess.BlackPlayerID)
	return &LockResult{Balances: balances}, nil
}

// SettleSession finishes a session and pays out based on the outcome:
// decisive results credit the winner wager*PayoutFactor from escrow; draws
// and no-contest endings refund each locked wager in full. Safe to retry.
func (e *Engine) SettleSession(ctx context.Context, sessionID int, winnerID *int, reason string) (*SettleResult, error) {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	sess, err := lockSessionRow(tx, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.SettlementID.Valid {
		balances, err := e.balances(sess.WhitePlayerID, sess.BlackPlayerID)
		if err != nil {
			return nil, err
		}
		log.Printf("[SETTLE] SettleSession session=%d already settled (settlement=%s)", sessionID, sess.SettlementID.String)
		return &SettleResult{
			AlreadySettled: true,
			SettlementID:   sess.SettlementID.String,
			Balances:       balances,
		}, nil
	}

	if !sess.WagerLockedAt.Valid {
		return nil, ErrNotLocked
	}

	escrowAcc, err := ledger.GetOrCreateAccount(e.db, ledger.AccountEscrow, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve escrow account: %w", err)
	}
	houseAcc, err := ledger.GetOrCreateAccount(e.db, ledger.AccountHouse, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve house account: %w", err)
	}

	balances := make(map[int]float64, 2)
	creditsUpdated := false

	switch {
	case winnerID != nil:
		loserID := sess.BlackPlayerID
		if *winnerID == sess.BlackPlayerID {
			loserID = sess.WhitePlayerID
		} else if *winnerID != sess.WhitePlayerID {
			return nil, fmt.Errorf("winner %d is not a participant of session %d", *winnerID, sessionID)
		}

		payout := sess.Wager * e.cfg.PayoutFactor
		margin := sess.Wager*2 - payout
		if margin < 0 {
			return nil, fmt.Errorf("payout factor %.2f exceeds pot for session %d", e.cfg.PayoutFactor, sessionID)
		}

		winAcc, err := ledger.GetOrCreateAccount(e.db, ledger.AccountPlayer, winnerID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve winner account: %w", err)
		}

		_, winAfter, err := ledger.Transfer(tx, escrowAcc.ID, winAcc.ID, payout, false)
		if err != nil {
			return nil, fmt.Errorf("failed to transfer payout: %w", err)
		}
		if margin > 0 {
			if _, _, err := ledger.Transfer(tx, escrowAcc.ID, houseAcc.ID, margin, false); err != nil {
				return nil, fmt.Errorf("failed to transfer house margin: %w", err)
			}
		}

		if err := ledger.RecordEntry(tx, sessionID, *winnerID, ledger.EntryPayout, payout, winAfter, "Winner payout"); err != nil {
			return nil, fmt.Errorf("failed to record winner payout: %w", err)
		}
		loserBalance, err := playerBalanceTx(tx, loserID)
		if err != nil {
			return nil, err
		}
		// Zero-amount loser row for audit completeness.
		if err := ledger.RecordEntry(tx, sessionID, loserID, ledger.EntryPayout, 0, loserBalance, "Loser payout (none)"); err != nil {
			return nil, fmt.Errorf("failed to record loser payout: %w", err)
		}

		balances[*winnerID] = winAfter
		balances[loserID] = loserBalance
		creditsUpdated = true

		if _, err := tx.Exec(`UPDATE players SET total_games_won = total_games_won + 1, total_winnings = total_winnings + $1 WHERE id = $2`, payout, *winnerID); err != nil {
			return nil, fmt.Errorf("failed to update winner stats: %w", err)
		}

	default:
		// Draw or no-contest: refund each locked wager in full. The house
		// takes margin only on decisive results.
		entryType := ledger.EntryDrawRefund
		desc := "Draw - wager refunded"
		if reason == ReasonNoContest || reason == ReasonAbort {
			entryType = ledger.EntryNoContestRefund
			desc = "No contest - wager refunded"
		}
		for _, pid := range []int{sess.WhitePlayerID, sess.BlackPlayerID} {
			playerID := pid
			acc, err := ledger.GetOrCreateAccount(e.db, ledger.AccountPlayer, &playerID)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve player account %d: %w", playerID, err)
			}
			_, after, err := ledger.Transfer(tx, escrowAcc.ID, acc.ID, sess.Wager, false)
			if err != nil {
				return nil, fmt.Errorf("failed to refund player %d: %w", playerID, err)
			}
			if err := ledger.RecordEntry(tx, sessionID, playerID, entryType, sess.Wager, after, desc); err != nil {
				return nil, fmt.Errorf("failed to record refund: %w", err)
			}
			balances[playerID] = after
		}
	}

	settlementID := uuid.NewString()
	var winnerCol sql.NullInt64
	if winnerID != nil {
		winnerCol = sql.NullInt64{Int64: int64(*winnerID), Valid: true}
	}
	if _, err := tx.Exec(`UPDATE game_sessions SET status=$1, end_reason=$2, winner_id=$3, settlement_id=$4, clock_running=FALSE, updated_at=NOW() WHERE id=$5`,
		StatusFinished, reason, winnerCol, settlementID, sessionID); err != nil {
		return nil, fmt.Errorf("failed to finish session: %w", err)
	}
	if _, err := tx.Exec(`UPDATE players SET total_games_played = total_games_played + 1, last_active = NOW() WHERE id IN ($1,$2)`, sess.WhitePlayerID, sess.BlackPlayerID); err != nil {
		return nil, fmt.Errorf("failed to update player stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	log.Printf("[SETTLE] Session settled: session=%d settlement=%s reason=%s winner=%v credits_updated=%v",
		sessionID, settlementID, reason, winnerID, creditsUpdated)
	return &SettleResult{
		SettlementID:   settlementID,
		CreditsUpdated: creditsUpdated,
		Balances:       balances,
	}, nil
}

// lockSessionRow selects the session FOR UPDATE so that concurrent settlement
// attempts serialize on the row.
func lockSessionRow(tx *sqlx.Tx, sessionID int) (*models.GameSession, error) {
	var sess models.GameSession
	err := tx.Get(&sess, `SELECT id, session_token, game_type, white_player_id, black_player_id, wager, position, side_to_move, white_ms, black_ms, clock_running, last_tick, move_count, status, end_reason, winner_id, wager_locked_at, settlement_id, created_at, updated_at FROM game_sessions WHERE id=$1 FOR UPDATE`, sessionID)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func playerBalanceTx(tx *sqlx.Tx, playerID int) (float64, error) {
	var balance float64
	err := tx.Get(&balance, `SELECT balance FROM accounts WHERE account_type=$1 AND owner_player_id=$2`, ledger.AccountPlayer, playerID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

func (e *Engine) balances(playerIDs ...int) (map[int]float64, error) {
	out := make(map[int]float64, len(playerIDs))
	for _, pid := range playerIDs {
		playerID := pid
		b, err := ledger.PlayerBalance(e.db, playerID)
		if err != nil {
			return nil, err
		}
		out[playerID] = b
	}
	return out, nil
}

func (e *Engine) isPrivileged(playerID int) (bool, error) {
	var privileged bool
	if err := e.db.Get(&privileged, `SELECT is_privileged FROM players WHERE id=$1`, playerID); err != nil {
		return false, fmt.Errorf("failed to load player %d: %w", playerID, err)
	}
	return privileged, nil
}
