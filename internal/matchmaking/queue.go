package matchmaking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/blitzwager/backend/internal/config"
	"github.com/blitzwager/backend/internal/ledger"
	"github.com/blitzwager/backend/internal/session"
)

var (
	ErrInvalidWager      = errors.New("wager is not an allowed tier")
	ErrAlreadyInSession  = errors.New("player already has an active session")
	ErrDifferentBucket   = errors.New("player is already searching at a different wager")
	ErrInsufficientFunds = errors.New("insufficient balance for this wager")
)

// Queue pairs players on exact (game type, wager) buckets. Pairing happens
// synchronously inside Join: the joiner claims the oldest waiting opponent
// with FOR UPDATE SKIP LOCKED, so two concurrent joiners can never claim the
// same row.
type Queue struct {
	db       *sqlx.DB
	rdb      *redis.Client
	cfg      *config.Config
	sessions *session.Manager
}

func NewQueue(db *sqlx.DB, rdb *redis.Client, cfg *config.Config, sessions *session.Manager) *Queue {
	return &Queue{db: db, rdb: rdb, cfg: cfg, sessions: sessions}
}

// JoinResult reports what Join did: an immediate match, or a queue insert.
type JoinResult struct {
	Matched       bool   `json:"matched"`
	InQueue       bool   `json:"in_queue"`
	QueuePosition int    `json:"queue_position,omitempty"`
	SessionToken  string `json:"session_id,omitempty"`
	DBSessionID   int    `json:"db_session_id,omitempty"`
	Side          string `json:"side,omitempty"`
	OpponentID    int    `json:"opponent_id,omitempty"`
}

// StatusResult describes the player's current queue standing.
type StatusResult struct {
	InQueue    bool    `json:"in_queue"`
	Wager      float64 `json:"wager,omitempty"`
	GameType   string  `json:"game_type,omitempty"`
	Position   int     `json:"position,omitempty"`
	QueueDepth int64   `json:"queue_depth,omitempty"`
}

type claimedRow struct {
	ID       int     `db:"id"`
	PlayerID int     `db:"player_id"`
	Wager    float64 `db:"wager"`
}

// Join enters the player into the (gameType, wager) bucket, pairing them
// immediately when an opponent is waiting. Re-joining the same bucket is
// idempotent.
func (q *Queue) Join(ctx context.Context, playerID int, gameType string, wager float64) (*JoinResult, error) {
	if !q.cfg.ValidWager(wager) {
		return nil, fmt.Errorf("%w: %.2f", ErrInvalidWager, wager)
	}

	if _, busy := q.sessions.ActiveSessionForPlayer(ctx, playerID); busy {
		return nil, ErrAlreadyInSession
	}

	privileged, err := q.isPrivileged(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if !privileged {
		balance, err := ledger.PlayerBalance(q.db, playerID)
		if err != nil {
			return nil, err
		}
		if balance < wager {
			return nil, fmt.Errorf("%w: balance %.2f, wager %.2f", ErrInsufficientFunds, balance, wager)
		}
	}

	// A live row in the same bucket makes the join idempotent; a live row in
	// a different bucket is a conflict the caller must cancel first.
	var existing struct {
		GameType string  `db:"game_type"`
		Wager    float64 `db:"wager"`
	}
	err = q.db.GetContext(ctx, &existing, `SELECT game_type, wager FROM matchmaking_queue WHERE player_id=$1 AND status='queued' AND expires_at > NOW()`, playerID)
	if err == nil {
		if existing.GameType == gameType && existing.Wager == wager {
			pos, _ := q.position(ctx, playerID, gameType, wager)
			return &JoinResult{InQueue: true, QueuePosition: pos}, nil
		}
		return nil, ErrDifferentBucket
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	opponent, err := q.claimOpponent(ctx, playerID, gameType, wager)
	if err != nil {
		return nil, err
	}
	if opponent != nil {
		return q.buildMatch(ctx, playerID, opponent, gameType, wager)
	}

	// No opponent waiting: insert our own row and report the position.
	expiresAt := time.Now().Add(time.Duration(q.cfg.QueueTTLMinutes) * time.Minute)
	if _, err := q.db.ExecContext(ctx, `INSERT INTO matchmaking_queue (player_id, game_type, wager, status, expires_at) VALUES ($1, $2, $3, 'queued', $4)`,
		playerID, gameType, wager, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to insert queue row: %w", err)
	}
	q.updateDepthHint(ctx, gameType, wager)

	pos, _ := q.position(ctx, playerID, gameType, wager)
	log.Printf("[QUEUE] Player %d queued: type=%s wager=%.2f position=%d", playerID, gameType, wager, pos)
	return &JoinResult{InQueue: true, QueuePosition: pos}, nil
}

// claimOpponent marks the oldest waiting entry in the bucket as matched and
// returns it, or nil when the bucket is empty. SKIP LOCKED keeps concurrent
// joiners from claiming the same row.
func (q *Queue) claimOpponent(ctx context.Context, playerID int, gameType string, wager float64) (*claimedRow, error) {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var rows []claimedRow
	err = tx.Select(&rows, `
		SELECT id, player_id, wager
		FROM matchmaking_queue
		WHERE game_type = $1
		  AND wager = $2
		  AND status = 'queued'
		  AND player_id != $3
		  AND expires_at > NOW()
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, gameType, wager, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	claimed := rows[0]
	if _, err := tx.Exec(`UPDATE matchmaking_queue SET status='matched', matched_at=NOW() WHERE id=$1`, claimed.ID); err != nil {
		return nil, fmt.Errorf("failed to claim queue row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &claimed, nil
}

// buildMatch creates and activates the session for a claimed pair.
func (q *Queue) buildMatch(ctx context.Context, joinerID int, opponent *claimedRow, gameType string, wager float64) (*JoinResult, error) {
	sess, err := q.createMatch(ctx, joinerID, opponent.PlayerID, gameType, wager, []int{opponent.ID})
	if err != nil {
		return nil, err
	}

	joinerSide := "white"
	if joinerID == sess.BlackPlayerID {
		joinerSide = "black"
	}
	return &JoinResult{
		Matched:      true,
		SessionToken: sess.Token,
		DBSessionID:  sess.ID,
		Side:         joinerSide,
		OpponentID:   opponent.PlayerID,
	}, nil
}

// createMatch pairs two players: coin flip for sides, session insert, wager
// lock, match_found fanout. rowIDs are the queue rows consumed by the match;
// when the wager lock fails they go back to 'queued' and the session row is
// removed, leaving the world as if the pairing never happened.
func (q *Queue) createMatch(ctx context.Context, playerA, playerB int, gameType string, wager float64, rowIDs []int) (*session.Session, error) {
	whiteID, blackID := playerA, playerB
	if rand.Intn(2) == 0 {
		whiteID, blackID = blackID, whiteID
	}

	sess, err := q.sessions.CreateSession(ctx, gameType, wager, whiteID, blackID)
	if err != nil {
		q.restoreQueueRows(ctx, rowIDs)
		return nil, err
	}

	for _, rowID := range rowIDs {
		if _, err := q.db.ExecContext(ctx, `UPDATE matchmaking_queue SET matched_session_id=$1 WHERE id=$2`, sess.ID, rowID); err != nil {
			log.Printf("[QUEUE] Failed to stamp matched session on row %d: %v", rowID, err)
		}
	}

	if _, err := q.sessions.Activate(ctx, sess.ID); err != nil {
		log.Printf("[QUEUE] Wager lock failed for session %d, unwinding match: %v", sess.ID, err)
		q.unwindMatch(ctx, sess.ID, rowIDs)
		return nil, err
	}

	q.updateDepthHint(ctx, gameType, wager)
	q.publishMatchFound(sess, playerA, playerB)

	log.Printf("[QUEUE] Match created: session=%d white=%d black=%d wager=%.2f", sess.ID, whiteID, blackID, wager)
	return sess, nil
}

func (q *Queue) publishMatchFound(sess *session.Session, joinerID, opponentID int) {
	now := time.Now()
	snap := sess.Snapshot(now)
	for _, pid := range []int{joinerID, opponentID} {
		side := "white"
		if pid == sess.BlackPlayerID {
			side = "black"
		}
		q.sessions.PublishEvent(session.Event{
			Type:         session.EventMatchFound,
			SessionToken: sess.Token,
			DBSessionID:  sess.ID,
			Targets:      []int{pid},
			Data: map[string]interface{}{
				"session_id":    sess.Token,
				"db_session_id": sess.ID,
				"side":          side,
				"position":      sess.Position,
				"wager":         sess.Wager,
				"clock":         snap,
			},
		})
	}
}

// unwindMatch reverses a pairing whose wager lock failed.
func (q *Queue) unwindMatch(ctx context.Context, sessionID int, rowIDs []int) {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM game_sessions WHERE id=$1 AND wager_locked_at IS NULL`, sessionID); err != nil {
		log.Printf("[QUEUE] Failed to delete unlocked session %d: %v", sessionID, err)
	}
	q.sessions.Discard(sessionID)
	q.restoreQueueRows(ctx, rowIDs)
}

func (q *Queue) restoreQueueRows(ctx context.Context, rowIDs []int) {
	for _, rowID := range rowIDs {
		if _, err := q.db.ExecContext(ctx, `UPDATE matchmaking_queue SET status='queued', matched_at=NULL, matched_session_id=NULL WHERE id=$1`, rowID); err != nil {
			log.Printf("[QUEUE] Failed to restore queue row %d: %v", rowID, err)
		}
	}
}

// Cancel withdraws the player's live queue row. Rows already matched stay
// matched; cancelling then reports InQueue false without error.
func (q *Queue) Cancel(ctx context.Context, playerID int) (*StatusResult, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE matchmaking_queue SET status='cancelled' WHERE player_id=$1 AND status='queued'`, playerID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("[QUEUE] Player %d cancelled search", playerID)
	}
	return &StatusResult{InQueue: false}, nil
}

// Status reports the player's queue standing and the bucket depth hint.
func (q *Queue) Status(ctx context.Context, playerID int) (*StatusResult, error) {
	var row struct {
		GameType string  `db:"game_type"`
		Wager    float64 `db:"wager"`
	}
	err := q.db.GetContext(ctx, &row, `SELECT game_type, wager FROM matchmaking_queue WHERE player_id=$1 AND status='queued' AND expires_at > NOW()`, playerID)
	if err == sql.ErrNoRows {
		return &StatusResult{InQueue: false}, nil
	}
	if err != nil {
		return nil, err
	}

	pos, err := q.position(ctx, playerID, row.GameType, row.Wager)
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		InQueue:    true,
		Wager:      row.Wager,
		GameType:   row.GameType,
		Position:   pos,
		QueueDepth: q.depthHint(ctx, row.GameType, row.Wager),
	}, nil
}

// position is 1-based within the bucket, FIFO by created_at.
func (q *Queue) position(ctx context.Context, playerID int, gameType string, wager float64) (int, error) {
	var pos int
	err := q.db.GetContext(ctx, &pos, `
		SELECT COUNT(*)
		FROM matchmaking_queue
		WHERE game_type = $1
		  AND wager = $2
		  AND status = 'queued'
		  AND expires_at > NOW()
		  AND created_at <= (SELECT created_at FROM matchmaking_queue WHERE player_id = $3 AND status = 'queued')
	`, gameType, wager, playerID)
	return pos, err
}

func (q *Queue) isPrivileged(ctx context.Context, playerID int) (bool, error) {
	var privileged bool
	if err := q.db.GetContext(ctx, &privileged, `SELECT is_privileged FROM players WHERE id=$1`, playerID); err != nil {
		return false, fmt.Errorf("failed to load player %d: %w", playerID, err)
	}
	return privileged, nil
}

func depthKey(gameType string, wager float64) string {
	return fmt.Sprintf("queue:depth:%s:%.2f", gameType, wager)
}

// updateDepthHint recounts the bucket into Redis. Advisory only.
func (q *Queue) updateDepthHint(ctx context.Context, gameType string, wager float64) {
	if q.rdb == nil {
		return
	}
	var depth int64
	if err := q.db.GetContext(ctx, &depth, `SELECT COUNT(*) FROM matchmaking_queue WHERE game_type=$1 AND wager=$2 AND status='queued' AND expires_at > NOW()`, gameType, wager); err != nil {
		return
	}
	if err := q.rdb.Set(ctx, depthKey(gameType, wager), depth, time.Hour).Err(); err != nil {
		log.Printf("[QUEUE] Failed to update depth hint: %v", err)
	}
}

func (q *Queue) depthHint(ctx context.Context, gameType string, wager float64) int64 {
	if q.rdb == nil {
		return 0
	}
	depth, err := q.rdb.Get(ctx, depthKey(gameType, wager)).Int64()
	if err != nil {
		return 0
	}
	return depth
}
