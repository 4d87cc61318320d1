package matchmaking

import (
	"context"
	"log"
	"time"

	"github.com/blitzwager/backend/internal/session"
)

// StartSweepWorker runs SweepOnce until ctx is cancelled.
func (q *Queue) StartSweepWorker(ctx context.Context) {
	interval := time.Duration(q.cfg.QueueSweepSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[QUEUE] Starting queue sweep worker (every %v)", interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[QUEUE] Sweep worker stopped")
			return
		case <-ticker.C:
			q.SweepOnce(ctx)
		}
	}
}

// SweepOnce expires stale rows and pairs any stranded same-bucket waiters.
// Expiry is advisory (Join and claimOpponent already filter on expires_at);
// pairing covers the window where two players raced into an empty bucket and
// neither saw the other's row.
func (q *Queue) SweepOnce(ctx context.Context) {
	q.expireStaleEntries(ctx)
	q.pairWaiting(ctx)
}

// pairWaiting matches queued rows two at a time per bucket. Both rows are
// claimed in one transaction with SKIP LOCKED, so a concurrent Join or a
// second sweep can never consume the same row.
func (q *Queue) pairWaiting(ctx context.Context) {
	type bucket struct {
		GameType string  `db:"game_type"`
		Wager    float64 `db:"wager"`
	}
	var buckets []bucket
	err := q.db.SelectContext(ctx, &buckets, `
		SELECT game_type, wager
		FROM matchmaking_queue
		WHERE status = 'queued' AND expires_at > NOW()
		GROUP BY game_type, wager
		HAVING COUNT(*) >= 2
	`)
	if err != nil {
		log.Printf("[QUEUE] Failed to scan waiting buckets: %v", err)
		return
	}

	for _, b := range buckets {
		for q.pairBucket(ctx, b.GameType, b.Wager) {
		}
	}
}

func (q *Queue) pairBucket(ctx context.Context, gameType string, wager float64) bool {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return false
	}
	defer tx.Rollback()

	var rows []claimedRow
	err = tx.Select(&rows, `
		SELECT id, player_id, wager
		FROM matchmaking_queue
		WHERE game_type = $1
		  AND wager = $2
		  AND status = 'queued'
		  AND expires_at > NOW()
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 2
	`, gameType, wager)
	if err != nil {
		log.Printf("[QUEUE] Failed to claim waiting pair: %v", err)
		return false
	}
	if len(rows) < 2 {
		return false
	}

	if _, err := tx.Exec(`UPDATE matchmaking_queue SET status='matched', matched_at=NOW() WHERE id IN ($1,$2)`, rows[0].ID, rows[1].ID); err != nil {
		log.Printf("[QUEUE] Failed to mark waiting pair matched: %v", err)
		return false
	}
	if err := tx.Commit(); err != nil {
		return false
	}

	_, err = q.createMatch(ctx, rows[0].PlayerID, rows[1].PlayerID, gameType, wager, []int{rows[0].ID, rows[1].ID})
	return err == nil
}

func (q *Queue) expireStaleEntries(ctx context.Context) {
	type expiredRow struct {
		PlayerID int     `db:"player_id"`
		GameType string  `db:"game_type"`
		Wager    float64 `db:"wager"`
	}

	var expired []expiredRow
	err := q.db.SelectContext(ctx, &expired, `
		UPDATE matchmaking_queue
		SET status = 'expired'
		WHERE status = 'queued'
		  AND expires_at <= NOW()
		RETURNING player_id, game_type, wager
	`)
	if err != nil {
		log.Printf("[QUEUE] Failed to expire stale entries: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	log.Printf("[QUEUE] Expired %d stale queue entries", len(expired))
	seen := make(map[string]bool)
	for _, row := range expired {
		q.sessions.PublishEvent(session.Event{
			Type:    session.EventSearchExpired,
			Targets: []int{row.PlayerID},
			Data:    map[string]interface{}{"wager": row.Wager, "game_type": row.GameType},
		})
		key := depthKey(row.GameType, row.Wager)
		if !seen[key] {
			seen[key] = true
			q.updateDepthHint(ctx, row.GameType, row.Wager)
		}
	}
}
