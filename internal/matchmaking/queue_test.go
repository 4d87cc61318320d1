package matchmaking_test

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzwager/backend/internal/ledger"
	"github.com/blitzwager/backend/internal/matchmaking"
	"github.com/blitzwager/backend/internal/rules"
	"github.com/blitzwager/backend/internal/session"
	"github.com/blitzwager/backend/internal/settle"
	"github.com/blitzwager/backend/internal/testutil"
)

func newQueue(t *testing.T) (*matchmaking.Queue, *session.Manager, *sqlx.DB) {
	t.Helper()
	db := testutil.PostgresDB(t)
	rdb := testutil.Redis(t)
	cfg := testutil.Config()

	engine := settle.NewEngine(db, cfg)
	sessions := session.NewManager(db, rdb, cfg, rules.NewTokenEngine(), engine)
	return matchmaking.NewQueue(db, rdb, cfg, sessions), sessions, db
}

func fundedPlayer(t *testing.T, db *sqlx.DB, name string, balance float64) int {
	t.Helper()
	id := testutil.CreatePlayer(t, db, name, false)
	testutil.FundPlayer(t, db, id, balance)
	return id
}

func TestJoinRejectsInvalidWager(t *testing.T) {
	q, _, db := newQueue(t)
	p := fundedPlayer(t, db, "Alice", 1000)

	_, err := q.Join(context.Background(), p, "chess", 123.45)
	assert.ErrorIs(t, err, matchmaking.ErrInvalidWager)
}

func TestJoinRejectsInsufficientFunds(t *testing.T) {
	q, _, db := newQueue(t)
	p := fundedPlayer(t, db, "Alice", 50)

	_, err := q.Join(context.Background(), p, "chess", 100)
	assert.ErrorIs(t, err, matchmaking.ErrInsufficientFunds)
}

func TestFirstJoinerWaits(t *testing.T) {
	q, _, db := newQueue(t)
	p := fundedPlayer(t, db, "Alice", 1000)

	res, err := q.Join(context.Background(), p, "chess", 100)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.True(t, res.InQueue)
	assert.Equal(t, 1, res.QueuePosition)

	status, err := q.Status(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, status.InQueue)
	assert.Equal(t, 100.0, status.Wager)
}

func TestSecondJoinerMatches(t *testing.T) {
	q, sessions, db := newQueue(t)
	ctx := context.Background()
	alice := fundedPlayer(t, db, "Alice", 1000)
	bob := fundedPlayer(t, db, "Bob", 1000)

	_, err := q.Join(ctx, alice, "chess", 100)
	require.NoError(t, err)

	res, err := q.Join(ctx, bob, "chess", 100)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, alice, res.OpponentID)
	assert.NotEmpty(t, res.SessionToken)
	assert.Contains(t, []string{"white", "black"}, res.Side)

	// Match activation locked the wagers.
	sess, ok := sessions.ActiveSessionForPlayer(ctx, bob)
	require.True(t, ok)
	assert.Equal(t, res.DBSessionID, sess.ID)

	var status string
	require.NoError(t, db.Get(&status, `SELECT status FROM game_sessions WHERE id=$1`, res.DBSessionID))
	assert.Equal(t, settle.StatusActive, status)

	var queueStatus string
	require.NoError(t, db.Get(&queueStatus, `SELECT status FROM matchmaking_queue WHERE player_id=$1`, alice))
	assert.Equal(t, "matched", queueStatus)
}

func TestExactTierOnlyNoCrossBucketMatch(t *testing.T) {
	q, _, db := newQueue(t)
	ctx := context.Background()
	alice := fundedPlayer(t, db, "Alice", 1000)
	bob := fundedPlayer(t, db, "Bob", 1000)

	_, err := q.Join(ctx, alice, "chess", 100)
	require.NoError(t, err)

	res, err := q.Join(ctx, bob, "chess", 250)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.True(t, res.InQueue)
}

func TestRejoinSameBucketIsIdempotent(t *testing.T) {
	q, _, db := newQueue(t)
	ctx := context.Background()
	p := fundedPlayer(t, db, "Alice", 1000)

	_, err := q.Join(ctx, p, "chess", 100)
	require.NoError(t, err)
	res, err := q.Join(ctx, p, "chess", 100)
	require.NoError(t, err)
	assert.True(t, res.InQueue)

	var rows int
	require.NoError(t, db.Get(&rows, `SELECT COUNT(*) FROM matchmaking_queue WHERE player_id=$1`, p))
	assert.Equal(t, 1, rows)
}

func TestRejoinDifferentBucketRejected(t *testing.T) {
	q, _, db := newQueue(t)
	ctx := context.Background()
	p := fundedPlayer(t, db, "Alice", 1000)

	_, err := q.Join(ctx, p, "chess", 100)
	require.NoError(t, err)
	_, err = q.Join(ctx, p, "chess", 250)
	assert.ErrorIs(t, err, matchmaking.ErrDifferentBucket)
}

func TestJoinRejectedWhileInActiveSession(t *testing.T) {
	q, _, db := newQueue(t)
	ctx := context.Background()
	alice := fundedPlayer(t, db, "Alice", 1000)
	bob := fundedPlayer(t, db, "Bob", 1000)

	_, err := q.Join(ctx, alice, "chess", 100)
	require.NoError(t, err)
	_, err = q.Join(ctx, bob, "chess", 100)
	require.NoError(t, err)

	_, err = q.Join(ctx, alice, "chess", 100)
	assert.ErrorIs(t, err, matchmaking.ErrAlreadyInSession)
}

func TestCancelWithdrawsQueueRow(t *testing.T) {
	q, _, db := newQueue(t)
	ctx := context.Background()
	p := fundedPlayer(t, db, "Alice", 1000)

	_, err := q.Join(ctx, p, "chess", 100)
	require.NoError(t, err)

	res, err := q.Cancel(ctx, p)
	require.NoError(t, err)
	assert.False(t, res.InQueue)

	status, err := q.Status(ctx, p)
	require.NoError(t, err)
	assert.False(t, status.InQueue)

	// Cancelling again is a no-op, not an error.
	_, err = q.Cancel(ctx, p)
	assert.NoError(t, err)
}

func TestConcurrentJoinsPairExactlyOnce(t *testing.T) {
	q, _, db := newQueue(t)
	ctx := context.Background()
	alice := fundedPlayer(t, db, "Alice", 1000)
	bob := fundedPlayer(t, db, "Bob", 1000)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, pid := range []int{alice, bob} {
		playerID := pid
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Join(ctx, playerID, "chess", 100)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Never more than one pairing, whichever way the race went.
	var sessions int
	require.NoError(t, db.Get(&sessions, `SELECT COUNT(*) FROM game_sessions`))
	assert.LessOrEqual(t, sessions, 1)

	// If both raced past each other into the bucket, the sweep pairs them.
	q.SweepOnce(ctx)

	require.NoError(t, db.Get(&sessions, `SELECT COUNT(*) FROM game_sessions`))
	assert.Equal(t, 1, sessions)

	var queued int
	require.NoError(t, db.Get(&queued, `SELECT COUNT(*) FROM matchmaking_queue WHERE status='queued'`))
	assert.Equal(t, 0, queued)

	// One debit each, no double locks.
	for _, pid := range []int{alice, bob} {
		b, err := ledger.PlayerBalance(db, pid)
		require.NoError(t, err)
		assert.Equal(t, 900.0, b)
	}
}

func TestConcurrentClaimsOfSingleWaiter(t *testing.T) {
	q, _, db := newQueue(t)
	ctx := context.Background()
	alice := fundedPlayer(t, db, "Alice", 1000)
	bob := fundedPlayer(t, db, "Bob", 1000)
	carol := fundedPlayer(t, db, "Carol", 1000)

	_, err := q.Join(ctx, alice, "chess", 100)
	require.NoError(t, err)

	// Bob and Carol race to claim Alice's row; SKIP LOCKED lets exactly one
	// of them have it.
	results := make(chan *matchmaking.JoinResult, 2)
	var wg sync.WaitGroup
	for _, pid := range []int{bob, carol} {
		playerID := pid
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := q.Join(ctx, playerID, "chess", 100)
			if err == nil {
				results <- res
			}
		}()
	}
	wg.Wait()
	close(results)

	matched, waiting := 0, 0
	for res := range results {
		if res.Matched {
			matched++
			assert.Equal(t, alice, res.OpponentID)
		}
		if res.InQueue {
			waiting++
		}
	}
	assert.Equal(t, 1, matched)
	assert.Equal(t, 1, waiting)

	// Alice was consumed exactly once and debited exactly once.
	var sessions int
	require.NoError(t, db.Get(&sessions, `SELECT COUNT(*) FROM game_sessions`))
	assert.Equal(t, 1, sessions)
	b, err := ledger.PlayerBalance(db, alice)
	require.NoError(t, err)
	assert.Equal(t, 900.0, b)
}

func TestSweepPairsStrandedWaiters(t *testing.T) {
	q, sessions, db := newQueue(t)
	ctx := context.Background()
	alice := fundedPlayer(t, db, "Alice", 1000)
	bob := fundedPlayer(t, db, "Bob", 1000)

	// Two rows in the same bucket, as left behind by a symmetric join race.
	require.NoError(t, db.Get(new(int), `INSERT INTO matchmaking_queue (player_id, game_type, wager, status, expires_at) VALUES ($1, 'chess', 100, 'queued', NOW() + INTERVAL '10 minutes') RETURNING id`, alice))
	require.NoError(t, db.Get(new(int), `INSERT INTO matchmaking_queue (player_id, game_type, wager, status, expires_at) VALUES ($1, 'chess', 100, 'queued', NOW() + INTERVAL '10 minutes') RETURNING id`, bob))

	q.SweepOnce(ctx)

	sess, ok := sessions.ActiveSessionForPlayer(ctx, alice)
	require.True(t, ok)
	assert.ElementsMatch(t, []int{alice, bob}, []int{sess.WhitePlayerID, sess.BlackPlayerID})

	var queued int
	require.NoError(t, db.Get(&queued, `SELECT COUNT(*) FROM matchmaking_queue WHERE status='queued'`))
	assert.Equal(t, 0, queued)
}

func TestFailedWagerLockUnwindsMatch(t *testing.T) {
	q, _, db := newQueue(t)
	ctx := context.Background()
	alice := fundedPlayer(t, db, "Alice", 1000)
	bob := fundedPlayer(t, db, "Bob", 1000)

	_, err := q.Join(ctx, alice, "chess", 100)
	require.NoError(t, err)

	// Alice's balance drops between queuing and pairing, so the wager lock
	// inside Bob's join must fail and the pairing must unwind.
	testutil.FundPlayer(t, db, alice, 10)

	_, err = q.Join(ctx, bob, "chess", 100)
	require.Error(t, err)

	var sessions int
	require.NoError(t, db.Get(&sessions, `SELECT COUNT(*) FROM game_sessions`))
	assert.Equal(t, 0, sessions)

	var queueStatus string
	require.NoError(t, db.Get(&queueStatus, `SELECT status FROM matchmaking_queue WHERE player_id=$1`, alice))
	assert.Equal(t, "queued", queueStatus)

	// Bob can still match someone else afterwards.
	testutil.FundPlayer(t, db, alice, 1000)
	res, err := q.Join(ctx, bob, "chess", 100)
	require.NoError(t, err)
	assert.True(t, res.Matched)
}
