package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzwager/backend/internal/ledger"
	"github.com/blitzwager/backend/internal/testutil"
)

func TestGetOrCreateAccountIsStable(t *testing.T) {
	db := testutil.PostgresDB(t)
	playerID := testutil.CreatePlayer(t, db, "Ann", false)

	first, err := ledger.GetOrCreateAccount(db, ledger.AccountPlayer, &playerID)
	require.NoError(t, err)
	second, err := ledger.GetOrCreateAccount(db, ledger.AccountPlayer, &playerID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	escrow1, err := ledger.GetOrCreateAccount(db, ledger.AccountEscrow, nil)
	require.NoError(t, err)
	escrow2, err := ledger.GetOrCreateAccount(db, ledger.AccountEscrow, nil)
	require.NoError(t, err)
	assert.Equal(t, escrow1.ID, escrow2.ID)
	assert.False(t, escrow1.OwnerPlayerID.Valid)
}

func TestCreditAndBalance(t *testing.T) {
	db := testutil.PostgresDB(t)
	playerID := testutil.CreatePlayer(t, db, "Ben", false)

	balance, err := ledger.Credit(db, playerID, 500, "Deposit")
	require.NoError(t, err)
	assert.Equal(t, 500.0, balance)

	balance, err = ledger.PlayerBalance(db, playerID)
	require.NoError(t, err)
	assert.Equal(t, 500.0, balance)

	_, err = ledger.Credit(db, playerID, -10, "bad")
	assert.Error(t, err)
}

func TestTransferMovesExactAmount(t *testing.T) {
	db := testutil.PostgresDB(t)
	playerID := testutil.CreatePlayer(t, db, "Caz", false)
	testutil.FundPlayer(t, db, playerID, 300)

	acc, err := ledger.GetOrCreateAccount(db, ledger.AccountPlayer, &playerID)
	require.NoError(t, err)
	escrow, err := ledger.GetOrCreateAccount(db, ledger.AccountEscrow, nil)
	require.NoError(t, err)

	tx, err := db.Beginx()
	require.NoError(t, err)
	defer tx.Rollback()

	debitAfter, creditAfter, err := ledger.Transfer(tx, acc.ID, escrow.ID, 100, false)
	require.NoError(t, err)
	assert.Equal(t, 200.0, debitAfter)
	assert.Equal(t, 100.0, creditAfter)
	require.NoError(t, tx.Commit())

	balance, err := ledger.PlayerBalance(db, playerID)
	require.NoError(t, err)
	assert.Equal(t, 200.0, balance)
}

func TestTransferRejectsOverdraft(t *testing.T) {
	db := testutil.PostgresDB(t)
	playerID := testutil.CreatePlayer(t, db, "Dee", false)
	testutil.FundPlayer(t, db, playerID, 50)

	acc, err := ledger.GetOrCreateAccount(db, ledger.AccountPlayer, &playerID)
	require.NoError(t, err)
	escrow, err := ledger.GetOrCreateAccount(db, ledger.AccountEscrow, nil)
	require.NoError(t, err)

	tx, err := db.Beginx()
	require.NoError(t, err)
	defer tx.Rollback()

	_, _, err = ledger.Transfer(tx, acc.ID, escrow.ID, 100, false)
	var insufficient *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, playerID, insufficient.PlayerID)
	assert.Equal(t, 50.0, insufficient.Shortfall())
}

func TestPrivilegedTransferMayOverdraft(t *testing.T) {
	db := testutil.PostgresDB(t)
	playerID := testutil.CreatePlayer(t, db, "Eve", true)

	acc, err := ledger.GetOrCreateAccount(db, ledger.AccountPlayer, &playerID)
	require.NoError(t, err)
	escrow, err := ledger.GetOrCreateAccount(db, ledger.AccountEscrow, nil)
	require.NoError(t, err)

	tx, err := db.Beginx()
	require.NoError(t, err)
	defer tx.Rollback()

	debitAfter, _, err := ledger.Transfer(tx, acc.ID, escrow.ID, 100, true)
	require.NoError(t, err)
	assert.Equal(t, -100.0, debitAfter)
}

func TestLedgerUniqueBackstop(t *testing.T) {
	db := testutil.PostgresDB(t)
	white := testutil.CreatePlayer(t, db, "Fay", false)
	black := testutil.CreatePlayer(t, db, "Gil", false)

	var sessionID int
	err := db.QueryRowx(`INSERT INTO game_sessions (session_token, white_player_id, black_player_id, wager, white_ms, black_ms) VALUES ('session_test', $1, $2, 100, 300000, 300000) RETURNING id`, white, black).Scan(&sessionID)
	require.NoError(t, err)

	tx, err := db.Beginx()
	require.NoError(t, err)
	require.NoError(t, ledger.RecordEntry(tx, sessionID, white, ledger.EntryLock, 100, 0, "lock"))
	require.NoError(t, tx.Commit())

	tx, err = db.Beginx()
	require.NoError(t, err)
	defer tx.Rollback()
	err = ledger.RecordEntry(tx, sessionID, white, ledger.EntryLock, 100, 0, "lock again")
	require.Error(t, err)
	assert.True(t, ledger.IsUniqueViolation(err))
}
