package ledger

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/blitzwager/backend/internal/models"
)

// account types
const (
	AccountPlayer = "player"
	AccountEscrow = "escrow"
	AccountHouse  = "house"
)

// ledger entry types
const (
	EntryLock            = "LOCK"
	EntryPayout          = "PAYOUT"
	EntryDrawRefund      = "DRAW_REFUND"
	EntryNoContestRefund = "NO_CONTEST_REFUND"
)

// InsufficientFundsError reports which player is short and by how much.
type InsufficientFundsError struct {
	PlayerID  int
	Required  float64
	Available float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("player %d has insufficient funds: required %.2f, available %.2f (short %.2f)",
		e.PlayerID, e.Required, e.Available, e.Required-e.Available)
}

// Shortfall returns how much the player is missing.
func (e *InsufficientFundsError) Shortfall() float64 {
	return e.Required - e.Available
}

// GetOrCreateAccount returns the account for the given type and owner,
// creating it if missing. A nil ownerPlayerID addresses a system account.
func GetOrCreateAccount(db *sqlx.DB, accountType string, ownerPlayerID *int) (*models.Account, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}

	var a models.Account
	if ownerPlayerID == nil {
		if err := db.Get(&a, `SELECT id, account_type, owner_player_id, balance, created_at, updated_at FROM accounts WHERE account_type=$1 AND owner_player_id IS NULL`, accountType); err == nil {
			return &a, nil
		}
		if _, err := db.Exec(`INSERT INTO accounts (account_type, balance, created_at, updated_at) VALUES ($1, 0, NOW(), NOW()) ON CONFLICT DO NOTHING`, accountType); err != nil {
			return nil, err
		}
		if err := db.Get(&a, `SELECT id, account_type, owner_player_id, balance, created_at, updated_at FROM accounts WHERE account_type=$1 AND owner_player_id IS NULL`, accountType); err != nil {
			return nil, err
		}
		return &a, nil
	}

	if err := db.Get(&a, `SELECT id, account_type, owner_player_id, balance, created_at, updated_at FROM accounts WHERE account_type=$1 AND owner_player_id=$2`, accountType, *ownerPlayerID); err == nil {
		return &a, nil
	}
	if _, err := db.Exec(`INSERT INTO accounts (account_type, owner_player_id, balance, created_at, updated_at) VALUES ($1, $2, 0, NOW(), NOW()) ON CONFLICT DO NOTHING`, accountType, *ownerPlayerID); err != nil {
		return nil, err
	}
	if err := db.Get(&a, `SELECT id, account_type, owner_player_id, balance, created_at, updated_at FROM accounts WHERE account_type=$1 AND owner_player_id=$2`, accountType, *ownerPlayerID); err != nil {
		return nil, err
	}
	return &a, nil
}

// PlayerBalance returns the current spendable balance for a player,
// creating the account row on first touch.
func PlayerBalance(db *sqlx.DB, playerID int) (float64, error) {
	acc, err := GetOrCreateAccount(db, AccountPlayer, &playerID)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Credit increases a player's balance outside any session (the external
// balance-credit event: deposits, promotions). Runs in its own transaction.
func Credit(db *sqlx.DB, playerID int, amount float64, description string) (float64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive")
	}
	acc, err := GetOrCreateAccount(db, AccountPlayer, &playerID)
	if err != nil {
		return 0, err
	}

	var newBalance float64
	err = db.Get(&newBalance, `UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE id = $2 RETURNING balance`, amount, acc.ID)
	if err != nil {
		return 0, err
	}
	log.Printf("[LEDGER] Credit: player=%d amount=%.2f balance=%.2f (%s)", playerID, amount, newBalance, description)
	return newBalance, nil
}

// Transfer performs a single debit/credit between two accounts within an
// existing transaction. Both rows are locked FOR UPDATE; player accounts may
// not go negative unless privileged is set.
func Transfer(tx *sqlx.Tx, debitAccountID, creditAccountID int, amount float64, privileged bool) (debitAfter, creditAfter float64, err error) {
	if tx == nil {
		return 0, 0, fmt.Errorf("tx is nil")
	}
	if amount < 0 {
		return 0, 0, fmt.Errorf("transfer amount must not be negative")
	}

	// Lock both accounts in a stable order to avoid deadlocks between
	// concurrent transfers touching the same pair.
	var accounts []models.Account
	if err := tx.Select(&accounts, `SELECT id, account_type, owner_player_id, balance, created_at, updated_at FROM accounts WHERE id IN ($1,$2) ORDER BY id FOR UPDATE`, debitAccountID, creditAccountID); err != nil {
		return 0, 0, err
	}

	var debitAcc, creditAcc *models.Account
	for i := range accounts {
		if accounts[i].ID == debitAccountID {
			debitAcc = &accounts[i]
		}
		if accounts[i].ID == creditAccountID {
			creditAcc = &accounts[i]
		}
	}
	if debitAcc == nil || creditAcc == nil {
		return 0, 0, fmt.Errorf("account not found for transfer")
	}

	if debitAcc.AccountType == AccountPlayer && !privileged && debitAcc.Balance < amount {
		pid := 0
		if debitAcc.OwnerPlayerID.Valid {
			pid = int(debitAcc.OwnerPlayerID.Int64)
		}
		return 0, 0, &InsufficientFundsError{PlayerID: pid, Required: amount, Available: debitAcc.Balance}
	}

	debitAfter = debitAcc.Balance - amount
	creditAfter = creditAcc.Balance + amount

	if _, err := tx.Exec(`UPDATE accounts SET balance=$1, updated_at=NOW() WHERE id=$2`, debitAfter, debitAcc.ID); err != nil {
		return 0, 0, err
	}
	if _, err := tx.Exec(`UPDATE accounts SET balance=$1, updated_at=NOW() WHERE id=$2`, creditAfter, creditAcc.ID); err != nil {
		return 0, 0, err
	}

	return debitAfter, creditAfter, nil
}

// RecordEntry appends a wager_ledger audit row. The unique constraint on
// (session_id, player_id, entry_type) rejects a duplicate settlement step.
func RecordEntry(tx *sqlx.Tx, sessionID, playerID int, entryType string, amount, balanceAfter float64, description string) error {
	_, err := tx.Exec(`INSERT INTO wager_ledger (session_id, player_id, entry_type, amount, balance_after, description, created_at) VALUES ($1,$2,$3,$4,$5,$6,NOW())`,
		sessionID, playerID, entryType, amount, balanceAfter, description)
	return err
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, i.e. the idempotency backstop fired.
func IsUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
