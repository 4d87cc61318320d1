package admin

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/blitzwager/backend/internal/models"
)

// GetAccount retrieves an operator account by login
func GetAccount(db *sqlx.DB, login string) (*models.AdminAccount, error) {
	var account models.AdminAccount
	err := db.Get(&account, `SELECT id, login, display_name, token_hash, created_at, updated_at FROM admin_accounts WHERE login=$1`, login)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// VerifyToken checks the provided token against the stored bcrypt hash
func VerifyToken(hashedToken, plainToken string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedToken), []byte(plainToken)) == nil
}

// CreateAccount creates or refreshes an operator account (used for seeding)
func CreateAccount(db *sqlx.DB, login, displayName, plainToken string) error {
	hashedToken, err := bcrypt.GenerateFromPassword([]byte(plainToken), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash token: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO admin_accounts (login, display_name, token_hash, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (login) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			token_hash = EXCLUDED.token_hash,
			updated_at = NOW()
	`, login, displayName, string(hashedToken))
	return err
}

// Authenticate validates a login and token pair.
func Authenticate(db *sqlx.DB, login, token string) (*models.AdminAccount, error) {
	account, err := GetAccount(db, login)
	if err != nil {
		return nil, fmt.Errorf("unknown operator")
	}
	if !VerifyToken(account.TokenHash, token) {
		return nil, fmt.Errorf("invalid operator token")
	}
	return account, nil
}

// LogAction records an operator action in the audit log
func LogAction(db *sqlx.DB, login, action string, details map[string]interface{}, success bool) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		log.Printf("Failed to marshal audit details: %v", err)
		detailsJSON = []byte("{}")
	}

	_, err = db.Exec(`
		INSERT INTO admin_audit_log (admin_login, action, details, success, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, login, action, detailsJSON, success)
	if err != nil {
		log.Printf("Failed to log operator action: %v", err)
	}
	return err
}
