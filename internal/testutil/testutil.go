package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/blitzwager/backend/internal/config"
	"github.com/blitzwager/backend/internal/migrations"
)

// PostgresDB connects to the database named by TEST_DATABASE_URL, applies
// migrations and truncates all tables. Tests that need Postgres skip when
// the variable is unset so the rest of the suite stays runnable anywhere.
func PostgresDB(t *testing.T) *sqlx.DB {
	t.Helper()

	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping Postgres-backed test")
	}

	if err := migrations.RunMigrationsFrom(databaseURL, migrationsSource(t)); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	db.MustExec(`TRUNCATE players, accounts, game_sessions, matchmaking_queue, wager_ledger, game_moves, admin_accounts, admin_audit_log RESTART IDENTITY CASCADE`)
	return db
}

// migrationsSource locates the repo's migrations directory relative to this
// file, so gated tests work from any package directory.
func migrationsSource(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot locate testutil source file")
	}
	dir := filepath.Join(filepath.Dir(file), "..", "..", "migrations")
	abs, err := filepath.Abs(dir)
	if err != nil {
		t.Fatalf("cannot resolve migrations dir: %v", err)
	}
	return "file://" + abs
}

// Redis starts an in-process miniredis and returns a client bound to it.
func Redis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

// Config returns a config with test-friendly defaults.
func Config() *config.Config {
	return &config.Config{
		Environment:            "test",
		WagerTiers:             []float64{100, 250, 500, 1000},
		PayoutFactor:           1.8,
		InitialClockMs:         300000,
		MoveIncrementMs:        2000,
		QueueTTLMinutes:        10,
		QueueSweepSeconds:      60,
		DisconnectGraceSeconds: 120,
		DisconnectPollSeconds:  10,
		JWTSecret:              "test-secret",
	}
}

// CreatePlayer inserts a player row with a fresh identity and returns its id.
func CreatePlayer(t *testing.T, db *sqlx.DB, displayName string, privileged bool) int {
	t.Helper()
	var id int
	err := db.QueryRowx(`INSERT INTO players (identity_id, display_name, is_privileged) VALUES ($1, $2, $3) RETURNING id`,
		uuid.NewString(), displayName, privileged).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create player: %v", err)
	}
	return id
}

// FundPlayer sets the player's account balance, creating the row if needed.
func FundPlayer(t *testing.T, db *sqlx.DB, playerID int, balance float64) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO accounts (account_type, owner_player_id, balance) VALUES ('player', $1, $2) ON CONFLICT DO NOTHING`, playerID, balance); err != nil {
		t.Fatalf("failed to fund player: %v", err)
	}
	if _, err := db.Exec(`UPDATE accounts SET balance=$1, updated_at=NOW() WHERE account_type='player' AND owner_player_id=$2`, balance, playerID); err != nil {
		t.Fatalf("failed to set player balance: %v", err)
	}
}
