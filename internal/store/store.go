package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on events(user_id, occurred_at) for delta extraction
// 2 - Added events.band; split the profile LWW stamp into intent and tier
const currentSchemaVersion = 2

// Store provides durable storage for the sync core.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EraseUser removes every row belonging to a user: ledger, derived state,
// profile, and usage counters. This is the only path that deletes events;
// it exists for full-account erasure and nothing else calls it.
func (s *Store) EraseUser(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("erase user: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"events", "item_states", "profiles", "usage_ledger"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE user_id = ?", userID); err != nil {
			return fmt.Errorf("erase user: %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("erase user: %w", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}
	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
		version = 2
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the delta-extraction index for databases created before v1.
// New databases get an equivalent index from schema.sql; CREATE INDEX IF NOT
// EXISTS is a no-op there.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_user_occurred
		ON events(user_id, occurred_at)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// migrateToV2 adds the event band column and splits the single profile LWW
// stamp into independent intent and tier stamps. Databases created from the
// current schema.sql already have the columns; the ALTERs run only on older
// files, where both new stamps inherit the legacy combined stamp.
func migrateToV2(db *sql.DB) error {
	hasBand, err := columnExists(db, "events", "band")
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	if !hasBand {
		if _, err := db.Exec(`ALTER TABLE events ADD COLUMN band INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("migrate to v2: add events.band: %w", err)
		}
	}

	hasIntent, err := columnExists(db, "profiles", "intent_millis")
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	if hasIntent {
		return nil
	}
	stmts := []string{
		`ALTER TABLE profiles ADD COLUMN intent_millis INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE profiles ADD COLUMN intent_device TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE profiles ADD COLUMN tier_millis INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE profiles ADD COLUMN tier_device TEXT NOT NULL DEFAULT ''`,
		`UPDATE profiles SET intent_millis = updated_millis, intent_device = updated_device,
		                     tier_millis = updated_millis, tier_device = updated_device`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v2: split profile stamp: %w", err)
		}
	}
	return nil
}

// columnExists reports whether a table already carries a column, via
// PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// LastLogicalForDevice returns the highest logical millisecond this device
// has written into any mutable row. Used to resume the device clock after
// restart so issued timestamps never regress.
func (s *Store) LastLogicalForDevice(ctx context.Context, deviceID string) (int64, error) {
	var itemMax, intentMax, tierMax sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(updated_millis) FROM item_states WHERE updated_device = ?
	`, deviceID).Scan(&itemMax)
	if err != nil {
		return 0, fmt.Errorf("last logical from item_states: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT MAX(intent_millis) FROM profiles WHERE intent_device = ?
	`, deviceID).Scan(&intentMax)
	if err != nil {
		return 0, fmt.Errorf("last logical from profiles: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT MAX(tier_millis) FROM profiles WHERE tier_device = ?
	`, deviceID).Scan(&tierMax)
	if err != nil {
		return 0, fmt.Errorf("last logical from profiles: %w", err)
	}

	max := itemMax.Int64
	if intentMax.Int64 > max {
		max = intentMax.Int64
	}
	if tierMax.Int64 > max {
		max = tierMax.Int64
	}
	return max, nil
}

// millis converts a time to unix milliseconds, mapping the zero time to 0.
func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// fromMillis converts unix milliseconds to a UTC time, mapping 0 to the zero
// time.
func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
