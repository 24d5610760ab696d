package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// FileName is the state database file inside the state directory.
const FileName = "gather.db"

// Init initializes the SQLite state index at baseDir/gather.db.
// The baseDir parameter allows tests to use t.TempDir().
func Init(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: watermark, seen keys, cycle history
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS watermark (
		  id            INTEGER PRIMARY KEY CHECK (id = 1),
		  window_start  INTEGER NOT NULL,
		  resume_offset INTEGER NOT NULL DEFAULT 0,
		  updated_at    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS seen_keys (
		  key          TEXT PRIMARY KEY,
		  generation   INTEGER NOT NULL,
		  committed_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_seen_keys_generation
		ON seen_keys(generation);

		CREATE TABLE IF NOT EXISTS cycles (
		  seq               INTEGER PRIMARY KEY AUTOINCREMENT,
		  id                TEXT NOT NULL UNIQUE,
		  status            TEXT NOT NULL,
		  started_at        INTEGER NOT NULL,
		  finished_at       INTEGER NOT NULL,
		  window_start      INTEGER NOT NULL,
		  window_offset     INTEGER NOT NULL,
		  next_window_start INTEGER NOT NULL,
		  next_offset       INTEGER NOT NULL,
		  records_fetched   INTEGER NOT NULL,
		  records_written   INTEGER NOT NULL,
		  records_dropped   INTEGER NOT NULL,
		  limit_reached     INTEGER NOT NULL,
		  file_path         TEXT,
		  error_code        TEXT,
		  error_message     TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_cycles_status_started
		ON cycles(status, started_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
