package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/gather/internal/errors"
)

// Watermark is the persisted collection progress.
type Watermark struct {
	// WindowStart is the Unix time (seconds) the next window starts at
	WindowStart int64

	// ResumeOffset is the paging cursor inside WindowStart's window (0 unless truncated)
	ResumeOffset int

	// UpdatedAt is the Unix time of the last advance
	UpdatedAt int64
}

// GetWatermark returns the stored watermark. ok is false on first run.
func GetWatermark(ctx context.Context, db *sql.DB) (w Watermark, ok bool, err error) {
	query := `SELECT window_start, resume_offset, updated_at FROM watermark WHERE id = 1`

	err = db.QueryRowContext(ctx, query).Scan(&w.WindowStart, &w.ResumeOffset, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return Watermark{}, false, nil
	}
	if err != nil {
		return Watermark{}, false, errors.NewInternal(err)
	}
	return w, true, nil
}

// SetWatermark writes the single watermark row in one transaction.
func SetWatermark(ctx context.Context, db *sql.DB, w Watermark) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewPersistenceFailure(err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO watermark (id, window_start, resume_offset, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			window_start = excluded.window_start,
			resume_offset = excluded.resume_offset,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, w.WindowStart, w.ResumeOffset, w.UpdatedAt); err != nil {
		return errors.NewPersistenceFailure(err)
	}
	if err := tx.Commit(); err != nil {
		return errors.NewPersistenceFailure(err)
	}
	return nil
}

// SeenKey is one persisted record identity.
type SeenKey struct {
	Key         string
	Generation  int64
	CommittedAt int64
}

// LoadSeenKeys returns every stored key with its generation.
func LoadSeenKeys(ctx context.Context, db *sql.DB) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, generation FROM seen_keys`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	keys := make(map[string]int64)
	for rows.Next() {
		var (
			key string
			gen int64
		)
		if err := rows.Scan(&key, &gen); err != nil {
			return nil, errors.NewInternal(err)
		}
		keys[key] = gen
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return keys, nil
}

// MaxGeneration returns the highest commit generation stored, or 0.
func MaxGeneration(ctx context.Context, db *sql.DB) (int64, error) {
	var gen sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(generation) FROM seen_keys`).Scan(&gen); err != nil {
		return 0, errors.NewInternal(err)
	}
	return gen.Int64, nil
}

// CountSeenKeys returns the number of stored keys.
func CountSeenKeys(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM seen_keys`).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// CommitSeenKeys stores keys under generation and evicts keys from generations
// at or below evictThrough, all in one transaction.
func CommitSeenKeys(ctx context.Context, db *sql.DB, keys []string, generation, evictThrough, committedAt int64) (evicted int64, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.NewPersistenceFailure(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO seen_keys (key, generation, committed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			generation = excluded.generation,
			committed_at = excluded.committed_at
	`)
	if err != nil {
		return 0, errors.NewPersistenceFailure(err)
	}
	defer stmt.Close()

	for _, key := range keys {
		if _, err := stmt.ExecContext(ctx, key, generation, committedAt); err != nil {
			return 0, errors.NewPersistenceFailure(err)
		}
	}

	if evictThrough > 0 {
		res, err := tx.ExecContext(ctx, `DELETE FROM seen_keys WHERE generation <= ?`, evictThrough)
		if err != nil {
			return 0, errors.NewPersistenceFailure(err)
		}
		evicted, err = res.RowsAffected()
		if err != nil {
			return 0, errors.NewPersistenceFailure(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.NewPersistenceFailure(err)
	}
	return evicted, nil
}

// ReplaceSeenKeys swaps the whole key set for keys (used by reindex).
func ReplaceSeenKeys(ctx context.Context, db *sql.DB, keys []SeenKey) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewPersistenceFailure(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM seen_keys`); err != nil {
		return errors.NewPersistenceFailure(err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO seen_keys (key, generation, committed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			generation = MAX(seen_keys.generation, excluded.generation),
			committed_at = MAX(seen_keys.committed_at, excluded.committed_at)
	`)
	if err != nil {
		return errors.NewPersistenceFailure(err)
	}
	defer stmt.Close()

	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k.Key, k.Generation, k.CommittedAt); err != nil {
			return errors.NewPersistenceFailure(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewPersistenceFailure(err)
	}
	return nil
}
