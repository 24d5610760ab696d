package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/gather/internal/errors"
)

// Cycle statuses stored in the history.
const (
	CycleSucceeded = "succeeded"
	CycleFailed    = "failed"
)

// Cycle is one row of the cycle history.
type Cycle struct {
	Seq             int64   `json:"seq"`
	ID              string  `json:"id"`
	Status          string  `json:"status"`
	StartedAt       int64   `json:"started_at"`
	FinishedAt      int64   `json:"finished_at"`
	WindowStart     int64   `json:"window_start"`
	WindowOffset    int     `json:"window_offset"`
	NextWindowStart int64   `json:"next_window_start"`
	NextOffset      int     `json:"next_offset"`
	RecordsFetched  int     `json:"records_fetched"`
	RecordsWritten  int     `json:"records_written"`
	RecordsDropped  int     `json:"records_dropped"`
	LimitReached    bool    `json:"limit_reached"`
	FilePath        *string `json:"file_path,omitempty"`
	ErrorCode       *string `json:"error_code,omitempty"`
	ErrorMessage    *string `json:"error_message,omitempty"`
}

// InsertCycle appends a finished cycle to the history.
func InsertCycle(ctx context.Context, db *sql.DB, c *Cycle) error {
	query := `
		INSERT INTO cycles (
			id, status, started_at, finished_at,
			window_start, window_offset, next_window_start, next_offset,
			records_fetched, records_written, records_dropped, limit_reached,
			file_path, error_code, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := db.ExecContext(ctx, query,
		c.ID, c.Status, c.StartedAt, c.FinishedAt,
		c.WindowStart, c.WindowOffset, c.NextWindowStart, c.NextOffset,
		c.RecordsFetched, c.RecordsWritten, c.RecordsDropped, boolToInt(c.LimitReached),
		toNullString(c.FilePath), toNullString(c.ErrorCode), toNullString(c.ErrorMessage),
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		c.Seq = seq
	}
	return nil
}

const cycleColumns = `
	seq, id, status, started_at, finished_at,
	window_start, window_offset, next_window_start, next_offset,
	records_fetched, records_written, records_dropped, limit_reached,
	file_path, error_code, error_message
`

// GetCycle retrieves a cycle by its ULID.
func GetCycle(ctx context.Context, db *sql.DB, id string) (*Cycle, error) {
	row := db.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE id = ?`, id)
	c, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

// ListCycles returns cycles newest first. An empty status lists every status.
func ListCycles(ctx context.Context, db *sql.DB, status string, limit, offset int) ([]Cycle, int, error) {
	where := ""
	args := []any{}
	if status != "" {
		where = " WHERE status = ?"
		args = append(args, status)
	}

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cycles`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + cycleColumns + ` FROM cycles` + where + ` ORDER BY seq DESC LIMIT ? OFFSET ?`
	rows, err := db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	cycles := make([]Cycle, 0)
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		cycles = append(cycles, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return cycles, total, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycle(row rowScanner) (*Cycle, error) {
	var (
		c            Cycle
		limitReached int
		filePath     sql.NullString
		errorCode    sql.NullString
		errorMessage sql.NullString
	)

	err := row.Scan(
		&c.Seq, &c.ID, &c.Status, &c.StartedAt, &c.FinishedAt,
		&c.WindowStart, &c.WindowOffset, &c.NextWindowStart, &c.NextOffset,
		&c.RecordsFetched, &c.RecordsWritten, &c.RecordsDropped, &limitReached,
		&filePath, &errorCode, &errorMessage,
	)
	if err != nil {
		return nil, err
	}

	c.LimitReached = limitReached != 0
	c.FilePath = fromNullString(filePath)
	c.ErrorCode = fromNullString(errorCode)
	c.ErrorMessage = fromNullString(errorMessage)
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
