package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/gather/internal/db"
	"github.com/hpungsan/gather/internal/errors"
)

// ListCyclesInput contains parameters for the ListCycles operation.
type ListCyclesInput struct {
	Status string // "", "succeeded" or "failed"
	Limit  int    // default: 20, max: 100
	Offset int
}

// ListCyclesOutput contains the result of the ListCycles operation.
type ListCyclesOutput struct {
	Items      []db.Cycle `json:"items"`
	Pagination Pagination `json:"pagination"`
	Sort       string     `json:"sort"`
}

// ListCycles returns the cycle history, newest first.
func ListCycles(ctx context.Context, database *sql.DB, input ListCyclesInput) (*ListCyclesOutput, error) {
	status := strings.ToLower(strings.TrimSpace(input.Status))
	switch status {
	case "", db.CycleSucceeded, db.CycleFailed:
	default:
		return nil, errors.NewInvalidRequest("status must be 'succeeded' or 'failed'")
	}

	limit, offset := clampPage(input.Limit, input.Offset)

	cycles, total, err := db.ListCycles(ctx, database, status, limit, offset)
	if err != nil {
		return nil, err
	}

	return &ListCyclesOutput{
		Items: cycles,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(cycles) < total,
			Total:   total,
		},
		Sort: "started_desc",
	}, nil
}

// GetCycle returns one cycle by ID.
func GetCycle(ctx context.Context, database *sql.DB, id string) (*db.Cycle, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	return db.GetCycle(ctx, database, id)
}
