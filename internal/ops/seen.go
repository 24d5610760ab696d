package ops

import (
	"context"
	"fmt"

	"github.com/hpungsan/gather/internal/dedup"
	"github.com/hpungsan/gather/internal/errors"
	"github.com/hpungsan/gather/internal/record"
)

// SeenInput contains parameters for the Seen operation.
type SeenInput struct {
	Dedup *dedup.Deduplicator

	// Values are the identity field values, in key field order.
	Values []string
}

// SeenOutput contains the result of the Seen operation.
type SeenOutput struct {
	Fields []string `json:"fields"`
	Key    string   `json:"key"`
	Seen   bool     `json:"seen"`
}

// Seen reports whether a record with the given identity would be dropped as a duplicate.
func Seen(ctx context.Context, input SeenInput) (*SeenOutput, error) {
	fields := input.Dedup.KeySpec().Fields()
	if len(input.Values) != len(fields) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("expected %d key values (%v), got %d", len(fields), fields, len(input.Values)))
	}

	rec := make(record.Record, len(fields))
	for i, f := range fields {
		rec[f] = input.Values[i]
	}
	key, err := input.Dedup.KeySpec().Key(rec)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}

	if err := input.Dedup.Load(ctx); err != nil {
		return nil, err
	}
	return &SeenOutput{Fields: fields, Key: key, Seen: input.Dedup.Contains(key)}, nil
}
