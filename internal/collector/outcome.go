package collector

import (
	"time"

	"github.com/hpungsan/gather/internal/db"
	"github.com/hpungsan/gather/internal/errors"
)

// Outcome is the result of one cycle.
type Outcome struct {
	CycleID    string
	StartedAt  time.Time
	FinishedAt time.Time

	WindowStart  time.Time
	WindowOffset int

	RecordsFetched int
	RecordsWritten int
	RecordsDropped int
	LimitReached   bool

	// NextWindowStart and NextOffset are where the watermark stands after the cycle.
	NextWindowStart time.Time
	NextOffset      int

	// FilePath is empty when nothing was written.
	FilePath string

	Err error
}

// Succeeded reports whether the cycle completed without error.
func (o *Outcome) Succeeded() bool {
	return o.Err == nil
}

// Cycle converts the outcome to a history row.
func (o *Outcome) Cycle() *db.Cycle {
	c := &db.Cycle{
		ID:              o.CycleID,
		Status:          db.CycleSucceeded,
		StartedAt:       o.StartedAt.Unix(),
		FinishedAt:      o.FinishedAt.Unix(),
		WindowStart:     o.WindowStart.Unix(),
		WindowOffset:    o.WindowOffset,
		NextWindowStart: o.NextWindowStart.Unix(),
		NextOffset:      o.NextOffset,
		RecordsFetched:  o.RecordsFetched,
		RecordsWritten:  o.RecordsWritten,
		RecordsDropped:  o.RecordsDropped,
		LimitReached:    o.LimitReached,
	}
	if o.FilePath != "" {
		path := o.FilePath
		c.FilePath = &path
	}
	if o.Err != nil {
		c.Status = db.CycleFailed
		code := string(errors.CodeOf(o.Err))
		msg := o.Err.Error()
		c.ErrorCode = &code
		c.ErrorMessage = &msg
	}
	return c
}
