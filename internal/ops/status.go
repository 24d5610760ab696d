package ops

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/gather/internal/db"
	"github.com/hpungsan/gather/internal/errors"
	"github.com/hpungsan/gather/internal/record"
	"github.com/hpungsan/gather/internal/scheduler"
	"github.com/hpungsan/gather/internal/sink"
)

// StatusInput contains parameters for the Status operation.
type StatusInput struct {
	Sink         *sink.Sink
	SourceURL    string
	InitialStart time.Time

	// Scheduler is set only inside a running daemon.
	Scheduler *scheduler.Snapshot
}

// WatermarkStatus describes collection progress.
type WatermarkStatus struct {
	// Initialized is false until the first advance; WindowStart is then the initial start.
	Initialized  bool   `json:"initialized"`
	WindowStart  string `json:"window_start"`
	ResumeOffset int    `json:"resume_offset"`
	UpdatedAt    int64  `json:"updated_at,omitempty"`
}

// SchedulerStatus describes the in-process scheduler.
type SchedulerStatus struct {
	State       string `json:"state"`
	Interval    int64  `json:"interval_seconds"`
	Runs        int64  `json:"runs"`
	Skipped     int64  `json:"skipped"`
	LastStart   int64  `json:"last_start,omitempty"`
	NextTrigger int64  `json:"next_trigger,omitempty"`
}

// StatusOutput contains the result of the Status operation.
type StatusOutput struct {
	Source      string           `json:"source"`
	Watermark   WatermarkStatus  `json:"watermark"`
	SeenKeys    int              `json:"seen_keys"`
	Generation  int64            `json:"generation"`
	Files       int              `json:"files"`
	LastFile    *sink.File       `json:"last_file,omitempty"`
	LastCycle   *db.Cycle        `json:"last_cycle,omitempty"`
	LastSuccess *db.Cycle        `json:"last_success,omitempty"`
	Scheduler   *SchedulerStatus `json:"scheduler,omitempty"`
}

// Status summarizes the watermark, SeenSet, collected files and recent cycles.
func Status(ctx context.Context, database *sql.DB, input StatusInput) (*StatusOutput, error) {
	if input.Sink == nil {
		return nil, errors.NewInvalidRequest("sink is required")
	}

	out := &StatusOutput{Source: input.SourceURL}

	w, ok, err := db.GetWatermark(ctx, database)
	if err != nil {
		return nil, err
	}
	if ok {
		out.Watermark = WatermarkStatus{
			Initialized:  true,
			WindowStart:  record.FormatAPITime(time.Unix(w.WindowStart, 0)),
			ResumeOffset: w.ResumeOffset,
			UpdatedAt:    w.UpdatedAt,
		}
	} else {
		out.Watermark = WatermarkStatus{WindowStart: record.FormatAPITime(input.InitialStart)}
	}

	if out.SeenKeys, err = db.CountSeenKeys(ctx, database); err != nil {
		return nil, err
	}
	if out.Generation, err = db.MaxGeneration(ctx, database); err != nil {
		return nil, err
	}

	files, err := input.Sink.List()
	if err != nil {
		return nil, err
	}
	out.Files = len(files)
	if len(files) > 0 {
		last := files[len(files)-1]
		out.LastFile = &last
	}

	recent, _, err := db.ListCycles(ctx, database, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(recent) > 0 {
		out.LastCycle = &recent[0]
	}
	succeeded, _, err := db.ListCycles(ctx, database, db.CycleSucceeded, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(succeeded) > 0 {
		out.LastSuccess = &succeeded[0]
	}

	if snap := input.Scheduler; snap != nil {
		st := &SchedulerStatus{
			State:    snap.State.String(),
			Interval: int64(snap.Interval / time.Second),
			Runs:     snap.Runs,
			Skipped:  snap.Skipped,
		}
		if !snap.LastStart.IsZero() {
			st.LastStart = snap.LastStart.Unix()
		}
		if !snap.NextTrigger.IsZero() {
			st.NextTrigger = snap.NextTrigger.Unix()
		}
		out.Scheduler = st
	}

	return out, nil
}
