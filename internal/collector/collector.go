// Package collector runs one fetch, dedup, persist, commit, advance cycle.
package collector

import (
	"context"
	"crypto/rand"
	"database/sql"
	"iter"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/gather/internal/db"
	"github.com/hpungsan/gather/internal/dedup"
	"github.com/hpungsan/gather/internal/errors"
	"github.com/hpungsan/gather/internal/fetch"
	"github.com/hpungsan/gather/internal/record"
	"github.com/hpungsan/gather/internal/sink"
	"github.com/hpungsan/gather/internal/tracker"
)

// Fetcher pulls a window page by page.
type Fetcher interface {
	Fetch(ctx context.Context, w tracker.Window) iter.Seq2[fetch.Result, error]
}

// History records finished cycles.
type History interface {
	Record(ctx context.Context, c *db.Cycle) error
}

// SQLHistory appends cycles to the state index.
type SQLHistory struct {
	DB *sql.DB
}

// Record implements History.
func (h SQLHistory) Record(ctx context.Context, c *db.Cycle) error {
	return db.InsertCycle(ctx, h.DB, c)
}

// Options wires a Collector.
type Options struct {
	Tracker *tracker.Tracker
	Fetcher Fetcher
	Dedup   *dedup.Deduplicator
	Sink    *sink.Sink

	// History is optional.
	History History
	Logger  *zap.Logger

	// CycleTimeout bounds the fetch phase. Zero means unbounded.
	CycleTimeout time.Duration
}

// Collector runs cycles. It is not safe for concurrent RunCycle calls;
// the scheduler guarantees a single active cycle.
type Collector struct {
	tracker *tracker.Tracker
	fetcher Fetcher
	dedup   *dedup.Deduplicator
	sink    *sink.Sink
	history History
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// New creates a Collector.
func New(opts Options) *Collector {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		tracker: opts.Tracker,
		fetcher: opts.Fetcher,
		dedup:   opts.Dedup,
		sink:    opts.Sink,
		history: opts.History,
		logger:  logger,
		timeout: opts.CycleTimeout,
		now:     time.Now,
	}
}

// RunCycle runs one cycle and returns its outcome. Errors are carried in
// Outcome.Err, never panicked or returned.
//
// Cancelling ctx stops the fetch phase at the next page boundary. Once every page
// is in, persist, commit and advance run to completion regardless of ctx.
func (c *Collector) RunCycle(ctx context.Context) *Outcome {
	started := c.now()
	out := &Outcome{
		CycleID:   newCycleID(started),
		StartedAt: started,
	}

	out.Err = c.run(ctx, out)
	out.FinishedAt = c.now()

	c.report(out)
	return out
}

func (c *Collector) run(ctx context.Context, out *Outcome) error {
	commitCtx := context.WithoutCancel(ctx)

	w, err := c.tracker.CurrentWindow(commitCtx)
	if err != nil {
		return err
	}
	out.WindowStart, out.WindowOffset = w.Start, w.Offset
	out.NextWindowStart, out.NextOffset = w.Start, w.Offset

	fetchedAt := c.now().Truncate(time.Second)
	records, nextOffset, err := c.fetchAll(ctx, &w)
	out.RecordsFetched = len(records)
	out.LimitReached = w.LimitReached
	if err != nil {
		return err
	}

	batch, err := c.dedup.Filter(records)
	if err != nil {
		return err
	}
	out.RecordsDropped = batch.Dropped

	if len(batch.Kept) == 0 && !w.LimitReached {
		// Nothing new and nothing left unread: keep the window as is.
		return nil
	}

	if len(batch.Kept) > 0 {
		path, err := c.sink.Write(commitCtx, fetchedAt, w.Start, batch.Kept)
		if err != nil {
			return err
		}
		out.FilePath = path
		out.RecordsWritten = len(batch.Kept)

		if err := c.dedup.Commit(commitCtx, batch.Keys); err != nil {
			return err
		}
	}

	next, offset := fetchedAt, 0
	if w.LimitReached {
		// Resume the truncated window where paging stopped.
		next, offset = w.Start, nextOffset
	}
	if err := c.tracker.Advance(commitCtx, next, offset); err != nil {
		return err
	}
	out.NextWindowStart, out.NextOffset = next, offset
	return nil
}

// fetchAll drains the window's pages. w.LimitReached is set when the ceiling stopped paging.
func (c *Collector) fetchAll(ctx context.Context, w *tracker.Window) ([]record.Record, int, error) {
	var (
		fetchCtx context.Context
		cancel   context.CancelFunc
	)
	if c.timeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, c.timeout)
	} else {
		fetchCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var records []record.Record
	nextOffset := w.Offset
	for res, err := range c.fetcher.Fetch(fetchCtx, *w) {
		if err != nil {
			return records, nextOffset, err
		}
		records = append(records, res.Records...)
		nextOffset = res.NextOffset
		if res.LimitReached {
			w.LimitReached = true
		}
	}
	return records, nextOffset, nil
}

// report logs the outcome and appends it to the history.
func (c *Collector) report(out *Outcome) {
	fields := []zap.Field{
		zap.String("cycle_id", out.CycleID),
		zap.Time("window_start", out.WindowStart),
		zap.Int("offset", out.WindowOffset),
		zap.Int("fetched", out.RecordsFetched),
		zap.Int("written", out.RecordsWritten),
		zap.Int("dropped", out.RecordsDropped),
		zap.Bool("limit_reached", out.LimitReached),
		zap.Duration("elapsed", out.FinishedAt.Sub(out.StartedAt)),
	}

	if out.Err != nil {
		c.logger.Error("cycle failed", append(fields,
			zap.String("error_code", string(errors.CodeOf(out.Err))),
			zap.Error(out.Err),
		)...)
	} else {
		c.logger.Info("cycle succeeded", append(fields,
			zap.Time("next_window_start", out.NextWindowStart),
			zap.Int("next_offset", out.NextOffset),
			zap.String("file", out.FilePath),
		)...)
	}

	if c.history != nil {
		if err := c.history.Record(context.Background(), out.Cycle()); err != nil {
			c.logger.Warn("failed to record cycle history", zap.String("cycle_id", out.CycleID), zap.Error(err))
		}
	}
}

func newCycleID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
