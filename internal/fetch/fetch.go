package fetch

import (
	"context"
	"iter"

	"go.uber.org/zap"

	"github.com/hpungsan/gather/internal/errors"
	"github.com/hpungsan/gather/internal/record"
	"github.com/hpungsan/gather/internal/tracker"
)

// Result is one fetched page.
type Result struct {
	// Records are the page's records, trimmed to the per-cycle ceiling.
	Records []record.Record

	// TotalCount is the server-reported match count for the window, or -1 if unreported.
	TotalCount int

	// Truncated is set when the server reports more matches than have been read so far.
	Truncated bool

	// Offset is the cursor this page was requested at.
	Offset int

	// NextOffset is the cursor after this page.
	NextOffset int

	// LimitReached is set on the last page when the ceiling stopped paging.
	LimitReached bool
}

// Fetch lazily pulls the window one page at a time. Every page carries the same
// startTime; the cursor advances by the server-reported dataCnt. Iteration stops
// after the first error, after the last page, or once the ceiling is reached.
// Cancelling ctx stops at the next page boundary with CANCELLED.
func (c *Client) Fetch(ctx context.Context, w tracker.Window) iter.Seq2[Result, error] {
	return func(yield func(Result, error) bool) {
		offset := w.Offset
		fetched := 0

		for page := 1; ; page++ {
			if ctx.Err() != nil {
				yield(Result{}, errors.NewCancelled("fetch"))
				return
			}

			env, err := c.fetchPage(ctx, w.Start, offset)
			if err != nil {
				yield(Result{}, err)
				return
			}
			if err := c.checkPage(env, offset); err != nil {
				yield(Result{}, err)
				return
			}

			total := -1
			more := false
			if env.TotalCnt != nil {
				total = *env.TotalCnt
				more = offset+env.DataCnt < total
			}
			if more && env.DataCnt == 0 {
				yield(Result{}, errors.NewMalformedResponse("empty page while totalCnt reports more data"))
				return
			}

			records := env.Data
			limitReached := false
			remaining := c.opts.MaxRecords - fetched
			if len(records) > remaining {
				records = records[:remaining]
				limitReached = true
			} else if len(records) == remaining && more {
				limitReached = true
			}

			res := Result{
				Records:      records,
				TotalCount:   total,
				Truncated:    more || len(records) < env.DataCnt,
				Offset:       offset,
				NextOffset:   offset + len(records),
				LimitReached: limitReached,
			}
			fetched += len(records)
			offset = res.NextOffset

			c.logger.Debug("page fetched",
				zap.Int("page", page),
				zap.Int("offset", res.Offset),
				zap.Int("records", len(records)),
				zap.Int("total", total),
				zap.Int("fetched", fetched),
			)

			if !yield(res, nil) {
				return
			}
			if limitReached || !more {
				return
			}
		}
	}
}
