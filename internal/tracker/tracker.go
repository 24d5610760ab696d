// Package tracker owns the collected-through watermark and decides the next window.
package tracker

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/gather/internal/db"
	"github.com/hpungsan/gather/internal/errors"
)

// Window is the span [Start, now) requested by one cycle, resumed at Offset.
type Window struct {
	Start        time.Time `json:"start"`
	Offset       int       `json:"offset"`
	LimitReached bool      `json:"limit_reached"`
}

// Store persists the watermark.
type Store interface {
	Load(ctx context.Context) (db.Watermark, bool, error)
	Save(ctx context.Context, w db.Watermark) error
}

// SQLStore keeps the watermark in the state index.
type SQLStore struct {
	DB *sql.DB
}

// Load implements Store.
func (s SQLStore) Load(ctx context.Context) (db.Watermark, bool, error) {
	return db.GetWatermark(ctx, s.DB)
}

// Save implements Store.
func (s SQLStore) Save(ctx context.Context, w db.Watermark) error {
	return db.SetWatermark(ctx, s.DB, w)
}

// Tracker hands out windows and advances the watermark after durable commits.
type Tracker struct {
	store   Store
	initial time.Time
	logger  *zap.Logger
	now     func() time.Time

	mu sync.Mutex
}

// New creates a tracker. initial is the first window start when nothing is stored yet.
func New(store Store, initial time.Time, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:   store,
		initial: initial.Truncate(time.Second),
		logger:  logger,
		now:     time.Now,
	}
}

// CurrentWindow returns the window at the stored watermark, or the initial start on first run.
func (t *Tracker) CurrentWindow(ctx context.Context) (Window, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok, err := t.store.Load(ctx)
	if err != nil {
		return Window{}, err
	}
	if !ok {
		return Window{Start: t.initial}, nil
	}
	return Window{Start: time.Unix(w.WindowStart, 0), Offset: w.ResumeOffset}, nil
}

// Advance moves the watermark to (to, offset). It fails with INVALID_ADVANCE if
// that would move it backwards.
func (t *Tracker) Advance(ctx context.Context, to time.Time, offset int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	to = to.Truncate(time.Second)
	if offset < 0 {
		return errors.NewInvalidRequest("resume offset must not be negative")
	}

	current := t.initial
	currentOffset := 0
	w, ok, err := t.store.Load(ctx)
	if err != nil {
		return err
	}
	if ok {
		current = time.Unix(w.WindowStart, 0)
		currentOffset = w.ResumeOffset
	}

	if to.Before(current) || (to.Equal(current) && offset < currentOffset) {
		return errors.NewInvalidAdvance(current, to)
	}

	next := db.Watermark{
		WindowStart:  to.Unix(),
		ResumeOffset: offset,
		UpdatedAt:    t.now().Unix(),
	}
	if err := t.store.Save(ctx, next); err != nil {
		return err
	}

	t.logger.Debug("watermark advanced",
		zap.Time("from", current),
		zap.Time("to", to),
		zap.Int("offset", offset),
	)
	return nil
}
