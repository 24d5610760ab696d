// Package dedup drops records whose identity has already been persisted.
package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/gather/internal/db"
	"github.com/hpungsan/gather/internal/errors"
	"github.com/hpungsan/gather/internal/record"
)

// DefaultRetention is one day of 5-minute cycles.
const DefaultRetention = 288

// Store persists the SeenSet.
type Store interface {
	Load(ctx context.Context) (map[string]int64, error)
	Commit(ctx context.Context, keys []string, generation, evictThrough, committedAt int64) (int64, error)
	Replace(ctx context.Context, keys []db.SeenKey) error
}

// SQLStore keeps the SeenSet in the state index.
type SQLStore struct {
	DB *sql.DB
}

func (s SQLStore) Load(ctx context.Context) (map[string]int64, error) {
	return db.LoadSeenKeys(ctx, s.DB)
}

func (s SQLStore) Commit(ctx context.Context, keys []string, generation, evictThrough, committedAt int64) (int64, error) {
	return db.CommitSeenKeys(ctx, s.DB, keys, generation, evictThrough, committedAt)
}

func (s SQLStore) Replace(ctx context.Context, keys []db.SeenKey) error {
	return db.ReplaceSeenKeys(ctx, s.DB, keys)
}

// Batch is the result of filtering one cycle's records.
type Batch struct {
	// Kept are the new records, in input order.
	Kept []record.Record

	// Keys are the identity keys of Kept, index-aligned.
	Keys []string

	// Dropped counts records already seen or repeated within the batch.
	Dropped int
}

// Deduplicator owns the SeenSet. Each Commit opens a new generation; keys not
// refreshed within the last retention generations are evicted.
type Deduplicator struct {
	keys      record.KeySpec
	retention int64
	store     Store
	logger    *zap.Logger
	now       func() time.Time

	mu         sync.RWMutex
	seen       map[string]int64
	generation int64
}

// New creates a Deduplicator. Call Load before the first Filter to restore state.
func New(keys record.KeySpec, retention int, store Store, logger *zap.Logger) *Deduplicator {
	if retention < 1 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{
		keys:      keys,
		retention: int64(retention),
		store:     store,
		logger:    logger,
		now:       time.Now,
		seen:      make(map[string]int64),
	}
}

// Load restores the SeenSet from the store.
func (d *Deduplicator) Load(ctx context.Context) error {
	seen, err := d.store.Load(ctx)
	if err != nil {
		return err
	}

	var gen int64
	for _, g := range seen {
		gen = max(gen, g)
	}

	d.mu.Lock()
	d.seen = seen
	d.generation = gen
	d.mu.Unlock()

	d.logger.Info("seen set loaded", zap.Int("keys", len(seen)), zap.Int64("generation", gen))
	return nil
}

// Filter keeps records whose key is neither in the SeenSet nor earlier in the batch.
// A record without an identity key fails the whole batch.
func (d *Deduplicator) Filter(records []record.Record) (Batch, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	batch := Batch{
		Kept: make([]record.Record, 0, len(records)),
		Keys: make([]string, 0, len(records)),
	}
	inBatch := make(map[string]struct{}, len(records))

	for i, rec := range records {
		key, err := d.keys.Key(rec)
		if err != nil {
			return Batch{}, errors.NewMalformedResponse(fmt.Sprintf("record %d: %v", i, err))
		}
		if _, ok := d.seen[key]; ok {
			batch.Dropped++
			continue
		}
		if _, ok := inBatch[key]; ok {
			batch.Dropped++
			continue
		}
		inBatch[key] = struct{}{}
		batch.Kept = append(batch.Kept, rec)
		batch.Keys = append(batch.Keys, key)
	}
	return batch, nil
}

// Commit adds keys to the SeenSet under a new generation and evicts expired keys.
// The store is written first; on failure the in-memory set is untouched.
func (d *Deduplicator) Commit(ctx context.Context, keys []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	gen := d.generation + 1
	evictThrough := gen - d.retention

	evicted, err := d.store.Commit(ctx, keys, gen, evictThrough, d.now().Unix())
	if err != nil {
		if _, ok := errors.As(err); ok {
			return err
		}
		return errors.NewPersistenceFailure(err)
	}

	for _, k := range keys {
		d.seen[k] = gen
	}
	if evictThrough > 0 {
		for k, g := range d.seen {
			if g <= evictThrough {
				delete(d.seen, k)
			}
		}
	}
	d.generation = gen

	d.logger.Debug("seen set committed",
		zap.Int("keys", len(keys)),
		zap.Int64("generation", gen),
		zap.Int64("evicted", evicted),
		zap.Int("size", len(d.seen)),
	)
	return nil
}

// Replace swaps the whole SeenSet, e.g. after rebuilding it from collected files.
func (d *Deduplicator) Replace(ctx context.Context, keys []db.SeenKey) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.store.Replace(ctx, keys); err != nil {
		return err
	}

	seen := make(map[string]int64, len(keys))
	var gen int64
	for _, k := range keys {
		seen[k.Key] = max(seen[k.Key], k.Generation)
		gen = max(gen, k.Generation)
	}
	d.seen = seen
	d.generation = gen
	return nil
}

// Contains reports whether key is in the SeenSet.
func (d *Deduplicator) Contains(key string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.seen[key]
	return ok
}

// Count returns the SeenSet size.
func (d *Deduplicator) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.seen)
}

// Generation returns the last committed generation.
func (d *Deduplicator) Generation() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.generation
}

// KeySpec returns the identity projection.
func (d *Deduplicator) KeySpec() record.KeySpec {
	return d.keys
}
