package ops

import (
	"context"

	"go.uber.org/zap"

	"github.com/hpungsan/gather/internal/db"
	"github.com/hpungsan/gather/internal/dedup"
	"github.com/hpungsan/gather/internal/sink"
)

// ReindexInput contains parameters for the Reindex operation.
type ReindexInput struct {
	Sink  *sink.Sink
	Dedup *dedup.Deduplicator

	// Retention limits the rebuild to the newest N files, mirroring live eviction.
	Retention int
	DryRun    bool
}

// ReindexOutput contains the result of the Reindex operation.
type ReindexOutput struct {
	FilesScanned   int   `json:"files_scanned"`
	FilesIndexed   int   `json:"files_indexed"`
	Keys           int   `json:"keys"`
	RecordsSkipped int   `json:"records_skipped"`
	Generation     int64 `json:"generation"`
	DryRun         bool  `json:"dry_run"`
}

// Reindex rebuilds the SeenSet from the collected files. Each file becomes one
// generation, oldest first, and the newest file lands on the current generation, so
// a daemon's next commit ages the rebuilt keys like live ones. Records whose key
// cannot be projected are counted and skipped.
func Reindex(ctx context.Context, input ReindexInput, logger *zap.Logger) (*ReindexOutput, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := input.Dedup.Load(ctx); err != nil {
		return nil, err
	}

	files, err := input.Sink.List()
	if err != nil {
		return nil, err
	}

	out := &ReindexOutput{FilesScanned: len(files), DryRun: input.DryRun}
	if input.Retention > 0 && len(files) > input.Retention {
		files = files[len(files)-input.Retention:]
	}

	// Generations end at the current one; base+1 is the oldest kept file.
	base := max(input.Dedup.Generation(), int64(len(files))) - int64(len(files))

	spec := input.Dedup.KeySpec()
	latest := make(map[string]db.SeenKey)
	for i, f := range files {
		env, err := input.Sink.Read(f.Path)
		if err != nil {
			return nil, err
		}
		gen := base + int64(i+1)
		for _, rec := range env.Data {
			key, err := spec.Key(rec)
			if err != nil {
				out.RecordsSkipped++
				continue
			}
			latest[key] = db.SeenKey{Key: key, Generation: gen, CommittedAt: f.CollectedAt.Unix()}
		}
		out.FilesIndexed++
		out.Generation = gen
	}
	out.Keys = len(latest)

	if input.DryRun {
		return out, nil
	}

	keys := make([]db.SeenKey, 0, len(latest))
	for _, k := range latest {
		keys = append(keys, k)
	}
	if err := input.Dedup.Replace(ctx, keys); err != nil {
		return nil, err
	}

	logger.Info("seen set rebuilt",
		zap.Int("files", out.FilesIndexed),
		zap.Int("keys", out.Keys),
		zap.Int("skipped", out.RecordsSkipped),
	)
	return out, nil
}
