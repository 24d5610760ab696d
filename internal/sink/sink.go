// Package sink writes one collected batch per cycle as an immutable JSON file.
package sink

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/gather/internal/errors"
	"github.com/hpungsan/gather/internal/record"
)

const (
	fileExt   = ".json"
	tmpPrefix = ".tmp-"
)

// File describes one collected file.
type File struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	CollectedAt time.Time `json:"collected_at"`
}

// Sink writes collected batches into a directory.
type Sink struct {
	dir    string
	logger *zap.Logger
}

// New creates a Sink rooted at dir. The directory is created on first write.
func New(dir string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{dir: dir, logger: logger}
}

// Dir returns the output directory.
func (s *Sink) Dir() string {
	return s.dir
}

// FileNameFor returns the file name used for a batch collected at t.
func FileNameFor(t time.Time) string {
	return t.In(time.Local).Format(record.FileName) + fileExt
}

// Write serializes records as an envelope and publishes it at
// {dir}/{YYYY-MM-DD}_{HH-MM-SS}.json. Readers never observe a partial file, and an
// existing file is never replaced: a name collision fails with PERSISTENCE_FAILURE.
func (s *Sink) Write(ctx context.Context, collectedAt, windowStart time.Time, records []record.Record) (string, error) {
	if ctx.Err() != nil {
		return "", errors.NewCancelled("write")
	}
	if records == nil {
		records = []record.Record{}
	}

	data, err := record.EncodeEnvelope(&record.Envelope{
		StartTime: record.FormatAPITime(windowStart),
		ResCode:   record.ResCodeSuccess,
		ResMsg:    record.ResMsgSuccess,
		DataCnt:   len(records),
		Data:      records,
	})
	if err != nil {
		return "", errors.NewPersistenceFailure(fmt.Errorf("encode batch: %w", err))
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", errors.NewPersistenceFailure(fmt.Errorf("create data directory: %w", err))
	}

	dest := filepath.Join(s.dir, FileNameFor(collectedAt))
	if err := s.publish(dest, data); err != nil {
		return "", err
	}

	s.logger.Info("batch written",
		zap.String("path", dest),
		zap.Int("records", len(records)),
		zap.Int("bytes", len(data)),
	)
	return dest, nil
}

// publish writes data to a temp file in the same directory, fsyncs it, and hard-links
// it to dest. Link fails when dest exists, which is what prevents overwrites.
func (s *Sink) publish(dest string, data []byte) error {
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return errors.NewPersistenceFailure(fmt.Errorf("generate temp name: %w", err))
	}
	tempPath := filepath.Join(s.dir, tmpPrefix+hex.EncodeToString(randBytes))

	file, err := createTemp(tempPath)
	if err != nil {
		return errors.NewPersistenceFailure(fmt.Errorf("create temp file: %w", err))
	}

	// The temp name never outlives publish, whatever happens.
	defer func() {
		_ = os.Remove(tempPath)
	}()

	if _, err := file.Write(data); err != nil {
		file.Close()
		return errors.NewPersistenceFailure(fmt.Errorf("write temp file: %w", err))
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return errors.NewPersistenceFailure(fmt.Errorf("sync temp file: %w", err))
	}
	if err := file.Close(); err != nil {
		return errors.NewPersistenceFailure(fmt.Errorf("close temp file: %w", err))
	}

	if err := os.Link(tempPath, dest); err != nil {
		if stderrors.Is(err, os.ErrExist) {
			gErr := errors.NewPersistenceFailure(fmt.Errorf("file already exists: %s", filepath.Base(dest)))
			gErr.Details = map[string]any{"path": dest}
			return gErr
		}
		return errors.NewPersistenceFailure(fmt.Errorf("publish file: %w", err))
	}

	if err := syncDir(s.dir); err != nil {
		return errors.NewPersistenceFailure(fmt.Errorf("sync data directory: %w", err))
	}
	return nil
}

// Read decodes a collected file.
func (s *Sink) Read(path string) (*record.Envelope, error) {
	f, err := openCollected(path)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(err)
	}
	defer f.Close()

	env, err := record.DecodeEnvelope(f)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("%s: %w", filepath.Base(path), err))
	}
	return env, nil
}

// List returns collected files, oldest first. Temp files and foreign names are skipped.
// A missing directory lists as empty.
func (s *Sink) List() ([]File, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []File{}, nil
		}
		return nil, errors.NewInternal(err)
	}

	files := make([]File, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, tmpPrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		collectedAt, err := time.ParseInLocation(record.FileName, strings.TrimSuffix(name, fileExt), time.Local)
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, File{
			Name:        name,
			Path:        filepath.Join(s.dir, name),
			Size:        info.Size(),
			CollectedAt: collectedAt,
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}
