package filter

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/feed-ingestor/internal/ingest"
	"github.com/JakeFAU/feed-ingestor/internal/metrics"
)

// Store owns the process-wide filter and its snapshot file.
type Store struct {
	path   string
	logger *zap.Logger
	filter *Filter

	saveMu    sync.Mutex
	saved     uint64
	onDisk    bool
	closeOnce sync.Once
	closeErr  error
}

// Open restores the filter from path. A missing or unreadable snapshot is
// logged and replaced by an empty filter seeded with p; only invalid p fails.
func Open(path string, p Params, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.New("filter snapshot path is required")
	}
	st := &Store{path: path, logger: logger}

	f, err := load(path)
	switch {
	case err == nil:
		st.onDisk = true
		if f.Params() != p {
			logger.Info("filter snapshot was built with different parameters; keeping snapshot layout",
				zap.Any("snapshot", f.Params()), zap.Any("configured", p))
		}
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("no filter snapshot found; starting empty", zap.String("path", path))
	default:
		logger.Warn("filter snapshot unusable; starting empty", zap.Error(err))
		metrics.ObserveSnapshot("load_error")
	}
	if f == nil {
		f, err = New(p)
		if err != nil {
			return nil, err
		}
	}
	st.filter = f
	st.saved = f.Version()

	stats := f.Stats()
	metrics.SetFilterStats(stats.Items, stats.Stages)
	logger.Info("filter ready",
		zap.Uint64("items", stats.Items),
		zap.Int("stages", stats.Stages),
		zap.Uint64("capacity", stats.Capacity),
	)
	return st, nil
}

func load(path string) (*Filter, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, &ingest.SnapshotError{Op: "read", Path: path, Err: err}
	}
	f, err := Restore(blob)
	if err != nil {
		return nil, &ingest.SnapshotError{Op: "decode", Path: path, Err: err}
	}
	return f, nil
}

// Filter returns the live filter.
func (s *Store) Filter() *Filter {
	return s.filter
}

// Checkpoint writes a snapshot if identifiers were added since the last save.
func (s *Store) Checkpoint() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if s.onDisk && s.filter.Version() == s.saved {
		return nil
	}
	return s.saveLocked()
}

// Save writes a snapshot unconditionally.
func (s *Store) Save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	version := s.filter.Version()
	blob, err := s.filter.Snapshot()
	if err != nil {
		metrics.ObserveSnapshot("error")
		return &ingest.SnapshotError{Op: "encode", Path: s.path, Err: err}
	}
	if err := writeFileAtomic(s.path, blob); err != nil {
		metrics.ObserveSnapshot("error")
		return &ingest.SnapshotError{Op: "write", Path: s.path, Err: err}
	}
	s.saved = version
	s.onDisk = true
	stats := s.filter.Stats()
	metrics.ObserveSnapshot("ok")
	metrics.SetFilterStats(stats.Items, stats.Stages)
	s.logger.Info("filter snapshot saved",
		zap.String("path", s.path),
		zap.Int("bytes", len(blob)),
		zap.Uint64("items", stats.Items),
	)
	return nil
}

// Close flushes the final snapshot. It is safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.Checkpoint()
	})
	return s.closeErr
}

// writeFileAtomic replaces path so readers see either the old or new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}
