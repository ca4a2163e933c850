package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// FileStore keeps one JSON file per key under a root directory
type FileStore struct {
	dir string
	log *zap.Logger
	now func() time.Time
}

// FileOption configures a FileStore
type FileOption func(*FileStore)

// WithLogger sets the logger used to report unreadable entries
func WithLogger(log *zap.Logger) FileOption {
	return func(s *FileStore) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) FileOption {
	return func(s *FileStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewFileStore creates the root directory if needed
func NewFileStore(dir string, opts ...FileOption) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	s := &FileStore{
		dir: dir,
		log: zap.NewNop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the root directory
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, HashKey(key)+".json")
}

// Get reads the entry for key
func (s *FileStore) Get(_ context.Context, key string, ttl time.Duration) (*Lookup, bool) {
	path := s.path(key)

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Debug("cache entry unreadable", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	lookup, ok := decodeEntry(data, s.now(), ttl)
	if !ok {
		s.log.Debug("cache entry corrupt", zap.String("key", key), zap.String("path", path))
		return nil, false
	}
	return lookup, true
}

// Put writes the entry to a temporary file in the same directory and renames
// it over the target, so readers never observe a partial file
func (s *FileStore) Put(_ context.Context, key string, value any) error {
	data, err := encodeEntry(value, s.now())
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, HashKey(key)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to store cache file: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
