package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

// ErrLockTimeout is returned when the exclusive write lock could not be taken in time.
// Callers may retry.
var ErrLockTimeout = errors.New("record lock not acquired before timeout")

const lockRetryDelay = 20 * time.Millisecond

// FileStore persists a single JSON record on disk.
// Writers take an exclusive file lock and replace the record atomically,
// readers never observe a partially written file.
type FileStore struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
	logger      *logger.Logger
}

// NewFileStore creates a store for the record at path
func NewFileStore(path string, lockTimeout time.Duration, log *logger.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &FileStore{
		path:        path,
		lockPath:    path + ".lock",
		lockTimeout: lockTimeout,
		logger:      log.Named("records").With(logger.String("path", path)),
	}, nil
}

// Path returns the canonical location of the record
func (s *FileStore) Path() string {
	return s.path
}

// ReadRaw returns the current record bytes, or nil if the record does not exist yet
func (s *FileStore) ReadRaw() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return data, nil
}

// Read decodes the current record into v. A missing record leaves v untouched.
func (s *FileStore) Read(v any) error {
	data, err := s.ReadRaw()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}

// Write replaces the record with the JSON encoding of v
func (s *FileStore) Write(ctx context.Context, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.Update(ctx, func([]byte) ([]byte, error) {
		return data, nil
	})
}

// Update runs a read-modify-write cycle under the exclusive lock.
// fn receives the current bytes (nil when absent) and returns the replacement.
func (s *FileStore) Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := s.ReadRaw()
	if err != nil {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	return s.replace(next)
}

func (s *FileStore) lock(ctx context.Context) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	fl := flock.New(s.lockPath)
	locked, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil || !locked {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("Timed out waiting for record lock",
			logger.Duration("timeout", s.lockTimeout))
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, err)
		}
		return nil, ErrLockTimeout
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Error("Failed to release record lock", logger.Error(err))
		}
	}, nil
}

// replace writes data to a temp file next to the record and renames it into place
func (s *FileStore) replace(data []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp record: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write temp record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp record: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace record: %w", err)
	}

	s.logger.Debug("Record replaced", logger.Int("bytes", len(data)))
	return nil
}
