// Package version allocates monotonically increasing report version
// numbers persisted across process invocations.
package version

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/qaops/reportpipe/internal/flock"
)

// Store allocates the next report version. Implementations must guarantee
// that sequential calls return strictly increasing values and that a value
// is never handed out twice.
type Store interface {
	// AllocateNext reads the persisted value, increments it by one,
	// persists the new value and returns it. An absent or unparseable
	// stored value counts as 0.
	AllocateNext(ctx context.Context) (int, error)

	// Current returns the last allocated version without advancing it.
	Current(ctx context.Context) (int, error)

	Close() error
}

// FileStore keeps the counter in a single plain-text file. The
// read-increment-write step runs under an exclusive file lock so two
// pipeline runs racing on the same workspace cannot allocate the same
// version.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a file-backed store at path. The parent directory
// is created if missing.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("version file path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create version file directory: %w", err)
		}
	}
	return &FileStore{path: path, logger: logger}, nil
}

// AllocateNext implements Store.
func (s *FileStore) AllocateNext(_ context.Context) (int, error) {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open version file %s: %w", s.path, err)
	}
	defer f.Close()

	if err := flock.Exclusive(f.Fd()); err != nil {
		return 0, fmt.Errorf("failed to lock version file %s: %w", s.path, err)
	}
	defer func() {
		if unlockErr := flock.Unlock(f.Fd()); unlockErr != nil {
			s.logger.Warn("Failed to unlock version file", slog.String("path", s.path), slog.String("error", unlockErr.Error()))
		}
	}()

	current := readCounter(f)
	next := current + 1

	if err := writeCounter(f, next); err != nil {
		return 0, fmt.Errorf("failed to persist version %d: %w", next, err)
	}

	s.logger.Info("Allocated report version", slog.Int("version", next), slog.String("path", s.path))
	return next, nil
}

// Current implements Store.
func (s *FileStore) Current(_ context.Context) (int, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open version file %s: %w", s.path, err)
	}
	defer f.Close()
	return readCounter(f), nil
}

// Close implements Store. The file store holds no long-lived resources.
func (s *FileStore) Close() error { return nil }

// readCounter parses the stored integer. Empty or corrupt content is
// treated as 0, not as an error.
func readCounter(f *os.File) int {
	if _, err := f.Seek(0, 0); err != nil {
		return 0
	}
	buf := make([]byte, 64)
	n, _ := f.Read(buf)
	raw := strings.TrimSpace(string(buf[:n]))
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func writeCounter(f *os.File, value int) error {
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteString(strconv.Itoa(value)); err != nil {
		return err
	}
	return f.Sync()
}
