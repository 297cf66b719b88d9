package pending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/afikmenashe/security-alerting/internal/alert"
)

const fileExt = ".pending"

// FileStore keeps one file per record in a directory. Writes go through a
// temporary file and a rename so a crash never leaves a half-written record.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("pending directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create pending directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default().With("component", "pending_file_store")
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) path(id uint64) string {
	return filepath.Join(s.dir, strconv.FormatUint(id, 10)+fileExt)
}

// Put writes the record atomically.
func (s *FileStore) Put(_ context.Context, id uint64, ev alert.Event) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create pending file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(Marshal(ev)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write pending file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync pending file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close pending file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(id)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit pending file: %w", err)
	}
	return nil
}

// Delete removes the record file. A missing file is not an error.
func (s *FileStore) Delete(_ context.Context, id uint64) error {
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete pending file: %w", err)
	}
	return nil
}

// List reads every record file in id order. Files that are not records are
// ignored; leftover temporary files from an interrupted Put are removed.
func (s *FileStore) List(_ context.Context) ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending directory: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(name, ".tmp-") {
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
				s.logger.Warn("Failed to remove stale temporary file", "file", name, "error", err)
			}
			continue
		}
		if !strings.HasSuffix(name, fileExt) {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(name, fileExt), 10, 64)
		if err != nil {
			s.logger.Warn("Ignoring pending file with invalid name", "file", name)
			continue
		}

		payload, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			records = append(records, Record{ID: id, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)})
			continue
		}
		records = append(records, decodeRecord(id, payload))
	}

	sortRecords(records)
	return records, nil
}
