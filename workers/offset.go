package workers

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// OffsetStore persists how far into the access log clicks have been recorded.
type OffsetStore interface {
	Load() (int64, error)
	Save(offset int64) error
}

// FileOffsetStore keeps the offset as a decimal integer in a single file.
type FileOffsetStore struct {
	path string
}

func NewFileOffsetStore(path string) *FileOffsetStore {
	return &FileOffsetStore{path: path}
}

// Load returns 0 when no offset has been saved yet.
func (s *FileOffsetStore) Load() (int64, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read offset: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	offset, err := strconv.ParseInt(text, 10, 64)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("corrupt offset file %s: %q", s.path, text)
	}
	return offset, nil
}

// Save replaces the offset atomically: readers see the old or the new value,
// never a partial write.
func (s *FileOffsetStore) Save(offset int64) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp offset file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(strconv.FormatInt(offset, 10) + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write offset: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync offset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close offset file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace offset file: %w", err)
	}
	return nil
}
