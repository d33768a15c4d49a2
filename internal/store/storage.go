package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Storage defines the file operations on the scan output directory
type Storage interface {
	// Save atomically writes a file and returns its full path
	Save(filename string, data []byte) (string, error)

	// Path returns the full path of a stored file
	Path(filename string) string

	// Count returns the number of visible regular files
	Count() (int, error)

	// Dir returns the directory backing the storage
	Dir() string
}

// LocalStorage implements Storage on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the output directory if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save writes data to a hidden temp file in the same directory and renames
// it into place, so readers never see a partially written scan.
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	path := l.Path(filename)

	tmp, err := os.CreateTemp(l.basePath, ".tmp-"+filename+"-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("writing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("closing file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("setting file mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("renaming file: %w", err)
	}
	return path, nil
}

// Path returns the full path of filename inside the storage directory
func (l *LocalStorage) Path(filename string) string {
	return filepath.Join(l.basePath, filepath.Base(filename))
}

// Count returns how many regular files the directory holds, ignoring
// in-flight temp files. A missing directory counts as empty.
func (l *LocalStorage) Count() (int, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("listing storage directory: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".tmp-") {
			n++
		}
	}
	return n, nil
}

// Dir returns the storage directory
func (l *LocalStorage) Dir() string {
	return l.basePath
}
