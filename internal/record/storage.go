package record

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Storage keeps captured photos. Records reference them by the returned name.
type Storage interface {
	// Save writes a photo and returns the name to store as the record's image URI
	Save(name string, data []byte) (string, error)

	// Get reads a photo by name
	Get(name string) ([]byte, error)

	// Delete removes a photo
	Delete(name string) error
}

// LocalStorage implements Storage in a directory on the device
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the photo directory if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Save writes data under the base name of name
func (l *LocalStorage) Save(name string, data []byte) (string, error) {
	name = filepath.Base(name)
	if err := os.WriteFile(l.path(name), data, 0644); err != nil {
		return "", fmt.Errorf("writing photo: %w", err)
	}
	return name, nil
}

// Get reads the photo stored under name. A missing photo is ErrNotFound.
func (l *LocalStorage) Get(name string) ([]byte, error) {
	data, err := os.ReadFile(l.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: photo %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading photo: %w", err)
	}
	return data, nil
}

// Delete removes the photo stored under name
func (l *LocalStorage) Delete(name string) error {
	if err := os.Remove(l.path(name)); err != nil {
		return fmt.Errorf("deleting photo: %w", err)
	}
	return nil
}

// path keeps every name inside basePath
func (l *LocalStorage) path(name string) string {
	return filepath.Join(l.basePath, filepath.Base(name))
}
