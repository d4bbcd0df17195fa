// Package cursor persists the inbound polling offset in a small JSON
// document. Unknown keys in the document are preserved on rewrite.
package cursor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// offsetKey is the document key holding the next offset to fetch.
const offsetKey = "offset"

// Store loads and saves the polling offset.
type Store interface {
	Load() (int64, error)
	Save(offset int64) error
}

// File is a Store backed by a JSON file, rewritten atomically.
type File struct {
	path string

	mu  sync.Mutex
	doc map[string]json.RawMessage
}

// NewFile creates a File store at path. The file need not exist yet.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("cursor: path is required")
	}
	return &File{path: path}, nil
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Load reads the offset. A missing file reads as offset 0.
func (f *File) Load() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.doc = make(map[string]json.RawMessage)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cursor: read %s: %w", f.path, err)
	}

	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("cursor: parse %s: %w", f.path, err)
	}
	f.doc = doc

	raw, ok := doc[offsetKey]
	if !ok {
		return 0, nil
	}
	var offset int64
	if err := json.Unmarshal(raw, &offset); err != nil {
		return 0, fmt.Errorf("cursor: parse %s: offset: %w", f.path, err)
	}
	return offset, nil
}

// Save writes offset by replacing the file through a temp file and rename.
func (f *File) Save(offset int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.doc == nil {
		f.doc = make(map[string]json.RawMessage)
	}
	raw, _ := json.Marshal(offset)
	f.doc[offsetKey] = raw

	data, err := json.Marshal(f.doc)
	if err != nil {
		return fmt.Errorf("cursor: encode: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cursor: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("cursor: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cursor: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cursor: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cursor: close temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cursor: rename: %w", err)
	}
	return nil
}

// Memory is an in-process Store for tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	offset  int64
	saves   int
	SaveErr error
}

// Load returns the last saved offset.
func (m *Memory) Load() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset, nil
}

// Save records offset unless SaveErr is set.
func (m *Memory) Save(offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.offset = offset
	m.saves++
	return nil
}

// Saves returns how many successful saves happened.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
