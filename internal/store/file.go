package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps the record as a flat, human-inspectable JSON file.
// Save writes to a temp file in the same directory and renames it over
// the target so readers never observe a partial record.
type FileStore struct {
	path string
}

// NewFile builds a FileStore at path.
func NewFile(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty state file path")
	}
	return &FileStore{path: path}, nil
}

// EnsureSchema creates the containing directory. Failure here is the one
// fatal startup condition: the loop cannot run without it.
func (f *FileStore) EnsureSchema(_ context.Context) error {
	dir := filepath.Dir(f.path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return nil
}

func (f *FileStore) Load(_ context.Context) (Record, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("read state file: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("corrupt state file %s: %w", f.path, err)
	}
	return rec, nil
}

func (f *FileStore) Save(_ context.Context, rec Record) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
