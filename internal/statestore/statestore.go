// Package statestore implements the single atomic read-modify-write primitive
// every persisted JSON document in Sprinty goes through: read, apply a mutation
// function, write to a sibling temp file, fsync, rename over the target.
package statestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrStateCorrupt is returned when an existing file is not valid JSON.
// Callers may recover by reinitializing the document.
var ErrStateCorrupt = fmt.Errorf("state file is corrupt")

// Store guards a single JSON document with a mutex and performs every mutation
// through Update. One Store should be used per logical document (backlog.json,
// sprint_state.json, status.json, ...); callers changing several records of
// one document (e.g. backlog break-down touching parent and child) do so
// inside a single Update call, which is safe because Store serializes access
// to its own path.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a Store bound to path. The parent directory is created if absent.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir for %s: %w", path, err)
	}
	return &Store{path: path}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Update reads the current JSON document into a value of the same type as zero
// (or the zero value if the file does not yet exist), invokes fn on a pointer to
// it, and atomically persists the (possibly mutated) result. fn may return an
// error to abort the write entirely; in that case the file on disk is
// untouched. Update serializes all access to the same Store.
func Update[T any](s *Store, fn func(state *T) error) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state T
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if len(bytes.TrimSpace(data)) == 0 {
			// Empty file: treat as zero value, same as not-yet-created.
		} else if uerr := json.Unmarshal(data, &state); uerr != nil {
			return state, fmt.Errorf("%w: %s: %v", ErrStateCorrupt, s.path, uerr)
		}
	case os.IsNotExist(err):
		// Zero value is the initial state.
	default:
		return state, fmt.Errorf("read %s: %w", s.path, err)
	}

	if err := fn(&state); err != nil {
		return state, err
	}

	if err := s.write(state); err != nil {
		return state, err
	}
	return state, nil
}

// Read loads the current document without mutating it. Returns the zero value
// if the file does not exist.
func Read[T any](s *Store) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state T
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return state, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("%w: %s: %v", ErrStateCorrupt, s.path, err)
	}
	return state, nil
}

// Exists reports whether the backing file has been created yet.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// write marshals state and persists it via temp-file-then-rename in the same
// directory as s.path, so the rename is always on one filesystem and therefore
// atomic. This is the only place any document in Sprinty is written to disk.
func (s *Store) write(state any) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", s.path, err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", s.path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file for %s: %w", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp file for %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file for %s: %w", s.path, err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename into place %s: %w", s.path, err)
	}
	return nil
}
