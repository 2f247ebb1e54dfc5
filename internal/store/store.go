// Package store provides a typed wrapper over a file-backed key-value
// document, used to survive restarts (e.g. remembering the active session
// id). It is the client-side analog of browser local storage: one JSON
// document, string keys, whole-value reads and writes.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"taskbridge/internal/log"
)

// Store reads and writes JSON values under string keys in a single state
// file. All methods are safe for concurrent use within one process; writes
// go through a temp file and rename so readers never observe a torn file.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a store backed by the given file path. The file is created
// lazily on first Set.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Get reads the value under key into T. The second return is false when the
// key is absent or the state file does not exist yet.
func Get[T any](s *Store, key string) (T, bool, error) {
	var zero T

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return zero, false, err
	}

	raw, ok := doc[key]
	if !ok {
		return zero, false, nil
	}

	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, false, fmt.Errorf("decoding state key %q: %w", key, err)
	}
	return value, true, nil
}

// Set serializes value under key and persists the document.
func Set[T any](s *Store, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding state key %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	doc[key] = raw

	return s.write(doc)
}

// Clear removes key from the document. Clearing an absent key is a no-op.
func (s *Store) Clear(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)

	return s.write(doc)
}

func (s *Store) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	doc := map[string]json.RawMessage{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		// A corrupt state file is not fatal: log and start fresh rather
		// than wedging the client on every launch.
		log.Warn(log.CatStore, "state file corrupt, resetting", "path", s.path, "error", err)
		return map[string]json.RawMessage{}, nil
	}
	return doc, nil
}

func (s *Store) write(doc map[string]json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state document: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
