// Package client is the embeddable reporting side of the TreePulse
// analytics pipeline. It buffers view/click events locally, suppresses
// duplicates across three storage layers, and delivers batches to the
// ingest endpoint with retry-on-next-flush semantics. Everything here
// is best-effort telemetry: no method ever fails the caller's flow.
package client

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Store is a minimal string key-value store with browser-storage
// semantics: Get misses are not errors, and writes may fail (quota,
// disabled storage) without the caller caring.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string)
}

// memoryStore keeps values for the lifetime of the process. It backs
// both the in-memory dedup layer and the session-scoped layer.
type memoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty in-process Store.
func NewMemoryStore() Store {
	return &memoryStore{values: make(map[string]string)}
}

func (s *memoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *memoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// fileStore persists values to a single JSON file so the queue and
// dedup state survive restarts. Writes go through a temp file and
// rename so a crash mid-write cannot corrupt the previous state.
type fileStore struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// NewFileStore opens (or creates) a file-backed Store at path.
func NewFileStore(path string) (Store, error) {
	s := &fileStore{
		path:   path,
		values: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		return s, nil
	}
	// A corrupt state file is discarded, not fatal.
	_ = json.Unmarshal(data, &s.values)
	return s, nil
}

func (s *fileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *fileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.persistLocked()
}

func (s *fileStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	_ = s.persistLocked()
}

func (s *fileStore) persistLocked() error {
	data, err := json.Marshal(s.values)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
