// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/tablevine/tablevine-core/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore persists all items in a single JSON file.
//
// The whole map is rewritten atomically on every mutation. The store is
// intended for the handful of small records the core persists (session info,
// remember-me, audit trail), not for bulk data.
type FileStore struct {
	mu    sync.Mutex
	path  string
	items map[string]string
}

// NewFileStore opens (or creates) a file-backed store at path.
//
// A corrupted or unreadable file is treated as empty: the store starts fresh
// and the corruption is logged, matching the core's fail-open policy for
// persisted state.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store: path must not be empty")
	}

	fs := &FileStore{
		path:  path,
		items: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run, nothing to load
	case err != nil:
		return nil, fmt.Errorf("file store: read %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &fs.items); err != nil {
			log.Printf("STORAGE_CORRUPT: resetting %s: %v", path, err)
			fs.items = make(map[string]string)
		}
	}

	return fs, nil
}

// GetItem returns the value for key and whether it was present.
func (s *FileStore) GetItem(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok, nil
}

// SetItem stores value under key and flushes the file.
func (s *FileStore) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return s.flushLocked()
}

// RemoveItem deletes key and flushes the file.
func (s *FileStore) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return nil
	}
	delete(s.items, key)
	return s.flushLocked()
}

// Keys returns all stored keys with the given prefix, sorted.
func (s *FileStore) Keys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// flushLocked writes the full item map to disk. Caller must hold the lock.
func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: marshal: %w", err)
	}
	if err := util.AtomicWriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("file store: write %s: %w", s.path, err)
	}
	return nil
}
