package storage

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/cfgsync/internal/document"
)

// MemoryStorage is an in-memory Storage.
//
// Documents are deep-copied on read and write so callers never share
// state with the store. MemoryStorage is safe for concurrent use.
type MemoryStorage struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any

	writes  atomic.Int64
	deletes atomic.Int64

	locks *MemoryLocks
}

// NewMemoryStorage creates an empty memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		collections: make(map[string]map[string]map[string]any),
		locks:       NewMemoryLocks(),
	}
}

// List implements Storage.
func (s *MemoryStorage) List(_ context.Context, collection string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections[collection]))
	for name := range s.collections[collection] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Read implements Storage.
func (s *MemoryStorage) Read(_ context.Context, collection, name string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.collections[collection][name]
	if !ok {
		return nil, nil
	}
	return document.Clone(data), nil
}

// Exists implements Storage.
func (s *MemoryStorage) Exists(_ context.Context, collection, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.collections[collection][name]
	return ok, nil
}

// Write implements Storage.
func (s *MemoryStorage) Write(_ context.Context, collection, name string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, ok := s.collections[collection]
	if !ok {
		objects = make(map[string]map[string]any)
		s.collections[collection] = objects
	}
	objects[name] = document.Clone(data)
	s.writes.Add(1)
	return nil
}

// Delete implements Storage.
func (s *MemoryStorage) Delete(_ context.Context, collection, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects := s.collections[collection]
	if _, ok := objects[name]; !ok {
		return nil
	}
	delete(objects, name)
	if len(objects) == 0 && collection != "" {
		delete(s.collections, collection)
	}
	s.deletes.Add(1)
	return nil
}

// Collections implements Storage.
func (s *MemoryStorage) Collections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for c, objects := range s.collections {
		if c != "" && len(objects) > 0 {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Writes returns how many Write calls the store has served.
func (s *MemoryStorage) Writes() int64 {
	return s.writes.Load()
}

// Deletes returns how many objects have been deleted.
func (s *MemoryStorage) Deletes() int64 {
	return s.deletes.Load()
}
