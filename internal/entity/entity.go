// Package entity maps configuration names to entity types and resolves the
// handler that applies import operations for each type.
//
// A configuration name belongs to an entity type when it starts with the
// type's config prefix followed by a dot ("node.type.article" belongs to the
// type registered for "node.type"). Names matching no prefix are simple
// configuration.
package entity

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/xtxerr/cfgsync/internal/document"
	"github.com/xtxerr/cfgsync/internal/errors"
)

// =============================================================================
// Handler Contracts
// =============================================================================

// Storage is the handler resolved for an entity type.
type Storage interface {
	// EntityType returns the entity type id this handler serves.
	EntityType() string
}

// ImportableStorage is a handler that can apply import operations.
//
// newData is nil for deletions; oldData is nil for creations.
type ImportableStorage interface {
	Storage
	ImportCreate(ctx context.Context, collection, name string, newData, oldData document.Data) error
	ImportUpdate(ctx context.Context, collection, name string, newData, oldData document.Data) error
	ImportDelete(ctx context.Context, collection, name string, newData, oldData document.Data) error
	ImportRename(ctx context.Context, collection, oldName, newName string, newData, oldData document.Data) error
}

// =============================================================================
// Registry
// =============================================================================

// Registry resolves entity types and their handlers.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	prefixes map[string]string // config prefix -> entity type
	handlers map[string]Storage
	ordered  []string // prefixes, longest first
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		prefixes: make(map[string]string),
		handlers: make(map[string]Storage),
	}
}

// Register maps prefix to entityType and installs handler for the type.
// A nil handler keeps any handler already installed.
func (r *Registry) Register(prefix, entityType string, handler Storage) error {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return errors.NewMissingField("config prefix")
	}
	if entityType == "" {
		return errors.NewMissingField("entity type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.prefixes[prefix]; !ok {
		r.ordered = append(r.ordered, prefix)
		sort.SliceStable(r.ordered, func(i, j int) bool {
			return len(r.ordered[i]) > len(r.ordered[j])
		})
	}
	r.prefixes[prefix] = entityType
	if handler != nil {
		r.handlers[entityType] = handler
	}
	return nil
}

// EntityTypeByName returns the entity type owning name, or "" and false for
// simple configuration. The longest matching prefix wins.
func (r *Registry) EntityTypeByName(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, prefix := range r.ordered {
		if strings.HasPrefix(name, prefix+".") {
			return r.prefixes[prefix], true
		}
	}
	return "", false
}

// Handler returns the handler installed for entityType.
func (r *Registry) Handler(entityType string) (Storage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[entityType]
	if !ok {
		return nil, errors.Wrapf(errors.ErrEntityTypeNotFound, "entity type %q", entityType)
	}
	return h, nil
}

// ImportHandler resolves the importable handler for entityType. A handler
// that cannot import yields ErrUnsupportedStorage.
func (r *Registry) ImportHandler(entityType string) (ImportableStorage, error) {
	h, err := r.Handler(entityType)
	if err != nil {
		return nil, err
	}
	importable, ok := h.(ImportableStorage)
	if !ok {
		return nil, errors.NewUnsupportedStorage(h, entityType)
	}
	return importable, nil
}

// Prefixes returns the registered config prefixes, sorted.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := append([]string(nil), r.ordered...)
	sort.Strings(out)
	return out
}
