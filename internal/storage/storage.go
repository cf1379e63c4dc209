// Package storage provides the configuration stores a synchronization run
// reads from and writes to.
//
// A Storage holds named configuration documents partitioned into
// collections. The default collection is the empty string; named
// collections (e.g. "language.fr") hold overrides such as translations.
//
// Three backends are provided:
//
//   - MemoryStorage: in-process maps, used for snapshots and tests
//   - FileStorage:   one YAML file per object on a go-billy filesystem
//   - SQLStorage:    rows in a DuckDB or SQLite table
package storage

import (
	"context"
)

// Storage is a collection-aware configuration store.
//
// Read returns (nil, nil) for an absent object: absence is not an error.
// List returns names sorted ascending.
type Storage interface {
	// List returns every object name in collection.
	List(ctx context.Context, collection string) ([]string, error)

	// Read returns the document for name, or nil if it does not exist.
	Read(ctx context.Context, collection, name string) (map[string]any, error)

	// Exists reports whether name exists in collection.
	Exists(ctx context.Context, collection, name string) (bool, error)

	// Write creates or replaces the document for name.
	Write(ctx context.Context, collection, name string, data map[string]any) error

	// Delete removes name. Deleting an absent object is not an error.
	Delete(ctx context.Context, collection, name string) error

	// Collections returns the named (non-default) collections holding at
	// least one object.
	Collections(ctx context.Context) ([]string, error)
}

// AllCollections returns the default collection followed by the named
// collections of every given store, deduplicated.
func AllCollections(ctx context.Context, stores ...Storage) ([]string, error) {
	seen := map[string]struct{}{"": {}}
	out := []string{""}

	for _, s := range stores {
		if s == nil {
			continue
		}
		collections, err := s.Collections(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range collections {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}

	return out, nil
}

// Replacer is implemented by stores that can swap the contents of a
// collection in one transaction.
type Replacer interface {
	Replace(ctx context.Context, collection string, objects map[string]map[string]any) error
}

// Mirror makes dst hold exactly the objects of src, collection by
// collection, and returns the number of objects written. Collections only
// dst holds are emptied.
func Mirror(ctx context.Context, dst, src Storage) (int, error) {
	collections, err := AllCollections(ctx, src, dst)
	if err != nil {
		return 0, err
	}

	copied := 0
	for _, collection := range collections {
		objects, err := readAll(ctx, src, collection)
		if err != nil {
			return copied, err
		}

		if r, ok := dst.(Replacer); ok {
			if err := r.Replace(ctx, collection, objects); err != nil {
				return copied, err
			}
			copied += len(objects)
			continue
		}

		stale, err := dst.List(ctx, collection)
		if err != nil {
			return copied, err
		}
		for _, name := range stale {
			if _, ok := objects[name]; ok {
				continue
			}
			if err := dst.Delete(ctx, collection, name); err != nil {
				return copied, err
			}
		}
		for name, data := range objects {
			if err := dst.Write(ctx, collection, name, data); err != nil {
				return copied, err
			}
			copied++
		}
	}
	return copied, nil
}

func readAll(ctx context.Context, s Storage, collection string) (map[string]map[string]any, error) {
	names, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(names))
	for _, name := range names {
		data, err := s.Read(ctx, collection, name)
		if err != nil {
			return nil, err
		}
		if data != nil {
			out[name] = data
		}
	}
	return out, nil
}
