// Package testutil provides fixtures for tests of the synchronization
// engine: entity documents, seeded stores and a goroutine test helper.
package testutil

import (
	"context"
	"testing"

	"github.com/xtxerr/cfgsync/config"
	"github.com/xtxerr/cfgsync/internal/changes"
	"github.com/xtxerr/cfgsync/internal/document"
	"github.com/xtxerr/cfgsync/internal/storage"
)

// =============================================================================
// Documents
// =============================================================================

// EntityOption customizes an entity document.
type EntityOption func(doc map[string]any)

// Entity returns a config entity document with the given uuid and an
// empty dependency set.
//
//	testutil.Entity("u-1", testutil.DependsOn("field.storage.node.body"), testutil.Ignore(changes.OpCreate))
func Entity(uuid string, opts ...EntityOption) map[string]any {
	doc := map[string]any{
		"uuid":         uuid,
		"langcode":     "en",
		"status":       true,
		"dependencies": map[string]any{},
	}
	for _, opt := range opts {
		opt(doc)
	}
	return doc
}

// Simple returns a plain configuration document.
func Simple(fields map[string]any) map[string]any {
	doc := map[string]any{}
	for k, v := range fields {
		doc[k] = v
	}
	return doc
}

// DependsOn adds config dependencies.
func DependsOn(names ...string) EntityOption {
	return dependencyOption("config", names)
}

// Modules adds module dependencies.
func Modules(names ...string) EntityOption {
	return dependencyOption("module", names)
}

// Themes adds theme dependencies.
func Themes(names ...string) EntityOption {
	return dependencyOption("theme", names)
}

func dependencyOption(kind string, names []string) EntityOption {
	return func(doc map[string]any) {
		deps, _ := doc["dependencies"].(map[string]any)
		if deps == nil {
			deps = map[string]any{}
			doc["dependencies"] = deps
		}
		list, _ := deps[kind].([]any)
		for _, n := range names {
			list = append(list, n)
		}
		deps[kind] = list
	}
}

// Ignore sets the ignore flag for ops (all four when empty).
func Ignore(ops ...changes.Op) EntityOption {
	return func(doc map[string]any) {
		updated := document.SetImportIgnore(doc, true, ops...)
		for k := range doc {
			delete(doc, k)
		}
		for k, v := range updated {
			doc[k] = v
		}
	}
}

// Field sets a top-level field.
func Field(key string, value any) EntityOption {
	return func(doc map[string]any) {
		doc[key] = value
	}
}

// CoreExtension returns a core.extension document enabling modules and
// themes.
func CoreExtension(modules, themes []string) map[string]any {
	m := map[string]any{}
	for _, name := range modules {
		m[name] = 0
	}
	th := map[string]any{}
	for _, name := range themes {
		th[name] = 0
	}
	return map[string]any{"module": m, "theme": th, "profile": "standard"}
}

// Site returns a system.site document with the given uuid.
func Site(uuid string) map[string]any {
	return map[string]any{"uuid": uuid, "name": "Test site", "mail": "admin@example.com"}
}

// =============================================================================
// Stores
// =============================================================================

// Docs maps configuration names to documents.
type Docs map[string]map[string]any

// Seed writes docs into collection of store.
func Seed(t testing.TB, store storage.Storage, collection string, docs Docs) {
	t.Helper()
	ctx := context.Background()
	for name, data := range docs {
		if err := store.Write(ctx, collection, name, data); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
}

// Stores returns a memory source and target seeded with docs in the
// default collection.
func Stores(t testing.TB, source, target Docs) (*storage.MemoryStorage, *storage.MemoryStorage) {
	t.Helper()
	src := storage.NewMemoryStorage()
	tgt := storage.NewMemoryStorage()
	Seed(t, src, config.DefaultCollection, source)
	Seed(t, tgt, config.DefaultCollection, target)
	return src, tgt
}

// Clone returns a deep copy of docs.
func (d Docs) Clone() Docs {
	out := make(Docs, len(d))
	for name, data := range d {
		out[name] = document.Clone(data)
	}
	return out
}

// With returns a copy of d with name set to data.
func (d Docs) With(name string, data map[string]any) Docs {
	out := d.Clone()
	out[name] = data
	return out
}
