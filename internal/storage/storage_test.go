package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/cfgsync/internal/errors"
)

// =============================================================================
// Conformance Suite
// =============================================================================

func backends(t *testing.T) map[string]Storage {
	t.Helper()

	cfg := DefaultSQLConfig()
	cfg.Driver = "sqlite"
	cfg.DSN = filepath.Join(t.TempDir(), "config.db")
	cfg.MaxOpenConns = 1
	sqlStore, err := NewSQLStorage(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"file":   NewMemFileStorage(),
		"sql":    sqlStore,
	}
}

func TestStorage_ReadAbsent(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			data, err := s.Read(ctx, "", "system.site")
			require.NoError(t, err)
			assert.Nil(t, data)

			ok, err := s.Exists(ctx, "", "system.site")
			require.NoError(t, err)
			assert.False(t, ok)

			names, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestStorage_WriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	doc := map[string]any{
		"uuid": "u-1",
		"dependencies": map[string]any{
			"config": []any{"field.storage.node.body"},
		},
		"weight": 3,
	}

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write(ctx, "", "node.type.page", doc))

			got, err := s.Read(ctx, "", "node.type.page")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "u-1", got["uuid"])
			assert.EqualValues(t, 3, got["weight"])

			deps, ok := got["dependencies"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, []any{"field.storage.node.body"}, deps["config"])

			ok, err = s.Exists(ctx, "", "node.type.page")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestStorage_ListSortedPerCollection(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write(ctx, "", "views.view.b", map[string]any{"id": "b"}))
			require.NoError(t, s.Write(ctx, "", "views.view.a", map[string]any{"id": "a"}))
			require.NoError(t, s.Write(ctx, "language.fr", "views.view.a", map[string]any{"label": "fr"}))

			names, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"views.view.a", "views.view.b"}, names)

			names, err = s.List(ctx, "language.fr")
			require.NoError(t, err)
			assert.Equal(t, []string{"views.view.a"}, names)

			collections, err := s.Collections(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"language.fr"}, collections)
		})
	}
}

func TestStorage_Delete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write(ctx, "", "block.block.x", map[string]any{"id": "x"}))
			require.NoError(t, s.Delete(ctx, "", "block.block.x"))
			require.NoError(t, s.Delete(ctx, "", "block.block.x"), "deleting twice is not an error")

			data, err := s.Read(ctx, "", "block.block.x")
			require.NoError(t, err)
			assert.Nil(t, data)
		})
	}
}

func TestStorage_Overwrite(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write(ctx, "", "system.site", map[string]any{"name": "old"}))
			require.NoError(t, s.Write(ctx, "", "system.site", map[string]any{"name": "new"}))

			got, err := s.Read(ctx, "", "system.site")
			require.NoError(t, err)
			assert.Equal(t, "new", got["name"])

			names, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, names, 1)
		})
	}
}

// =============================================================================
// Backend Specifics
// =============================================================================

func TestMemoryStorage_IsolatesCallers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	doc := map[string]any{"nested": map[string]any{"k": "v"}}
	require.NoError(t, s.Write(ctx, "", "a.b", doc))
	doc["nested"].(map[string]any)["k"] = "mutated"

	got, err := s.Read(ctx, "", "a.b")
	require.NoError(t, err)
	assert.Equal(t, "v", got["nested"].(map[string]any)["k"])

	got["nested"].(map[string]any)["k"] = "mutated again"
	again, err := s.Read(ctx, "", "a.b")
	require.NoError(t, err)
	assert.Equal(t, "v", again["nested"].(map[string]any)["k"])

	assert.EqualValues(t, 1, s.Writes())
}

func TestFileStorage_CollectionLayout(t *testing.T) {
	ctx := context.Background()
	s := NewMemFileStorage()

	require.NoError(t, s.Write(ctx, "language.fr", "system.site", map[string]any{"name": "Site"}))

	_, err := s.Filesystem().Stat("language/fr/system.site.yml")
	require.NoError(t, err)

	names, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names, "collection directories are not objects")
}

func TestFileStorage_IgnoresForeignFiles(t *testing.T) {
	ctx := context.Background()
	s := NewMemFileStorage()

	f, err := s.Filesystem().Create("README.txt")
	require.NoError(t, err)
	f.Close()
	require.NoError(t, s.Write(ctx, "", "system.site", map[string]any{"name": "Site"}))

	names, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"system.site"}, names)
}

func TestSQLStorage_RejectsUnknownDriver(t *testing.T) {
	cfg := DefaultSQLConfig()
	cfg.Driver = "postgres"

	_, err := NewSQLStorage(cfg)
	require.Error(t, err)
}

func TestSQLStorage_ClosedStore(t *testing.T) {
	cfg := DefaultSQLConfig()
	cfg.Driver = "sqlite"
	cfg.DSN = filepath.Join(t.TempDir(), "closed.db")

	s, err := NewSQLStorage(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.List(context.Background(), "")
	assert.ErrorIs(t, err, errors.ErrClosed)
}

func TestMirror(t *testing.T) {
	for name, dst := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			src := NewMemoryStorage()
			require.NoError(t, src.Write(ctx, "", "system.site", map[string]any{"uuid": "s"}))
			require.NoError(t, src.Write(ctx, "language.de", "system.site", map[string]any{"name": "Seite"}))

			require.NoError(t, dst.Write(ctx, "", "stale.object", map[string]any{"x": true}))
			require.NoError(t, dst.Write(ctx, "language.fr", "system.site", map[string]any{"name": "Site"}))

			n, err := Mirror(ctx, dst, src)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			got, err := dst.Read(ctx, "language.de", "system.site")
			require.NoError(t, err)
			assert.Equal(t, "Seite", got["name"])

			names, err := dst.List(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"system.site"}, names)

			names, err = dst.List(ctx, "language.fr")
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestAllCollections(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryStorage()
	b := NewMemoryStorage()
	require.NoError(t, a.Write(ctx, "language.fr", "x.y", map[string]any{}))
	require.NoError(t, b.Write(ctx, "language.de", "x.y", map[string]any{}))
	require.NoError(t, b.Write(ctx, "language.fr", "x.z", map[string]any{}))

	got, err := AllCollections(ctx, a, nil, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "language.fr", "language.de"}, got)
}

// =============================================================================
// Locks
// =============================================================================

func TestLocker(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := LockerOf(s)
			require.NotSame(t, processLocks, l, "every backend keeps its own locks")

			ok, err := l.Acquire(ctx, "config_importer", "run-a")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = l.Acquire(ctx, "config_importer", "run-a")
			require.NoError(t, err)
			assert.True(t, ok, "re-entrant for the same owner")

			ok, err = l.Acquire(ctx, "config_importer", "run-b")
			require.NoError(t, err)
			assert.False(t, ok)

			owner, _, held, err := l.Holder(ctx, "config_importer")
			require.NoError(t, err)
			assert.True(t, held)
			assert.Equal(t, "run-a", owner)

			require.NoError(t, l.Release(ctx, "config_importer", "run-b"))
			_, _, held, err = l.Holder(ctx, "config_importer")
			require.NoError(t, err)
			assert.True(t, held, "only the owner releases")

			require.NoError(t, l.Release(ctx, "config_importer", "run-a"))
			_, _, held, err = l.Holder(ctx, "config_importer")
			require.NoError(t, err)
			assert.False(t, held)

			collections, err := s.Collections(ctx)
			require.NoError(t, err)
			assert.Empty(t, collections, "locks are not configuration")
		})
	}
}

func TestLocker_SharedAcrossHandles(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	fileA, fileB := NewDirStorage(dir), NewDirStorage(dir)

	cfg := DefaultSQLConfig()
	cfg.Driver = "sqlite"
	cfg.DSN = filepath.Join(t.TempDir(), "config.db")
	cfg.MaxOpenConns = 1
	sqlA, err := NewSQLStorage(cfg)
	require.NoError(t, err)
	defer sqlA.Close()
	sqlB, err := NewSQLStorage(cfg)
	require.NoError(t, err)
	defer sqlB.Close()

	pairs := map[string][2]Locker{
		"file": {fileA, fileB},
		"sql":  {sqlA, sqlB},
	}
	for name, pair := range pairs {
		t.Run(name, func(t *testing.T) {
			a, b := pair[0], pair[1]

			ok, err := a.Acquire(ctx, "config_importer", "run-a")
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = b.Acquire(ctx, "config_importer", "run-b")
			require.NoError(t, err)
			assert.False(t, ok, "a second handle sees the lock")

			owner, since, held, err := b.Holder(ctx, "config_importer")
			require.NoError(t, err)
			assert.True(t, held)
			assert.Equal(t, "run-a", owner)
			assert.False(t, since.IsZero())

			require.NoError(t, a.Release(ctx, "config_importer", "run-a"))
			ok, err = b.Acquire(ctx, "config_importer", "run-b")
			require.NoError(t, err)
			assert.True(t, ok)
			require.NoError(t, b.Release(ctx, "config_importer", "run-b"))
		})
	}
}

func TestLockerOf_FallsBackToProcessLocks(t *testing.T) {
	assert.Same(t, processLocks, LockerOf(plainStore{NewMemoryStorage()}))
}

// plainStore hides the lock methods of the store it wraps.
type plainStore struct{ s *MemoryStorage }

func (p plainStore) List(ctx context.Context, c string) ([]string, error) { return p.s.List(ctx, c) }
func (p plainStore) Read(ctx context.Context, c, n string) (map[string]any, error) {
	return p.s.Read(ctx, c, n)
}
func (p plainStore) Exists(ctx context.Context, c, n string) (bool, error) { return p.s.Exists(ctx, c, n) }
func (p plainStore) Write(ctx context.Context, c, n string, d map[string]any) error {
	return p.s.Write(ctx, c, n, d)
}
func (p plainStore) Delete(ctx context.Context, c, n string) error { return p.s.Delete(ctx, c, n) }
func (p plainStore) Collections(ctx context.Context) ([]string, error) {
	return p.s.Collections(ctx)
}
