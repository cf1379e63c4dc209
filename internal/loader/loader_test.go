package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/cfgsync/config"
	"github.com/xtxerr/cfgsync/internal/errors"
	"github.com/xtxerr/cfgsync/internal/extension"
	"github.com/xtxerr/cfgsync/internal/journal"
	"github.com/xtxerr/cfgsync/internal/storage"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// =============================================================================
// Load
// =============================================================================

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, StorageFile, cfg.Source.Type)
	assert.Equal(t, config.DefaultSyncDirectory, cfg.Source.Path)
	assert.Equal(t, StorageSQL, cfg.Target.Type)
	assert.Equal(t, config.DefaultSQLDriver, cfg.Target.Driver)
	assert.Equal(t, config.DefaultResyncBatchSize, cfg.Resync.BatchSize)
	assert.False(t, cfg.Journal.Enabled)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CFGSYNC_TEST_DSN", filepath.Join(dir, "active.db"))

	path := filepath.Join(dir, "cfgsync.yaml")
	writeFile(t, path, `
source:
  type: file
  path: ./sync
target:
  type: sql
  driver: sqlite
  dsn: ${CFGSYNC_TEST_DSN}
  query_timeout: 45s
entity_types:
  node.type: node_type
journal:
  enabled: true
  compression: snappy
resync:
  batch_size: 5
log:
  level: debug
  json: true
include:
  - types/*.yaml
`)
	writeFile(t, filepath.Join(dir, "types", "views.yaml"), `
entity_types:
  views.view: view
  node.type: content_type
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "./sync", cfg.Source.Path)
	assert.Equal(t, filepath.Join(dir, "active.db"), cfg.Target.DSN)
	assert.Equal(t, "sqlite", cfg.Target.Driver)
	assert.Equal(t, config.DefaultSQLTable, cfg.Target.Table, "unset fields keep defaults")
	assert.Equal(t, 45*time.Second, cfg.Target.QueryTimeout.Duration())
	assert.Equal(t, map[string]string{"node.type": "content_type", "views.view": "view"}, cfg.EntityTypes)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, config.DefaultJournalDir, cfg.Journal.Dir)
	assert.Equal(t, 5, cfg.Resync.BatchSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)

	require.NoError(t, Validate(cfg))
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "source: [not, a, map")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	cfg, err := Parse([]byte("target:\n  query_timeout: 12\n"))
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, cfg.Target.QueryTimeout.Duration())

	cfg, err = Parse([]byte("target:\n  query_timeout: 1m30s\n"))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Target.QueryTimeout.Duration())

	_, err = Parse([]byte("target:\n  query_timeout: soon\n"))
	assert.Error(t, err)
}

// =============================================================================
// Validate
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"missing source type", func(c *Config) { c.Source.Type = "" }},
		{"unknown target type", func(c *Config) { c.Target.Type = "ftp" }},
		{"file without path", func(c *Config) { c.Source.Path = "" }},
		{"sql without dsn", func(c *Config) { c.Target.DSN = "" }},
		{"unknown driver", func(c *Config) { c.Target.Driver = "postgres" }},
		{"bad snapshot", func(c *Config) { c.Snapshot = &StorageSpec{Type: StorageFile} }},
		{"empty entity type", func(c *Config) { c.EntityTypes["node.type"] = "" }},
		{"journal without dir", func(c *Config) { c.Journal.Enabled = true; c.Journal.Dir = "" }},
		{"accuracy out of range", func(c *Config) { c.Journal.Accuracy = 1.5 }},
		{"zero batch size", func(c *Config) { c.Resync.BatchSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.Path = ""
	cfg.Resync.BatchSize = -1

	err := Validate(cfg)
	var verrs *errors.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs.Errors, 2)
}

// =============================================================================
// Setup
// =============================================================================

func TestSetup(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sync", "system.site.yml"), "uuid: site-1\nname: Test\n")
	writeFile(t, filepath.Join(dir, "modules", "node", "node.info.yml"), "name: Node\ntype: module\n")
	writeFile(t, filepath.Join(dir, "themes", "olivero", "olivero.info.yml"), "name: Olivero\ntype: theme\n")

	cfg := DefaultConfig()
	cfg.Source = StorageSpec{Type: StorageFile, Path: filepath.Join(dir, "sync")}
	cfg.Target = StorageSpec{Type: StorageSQL, Driver: "sqlite", DSN: filepath.Join(dir, "active.db"), MaxOpenConns: 1}
	cfg.Snapshot = &StorageSpec{Type: StorageMemory}
	cfg.Extensions.Path = dir
	cfg.EntityTypes = map[string]string{"node.type": "node_type"}
	cfg.Journal = JournalConfig{Enabled: true, Dir: filepath.Join(dir, "journal"), Compression: "zstd", Accuracy: 0.01}

	ctx := context.Background()
	env, err := Setup(ctx, cfg)
	require.NoError(t, err)
	defer env.Close()

	site, err := env.Source.Read(ctx, "", "system.site")
	require.NoError(t, err)
	assert.Equal(t, "site-1", site["uuid"])

	require.NoError(t, env.Target.Write(ctx, "", "system.site", site))
	assert.IsType(t, &storage.SQLStorage{}, env.Target)
	assert.IsType(t, &storage.MemoryStorage{}, env.Snapshot)

	entityType, ok := env.Entities.EntityTypeByName("node.type.article")
	assert.True(t, ok)
	assert.Equal(t, "node_type", entityType)

	assert.True(t, env.Inventory.Has(extension.TypeModule, "node"))
	assert.True(t, env.Inventory.Has(extension.TypeTheme, "olivero"))

	icfg := env.ImporterConfig("run-7", nil)
	assert.Equal(t, "run-7", icfg.RunID)
	assert.Equal(t, cfg.Resync.BatchSize, icfg.BatchSize)
	assert.Same(t, env.Target, icfg.Locks, "locks live in the target store")

	ok, err = env.Locks.Acquire(ctx, config.DefaultLockName, "run-7")
	require.NoError(t, err)
	require.True(t, ok)
	other, closer, err := OpenStorage(cfg.Target)
	require.NoError(t, err)
	owner, _, held, err := storage.LockerOf(other).Holder(ctx, config.DefaultLockName)
	require.NoError(t, err)
	assert.True(t, held, "another handle on the target sees the lock")
	assert.Equal(t, "run-7", owner)
	require.NoError(t, closer.Close())
	require.NoError(t, env.Locks.Release(ctx, config.DefaultLockName, "run-7"))

	j, err := env.OpenJournal("run-7")
	require.NoError(t, err)
	j.Record(ctx, journal.Entry{Name: "system.site", Outcome: journal.OutcomeApplied})
	require.NoError(t, j.Close())
	assert.FileExists(t, filepath.Join(dir, "journal", "run-7.parquet"))
}

func TestSetup_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Target.Type = "ftp"

	_, err := Setup(context.Background(), cfg)
	assert.True(t, errors.IsValidation(err))
}

func TestOpenStorage(t *testing.T) {
	s, closer, err := OpenStorage(StorageSpec{Type: StorageMemory})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.NotNil(t, s)

	_, _, err = OpenStorage(StorageSpec{Type: StorageSQL, Driver: "postgres", DSN: "x"})
	assert.Error(t, err)
}

func TestToJournalConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Empty(t, ToJournalConfig(&cfg.Journal).Dir, "disabled journal writes no file")

	cfg.Journal.Enabled = true
	jc := ToJournalConfig(&cfg.Journal)
	assert.Equal(t, config.DefaultJournalDir, jc.Dir)
	assert.Equal(t, journal.CompressionZstd, jc.Options.Compression)
}
