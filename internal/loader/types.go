// Package loader - Configuration Types
//
// Defines the YAML configuration structure for cfgsync.
//
//	source:        staged configuration being imported (file, sql or memory)
//	target:        active configuration the import writes to
//	snapshot:      active configuration as of the last import (optional)
//	extensions:    root scanned for *.info.yml module/theme metadata
//	entity_types:  config prefix -> entity type
//	journal:       per-run Parquet journal
//	resync:        ignore-policy resync batching
//	log:           level and format
package loader

import (
	"strconv"
	"time"

	"github.com/xtxerr/cfgsync/config"
	"github.com/xtxerr/cfgsync/internal/storage"
)

// Storage backend types.
const (
	StorageFile   = "file"
	StorageSQL    = "sql"
	StorageMemory = "memory"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for cfgsync.
type Config struct {
	// -------------------------------------------------------------------------
	// Stores
	// -------------------------------------------------------------------------

	// Source is the staged configuration, usually an exported YAML tree.
	// Default: file store at "config/sync"
	Source StorageSpec `yaml:"source"`

	// Target is the active configuration.
	// Default: DuckDB store "cfgsync.db"
	Target StorageSpec `yaml:"target"`

	// Snapshot is the active configuration as of the last import. When
	// set, changes made since then are reported before importing.
	Snapshot *StorageSpec `yaml:"snapshot,omitempty"`

	// -------------------------------------------------------------------------
	// Registries
	// -------------------------------------------------------------------------

	// Extensions configures module/theme discovery.
	Extensions ExtensionsConfig `yaml:"extensions"`

	// EntityTypes maps config prefixes to entity types
	// (e.g. "node.type": node_type). Unmapped names are simple configuration.
	EntityTypes map[string]string `yaml:"entity_types"`

	// -------------------------------------------------------------------------
	// Import
	// -------------------------------------------------------------------------

	// Journal configures the per-run import journal.
	Journal JournalConfig `yaml:"journal"`

	// Resync configures the ignore-policy resync pass.
	Resync ResyncConfig `yaml:"resync"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`

	// Include lists additional files whose entity_types are merged in.
	// Supports glob patterns. Relative to this file's directory.
	Include []string `yaml:"include"`
}

// StorageSpec selects and configures a configuration store.
type StorageSpec struct {
	// Type is "file", "sql" or "memory".
	Type string `yaml:"type"`

	// Path is the directory of a file store.
	Path string `yaml:"path"`

	// Driver is the SQL driver: "duckdb" or "sqlite".
	// Default: "duckdb"
	Driver string `yaml:"driver"`

	// DSN is the SQL connection string.
	DSN string `yaml:"dsn"`

	// Table holds the configuration rows.
	// Default: "config"
	Table string `yaml:"table"`

	// MaxOpenConns is the max open database connections.
	// Default: 4
	MaxOpenConns int `yaml:"max_open_conns"`

	// QueryTimeout is the per-query timeout.
	// Default: 30s
	QueryTimeout Duration `yaml:"query_timeout"`
}

// ExtensionsConfig configures the module/theme inventory.
type ExtensionsConfig struct {
	// Path is scanned recursively for *.info.yml files. Empty means no
	// inventory: only core.extension decides what is enabled.
	Path string `yaml:"path"`
}

// JournalConfig configures the import journal.
type JournalConfig struct {
	// Enabled writes a Parquet journal per run.
	Enabled bool `yaml:"enabled"`

	// Dir receives the journal files.
	// Default: "journal"
	Dir string `yaml:"dir"`

	// Compression is the Parquet codec: none, snappy, zstd, lz4, gzip.
	// Default: "zstd"
	Compression string `yaml:"compression"`

	// Accuracy is the relative accuracy of apply-latency quantiles.
	// Default: 0.01
	Accuracy float64 `yaml:"accuracy"`
}

// ResyncConfig configures the ignore-policy resync pass.
type ResyncConfig struct {
	// BatchSize is how many changes one step processes.
	// Default: 20
	BatchSize int `yaml:"batch_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	// Default: "info"
	Level string `yaml:"level"`

	// JSON switches to JSON output.
	JSON bool `yaml:"json"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Source: StorageSpec{
			Type: StorageFile,
			Path: config.DefaultSyncDirectory,
		},

		Target: StorageSpec{
			Type:         StorageSQL,
			Driver:       config.DefaultSQLDriver,
			DSN:          config.DefaultSQLDSN,
			Table:        config.DefaultSQLTable,
			MaxOpenConns: 4,
			QueryTimeout: Duration(config.DefaultQueryTimeoutSec * time.Second),
		},

		EntityTypes: map[string]string{},

		Journal: JournalConfig{
			Dir:         config.DefaultJournalDir,
			Compression: config.DefaultJournalCompression,
			Accuracy:    config.DefaultSketchAccuracy,
		},

		Resync: ResyncConfig{
			BatchSize: config.DefaultResyncBatchSize,
		},

		Log: LogConfig{
			Level: "info",
		},
	}
}

// ToSQLConfig converts a sql storage spec to the store configuration.
func (s StorageSpec) ToSQLConfig() storage.SQLConfig {
	cfg := storage.DefaultSQLConfig()
	if s.Driver != "" {
		cfg.Driver = s.Driver
	}
	if s.DSN != "" {
		cfg.DSN = s.DSN
	}
	if s.Table != "" {
		cfg.Table = s.Table
	}
	if s.MaxOpenConns > 0 {
		cfg.MaxOpenConns = s.MaxOpenConns
	}
	if s.QueryTimeout > 0 {
		cfg.QueryTimeout = s.QueryTimeout.Duration()
	}
	return cfg
}

// =============================================================================
// Custom Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		// Try as int (seconds)
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		secs, convErr := strconv.Atoi(s)
		if convErr != nil {
			return err
		}
		dur = time.Duration(secs) * time.Second
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
