// Package config provides configuration defaults and well-known names
// for the cfgsync application.
//
// This package defines all configurable constants with documented defaults.
// Users can override most of these values via cfgsync.yaml or CLI flags.
package config

// =============================================================================
// Collection Defaults
// =============================================================================

const (
	// DefaultCollection is the distinguished default storage collection.
	// Named collections (e.g. "language.fr") partition the namespace further.
	DefaultCollection = ""

	// CollectionSeparator separates collection name segments. File storage
	// maps each segment to a directory level.
	CollectionSeparator = "."
)

// =============================================================================
// Well-Known Configuration Names
// =============================================================================

const (
	// CoreExtensionName is the configuration object listing enabled
	// modules and themes (maps keyed by extension name).
	CoreExtensionName = "core.extension"

	// SiteConfigName holds the installation uuid used for site validation.
	SiteConfigName = "system.site"

	// CoreOwner is the owner prefix that is never considered orphaned.
	CoreOwner = "core"

	// RenameSeparator joins old and new names of a rename change.
	RenameSeparator = "::"
)

// =============================================================================
// Ignore Policy Metadata
// =============================================================================

const (
	// PolicyProvider is the third-party settings key under which the
	// ignore policy is stored on a config entity.
	PolicyProvider = "config_import_ignore"

	// PolicySetting is the setting name of the ignore policy mapping.
	PolicySetting = "import_ignore"

	// ThirdPartySettingsKey is the document key holding per-provider settings.
	ThirdPartySettingsKey = "third_party_settings"
)

// =============================================================================
// Import Defaults
// =============================================================================

const (
	// DefaultLockName is the advisory lock held for the duration of an import.
	DefaultLockName = "config_importer"

	// DefaultResyncBatchSize is how many ignored names one resync step
	// processes before yielding progress.
	// Override via config: resync.batch_size
	DefaultResyncBatchSize = 20
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultSyncDirectory is the directory holding exported YAML configuration.
	// Override via config: source.path
	DefaultSyncDirectory = "config/sync"

	// DefaultSQLDriver is the database/sql driver used for active storage.
	// Override via config: target.driver
	DefaultSQLDriver = "duckdb"

	// DefaultSQLDSN is the active storage database path.
	// Override via config: target.dsn
	DefaultSQLDSN = "cfgsync.db"

	// DefaultSQLTable is the table holding active configuration rows.
	DefaultSQLTable = "config"

	// DefaultQueryTimeoutSec is the per-query timeout for SQL storage.
	DefaultQueryTimeoutSec = 30
)

// =============================================================================
// Journal Defaults
// =============================================================================

const (
	// DefaultJournalDir is where per-run import journals are written.
	// Override via config: journal.dir
	DefaultJournalDir = "journal"

	// DefaultJournalCompression is the Parquet codec for journal files.
	// Override via config: journal.compression
	DefaultJournalCompression = "zstd"

	// DefaultSketchAccuracy is the relative accuracy of apply-latency quantiles.
	DefaultSketchAccuracy = 0.01
)
