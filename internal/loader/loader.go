// Package loader handles configuration file loading, validation, and
// construction of the stores and registries an import needs.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Processing include directives
//   - Opening source, target and snapshot stores
//   - Building the entity and extension registries
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/cfgsync/internal/errors"
	"github.com/xtxerr/cfgsync/internal/journal"
	"github.com/xtxerr/cfgsync/internal/storage"
)

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	// Process includes (load additional entity type files)
	if err := processIncludes(cfg, filepath.Dir(path)); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse parses YAML configuration on top of DefaultConfig. Environment
// variables are expanded first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.EntityTypes == nil {
		cfg.EntityTypes = map[string]string{}
	}
	return cfg, nil
}

// processIncludes loads and merges included configuration files.
func processIncludes(cfg *Config, baseDir string) error {
	for _, pattern := range cfg.Include {
		// Resolve relative paths
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(baseDir, pattern)
		}

		// Expand glob pattern
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}

		for _, match := range matches {
			if err := loadInclude(cfg, match); err != nil {
				return fmt.Errorf("load include %q: %w", match, err)
			}
		}
	}

	return nil
}

// loadInclude loads a single include file and merges its entity types
// into the config. Later files win.
func loadInclude(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	expanded := os.ExpandEnv(string(data))

	var partial Config
	if err := yaml.Unmarshal([]byte(expanded), &partial); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	for prefix, entityType := range partial.EntityTypes {
		cfg.EntityTypes[prefix] = entityType
	}

	return nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	validateStorage(errs, "source", &cfg.Source)
	validateStorage(errs, "target", &cfg.Target)
	if cfg.Snapshot != nil {
		validateStorage(errs, "snapshot", cfg.Snapshot)
	}

	prefixes := make([]string, 0, len(cfg.EntityTypes))
	for prefix := range cfg.EntityTypes {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	for _, prefix := range prefixes {
		if prefix == "" {
			errs.AddField("entity_types", "prefix cannot be empty")
			continue
		}
		if cfg.EntityTypes[prefix] == "" {
			errs.AddField(fmt.Sprintf("entity_types.%s", prefix), "entity type cannot be empty")
		}
	}

	if cfg.Journal.Enabled && cfg.Journal.Dir == "" {
		errs.AddField("journal.dir", "cannot be empty when enabled")
	}
	if cfg.Journal.Accuracy < 0 || cfg.Journal.Accuracy >= 1 {
		errs.AddField("journal.accuracy", "must be in [0, 1)")
	}

	if cfg.Resync.BatchSize <= 0 {
		errs.AddField("resync.batch_size", "must be positive")
	}

	return errs.Err()
}

func validateStorage(errs *errors.ValidationErrors, field string, spec *StorageSpec) {
	switch spec.Type {
	case StorageFile:
		if spec.Path == "" {
			errs.AddField(field+".path", "cannot be empty for file storage")
		}
	case StorageSQL:
		if spec.DSN == "" {
			errs.AddField(field+".dsn", "cannot be empty for sql storage")
		}
		if spec.Driver != "" && !isSupportedDriver(spec.Driver) {
			errs.AddField(field+".driver", fmt.Sprintf("%q is not one of %v", spec.Driver, storage.SupportedDrivers))
		}
	case StorageMemory:
	case "":
		errs.AddMissing(field + ".type")
	default:
		errs.Add(errors.NewInvalidValue(field+".type", spec.Type, "must be file, sql or memory"))
	}
}

func isSupportedDriver(driver string) bool {
	for _, d := range storage.SupportedDrivers {
		if d == driver {
			return true
		}
	}
	return false
}

// =============================================================================
// Conversion: Config → Journal Config
// =============================================================================

// ToJournalConfig converts the journal configuration. A disabled journal
// keeps statistics only.
func ToJournalConfig(cfg *JournalConfig) journal.Config {
	out := journal.Config{
		Options:  journal.Options{Compression: journal.ParseCompressionType(cfg.Compression)},
		Accuracy: cfg.Accuracy,
	}
	if cfg.Enabled {
		out.Dir = cfg.Dir
	}
	return out
}
