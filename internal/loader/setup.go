package loader

import (
	"context"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/xtxerr/cfgsync/internal/entity"
	"github.com/xtxerr/cfgsync/internal/errors"
	"github.com/xtxerr/cfgsync/internal/extension"
	"github.com/xtxerr/cfgsync/internal/importer"
	"github.com/xtxerr/cfgsync/internal/journal"
	"github.com/xtxerr/cfgsync/internal/logging"
	"github.com/xtxerr/cfgsync/internal/storage"
)

var log = logging.Component("loader")

// =============================================================================
// Environment
// =============================================================================

// Environment holds the stores and registries built from a Config.
type Environment struct {
	Config *Config

	Source   storage.Storage
	Target   storage.Storage
	Snapshot storage.Storage

	// Locks lives in the target store, so imports against one target
	// exclude each other whichever process runs them.
	Locks storage.Locker

	Entities  *entity.Registry
	Inventory *extension.Inventory

	closers []io.Closer
}

// Setup validates cfg, opens its stores and builds the registries. Close
// the environment when done.
func Setup(ctx context.Context, cfg *Config) (*Environment, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	env := &Environment{Config: cfg}

	var err error
	if env.Source, err = env.open("source", cfg.Source); err != nil {
		env.Close()
		return nil, err
	}
	if env.Target, err = env.open("target", cfg.Target); err != nil {
		env.Close()
		return nil, err
	}
	env.Locks = storage.LockerOf(env.Target)
	if cfg.Snapshot != nil {
		if env.Snapshot, err = env.open("snapshot", *cfg.Snapshot); err != nil {
			env.Close()
			return nil, err
		}
	}

	env.Entities = entity.NewRegistry()
	if err := entity.RegisterDefaults(env.Entities, cfg.EntityTypes, env.Target); err != nil {
		env.Close()
		return nil, errors.Wrap(err, "register entity types")
	}

	env.Inventory = extension.NewInventory()
	if cfg.Extensions.Path != "" {
		inv, err := extension.Discover(ctx, osfs.New(cfg.Extensions.Path), ".")
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Inventory = inv
	}

	modules, themes := env.Inventory.Len()
	log.Info("environment ready",
		"source", describe(env.Source),
		"target", describe(env.Target),
		"entity_types", len(cfg.EntityTypes),
		"modules", modules,
		"themes", themes,
	)
	return env, nil
}

// ImporterConfig returns the importer configuration for one run.
func (e *Environment) ImporterConfig(runID string, j *journal.Journal) importer.Config {
	return importer.Config{
		RunID:     runID,
		Source:    e.Source,
		Target:    e.Target,
		Snapshot:  e.Snapshot,
		Locks:     e.Locks,
		Entities:  e.Entities,
		Inventory: e.Inventory,
		Journal:   j,
		BatchSize: e.Config.Resync.BatchSize,
	}
}

// OpenJournal opens the journal of runID as configured.
func (e *Environment) OpenJournal(runID string) (*journal.Journal, error) {
	return journal.Open(runID, ToJournalConfig(&e.Config.Journal))
}

// Close closes every store opened by Setup.
func (e *Environment) Close() error {
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	e.closers = nil
	return first
}

func (e *Environment) open(field string, spec StorageSpec) (storage.Storage, error) {
	s, closer, err := OpenStorage(spec)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s storage", field)
	}
	if closer != nil {
		e.closers = append(e.closers, closer)
	}
	return s, nil
}

// =============================================================================
// Storage
// =============================================================================

// OpenStorage opens the store described by spec. The closer is nil for
// stores that hold no resources.
func OpenStorage(spec StorageSpec) (storage.Storage, io.Closer, error) {
	switch spec.Type {
	case StorageFile:
		return storage.NewDirStorage(spec.Path), nil, nil
	case StorageSQL:
		s, err := storage.NewSQLStorage(spec.ToSQLConfig())
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case StorageMemory:
		return storage.NewMemoryStorage(), nil, nil
	default:
		return nil, nil, errors.NewInvalidValue("type", spec.Type, "must be file, sql or memory")
	}
}

func describe(s storage.Storage) string {
	if str, ok := s.(fmt.Stringer); ok {
		return str.String()
	}
	return fmt.Sprintf("%T", s)
}
