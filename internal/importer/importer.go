// Package importer drives a configuration import: it validates the run,
// applies the final change lists to the active store through the entity
// handlers and re-synchronizes the ignore policies of suppressed objects.
//
// An import is split into steps (see Initialize) that can be driven to
// completion in one call with Import, or incrementally with DoSyncStep
// when progress must be reported between batches.
package importer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/cfgsync/config"
	"github.com/xtxerr/cfgsync/internal/changes"
	"github.com/xtxerr/cfgsync/internal/document"
	"github.com/xtxerr/cfgsync/internal/entity"
	"github.com/xtxerr/cfgsync/internal/errors"
	"github.com/xtxerr/cfgsync/internal/extension"
	"github.com/xtxerr/cfgsync/internal/journal"
	"github.com/xtxerr/cfgsync/internal/logging"
	"github.com/xtxerr/cfgsync/internal/storage"
	cfgsync "github.com/xtxerr/cfgsync/internal/sync"
	"github.com/xtxerr/cfgsync/internal/validation"
)

var log = logging.Component("importer")

// DriftMessage introduces the names reported by SnapshotDrift.
const DriftMessage = "The following items in your active configuration have changes since the last import that may be lost on the next import."

// =============================================================================
// Configuration
// =============================================================================

// Config holds the collaborators of an import.
type Config struct {
	// RunID identifies the run. Generated when empty.
	RunID string

	// Source holds the configuration being imported
	Source storage.Storage

	// Target holds the active configuration
	Target storage.Storage

	// Snapshot holds the active configuration as of the last import
	// (optional, enables SnapshotDrift)
	Snapshot storage.Storage

	// Entities maps configuration names to importable handlers. Names
	// without an entity type are imported as simple configuration.
	Entities *entity.Registry

	// Inventory lists installed modules and themes (optional)
	Inventory *extension.Inventory

	// Journal records every processed change (optional)
	Journal *journal.Journal

	// Locks serializes imports across processes
	// (default: storage.LockerOf(Target))
	Locks storage.Locker

	// LockName is the advisory lock held during import
	// (default: config.DefaultLockName)
	LockName string

	// BatchSize is how many changes one step call processes
	// (default: config.DefaultResyncBatchSize)
	BatchSize int
}

// =============================================================================
// Importer
// =============================================================================

// Importer imports the final change lists of one run into the target.
//
// An Importer is used for exactly one import. It is not safe for
// concurrent use, apart from AlreadyImporting.
type Importer struct {
	cfg      Config
	run      *cfgsync.Run
	comparer *cfgsync.Comparer
	entities *entity.Registry
	locks    storage.Locker

	validated bool
	locked    bool

	mu        sync.Mutex
	processed *changes.Set
	resynced  int
}

// Result summarizes a completed import.
type Result struct {
	RunID     string
	Stats     cfgsync.DiffStats
	Processed int
	Resynced  int
	Warnings  []cfgsync.Warning
	Journal   journal.Summary
	Duration  time.Duration
}

// New creates an importer and computes the final change lists.
func New(ctx context.Context, cfg Config) (*Importer, error) {
	run, err := cfgsync.NewRun(cfgsync.RunConfig{
		ID:        cfg.RunID,
		Source:    cfg.Source,
		Target:    cfg.Target,
		Inventory: cfg.Inventory,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Entities == nil {
		cfg.Entities = entity.NewRegistry()
	}
	if cfg.Locks == nil {
		cfg.Locks = storage.LockerOf(cfg.Target)
	}
	if cfg.LockName == "" {
		cfg.LockName = config.DefaultLockName
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultResyncBatchSize
	}

	comparer := cfgsync.NewComparer(run)
	if err := comparer.CreateChangeList(ctx); err != nil {
		return nil, err
	}

	return &Importer{
		cfg:       cfg,
		run:       run,
		comparer:  comparer,
		entities:  cfg.Entities,
		locks:     cfg.Locks,
		processed: changes.NewSet(),
	}, nil
}

// RunID returns the id of the importer's run.
func (im *Importer) RunID() string {
	return im.run.ID()
}

// Comparer returns the comparer holding the final change lists.
func (im *Importer) Comparer() *cfgsync.Comparer {
	return im.comparer
}

// HasChanges reports whether there is anything to import, ignored
// changes included.
func (im *Importer) HasChanges() bool {
	return im.comparer.HasChanges()
}

// Warnings returns the exception report of the run.
func (im *Importer) Warnings() []cfgsync.Warning {
	return im.comparer.Exceptions().Warnings()
}

// Processed returns the changes applied or skipped so far.
func (im *Importer) Processed() *changes.Set {
	return im.processed
}

// AlreadyImporting reports whether another import holds the lock.
func (im *Importer) AlreadyImporting(ctx context.Context) (bool, error) {
	if im.locked {
		return false, nil
	}
	_, _, held, err := im.locks.Holder(ctx, im.cfg.LockName)
	return held, err
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks that the source may be imported into the target. It
// writes nothing. Failures are returned as *errors.ValidationErrors.
func (im *Importer) Validate(ctx context.Context) error {
	errs := errors.NewValidationErrors()

	if err := im.validateSite(ctx); err != nil {
		errs.Add(err)
	}

	exists, err := im.cfg.Source.Exists(ctx, config.DefaultCollection, config.CoreExtensionName)
	if err != nil {
		return errors.StorageError("exists", config.DefaultCollection, config.CoreExtensionName, err)
	}
	if !exists {
		errs.Add(errors.NewMissingField(fmt.Sprintf("%s configuration in source", config.CoreExtensionName)))
	}

	for _, collection := range im.comparer.Collections() {
		list := im.comparer.ChangeList(collection)
		for _, op := range []changes.Op{changes.OpCreate, changes.OpUpdate} {
			for _, name := range list.Names(op) {
				errs.Add(validation.ValidateConfigName(name))
			}
		}
		for _, entry := range list.Names(changes.OpRename) {
			_, newName, err := changes.ExtractRename(entry)
			if err != nil {
				errs.Add(err)
				continue
			}
			errs.Add(validation.ValidateConfigName(newName))
		}
	}

	if errs.HasErrors() {
		logging.WithContext(im.run.Context(ctx), log).Warn("import failed validation", "errors", len(errs.Errors))
		return errs
	}

	im.validated = true
	return nil
}

// validateSite rejects configuration exported from another installation.
// A missing site object on either side skips the check; a site object
// without a uuid fails it.
func (im *Importer) validateSite(ctx context.Context) error {
	source, err := im.cfg.Source.Read(ctx, config.DefaultCollection, config.SiteConfigName)
	if err != nil {
		return errors.StorageError("read", config.DefaultCollection, config.SiteConfigName, err)
	}
	target, err := im.cfg.Target.Read(ctx, config.DefaultCollection, config.SiteConfigName)
	if err != nil {
		return errors.StorageError("read", config.DefaultCollection, config.SiteConfigName, err)
	}
	if source == nil || target == nil {
		return nil
	}

	sourceUUID, ok := siteUUID(source)
	if !ok {
		return errors.NewMissingField(fmt.Sprintf("%s uuid in source", config.SiteConfigName))
	}
	targetUUID, ok := siteUUID(target)
	if !ok {
		return errors.NewMissingField(fmt.Sprintf("%s uuid in active configuration", config.SiteConfigName))
	}
	if sourceUUID != targetUUID {
		return fmt.Errorf("source site %s, active site %s: %w", sourceUUID, targetUUID, errors.ErrSiteMismatch)
	}
	return nil
}

func siteUUID(site map[string]any) (string, bool) {
	uuid, ok := site["uuid"].(string)
	return uuid, ok && strings.TrimSpace(uuid) != ""
}

// =============================================================================
// Snapshot drift
// =============================================================================

// SnapshotDrift returns the names whose active configuration changed
// since the last import, sorted. Names in named collections are prefixed
// with "collection:". It returns nil when no snapshot is configured or the
// snapshot was never populated.
func (im *Importer) SnapshotDrift(ctx context.Context) ([]string, error) {
	if im.cfg.Snapshot == nil {
		return nil, nil
	}

	exists, err := im.cfg.Snapshot.Exists(ctx, config.DefaultCollection, config.CoreExtensionName)
	if err != nil {
		return nil, errors.StorageError("exists", config.DefaultCollection, config.CoreExtensionName, err)
	}
	if !exists {
		return nil, nil
	}

	run, err := cfgsync.NewRun(cfgsync.RunConfig{
		ID:        im.run.ID() + "-snapshot",
		Source:    im.cfg.Target,
		Target:    im.cfg.Snapshot,
		Inventory: im.cfg.Inventory,
	})
	if err != nil {
		return nil, err
	}
	comparer := cfgsync.NewComparer(run)
	if err := comparer.CreateChangeList(ctx); err != nil {
		return nil, errors.Wrap(err, "compare active configuration with snapshot")
	}

	seen := make(map[string]struct{})
	for _, collection := range comparer.Collections() {
		raw := comparer.RawChangeList(collection)
		for _, op := range []changes.Op{changes.OpCreate, changes.OpUpdate, changes.OpDelete, changes.OpRename} {
			for _, name := range raw.Names(op) {
				if collection != config.DefaultCollection {
					name = collection + ":" + name
				}
				seen[name] = struct{}{}
			}
		}
	}

	if len(seen) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)

	logging.WithContext(im.run.Context(ctx), log).Warn("active configuration drifted from snapshot", "names", len(out))
	return out, nil
}

// =============================================================================
// Apply
// =============================================================================

// Apply imports a single classified change. Rename changes are given as
// "old::new".
//
// Simple configuration is written or deleted directly. Config entities
// are handed to their entity type's importable handler unless the change
// is ignored. Either way the change is marked processed.
func (im *Importer) Apply(ctx context.Context, collection string, op changes.Op, name string) error {
	if op == changes.OpIgnore || !op.IsValid() {
		return fmt.Errorf("apply %s %q: %w", op, name, errors.ErrInvalidOp)
	}

	ctx = logging.ContextWithCollection(im.run.Context(ctx), collection)
	start := time.Now()

	entry := journal.Entry{
		RunID:      im.run.ID(),
		Collection: collection,
		Op:         string(op),
		Name:       name,
	}

	outcome, entityType, err := im.apply(ctx, collection, op, name)
	entry.EntityType = entityType
	entry.Outcome = outcome
	entry.Duration = time.Since(start)
	if err != nil {
		entry.Outcome = journal.OutcomeFailed
		entry.Error = err.Error()
		im.cfg.Journal.Record(ctx, entry)
		return err
	}

	im.markProcessed(collection, op, name)
	im.cfg.Journal.Record(ctx, entry)

	logging.WithContext(ctx, log).Debug("change processed",
		"op", op,
		"name", name,
		"entity_type", entityType,
		"outcome", outcome,
	)
	return nil
}

func (im *Importer) apply(ctx context.Context, collection string, op changes.Op, name string) (journal.Outcome, string, error) {
	oldName, newName := name, name
	if op == changes.OpRename {
		var err error
		oldName, newName, err = changes.ExtractRename(name)
		if err != nil {
			return "", "", err
		}
	}

	entityType, ok := im.entities.EntityTypeByName(oldName)
	if !ok {
		return journal.OutcomeApplied, "", im.applySimple(ctx, collection, op, oldName, newName)
	}

	handler, err := im.entities.ImportHandler(entityType)
	if err != nil {
		return "", entityType, err
	}

	ignore, err := im.comparer.ShouldIgnore(ctx, collection, op, name)
	if err != nil {
		return "", entityType, err
	}
	if ignore {
		return journal.OutcomeIgnored, entityType, nil
	}

	oldObj, err := im.run.Load(ctx, cfgsync.SideTarget, collection, oldName)
	if err != nil {
		return "", entityType, errors.StorageError("read", collection, oldName, err)
	}
	newObj, err := im.run.Load(ctx, cfgsync.SideSource, collection, newName)
	if err != nil {
		return "", entityType, errors.StorageError("read", collection, newName, err)
	}
	oldData, newData := oldObj.RawData(), newObj.RawData()

	switch op {
	case changes.OpCreate:
		err = handler.ImportCreate(ctx, collection, name, newData, oldData)
	case changes.OpUpdate:
		err = handler.ImportUpdate(ctx, collection, name, newData, oldData)
	case changes.OpDelete:
		err = handler.ImportDelete(ctx, collection, name, nil, oldData)
	case changes.OpRename:
		err = handler.ImportRename(ctx, collection, oldName, newName, newData, oldData)
	}
	if err != nil {
		return "", entityType, errors.Wrapf(err, "%s %s %q", entityType, op, name)
	}
	return journal.OutcomeApplied, entityType, nil
}

// applySimple writes plain configuration straight to the target.
func (im *Importer) applySimple(ctx context.Context, collection string, op changes.Op, oldName, newName string) error {
	target := im.cfg.Target

	if op == changes.OpDelete {
		if err := target.Delete(ctx, collection, oldName); err != nil {
			return errors.StorageError("delete", collection, oldName, err)
		}
		return nil
	}

	data, err := im.cfg.Source.Read(ctx, collection, newName)
	if err != nil {
		return errors.StorageError("read", collection, newName, err)
	}
	if data == nil {
		return nil
	}
	if err := target.Write(ctx, collection, newName, data); err != nil {
		return errors.StorageError("write", collection, newName, err)
	}

	if op == changes.OpRename && oldName != newName {
		if err := target.Delete(ctx, collection, oldName); err != nil {
			return errors.StorageError("delete", collection, oldName, err)
		}
	}
	return nil
}

func (im *Importer) markProcessed(collection string, op changes.Op, name string) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.processed.List(collection).Add(op, name)
}

// processedCount returns how many changes were processed.
func (im *Importer) processedCount() int {
	im.mu.Lock()
	defer im.mu.Unlock()

	n := 0
	for _, c := range im.processed.Collections() {
		n += im.processed.List(c).Len()
	}
	return n
}

// =============================================================================
// Ignore-policy resync
// =============================================================================

// resyncPolicy copies the ignore policy of an ignored object from source
// to target. Only the policy subtree is written. Objects missing on
// either side are skipped, as are objects whose policies already match.
func (im *Importer) resyncPolicy(ctx context.Context, collection, name string) (bool, error) {
	sourceName, targetName := name, name
	if oldName, newName, err := changes.ExtractRename(name); err == nil {
		sourceName, targetName = newName, oldName
	}

	source, err := im.cfg.Source.Read(ctx, collection, sourceName)
	if err != nil {
		return false, errors.StorageError("read", collection, sourceName, err)
	}
	target, err := im.cfg.Target.Read(ctx, collection, targetName)
	if err != nil {
		return false, errors.StorageError("read", collection, targetName, err)
	}
	if source == nil || target == nil {
		return false, nil
	}

	sourcePolicy, _ := document.PolicyOf(source)
	targetPolicy, _ := document.PolicyOf(target)
	if document.Equal(sourcePolicy, targetPolicy) {
		return false, nil
	}

	if err := im.cfg.Target.Write(ctx, collection, targetName, document.WithPolicy(target, sourcePolicy)); err != nil {
		return false, errors.StorageError("write", collection, targetName, err)
	}

	im.mu.Lock()
	im.resynced++
	im.mu.Unlock()
	return true, nil
}
