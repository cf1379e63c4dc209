package sync

import (
	"context"
	"time"

	"github.com/xtxerr/cfgsync/config"
	"github.com/xtxerr/cfgsync/internal/changes"
	"github.com/xtxerr/cfgsync/internal/errors"
	"github.com/xtxerr/cfgsync/internal/logging"
	"github.com/xtxerr/cfgsync/internal/storage"
)

// rewriteOps is the order in which raw groups are evaluated.
var rewriteOps = []changes.Op{changes.OpCreate, changes.OpUpdate, changes.OpDelete, changes.OpRename}

// =============================================================================
// Comparer
// =============================================================================

// Comparer produces the final change lists of a run: the classifier's raw
// lists with every suppressed change moved into the ignore group.
type Comparer struct {
	run        *Run
	classifier *Classifier

	raw     *changes.Set
	final   *changes.Set
	entries map[string][]DiffEntry
}

// NewComparer creates a comparer for run.
func NewComparer(run *Run) *Comparer {
	return &Comparer{
		run:        run,
		classifier: NewClassifier(run),
		raw:        changes.NewSet(),
		final:      changes.NewSet(),
		entries:    make(map[string][]DiffEntry),
	}
}

// Run returns the comparer's run.
func (c *Comparer) Run() *Run {
	return c.run
}

// CreateChangeList classifies and rewrites every collection known to
// either store. An empty source yields no changes at all.
func (c *Comparer) CreateChangeList(ctx context.Context) error {
	start := time.Now()
	ctx = c.run.Context(ctx)
	logger := logging.WithContext(ctx, log)

	c.raw = changes.NewSet()
	c.final = changes.NewSet()
	c.entries = make(map[string][]DiffEntry)

	collections, err := storage.AllCollections(ctx, c.run.source, c.run.target)
	if err != nil {
		return errors.Wrap(err, "list collections")
	}

	sourceNames, err := c.run.source.List(ctx, config.DefaultCollection)
	if err != nil {
		return errors.Wrap(err, "list source")
	}
	if len(sourceNames) == 0 {
		logger.Warn("source storage is empty, nothing to import")
		for _, collection := range collections {
			c.raw.Put(collection, changes.NewList())
			c.final.Put(collection, changes.NewList())
		}
		return nil
	}

	var total DiffStats
	for _, collection := range collections {
		final, err := c.ComputeFinalChangeList(ctx, collection)
		if err != nil {
			return err
		}
		total.Add(CalculateStats(final))
	}

	logger.Info("change list created",
		"collections", len(collections),
		"creates", total.Creates,
		"updates", total.Updates,
		"deletes", total.Deletes,
		"renames", total.Renames,
		"ignored", total.Ignored,
		"exceptions", c.run.report.Len(),
		"duration", time.Since(start),
	)
	return nil
}

// ComputeFinalChangeList returns the final change list of collection,
// classifying it first if needed.
//
// Every change in a non-ignore group is evaluated; suppressed changes move
// to the ignore group. The union of all groups equals the raw list.
func (c *Comparer) ComputeFinalChangeList(ctx context.Context, collection string) (*changes.List, error) {
	raw, ok := c.rawList(collection)
	if !ok {
		list, entries, err := c.classifier.Classify(ctx, collection)
		if err != nil {
			return nil, errors.Wrapf(err, "classify collection %q", collection)
		}
		c.raw.Put(collection, list)
		c.entries[collection] = entries
		raw = list
	}

	final := raw.Clone()
	for _, op := range rewriteOps {
		for _, name := range raw.Names(op) {
			ignore, err := c.run.evaluator.ShouldIgnore(ctx, collection, op, name)
			if err != nil {
				return nil, err
			}
			if !ignore {
				continue
			}
			final.Remove(op, name)
			final.Add(changes.OpIgnore, name)
		}
	}

	if err := final.Validate(); err != nil {
		return nil, err
	}

	c.final.Put(collection, final)

	stats := CalculateStats(final)
	log.Debug("change list rewritten",
		"run_id", c.run.id,
		"collection", collection,
		"ignored", stats.Ignored,
		"remaining", stats.Total-stats.Ignored,
	)
	return final, nil
}

func (c *Comparer) rawList(collection string) (*changes.List, bool) {
	if !c.raw.Has(collection) {
		return nil, false
	}
	return c.raw.List(collection), true
}

// Ignored returns the raw changes of collection whose policy suppression
// holds, keyed by operation. Overrides are left out.
func (c *Comparer) Ignored(ctx context.Context, collection string) (map[changes.Op][]string, error) {
	raw, ok := c.rawList(collection)
	if !ok {
		return nil, errors.Wrapf(errors.ErrCollectionNotFound, "collection %q", collection)
	}

	out := make(map[changes.Op][]string)
	for _, op := range rewriteOps {
		for _, name := range raw.Names(op) {
			ignore, err := c.run.evaluator.ShouldIgnore(ctx, collection, op, name)
			if err != nil {
				return nil, err
			}
			if ignore {
				out[op] = append(out[op], name)
			}
		}
	}
	return out, nil
}

// ShouldIgnore reports whether op on name in collection is suppressed.
func (c *Comparer) ShouldIgnore(ctx context.Context, collection string, op changes.Op, name string) (bool, error) {
	return c.run.evaluator.ShouldIgnore(ctx, collection, op, name)
}

// ChangeList returns the final change list of collection. Unknown
// collections yield an empty list.
func (c *Comparer) ChangeList(collection string) *changes.List {
	return c.final.List(collection)
}

// RawChangeList returns the classifier's change list of collection.
func (c *Comparer) RawChangeList(collection string) *changes.List {
	return c.raw.List(collection)
}

// Entries returns the classified diff entries of collection.
func (c *Comparer) Entries(collection string) []DiffEntry {
	return c.entries[collection]
}

// Collections returns every collection with a change list, default first.
func (c *Comparer) Collections() []string {
	return c.final.Collections()
}

// HasChanges reports whether any collection has any change, ignored
// changes included.
func (c *Comparer) HasChanges() bool {
	return c.final.HasChanges()
}

// Stats returns the totals of the final change lists.
func (c *Comparer) Stats() DiffStats {
	var total DiffStats
	for _, collection := range c.final.Collections() {
		total.Add(CalculateStats(c.final.List(collection)))
	}
	return total
}

// Exceptions returns the run's exception report.
func (c *Comparer) Exceptions() *ExceptionReport {
	return c.run.report
}
