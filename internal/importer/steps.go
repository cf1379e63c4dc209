package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/xtxerr/cfgsync/internal/changes"
	"github.com/xtxerr/cfgsync/internal/errors"
	"github.com/xtxerr/cfgsync/internal/journal"
	"github.com/xtxerr/cfgsync/internal/logging"
	"github.com/xtxerr/cfgsync/internal/storage"
)

// Step is one phase of an import.
type Step string

const (
	StepProcessConfigurations Step = "process_configurations"
	StepProcessIgnored        Step = "process_ignored"
	StepFinish                Step = "finish"
)

// Progress counts the work of a step.
type Progress struct {
	Processed int
	Total     int
}

// BatchContext carries the state of one step between calls to
// DoSyncStep. Use a fresh BatchContext per step.
type BatchContext struct {
	Progress Progress

	// Finished is the completed fraction of the step, 1 when done.
	Finished float64

	// Message describes the last batch.
	Message string

	// Resynced counts ignore policies written by StepProcessIgnored.
	Resynced int

	queue   []pendingChange
	started bool
}

// Done reports whether the step is complete.
func (bc *BatchContext) Done() bool {
	return bc.Finished >= 1
}

type pendingChange struct {
	collection string
	op         changes.Op
	name       string
}

// =============================================================================
// Steps
// =============================================================================

// Initialize acquires the import lock and validates the run. It returns
// the ordered steps of the import. On failure the lock is released.
func (im *Importer) Initialize(ctx context.Context) ([]Step, error) {
	if err := im.lock(ctx); err != nil {
		return nil, err
	}

	if !im.validated {
		if err := im.Validate(ctx); err != nil {
			im.unlock(ctx)
			return nil, err
		}
	}

	return []Step{StepProcessConfigurations, StepProcessIgnored, StepFinish}, nil
}

// DoSyncStep runs one batch of step. Call it until bc.Done().
func (im *Importer) DoSyncStep(ctx context.Context, step Step, bc *BatchContext) error {
	if !im.validated {
		return errors.ErrNotValidated
	}
	ctx = im.run.Context(ctx)

	var err error
	switch step {
	case StepProcessConfigurations:
		err = im.processConfigurations(ctx, bc)
	case StepProcessIgnored:
		err = im.processIgnored(ctx, bc)
	case StepFinish:
		err = im.finish(ctx, bc)
	default:
		err = fmt.Errorf("unknown import step %q: %w", step, errors.ErrInvalidOp)
	}
	if err != nil {
		logging.WithContext(ctx, log).Error("import step failed", "step", step, "error", err)
		im.unlock(ctx)
	}
	return err
}

// Import runs every step to completion.
//
// It returns errors.ErrNoChanges when there is nothing to import and
// errors.ErrAlreadyImporting when another import holds the lock.
func (im *Importer) Import(ctx context.Context) (*Result, error) {
	start := time.Now()
	if !im.HasChanges() {
		return nil, errors.ErrNoChanges
	}

	steps, err := im.Initialize(ctx)
	if err != nil {
		return nil, err
	}

	for _, step := range steps {
		bc := &BatchContext{}
		for !bc.Done() {
			if err := im.DoSyncStep(ctx, step, bc); err != nil {
				return nil, err
			}
		}
	}

	return &Result{
		RunID:     im.run.ID(),
		Stats:     im.comparer.Stats(),
		Processed: im.processedCount(),
		Resynced:  im.resynced,
		Warnings:  im.Warnings(),
		Journal:   im.cfg.Journal.Stats(),
		Duration:  time.Since(start),
	}, nil
}

// ResyncIgnored runs only the ignore-policy resync pass under the import
// lock and returns how many policies were written. Running it again on
// the same stores writes nothing.
func (im *Importer) ResyncIgnored(ctx context.Context) (int, error) {
	if err := im.lock(ctx); err != nil {
		return 0, err
	}
	defer im.unlock(ctx)

	ctx = im.run.Context(ctx)
	bc := &BatchContext{}
	for !bc.Done() {
		if err := im.processIgnored(ctx, bc); err != nil {
			return bc.Resynced, err
		}
	}

	logging.WithContext(ctx, log).Info("ignore policies resynchronized",
		"ignored", bc.Progress.Total,
		"written", bc.Resynced,
	)
	return bc.Resynced, nil
}

// processConfigurations applies the next batch of non-ignored changes,
// collection by collection, in apply order.
func (im *Importer) processConfigurations(ctx context.Context, bc *BatchContext) error {
	if !bc.started {
		bc.started = true
		for _, collection := range im.comparer.Collections() {
			list := im.comparer.ChangeList(collection)
			for _, op := range changes.ApplyOps {
				for _, name := range list.Names(op) {
					bc.queue = append(bc.queue, pendingChange{collection: collection, op: op, name: name})
				}
			}
		}
		bc.Progress.Total = len(bc.queue)
	}

	for n := 0; n < im.cfg.BatchSize && bc.Progress.Processed < bc.Progress.Total; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := bc.queue[bc.Progress.Processed]
		if err := im.Apply(ctx, c.collection, c.op, c.name); err != nil {
			return err
		}
		bc.Progress.Processed++
	}

	bc.Message = fmt.Sprintf("Completed step %d of %d.", bc.Progress.Processed, bc.Progress.Total)
	bc.Finished = fraction(bc.Progress)
	return nil
}

// processIgnored resynchronizes the ignore policies of the next batch of
// ignored objects.
func (im *Importer) processIgnored(ctx context.Context, bc *BatchContext) error {
	if !bc.started {
		bc.started = true
		for _, collection := range im.comparer.Collections() {
			for _, name := range im.comparer.ChangeList(collection).Names(changes.OpIgnore) {
				bc.queue = append(bc.queue, pendingChange{collection: collection, op: changes.OpIgnore, name: name})
			}
		}
		bc.Progress.Total = len(bc.queue)
	}

	for n := 0; n < im.cfg.BatchSize && bc.Progress.Processed < bc.Progress.Total; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := bc.queue[bc.Progress.Processed]

		start := time.Now()
		written, err := im.resyncPolicy(ctx, c.collection, c.name)
		if err != nil {
			return err
		}
		if written {
			bc.Resynced++
			im.cfg.Journal.Record(ctx, journal.Entry{
				RunID:      im.run.ID(),
				Collection: c.collection,
				Op:         string(changes.OpIgnore),
				Name:       c.name,
				Outcome:    journal.OutcomeResynced,
				Duration:   time.Since(start),
			})
		}
		bc.Progress.Processed++
	}

	bc.Message = fmt.Sprintf("Synchronized ignore settings %d of %d.", bc.Progress.Processed, bc.Progress.Total)
	bc.Finished = fraction(bc.Progress)
	return nil
}

// finish refreshes the snapshot, logs the run summary and releases the
// lock.
func (im *Importer) finish(ctx context.Context, bc *BatchContext) error {
	logger := logging.WithContext(ctx, log)

	if im.cfg.Snapshot != nil {
		n, err := storage.Mirror(ctx, im.cfg.Snapshot, im.cfg.Target)
		if err != nil {
			return errors.Wrap(err, "refresh snapshot")
		}
		logger.Debug("snapshot refreshed", "objects", n)
	}

	for _, w := range im.Warnings() {
		logger.Warn(w.Message, "op", w.Op, "names", w.Names)
	}

	stats := im.comparer.Stats()
	logger.Info("configuration synchronized",
		"processed", im.processedCount(),
		"ignored", stats.Ignored,
		"resynced", im.resynced,
	)

	im.unlock(ctx)
	bc.Progress = Progress{Processed: 1, Total: 1}
	bc.Message = "Finalizing configuration synchronization."
	bc.Finished = 1
	return nil
}

func fraction(p Progress) float64 {
	if p.Total == 0 || p.Processed >= p.Total {
		return 1
	}
	return float64(p.Processed) / float64(p.Total)
}

// =============================================================================
// Lock
// =============================================================================

func (im *Importer) lock(ctx context.Context) error {
	if im.locked {
		return nil
	}
	ok, err := im.locks.Acquire(ctx, im.cfg.LockName, im.run.ID())
	if err != nil {
		return errors.Wrap(err, "acquire import lock")
	}
	if !ok {
		owner, since, _, _ := im.locks.Holder(ctx, im.cfg.LockName)
		log.Info("import already in progress", "run_id", im.run.ID(), "holder", owner, "since", since)
		return errors.ErrAlreadyImporting
	}
	im.locked = true
	return nil
}

// unlock releases the lock even when ctx is already canceled.
func (im *Importer) unlock(ctx context.Context) {
	if !im.locked {
		return
	}
	if err := im.locks.Release(context.WithoutCancel(ctx), im.cfg.LockName, im.run.ID()); err != nil {
		log.Error("release import lock", "run_id", im.run.ID(), "error", err)
	}
	im.locked = false
}
