package sync

import (
	"context"
	"sync"

	"github.com/xtxerr/cfgsync/internal/changes"
	"github.com/xtxerr/cfgsync/internal/errors"
)

// =============================================================================
// Ignore Policy Evaluator
// =============================================================================

// Decision is the outcome of evaluating one (collection, op, name).
type Decision struct {
	// Requested is true when the document is a config entity whose policy
	// asks to suppress op.
	Requested bool

	// Overridden is true when an exception rule forced op to proceed.
	Overridden bool
}

// Ignore reports whether the operation is suppressed.
func (d Decision) Ignore() bool {
	return d.Requested && !d.Overridden
}

type decisionKey struct {
	collection string
	op         changes.Op
	name       string
}

// Evaluator decides whether an operation is suppressed. Decisions are
// memoized for the lifetime of the run.
type Evaluator struct {
	run   *Run
	rules map[changes.Op]Rule

	mu   sync.Mutex
	memo map[decisionKey]Decision
}

func newEvaluator(run *Run, rules map[changes.Op]Rule) *Evaluator {
	return &Evaluator{
		run:   run,
		rules: rules,
		memo:  make(map[decisionKey]Decision),
	}
}

// ShouldIgnore reports whether op on name in collection is suppressed.
func (e *Evaluator) ShouldIgnore(ctx context.Context, collection string, op changes.Op, name string) (bool, error) {
	d, err := e.Evaluate(ctx, collection, op, name)
	if err != nil {
		return false, err
	}
	return d.Ignore(), nil
}

// Evaluate returns the full decision for op on name in collection.
//
// The document is the target's for deletions and the source's otherwise.
// Anything but a config entity whose policy flag for op is the ignore
// sentinel is never suppressed. Otherwise the op's exception rule decides;
// an override is recorded in the run's exception report.
func (e *Evaluator) Evaluate(ctx context.Context, collection string, op changes.Op, name string) (Decision, error) {
	key := decisionKey{collection: collection, op: op, name: name}

	e.mu.Lock()
	d, ok := e.memo[key]
	e.mu.Unlock()
	if ok {
		return d, nil
	}

	d, err := e.evaluate(ctx, collection, op, name)
	if err != nil {
		return Decision{}, err
	}

	e.mu.Lock()
	e.memo[key] = d
	e.mu.Unlock()

	if d.Overridden {
		e.run.report.Add(op, name)
	}

	log.Debug("ignore policy evaluated",
		"run_id", e.run.id,
		"collection", collection,
		"op", op,
		"name", name,
		"requested", d.Requested,
		"overridden", d.Overridden,
	)
	return d, nil
}

func (e *Evaluator) evaluate(ctx context.Context, collection string, op changes.Op, name string) (Decision, error) {
	rule, ok := e.rules[op]
	if !ok {
		// The ignore group and unknown operations are never suppressed.
		return Decision{}, nil
	}

	obj, err := e.run.DocumentFor(ctx, collection, op, name)
	if err != nil {
		return Decision{}, errors.Wrapf(err, "load %s %s", op, name)
	}
	if !obj.Ignores(op) {
		return Decision{}, nil
	}

	subject := name
	if op == changes.OpRename {
		_, subject, _ = changes.ExtractRename(name)
	}

	fired, err := rule(ctx, e.run, collection, subject)
	if err != nil {
		return Decision{}, errors.Wrapf(err, "%s exception rule for %s", op, name)
	}
	return Decision{Requested: true, Overridden: fired}, nil
}
