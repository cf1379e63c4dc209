package sync

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/cfgsync/internal/changes"
	"github.com/xtxerr/cfgsync/internal/document"
	"github.com/xtxerr/cfgsync/internal/errors"
	"github.com/xtxerr/cfgsync/internal/extension"
	"github.com/xtxerr/cfgsync/internal/logging"
	"github.com/xtxerr/cfgsync/internal/storage"
)

// DefaultConcurrency bounds parallel document loads within a run.
const DefaultConcurrency = 8

// Side selects the store a document is read from.
type Side int

const (
	SideSource Side = iota
	SideTarget
)

// String returns the side name.
func (s Side) String() string {
	if s == SideTarget {
		return "target"
	}
	return "source"
}

// =============================================================================
// Run
// =============================================================================

// RunConfig holds the collaborators of a synchronization run.
type RunConfig struct {
	// ID identifies the run in logs and journals. Generated when empty.
	ID string

	// Source holds the configuration being imported
	Source storage.Storage

	// Target holds the active configuration
	Target storage.Storage

	// Inventory lists installed modules and themes (optional)
	Inventory *extension.Inventory

	// Concurrency bounds parallel reads (default: DefaultConcurrency)
	Concurrency int
}

// Run is the context of one synchronization.
//
// It owns every cache the engine uses: loaded documents, the dependency
// index, evaluation decisions and the exception report. A Run is created
// once per synchronization and discarded at the end; it is never shared
// between synchronizations.
//
// Run is safe for concurrent use.
type Run struct {
	id          string
	source      storage.Storage
	target      storage.Storage
	inventory   *extension.Inventory
	concurrency int

	indexOnce errOnce
	index     *DependencyIndex

	docsMu sync.RWMutex
	docs   map[docKey]*document.Object
	loads  singleflight.Group

	evaluator *Evaluator
	report    *ExceptionReport
}

type docKey struct {
	side       Side
	collection string
	name       string
}

// NewRun creates a run over a pair of stores.
func NewRun(cfg RunConfig) (*Run, error) {
	if cfg.Source == nil {
		return nil, errors.NewMissingField("source storage")
	}
	if cfg.Target == nil {
		return nil, errors.NewMissingField("target storage")
	}

	id := cfg.ID
	if id == "" {
		id = strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	inventory := cfg.Inventory
	if inventory == nil {
		inventory = extension.NewInventory()
	}

	r := &Run{
		id:          id,
		source:      cfg.Source,
		target:      cfg.Target,
		inventory:   inventory,
		concurrency: concurrency,
		docs:        make(map[docKey]*document.Object),
		report:      NewExceptionReport(),
	}
	r.evaluator = newEvaluator(r, defaultRules())
	return r, nil
}

// ID returns the run id.
func (r *Run) ID() string {
	return r.id
}

// Source returns the source store.
func (r *Run) Source() storage.Storage {
	return r.source
}

// Target returns the target store.
func (r *Run) Target() storage.Storage {
	return r.target
}

// Evaluator returns the run's ignore policy evaluator.
func (r *Run) Evaluator() *Evaluator {
	return r.evaluator
}

// Exceptions returns the overrides recorded so far.
func (r *Run) Exceptions() *ExceptionReport {
	return r.report
}

// Context returns ctx tagged with the run id for logging.
func (r *Run) Context(ctx context.Context) context.Context {
	return logging.ContextWithRunID(ctx, r.id)
}

// =============================================================================
// Documents
// =============================================================================

// Load returns the classified document for name, reading it at most once
// per run. An absent document yields nil without error.
func (r *Run) Load(ctx context.Context, side Side, collection, name string) (*document.Object, error) {
	key := docKey{side: side, collection: collection, name: name}

	r.docsMu.RLock()
	obj, ok := r.docs[key]
	r.docsMu.RUnlock()
	if ok {
		return obj, nil
	}

	sfKey := fmt.Sprintf("%d\x00%s\x00%s", side, collection, name)
	v, err, _ := r.loads.Do(sfKey, func() (interface{}, error) {
		r.docsMu.RLock()
		obj, ok := r.docs[key]
		r.docsMu.RUnlock()
		if ok {
			return obj, nil
		}

		store := r.source
		if side == SideTarget {
			store = r.target
		}
		data, err := store.Read(ctx, collection, name)
		if err != nil {
			return nil, err
		}

		obj = document.Load(name, data)
		r.docsMu.Lock()
		r.docs[key] = obj
		r.docsMu.Unlock()
		return obj, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*document.Object), nil
}

// DocumentFor returns the document an operation is evaluated against: the
// target document for deletions, the source document otherwise. Renames
// resolve to the source document of the new name.
func (r *Run) DocumentFor(ctx context.Context, collection string, op changes.Op, name string) (*document.Object, error) {
	switch op {
	case changes.OpDelete:
		return r.Load(ctx, SideTarget, collection, name)
	case changes.OpRename:
		_, newName, err := changes.ExtractRename(name)
		if err != nil {
			return nil, err
		}
		return r.Load(ctx, SideSource, collection, newName)
	default:
		return r.Load(ctx, SideSource, collection, name)
	}
}

// =============================================================================
// Dependency Index
// =============================================================================

// Index returns the run's dependency index, building it on first use.
func (r *Run) Index(ctx context.Context) (*DependencyIndex, error) {
	err := r.indexOnce.Do(func() error {
		idx, err := buildIndex(ctx, r)
		if err != nil {
			return err
		}
		r.index = idx
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "build dependency index")
	}
	return r.index, nil
}
