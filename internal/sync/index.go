package sync

import (
	"context"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/cfgsync/config"
	"github.com/xtxerr/cfgsync/internal/document"
	"github.com/xtxerr/cfgsync/internal/extension"
)

// =============================================================================
// Dependency Index
// =============================================================================

// DependencyIndex is the run-scoped view of "everything else" the
// exception rules reason about.
//
// It is built from the default collection of the source store:
//
//   - the source inventory: every configuration name, sorted
//   - the reverse dependency map: name -> names listing it under
//     dependencies.config, stored as bitmaps of inventory ordinals
//   - the enabled modules and themes, read from core.extension
//   - the installed module/theme inventory
//
// A DependencyIndex is immutable once built.
type DependencyIndex struct {
	names      []string
	ordinals   map[string]uint32
	dependents map[string]*roaring.Bitmap

	enabled          extension.Enabled
	hasCoreExtension bool
	inventory        *extension.Inventory
}

func buildIndex(ctx context.Context, run *Run) (*DependencyIndex, error) {
	names, err := run.source.List(ctx, config.DefaultCollection)
	if err != nil {
		return nil, err
	}

	objects := make([]*document.Object, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(run.concurrency)
	for i, name := range names {
		g.Go(func() error {
			obj, err := run.Load(gctx, SideSource, config.DefaultCollection, name)
			if err != nil {
				return err
			}
			objects[i] = obj
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var coreExtension document.Data
	for i, name := range names {
		if name == config.CoreExtensionName {
			coreExtension = objects[i].RawData()
		}
	}

	idx := NewDependencyIndex(names, objects, extension.EnabledFrom(coreExtension), run.inventory)
	idx.hasCoreExtension = coreExtension != nil

	log.Debug("dependency index built",
		"run_id", run.id,
		"names", len(idx.names),
		"depended_upon", len(idx.dependents),
		"modules", len(idx.enabled.Modules),
		"themes", len(idx.enabled.Themes),
	)
	return idx, nil
}

// NewDependencyIndex builds an index from the source inventory. objects[i]
// is the document of names[i] and may be nil.
func NewDependencyIndex(names []string, objects []*document.Object, enabled extension.Enabled, inventory *extension.Inventory) *DependencyIndex {
	sorted := make([]int, len(names))
	for i := range sorted {
		sorted[i] = i
	}
	sort.SliceStable(sorted, func(a, b int) bool { return names[sorted[a]] < names[sorted[b]] })

	idx := &DependencyIndex{
		names:      make([]string, 0, len(names)),
		ordinals:   make(map[string]uint32, len(names)),
		dependents: make(map[string]*roaring.Bitmap),
		enabled:    enabled,
		inventory:  inventory,
	}

	for _, i := range sorted {
		ord := uint32(len(idx.names))
		idx.names = append(idx.names, names[i])
		idx.ordinals[names[i]] = ord
	}

	for _, i := range sorted {
		if i >= len(objects) {
			continue
		}
		ord := idx.ordinals[names[i]]
		for _, dep := range objects[i].Deps().Config {
			if dep == names[i] {
				continue
			}
			bm, ok := idx.dependents[dep]
			if !ok {
				bm = roaring.New()
				idx.dependents[dep] = bm
			}
			bm.Add(ord)
		}
	}

	return idx
}

// Dependents returns the sorted names that list name as a config
// dependency.
func (idx *DependencyIndex) Dependents(name string) []string {
	bm, ok := idx.dependents[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, idx.names[it.Next()])
	}
	return out
}

// HasDependents reports whether any other source configuration depends on
// name.
func (idx *DependencyIndex) HasDependents(name string) bool {
	bm, ok := idx.dependents[name]
	return ok && !bm.IsEmpty()
}

// InSource reports whether name exists in the source inventory.
func (idx *DependencyIndex) InSource(name string) bool {
	_, ok := idx.ordinals[name]
	return ok
}

// Enabled returns the enabled modules and themes.
func (idx *DependencyIndex) Enabled() extension.Enabled {
	return idx.enabled
}

// HasCoreExtension reports whether the source carries core.extension.
func (idx *DependencyIndex) HasCoreExtension() bool {
	return idx.hasCoreExtension
}

// Inventory returns the installed module/theme inventory.
func (idx *DependencyIndex) Inventory() *extension.Inventory {
	return idx.inventory
}
