package sync

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/cfgsync/internal/changes"
	"github.com/xtxerr/cfgsync/internal/document"
)

// =============================================================================
// Change Classifier
// =============================================================================

// Classifier diffs the source and target stores of a run into the raw
// change list of a collection.
type Classifier struct {
	run *Run
}

// NewClassifier creates a classifier for run.
func NewClassifier(run *Run) *Classifier {
	return &Classifier{run: run}
}

// Classify computes the raw change list of collection.
//
// The algorithm:
//  1. List source and target concurrently
//  2. Names only in source -> CREATE, only in target -> DELETE
//  3. Names in both with differing content hashes -> UPDATE
//  4. A CREATE and a DELETE of config entities sharing uuid and config
//     prefix collapse into one RENAME "old::new"
//  5. Creates and updates are ordered dependencies-first, deletes
//     dependents-first
//
// The result is deterministic: same stores, same list.
func (c *Classifier) Classify(ctx context.Context, collection string) (*changes.List, []DiffEntry, error) {
	var sourceNames, targetNames []string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		names, err := c.run.source.List(gctx, collection)
		sourceNames = names
		return err
	})
	g.Go(func() error {
		names, err := c.run.target.List(gctx, collection)
		targetNames = names
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	source, err := c.loadAll(ctx, SideSource, collection, sourceNames)
	if err != nil {
		return nil, nil, err
	}
	target, err := c.loadAll(ctx, SideTarget, collection, targetNames)
	if err != nil {
		return nil, nil, err
	}

	var creates, updates, deletes []string
	entries := make(map[string]DiffEntry)

	for _, name := range sourceNames {
		if source[name] == nil {
			// Listed but gone by the time it was read.
			continue
		}
		srcHash := HashDocument(source[name].RawData())
		tgt, inTarget := target[name]
		if !inTarget || tgt == nil {
			creates = append(creates, name)
			entries[name] = DiffEntry{Op: changes.OpCreate, Name: name, Reason: "new configuration", SourceHash: srcHash}
			continue
		}
		tgtHash := HashDocument(tgt.RawData())
		if srcHash == tgtHash {
			continue
		}
		updates = append(updates, name)
		entries[name] = DiffEntry{Op: changes.OpUpdate, Name: name, Reason: "content changed", SourceHash: srcHash, TargetHash: tgtHash}
	}

	for _, name := range targetNames {
		if src, ok := source[name]; ok && src != nil {
			continue
		}
		deletes = append(deletes, name)
		entries[name] = DiffEntry{
			Op: changes.OpDelete, Name: name, Reason: "not in source",
			TargetHash: HashDocument(target[name].RawData()),
		}
	}

	creates, deletes, renames := detectRenames(creates, deletes, source, target)
	for _, r := range renames {
		oldName, newName, _ := changes.ExtractRename(r)
		delete(entries, oldName)
		delete(entries, newName)
		entries[r] = DiffEntry{
			Op: changes.OpRename, Name: r, Reason: "same uuid under a new name",
			SourceHash: HashDocument(source[newName].RawData()),
			TargetHash: HashDocument(target[oldName].RawData()),
		}
	}

	list := changes.NewList()
	list.Add(changes.OpCreate, orderByDependencies(creates, source, false)...)
	list.Add(changes.OpUpdate, orderByDependencies(updates, source, false)...)
	list.Add(changes.OpDelete, orderByDependencies(deletes, target, true)...)
	list.Add(changes.OpRename, renames...)

	ordered := make([]DiffEntry, 0, len(entries))
	for _, e := range list.Entries() {
		ordered = append(ordered, entries[e.Name])
	}

	stats := CalculateStats(list)
	log.Debug("collection classified",
		"run_id", c.run.id,
		"collection", collection,
		"source_count", len(sourceNames),
		"target_count", len(targetNames),
		"creates", stats.Creates,
		"updates", stats.Updates,
		"deletes", stats.Deletes,
		"renames", stats.Renames,
	)

	return list, ordered, nil
}

func (c *Classifier) loadAll(ctx context.Context, side Side, collection string, names []string) (map[string]*document.Object, error) {
	objects := make([]*document.Object, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.run.concurrency)
	for i, name := range names {
		g.Go(func() error {
			obj, err := c.run.Load(gctx, side, collection, name)
			objects[i] = obj
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*document.Object, len(names))
	for i, name := range names {
		out[name] = objects[i]
	}
	return out, nil
}

// detectRenames pairs creates and deletes of the same config entity.
// Both lists must be sorted; the returned renames are sorted by entry.
func detectRenames(creates, deletes []string, source, target map[string]*document.Object) ([]string, []string, []string) {
	if len(creates) == 0 || len(deletes) == 0 {
		return creates, deletes, nil
	}

	byIdentity := make(map[string]string, len(deletes))
	for _, name := range deletes {
		obj := target[name]
		if !obj.IsEntity() || obj.UUID == "" {
			continue
		}
		key := configPrefix(name) + "\x00" + obj.UUID
		if _, dup := byIdentity[key]; !dup {
			byIdentity[key] = name
		}
	}
	if len(byIdentity) == 0 {
		return creates, deletes, nil
	}

	renamed := make(map[string]bool)
	var renames []string
	remainingCreates := creates[:0:0]
	for _, name := range creates {
		obj := source[name]
		if obj.IsEntity() && obj.UUID != "" {
			key := configPrefix(name) + "\x00" + obj.UUID
			if oldName, ok := byIdentity[key]; ok {
				delete(byIdentity, key)
				renamed[oldName] = true
				renames = append(renames, changes.RenameName(oldName, name))
				continue
			}
		}
		remainingCreates = append(remainingCreates, name)
	}

	remainingDeletes := deletes[:0:0]
	for _, name := range deletes {
		if !renamed[name] {
			remainingDeletes = append(remainingDeletes, name)
		}
	}

	sort.Strings(renames)
	return remainingCreates, remainingDeletes, renames
}

// configPrefix returns name up to its last dot: the namespace shared by
// all objects of one entity type.
func configPrefix(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i]
	}
	return name
}

// orderByDependencies sorts names so that every name follows the names it
// depends on (within the list). Ties are broken alphabetically and cycles
// are cut at the first revisit. With reverse set, dependents come first.
func orderByDependencies(names []string, objects map[string]*document.Object, reverse bool) []string {
	if len(names) == 0 {
		return nil
	}

	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	inList := make(map[string]bool, len(sorted))
	for _, name := range sorted {
		inList[name] = true
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(sorted))
	out := make([]string, 0, len(sorted))

	var visit func(name string)
	visit = func(name string) {
		if state[name] != unvisited {
			return
		}
		state[name] = visiting
		deps := append([]string(nil), objects[name].Deps().Config...)
		sort.Strings(deps)
		for _, dep := range deps {
			if inList[dep] {
				visit(dep)
			}
		}
		state[name] = visited
		out = append(out, name)
	}

	for _, name := range sorted {
		visit(name)
	}

	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}
