// Package sync computes which configuration import operations may be
// suppressed.
//
// A synchronization run moves named configuration objects from a source
// store to a target store. The package builds the change list for the run
// and rewrites it according to the ignore policy carried by each config
// entity:
//
//  1. The Classifier diffs source and target into create, update, delete
//     and rename groups per collection
//  2. The DependencyIndex caches who depends on what, the enabled
//     extensions and the extension inventory
//  3. The Evaluator decides per (collection, op, name) whether the policy
//     requests suppression
//  4. The exception rules override suppression that would break
//     referential integrity
//  5. The Comparer moves suppressed changes into the ignore group and
//     records every override in an ExceptionReport
//
// All caches live on a Run and are discarded with it. A Run works on a
// fixed pair of snapshots; nothing is ever invalidated mid-run.
package sync

import (
	"github.com/xtxerr/cfgsync/internal/changes"
	"github.com/xtxerr/cfgsync/internal/logging"
)

var log = logging.Component("sync")

// =============================================================================
// Diff Entry
// =============================================================================

// DiffEntry describes a single classified change.
type DiffEntry struct {
	// Op is the classified operation
	Op changes.Op

	// Name is the configuration name, "old::new" for renames
	Name string

	// Reason explains why this operation was chosen
	Reason string

	// SourceHash is the content hash in the source store (0 if absent)
	SourceHash uint64

	// TargetHash is the content hash in the target store (0 if absent)
	TargetHash uint64
}

// =============================================================================
// Diff Statistics
// =============================================================================

// DiffStats counts the changes of a change list.
type DiffStats struct {
	Creates int
	Updates int
	Deletes int
	Renames int
	Ignored int
	Total   int
}

// CalculateStats returns statistics for a change list.
func CalculateStats(l *changes.List) DiffStats {
	stats := DiffStats{
		Creates: len(l.Names(changes.OpCreate)),
		Updates: len(l.Names(changes.OpUpdate)),
		Deletes: len(l.Names(changes.OpDelete)),
		Renames: len(l.Names(changes.OpRename)),
		Ignored: len(l.Names(changes.OpIgnore)),
	}
	stats.Total = stats.Creates + stats.Updates + stats.Deletes + stats.Renames + stats.Ignored
	return stats
}

// Add accumulates other into s.
func (s *DiffStats) Add(other DiffStats) {
	s.Creates += other.Creates
	s.Updates += other.Updates
	s.Deletes += other.Deletes
	s.Renames += other.Renames
	s.Ignored += other.Ignored
	s.Total += other.Total
}

// HasChanges returns true if any operation will be applied.
func (s DiffStats) HasChanges() bool {
	return s.Creates > 0 || s.Updates > 0 || s.Deletes > 0 || s.Renames > 0
}
