// Package changes defines configuration import operations and the change
// lists that group configuration names by operation.
//
// A List covers one storage collection. It holds five disjoint ordered
// groups: create, update, delete, rename and ignore. A Set holds the lists
// of every collection known to a synchronization run.
package changes

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/xtxerr/cfgsync/config"
	"github.com/xtxerr/cfgsync/internal/errors"
)

// =============================================================================
// Operations
// =============================================================================

// Op is a configuration import operation.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpRename Op = "rename"

	// OpIgnore is not an operation but the group of suppressed changes.
	OpIgnore Op = "ignore"
)

// ImportOps are the operations an ignore policy can suppress, in the
// order their flags are stored on a document.
var ImportOps = []Op{OpCreate, OpUpdate, OpRename, OpDelete}

// ListOps is the display order of change list groups.
var ListOps = []Op{OpCreate, OpUpdate, OpDelete, OpRename, OpIgnore}

// ApplyOps is the order in which an import applies operations.
var ApplyOps = []Op{OpDelete, OpCreate, OpRename, OpUpdate}

// IsValid returns true if op is a known operation or the ignore group.
func (op Op) IsValid() bool {
	for _, valid := range ListOps {
		if op == valid {
			return true
		}
	}
	return false
}

// ParseOp parses an operation name.
func ParseOp(s string) (Op, error) {
	op := Op(strings.ToLower(strings.TrimSpace(s)))
	if !op.IsValid() {
		return "", fmt.Errorf("%q: %w", s, errors.ErrInvalidOp)
	}
	return op, nil
}

// =============================================================================
// Renames
// =============================================================================

// RenameName encodes a rename as a single change list entry.
func RenameName(oldName, newName string) string {
	return oldName + config.RenameSeparator + newName
}

// ExtractRename splits a rename entry into its old and new names.
func ExtractRename(entry string) (oldName, newName string, err error) {
	oldName, newName, ok := strings.Cut(entry, config.RenameSeparator)
	if !ok || oldName == "" || newName == "" {
		return "", "", fmt.Errorf("%q: %w", entry, errors.ErrInvalidRename)
	}
	return oldName, newName, nil
}

// =============================================================================
// List
// =============================================================================

// List is the change list of one collection.
//
// Names within a group keep insertion order and are unique. List is not
// safe for concurrent mutation.
type List struct {
	groups  map[Op][]string
	members map[Op]map[string]struct{}
}

// NewList returns an empty change list.
func NewList() *List {
	return &List{
		groups:  make(map[Op][]string, len(ListOps)),
		members: make(map[Op]map[string]struct{}, len(ListOps)),
	}
}

// Add appends names to the group for op, skipping names already present.
func (l *List) Add(op Op, names ...string) {
	set := l.members[op]
	if set == nil {
		set = make(map[string]struct{}, len(names))
		l.members[op] = set
	}
	for _, name := range names {
		if _, ok := set[name]; ok {
			continue
		}
		set[name] = struct{}{}
		l.groups[op] = append(l.groups[op], name)
	}
}

// Remove deletes name from the group for op. It reports whether the name
// was present.
func (l *List) Remove(op Op, name string) bool {
	if !l.Has(op, name) {
		return false
	}
	delete(l.members[op], name)
	names := l.groups[op]
	i := slices.Index(names, name)
	l.groups[op] = append(names[:i:i], names[i+1:]...)
	return true
}

// Has reports whether name is in the group for op.
func (l *List) Has(op Op, name string) bool {
	_, ok := l.members[op][name]
	return ok
}

// Names returns a copy of the group for op.
func (l *List) Names(op Op) []string {
	return append([]string(nil), l.groups[op]...)
}

// Set replaces the group for op. Repeated names keep their first position.
func (l *List) Set(op Op, names []string) {
	delete(l.groups, op)
	delete(l.members, op)
	l.Add(op, names...)
}

// Len returns the number of entries across all groups.
func (l *List) Len() int {
	n := 0
	for _, op := range ListOps {
		n += len(l.groups[op])
	}
	return n
}

// HasChanges returns true if any group, ignore included, is non-empty.
func (l *List) HasChanges() bool {
	return l.Len() > 0
}

// Entries returns every (op, name) pair in ListOps order.
func (l *List) Entries() []Entry {
	entries := make([]Entry, 0, l.Len())
	for _, op := range ListOps {
		for _, name := range l.groups[op] {
			entries = append(entries, Entry{Op: op, Name: name})
		}
	}
	return entries
}

// Clone returns a deep copy of the list.
func (l *List) Clone() *List {
	c := NewList()
	for op, names := range l.groups {
		c.Add(op, names...)
	}
	return c
}

// Validate checks that no name appears in more than one group.
func (l *List) Validate() error {
	seen := make(map[string]Op)
	for _, op := range ListOps {
		for _, name := range l.groups[op] {
			if prev, ok := seen[name]; ok {
				return fmt.Errorf("%q is in both %s and %s: %w", name, prev, op, errors.ErrInternal)
			}
			seen[name] = op
		}
	}
	return nil
}

// Entry is a single change.
type Entry struct {
	Op   Op
	Name string
}

// =============================================================================
// Set
// =============================================================================

// Set holds the change lists of all collections of a run.
type Set struct {
	lists map[string]*List
}

// NewSet returns an empty change set.
func NewSet() *Set {
	return &Set{lists: make(map[string]*List)}
}

// List returns the change list for collection, creating it on first use.
func (s *Set) List(collection string) *List {
	l, ok := s.lists[collection]
	if !ok {
		l = NewList()
		s.lists[collection] = l
	}
	return l
}

// Has reports whether collection has a change list.
func (s *Set) Has(collection string) bool {
	_, ok := s.lists[collection]
	return ok
}

// Put replaces the change list for collection.
func (s *Set) Put(collection string, l *List) {
	s.lists[collection] = l
}

// Collections returns collection names with the default collection first
// and the rest sorted.
func (s *Set) Collections() []string {
	return SortCollections(keys(s.lists))
}

// HasChanges returns true if any collection has any change.
func (s *Set) HasChanges() bool {
	for _, l := range s.lists {
		if l.HasChanges() {
			return true
		}
	}
	return false
}

// SortCollections sorts collection names in place with the default
// collection first and returns the slice.
func SortCollections(collections []string) []string {
	sort.Slice(collections, func(i, j int) bool {
		a, b := collections[i], collections[j]
		if a == config.DefaultCollection || b == config.DefaultCollection {
			return a == config.DefaultCollection && b != config.DefaultCollection
		}
		return a < b
	})
	return collections
}

func keys(m map[string]*List) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
