package sync

import (
	"sort"
	"strings"
	"sync"

	"github.com/xtxerr/cfgsync/internal/changes"
)

// =============================================================================
// Exception Report
// =============================================================================

// ReportOps is the order in which exception warnings are presented.
var ReportOps = []changes.Op{changes.OpCreate, changes.OpRename, changes.OpUpdate, changes.OpDelete}

// ExceptionMessages are the warning texts per operation.
var ExceptionMessages = map[changes.Op]string{
	changes.OpCreate: "These new items in your source configuration are set to be ignored but other configurations are dependent upon them. They will be created.",
	changes.OpRename: "These renamed items in your source configuration are set to be ignored but other configurations are dependent upon their new names. They will be renamed.",
	changes.OpUpdate: "These updated items in your source configuration are set to be ignored but they would have unmet dependencies after import. They will be updated.",
	changes.OpDelete: "These deleted items in your source configuration are set to be ignored but their owners will no longer be enabled after import. They will be deleted.",
}

// ExceptionReport collects every operation whose ignore policy was
// overridden by an exception rule.
//
// ExceptionReport is safe for concurrent use.
type ExceptionReport struct {
	mu    sync.Mutex
	names map[changes.Op]map[string]struct{}
}

// NewExceptionReport creates an empty report.
func NewExceptionReport() *ExceptionReport {
	return &ExceptionReport{names: make(map[changes.Op]map[string]struct{})}
}

// Add records an override of op on name.
func (r *ExceptionReport) Add(op changes.Op, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.names[op]
	if !ok {
		set = make(map[string]struct{})
		r.names[op] = set
	}
	set[name] = struct{}{}
}

// Names returns the overridden names for op, sorted.
func (r *ExceptionReport) Names(op changes.Op) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.names[op]))
	for name := range r.names[op] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of recorded overrides.
func (r *ExceptionReport) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, set := range r.names {
		n += len(set)
	}
	return n
}

// IsEmpty reports whether no override was recorded.
func (r *ExceptionReport) IsEmpty() bool {
	return r.Len() == 0
}

// Warning is one group of the exception report.
type Warning struct {
	Op      changes.Op
	Message string
	Names   []string
}

// String renders the warning as its message followed by a bullet list.
func (w Warning) String() string {
	var b strings.Builder
	b.WriteString(w.Message)
	for _, name := range w.Names {
		b.WriteString("\n  - ")
		b.WriteString(name)
	}
	return b.String()
}

// Warnings returns the non-empty groups in ReportOps order.
func (r *ExceptionReport) Warnings() []Warning {
	var out []Warning
	for _, op := range ReportOps {
		names := r.Names(op)
		if len(names) == 0 {
			continue
		}
		out = append(out, Warning{Op: op, Message: ExceptionMessages[op], Names: names})
	}
	return out
}
