package main

import (
	"fmt"
	"io"
	"time"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"

	"github.com/xtxerr/cfgsync/internal/changes"
	"github.com/xtxerr/cfgsync/internal/errors"
	"github.com/xtxerr/cfgsync/internal/importer"
	cfgsync "github.com/xtxerr/cfgsync/internal/sync"
)

// User-facing messages.
const (
	MsgNoChanges        = "There are no configuration changes to import."
	MsgSiteMismatch     = "The staged configuration cannot be imported, because it originates from a different site than this site. You can only synchronize configuration between cloned instances of this site."
	MsgAlreadyImporting = "Another request may be synchronizing configuration already."
	MsgValidationFailed = "The configuration cannot be imported because it failed validation for the following reasons:"
	MsgImportAborted    = "Configuration synchronization has encountered an error."
)

// groupHeadings are the change list headings in display order.
var groupHeadings = []struct {
	op      changes.Op
	heading string
}{
	{changes.OpCreate, "new"},
	{changes.OpUpdate, "changed"},
	{changes.OpDelete, "removed"},
	{changes.OpRename, "renamed"},
	{changes.OpIgnore, "ignored"},
}

// =============================================================================
// Text
// =============================================================================

// renderChanges prints the final change lists, one section per collection.
func renderChanges(w io.Writer, c *cfgsync.Comparer) {
	for _, collection := range c.Collections() {
		list := c.ChangeList(collection)
		if !list.HasChanges() {
			continue
		}

		title := "Default collection"
		if collection != "" {
			title = collection + " collection"
		}
		fmt.Fprintf(w, "%s\n", title)

		for _, g := range groupHeadings {
			names := list.Names(g.op)
			if len(names) == 0 {
				continue
			}
			fmt.Fprintf(w, "  %d %s\n", len(names), g.heading)
			for _, name := range names {
				fmt.Fprintf(w, "    %s\n", displayName(g.op, name))
			}
		}
	}
}

// displayName renders renames as "old to new".
func displayName(op changes.Op, name string) string {
	if op != changes.OpRename {
		return name
	}
	oldName, newName, err := changes.ExtractRename(name)
	if err != nil {
		return name
	}
	return oldName + " to " + newName
}

func renderWarnings(w io.Writer, warnings []cfgsync.Warning) {
	for _, warning := range warnings {
		fmt.Fprintf(w, "%s\n\n", warning)
	}
}

func renderDrift(w io.Writer, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintln(w, importer.DriftMessage)
	for _, name := range names {
		fmt.Fprintf(w, "  - %s\n", name)
	}
	fmt.Fprintln(w)
}

func renderResult(w io.Writer, r *importer.Result) {
	fmt.Fprintf(w, "The configuration was imported successfully.\n")
	fmt.Fprintf(w, "  run:       %s\n", r.RunID)
	fmt.Fprintf(w, "  processed: %d\n", r.Processed)
	fmt.Fprintf(w, "  ignored:   %d (%d policies resynchronized)\n", r.Stats.Ignored, r.Resynced)
	if r.Journal.P50 > 0 {
		fmt.Fprintf(w, "  latency:   p50=%s p99=%s max=%s\n", r.Journal.P50, r.Journal.P99, r.Journal.Max)
	}
	fmt.Fprintf(w, "  duration:  %s\n", r.Duration.Round(time.Millisecond))
}

// validationReasons flattens a collected validation failure into its
// reasons. Any other error is its own single reason.
func validationReasons(err error) []error {
	var verrs *errors.ValidationErrors
	if errors.As(err, &verrs) {
		return verrs.Errors
	}
	return []error{err}
}

// renderValidation prints the reasons a run failed validation.
func renderValidation(w io.Writer, reasons []error) {
	fmt.Fprintln(w, MsgValidationFailed)
	for _, reason := range reasons {
		msg := reason.Error()
		if errors.Is(reason, errors.ErrSiteMismatch) {
			msg = MsgSiteMismatch
		}
		fmt.Fprintf(w, "  - %s\n", msg)
	}
}

// =============================================================================
// JSON
// =============================================================================

// renderJSON prints the change lists, warnings and drift as one JSON
// document with sorted keys.
func renderJSON(w io.Writer, c *cfgsync.Comparer, warnings []cfgsync.Warning, drift []string) error {
	collections := make(map[string]any)
	for _, collection := range c.Collections() {
		list := c.ChangeList(collection)
		groups := make(map[string]any, len(changes.ListOps))
		for _, op := range changes.ListOps {
			groups[string(op)] = stringsToAny(list.Names(op))
		}
		collections[collection] = groups
	}

	warns := make([]any, 0, len(warnings))
	for _, warning := range warnings {
		warns = append(warns, map[string]any{
			"op":      string(warning.Op),
			"message": warning.Message,
			"names":   stringsToAny(warning.Names),
		})
	}

	stats := c.Stats()
	doc := map[string]any{
		"collections": collections,
		"warnings":    warns,
		"drift":       stringsToAny(drift),
		"stats": map[string]any{
			"create": int64(stats.Creates),
			"update": int64(stats.Updates),
			"delete": int64(stats.Deletes),
			"rename": int64(stats.Renames),
			"ignore": int64(stats.Ignored),
			"total":  int64(stats.Total),
		},
	}

	data, err := oj.Marshal(doc, &ojg.Options{Sort: true, Indent: 2})
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
