package sync

import (
	"context"

	"github.com/xtxerr/cfgsync/config"
	"github.com/xtxerr/cfgsync/internal/changes"
	"github.com/xtxerr/cfgsync/internal/extension"
	"github.com/xtxerr/cfgsync/internal/validation"
)

// =============================================================================
// Exception Rules
// =============================================================================

// Rule reports whether suppressing an operation on name would break
// referential integrity, forcing the operation to proceed. For renames,
// name is the new name.
//
// Rules read only the run's stores and dependency index.
type Rule func(ctx context.Context, run *Run, collection, name string) (bool, error)

// defaultRules maps every suppressible operation to its exception rule.
func defaultRules() map[changes.Op]Rule {
	return map[changes.Op]Rule{
		changes.OpCreate: HasDependentConfig,
		changes.OpRename: HasDependentConfig,
		changes.OpUpdate: WillHaveUnmetDependencies,
		changes.OpDelete: WillBeOrphaned,
	}
}

// HasDependentConfig fires when any other configuration in the source
// inventory lists name as a config dependency. Suppressing its creation
// would leave those dependents pointing at nothing.
func HasDependentConfig(ctx context.Context, run *Run, _ string, name string) (bool, error) {
	idx, err := run.Index(ctx)
	if err != nil {
		return false, err
	}
	return idx.HasDependents(name), nil
}

// WillHaveUnmetDependencies fires when the update would drop a dependency
// that nothing else satisfies after import: a module or theme that is not
// enabled, or a configuration name absent from the source inventory.
//
// Dependencies are compared per kind; a kind missing from the source
// document counts as an empty list.
func WillHaveUnmetDependencies(ctx context.Context, run *Run, collection, name string) (bool, error) {
	idx, err := run.Index(ctx)
	if err != nil {
		return false, err
	}
	source, err := run.Load(ctx, SideSource, collection, name)
	if err != nil {
		return false, err
	}
	target, err := run.Load(ctx, SideTarget, collection, name)
	if err != nil {
		return false, err
	}

	enabled := idx.Enabled()
	for _, kind := range []extension.Type{extension.TypeModule, extension.TypeTheme} {
		for _, dep := range removed(target.Deps().Of(string(kind)), source.Deps().Of(string(kind))) {
			if !enabled.Has(kind, dep) {
				log.Debug("update drops disabled extension",
					"collection", collection, "name", name, "type", kind, "dependency", dep)
				return true, nil
			}
		}
	}

	for _, dep := range removed(target.Deps().Config, source.Deps().Config) {
		if !idx.InSource(dep) {
			log.Debug("update drops missing configuration",
				"collection", collection, "name", name, "dependency", dep)
			return true, nil
		}
	}

	return false, nil
}

// WillBeOrphaned fires when the owner of name (the part before the first
// dot) will not be enabled after import. Objects owned by core are never
// orphaned.
//
// The owner counts as gone when it is installed as a module but not
// enabled as one, installed as a theme but not enabled as one, or enabled
// as neither.
func WillBeOrphaned(ctx context.Context, run *Run, _ string, name string) (bool, error) {
	idx, err := run.Index(ctx)
	if err != nil {
		return false, err
	}

	owner := validation.Owner(name)
	if owner == config.CoreOwner {
		return false, nil
	}

	enabled := idx.Enabled()
	inventory := idx.Inventory()
	moduleEnabled := enabled.Has(extension.TypeModule, owner)
	themeEnabled := enabled.Has(extension.TypeTheme, owner)

	switch {
	case !moduleEnabled && inventory.Has(extension.TypeModule, owner):
		return true, nil
	case !themeEnabled && inventory.Has(extension.TypeTheme, owner):
		return true, nil
	case !moduleEnabled && !themeEnabled:
		return true, nil
	default:
		return false, nil
	}
}

// removed returns the entries of before that are not in after.
func removed(before, after []string) []string {
	if len(before) == 0 {
		return nil
	}
	keep := make(map[string]struct{}, len(after))
	for _, a := range after {
		keep[a] = struct{}{}
	}
	var out []string
	for _, b := range before {
		if _, ok := keep[b]; !ok {
			out = append(out, b)
		}
	}
	return out
}
