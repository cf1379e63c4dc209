// Package extension tracks which modules and themes exist and which are
// enabled.
//
// Two independent sources are combined:
//
//   - the enabled set, read from the "core.extension" configuration object
//     (maps "module" and "theme" keyed by machine name)
//   - the inventory, discovered from "<name>.info.yml" files on disk
//
// Both are snapshots. A synchronization run loads them once and never
// refreshes them.
package extension

import (
	"context"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"gopkg.in/yaml.v3"

	"github.com/xtxerr/cfgsync/internal/errors"
	"github.com/xtxerr/cfgsync/internal/logging"
)

var log = logging.Component("extension")

// Type is the kind of extension.
type Type string

const (
	TypeModule Type = "module"
	TypeTheme  Type = "theme"
)

// InfoSuffix is the file name suffix of extension metadata files.
const InfoSuffix = ".info.yml"

// =============================================================================
// Enabled Extensions
// =============================================================================

// Enabled is the set of enabled modules and themes.
type Enabled struct {
	Modules map[string]struct{}
	Themes  map[string]struct{}
}

// NewEnabled creates an enabled set from explicit lists.
func NewEnabled(modules, themes []string) Enabled {
	e := Enabled{
		Modules: make(map[string]struct{}, len(modules)),
		Themes:  make(map[string]struct{}, len(themes)),
	}
	for _, m := range modules {
		e.Modules[m] = struct{}{}
	}
	for _, t := range themes {
		e.Themes[t] = struct{}{}
	}
	return e
}

// EnabledFrom parses a core.extension document. Nil data yields an empty
// set.
func EnabledFrom(data map[string]any) Enabled {
	return NewEnabled(keysOf(data[string(TypeModule)]), keysOf(data[string(TypeTheme)]))
}

// Has reports whether name is enabled as an extension of type t.
func (e Enabled) Has(t Type, name string) bool {
	switch t {
	case TypeModule:
		_, ok := e.Modules[name]
		return ok
	case TypeTheme:
		_, ok := e.Themes[name]
		return ok
	default:
		return false
	}
}

func keysOf(v any) []string {
	switch m := v.(type) {
	case map[string]any:
		out := make([]string, 0, len(m))
		for k := range m {
			out = append(out, k)
		}
		return out
	case map[any]any:
		out := make([]string, 0, len(m))
		for k := range m {
			if s, ok := k.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []any:
		// A plain list of names is accepted as well.
		out := make([]string, 0, len(m))
		for _, item := range m {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// =============================================================================
// Inventory
// =============================================================================

// Info is the metadata of one installed extension.
type Info struct {
	Name         string   `yaml:"-"`
	Path         string   `yaml:"-"`
	Type         Type     `yaml:"type"`
	Label        string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Package      string   `yaml:"package"`
	Dependencies []string `yaml:"dependencies"`
	Hidden       bool     `yaml:"hidden"`
}

// Inventory is every module and theme known on disk, enabled or not.
type Inventory struct {
	modules map[string]Info
	themes  map[string]Info
}

// NewInventory creates an inventory from explicit entries.
func NewInventory(infos ...Info) *Inventory {
	inv := &Inventory{
		modules: make(map[string]Info),
		themes:  make(map[string]Info),
	}
	for _, info := range infos {
		inv.Add(info)
	}
	return inv
}

// Add registers info. Entries with an unknown type are dropped.
func (inv *Inventory) Add(info Info) {
	switch info.Type {
	case TypeModule:
		inv.modules[info.Name] = info
	case TypeTheme:
		inv.themes[info.Name] = info
	}
}

// Has reports whether name is installed as an extension of type t.
func (inv *Inventory) Has(t Type, name string) bool {
	if inv == nil {
		return false
	}
	switch t {
	case TypeModule:
		_, ok := inv.modules[name]
		return ok
	case TypeTheme:
		_, ok := inv.themes[name]
		return ok
	default:
		return false
	}
}

// Get returns the metadata of name.
func (inv *Inventory) Get(t Type, name string) (Info, bool) {
	if inv == nil {
		return Info{}, false
	}
	var info Info
	var ok bool
	switch t {
	case TypeModule:
		info, ok = inv.modules[name]
	case TypeTheme:
		info, ok = inv.themes[name]
	}
	return info, ok
}

// Len returns the number of known modules and themes.
func (inv *Inventory) Len() (modules, themes int) {
	if inv == nil {
		return 0, 0
	}
	return len(inv.modules), len(inv.themes)
}

// Discover walks fs and registers every "<name>.info.yml" whose type is
// module or theme. Unreadable or malformed files are logged and skipped.
// A missing root yields an empty inventory.
func Discover(ctx context.Context, fs billy.Filesystem, root string) (*Inventory, error) {
	inv := NewInventory()
	if root == "" {
		root = "."
	}

	err := util.Walk(fs, root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), InfoSuffix) {
			return nil
		}

		info, perr := parseInfo(fs, p)
		if perr != nil {
			log.Warn("skipping extension metadata", "path", p, "error", perr)
			return nil
		}
		inv.Add(info)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "discover extensions under %s", root)
	}

	modules, themes := inv.Len()
	log.Debug("extensions discovered", "root", root, "modules", modules, "themes", themes)
	return inv, nil
}

func parseInfo(fs billy.Filesystem, p string) (Info, error) {
	raw, err := util.ReadFile(fs, p)
	if err != nil {
		return Info{}, err
	}

	var info Info
	if err := yaml.Unmarshal(raw, &info); err != nil {
		return Info{}, err
	}
	if info.Type == "" {
		return Info{}, errors.NewMissingField("type")
	}
	if info.Type != TypeModule && info.Type != TypeTheme {
		// Profiles and theme engines are not owners of configuration.
		return Info{}, errors.NewInvalidValue("type", info.Type, "not a module or theme")
	}

	info.Name = strings.TrimSuffix(path.Base(p), InfoSuffix)
	info.Path = path.Dir(p)
	return info, nil
}
