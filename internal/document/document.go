// Package document models configuration objects as loaded from a store.
//
// A configuration object is a tree of named fields. Loading classifies it
// once into a typed variant: plain configuration, or a config entity (a
// document carrying both "dependencies" and "uuid"). Only config entities
// carry an ignore policy; plain configuration never does, whatever
// policy-shaped fields it contains.
package document

import (
	"github.com/ohler55/ojg/jp"

	"github.com/xtxerr/cfgsync/config"
	"github.com/xtxerr/cfgsync/internal/changes"
)

// Data is a raw configuration document.
type Data = map[string]any

// Kind distinguishes plain configuration from config entities.
type Kind int

const (
	KindPlain Kind = iota
	KindEntity
)

// String returns the kind name.
func (k Kind) String() string {
	if k == KindEntity {
		return "entity"
	}
	return "plain"
}

// Document paths.
var (
	dependenciesPath = jp.MustParseString("$.dependencies")
	uuidPath         = jp.MustParseString("$.uuid")
	policyPath       = jp.MustParseString("$." + config.ThirdPartySettingsKey + "." +
		config.PolicyProvider + "." + config.PolicySetting)
)

// =============================================================================
// Object
// =============================================================================

// Object is a classified configuration object snapshot.
//
// Objects are read-only; a nil *Object stands for an absent document and
// every accessor tolerates it.
type Object struct {
	Name         string
	Data         Data
	Kind         Kind
	UUID         string
	Dependencies Dependencies
	Policy       IgnorePolicy
}

// Load classifies raw data read for name. Absent data yields nil.
func Load(name string, data Data) *Object {
	if data == nil {
		return nil
	}

	obj := &Object{
		Name:         name,
		Data:         data,
		Kind:         KindPlain,
		Dependencies: parseDependencies(dependenciesPath.First(data)),
	}

	uuid := uuidPath.First(data)
	if dependenciesPath.First(data) != nil && uuid != nil {
		obj.Kind = KindEntity
		obj.UUID, _ = uuid.(string)
		obj.Policy = parsePolicy(policyPath.First(data))
	}

	return obj
}

// IsEntity reports whether o is a config entity.
func (o *Object) IsEntity() bool {
	return o != nil && o.Kind == KindEntity
}

// Ignores reports whether o's ignore policy requests suppressing op.
// Plain configuration and absent objects never ignore anything.
func (o *Object) Ignores(op changes.Op) bool {
	if !o.IsEntity() {
		return false
	}
	return o.Policy[op]
}

// Deps returns o's dependencies, empty for an absent object.
func (o *Object) Deps() Dependencies {
	if o == nil {
		return Dependencies{}
	}
	return o.Dependencies
}

// RawData returns o's document, nil for an absent object.
func (o *Object) RawData() Data {
	if o == nil {
		return nil
	}
	return o.Data
}

// =============================================================================
// Dependencies
// =============================================================================

// Dependencies lists what a configuration object requires.
type Dependencies struct {
	Config []string
	Module []string
	Theme  []string
}

// Of returns the dependency list of the given type
// ("config", "module" or "theme").
func (d Dependencies) Of(kind string) []string {
	switch kind {
	case "config":
		return d.Config
	case "module":
		return d.Module
	case "theme":
		return d.Theme
	default:
		return nil
	}
}

func parseDependencies(v any) Dependencies {
	m, ok := asMap(v)
	if !ok {
		return Dependencies{}
	}
	return Dependencies{
		Config: toStrings(m["config"]),
		Module: toStrings(m["module"]),
		Theme:  toStrings(m["theme"]),
	}
}

// =============================================================================
// Ignore Policy
// =============================================================================

// IgnorePolicy maps import operations to their ignore flag.
// Missing operations are not ignored.
type IgnorePolicy map[changes.Op]bool

// IsTruthy reports whether a stored policy flag is the ignore sentinel:
// boolean true or the integer 1. Strings, other numbers and floats are not.
func IsTruthy(v any) bool {
	switch n := v.(type) {
	case bool:
		return n
	case int:
		return n == 1
	case int8:
		return n == 1
	case int16:
		return n == 1
	case int32:
		return n == 1
	case int64:
		return n == 1
	case uint:
		return n == 1
	case uint8:
		return n == 1
	case uint16:
		return n == 1
	case uint32:
		return n == 1
	case uint64:
		return n == 1
	default:
		return false
	}
}

func parsePolicy(v any) IgnorePolicy {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	policy := make(IgnorePolicy, len(changes.ImportOps))
	for _, op := range changes.ImportOps {
		if IsTruthy(m[string(op)]) {
			policy[op] = true
		}
	}
	return policy
}

// PolicyOf returns the raw policy subtree of data and whether it exists.
func PolicyOf(data Data) (any, bool) {
	if data == nil {
		return nil, false
	}
	v := policyPath.First(data)
	return v, v != nil
}

// =============================================================================
// Helpers
// =============================================================================

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			if ks, ok := k.(string); ok {
				out[ks] = val
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func toStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
