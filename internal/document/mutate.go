package document

import (
	"math"
	"reflect"

	"github.com/xtxerr/cfgsync/config"
	"github.com/xtxerr/cfgsync/internal/changes"
)

// Clone returns a deep copy of data.
func Clone(data Data) Data {
	if data == nil {
		return nil
	}
	return cloneValue(data).(Data)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case map[any]any:
		m, _ := asMap(t)
		return cloneValue(m)
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Canonical normalizes a decoded value so documents read from different
// stores compare equal: integers become int64 (uint64 when they do not
// fit), whole floats become int64, other floats become float64 and typed
// slices and maps become their generic forms.
func Canonical(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Canonical(val)
		}
		return out
	case map[any]any:
		m, _ := asMap(t)
		return Canonical(m)
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Canonical(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return canonicalUint(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return canonicalUint(t)
	case float32:
		return Canonical(float64(t))
	case float64:
		if t >= math.MinInt64 && t < math.MaxInt64 && t == math.Trunc(t) {
			return int64(t)
		}
		return t
	default:
		return v
	}
}

// canonicalUint keeps values above math.MaxInt64 as uint64 so they never
// wrap into negative int64s.
func canonicalUint(u uint64) any {
	if u > math.MaxInt64 {
		return u
	}
	return int64(u)
}

// Equal reports whether two values are equal after canonicalization.
func Equal(a, b any) bool {
	return reflect.DeepEqual(Canonical(a), Canonical(b))
}

// WithPolicy returns a copy of data whose ignore policy subtree is replaced
// by policy. Every other field is left untouched. A nil policy removes the
// subtree along with the provider and settings maps it leaves empty.
func WithPolicy(data Data, policy any) Data {
	out := Clone(data)
	if out == nil {
		out = Data{}
	}
	if policy == nil {
		removePolicy(out)
		return out
	}

	settings := childMap(out, config.ThirdPartySettingsKey)
	provider := childMap(settings, config.PolicyProvider)
	provider[config.PolicySetting] = cloneValue(policy)
	return out
}

func removePolicy(data Data) {
	settings, ok := asMap(data[config.ThirdPartySettingsKey])
	if !ok {
		return
	}
	data[config.ThirdPartySettingsKey] = settings
	provider, ok := asMap(settings[config.PolicyProvider])
	if !ok {
		return
	}
	settings[config.PolicyProvider] = provider

	delete(provider, config.PolicySetting)
	if len(provider) == 0 {
		delete(settings, config.PolicyProvider)
	}
	if len(settings) == 0 {
		delete(data, config.ThirdPartySettingsKey)
	}
}

// SetImportIgnore sets the ignore flag for ops on an entity document and
// returns the updated copy. An empty ops list sets all four operations.
func SetImportIgnore(data Data, ignore bool, ops ...changes.Op) Data {
	if len(ops) == 0 {
		ops = changes.ImportOps
	}

	current := map[string]any{}
	for _, op := range changes.ImportOps {
		current[string(op)] = false
	}
	if existing, ok := PolicyOf(data); ok {
		if m, ok := asMap(existing); ok {
			for k, v := range m {
				current[k] = v
			}
		}
	}

	for _, op := range ops {
		current[string(op)] = ignore
	}

	return WithPolicy(data, current)
}

func childMap(parent map[string]any, key string) map[string]any {
	if m, ok := asMap(parent[key]); ok {
		parent[key] = m
		return m
	}
	m := map[string]any{}
	parent[key] = m
	return m
}
