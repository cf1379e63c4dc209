package sync

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/fnv"
	"math"
	"sort"

	"github.com/xtxerr/cfgsync/internal/document"
)

// =============================================================================
// Hash Builder
// =============================================================================

// HashBuilder provides a fluent API for building content hashes.
//
// Usage:
//
//	hash := NewHashBuilder().
//	    String(name).
//	    Value(doc).
//	    Build()
//
// The hash is deterministic - same inputs always produce the same output.
// Order of operations matters.
type HashBuilder struct {
	h hash.Hash64
}

// NewHashBuilder creates a new hash builder.
func NewHashBuilder() *HashBuilder {
	return &HashBuilder{h: fnv.New64a()}
}

// String adds a string value to the hash.
func (b *HashBuilder) String(s string) *HashBuilder {
	b.h.Write([]byte(s))
	b.h.Write([]byte{0}) // Separator to avoid collisions
	return b
}

// Int adds an integer to the hash.
func (b *HashBuilder) Int(i int) *HashBuilder {
	return b.Uint64(uint64(i))
}

// Int64 adds an int64 to the hash.
func (b *HashBuilder) Int64(i int64) *HashBuilder {
	return b.Uint64(uint64(i))
}

// Uint64 adds a uint64 to the hash.
func (b *HashBuilder) Uint64(i uint64) *HashBuilder {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], i)
	b.h.Write(buf[:])
	return b
}

// Bool adds a boolean to the hash.
func (b *HashBuilder) Bool(v bool) *HashBuilder {
	if v {
		b.h.Write([]byte{1})
	} else {
		b.h.Write([]byte{0})
	}
	return b
}

// Value type tags keep e.g. "1" and 1 apart.
const (
	tagNil byte = iota
	tagBool
	tagInt
	tagFloat
	tagString
	tagList
	tagMap
	tagOther
	tagUint
)

func (b *HashBuilder) tag(t byte) {
	b.h.Write([]byte{t})
}

// Value adds a decoded document value to the hash. Values are
// canonicalized first, so documents decoded by different stores hash
// the same. Map keys are sorted; list order is significant.
func (b *HashBuilder) Value(v any) *HashBuilder {
	b.value(document.Canonical(v))
	return b
}

func (b *HashBuilder) value(v any) {
	switch t := v.(type) {
	case nil:
		b.tag(tagNil)
	case bool:
		b.tag(tagBool)
		b.Bool(t)
	case int64:
		b.tag(tagInt)
		b.Int64(t)
	case uint64:
		b.tag(tagUint)
		b.Uint64(t)
	case float64:
		b.tag(tagFloat)
		b.Uint64(math.Float64bits(t))
	case string:
		b.tag(tagString)
		b.String(t)
	case []any:
		b.tag(tagList)
		b.Int(len(t))
		for _, item := range t {
			b.value(item)
		}
	case map[string]any:
		b.tag(tagMap)
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.Int(len(keys))
		for _, k := range keys {
			b.String(k)
			b.value(t[k])
		}
	default:
		b.tag(tagOther)
		b.String(fmt.Sprintf("%T:%v", t, t))
	}
}

// Build returns the final hash value.
func (b *HashBuilder) Build() uint64 {
	return b.h.Sum64()
}

// =============================================================================
// Quick Hash Functions
// =============================================================================

// HashDocument returns the content hash of a document. An absent document
// hashes to 0.
func HashDocument(data document.Data) uint64 {
	if data == nil {
		return 0
	}
	return NewHashBuilder().Value(data).Build()
}
