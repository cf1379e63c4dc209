package changes

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/cfgsync/internal/errors"
)

// =============================================================================
// Rename Encoding Tests
// =============================================================================

func TestExtractRename(t *testing.T) {
	oldName, newName, err := ExtractRename(RenameName("node.type.a", "node.type.b"))
	require.NoError(t, err)
	assert.Equal(t, "node.type.a", oldName)
	assert.Equal(t, "node.type.b", newName)

	for _, bad := range []string{"node.type.a", "::node.type.b", "node.type.a::", ""} {
		_, _, err := ExtractRename(bad)
		assert.ErrorIs(t, err, errors.ErrInvalidRename, "entry %q", bad)
	}
}

func TestParseOp(t *testing.T) {
	op, err := ParseOp(" Update ")
	require.NoError(t, err)
	assert.Equal(t, OpUpdate, op)

	_, err = ParseOp("merge")
	assert.ErrorIs(t, err, errors.ErrInvalidOp)
}

// =============================================================================
// List Tests
// =============================================================================

func TestList_AddDeduplicates(t *testing.T) {
	l := NewList()
	l.Add(OpCreate, "a.b", "a.c", "a.b")

	assert.Equal(t, []string{"a.b", "a.c"}, l.Names(OpCreate))
	assert.Equal(t, 2, l.Len())
}

func TestList_RemoveKeepsOrder(t *testing.T) {
	l := NewList()
	l.Add(OpUpdate, "a.1", "a.2", "a.3")

	assert.True(t, l.Remove(OpUpdate, "a.2"))
	assert.False(t, l.Remove(OpUpdate, "a.2"))
	assert.Equal(t, []string{"a.1", "a.3"}, l.Names(OpUpdate))
}

func TestList_MembershipFollowsMutations(t *testing.T) {
	l := NewList()
	l.Set(OpCreate, []string{"a.1", "a.2", "a.1"})
	assert.Equal(t, []string{"a.1", "a.2"}, l.Names(OpCreate))
	assert.True(t, l.Has(OpCreate, "a.2"))

	l.Set(OpCreate, []string{"a.3"})
	assert.False(t, l.Has(OpCreate, "a.1"), "replaced names are forgotten")
	l.Add(OpCreate, "a.1")
	assert.Equal(t, []string{"a.3", "a.1"}, l.Names(OpCreate))

	c := l.Clone()
	c.Remove(OpCreate, "a.3")
	assert.True(t, l.Has(OpCreate, "a.3"), "clones do not share membership")
	assert.False(t, c.Has(OpCreate, "a.3"))
	c.Add(OpCreate, "a.3")
	assert.Equal(t, []string{"a.1", "a.3"}, c.Names(OpCreate))

	assert.False(t, NewList().Has(OpIgnore, "a.1"))
}

func TestList_LargeGroup(t *testing.T) {
	const n = 5000
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("views.view.v%05d", i)
	}

	l := NewList()
	l.Add(OpUpdate, names...)
	l.Add(OpUpdate, names...)
	require.Equal(t, n, l.Len())
	for _, name := range names {
		require.True(t, l.Has(OpUpdate, name))
	}
	for _, name := range names[:n/2] {
		require.True(t, l.Remove(OpUpdate, name))
	}
	assert.Equal(t, names[n/2:], l.Names(OpUpdate))
}

func TestList_NamesReturnsCopy(t *testing.T) {
	l := NewList()
	l.Add(OpDelete, "a.1")

	names := l.Names(OpDelete)
	names[0] = "mutated"

	assert.Equal(t, []string{"a.1"}, l.Names(OpDelete))
}

func TestList_Validate(t *testing.T) {
	l := NewList()
	l.Add(OpCreate, "a.1")
	l.Add(OpIgnore, "a.2")
	require.NoError(t, l.Validate())

	l.Add(OpUpdate, "a.1")
	assert.Error(t, l.Validate())
}

func TestList_EntriesOrder(t *testing.T) {
	l := NewList()
	l.Add(OpIgnore, "z.1")
	l.Add(OpDelete, "d.1")
	l.Add(OpCreate, "c.1")

	assert.Equal(t, []Entry{
		{Op: OpCreate, Name: "c.1"},
		{Op: OpDelete, Name: "d.1"},
		{Op: OpIgnore, Name: "z.1"},
	}, l.Entries())
}

// =============================================================================
// Set Tests
// =============================================================================

func TestSet_CollectionsDefaultFirst(t *testing.T) {
	s := NewSet()
	s.List("language.fr")
	s.List("")
	s.List("language.de")

	assert.Equal(t, []string{"", "language.de", "language.fr"}, s.Collections())
}

func TestSet_HasChanges(t *testing.T) {
	s := NewSet()
	s.List("")
	assert.False(t, s.HasChanges())

	s.List("language.fr").Add(OpIgnore, "a.b")
	assert.True(t, s.HasChanges())
}
