package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseRegistry_RegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[int]()

	require.NoError(t, r.Register("one", 1))
	require.NoError(t, r.Register("two", 2))

	v, ok := r.Get("one")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestBaseRegistry_RejectsEmptyAndDuplicateNames(t *testing.T) {
	r := NewBaseRegistry[string]()

	assert.Error(t, r.Register("", "x"))

	require.NoError(t, r.Register("a", "x"))
	assert.Error(t, r.Register("a", "y"))
}

func TestBaseRegistry_NamesSorted(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("zeta", 1))
	require.NoError(t, r.Register("alpha", 2))
	require.NoError(t, r.Register("mid", 3))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())
}

func TestBaseRegistry_RemoveAndCount(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))
	assert.Equal(t, 1, r.Count())

	require.NoError(t, r.Remove("a"))
	assert.Equal(t, 0, r.Count())
	assert.Error(t, r.Remove("a"))
}
