package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddIsIdempotent(t *testing.T) {
	v := New()
	id1 := v.Add("hello")
	id2 := v.Add("hello")
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, v.Size())
}

func TestAddAssignsDenseIDs(t *testing.T) {
	v := New()
	ids := make([]int, 0, 4)
	for _, tok := range []string{"a", "b", "c", "d"} {
		ids = append(ids, v.Add(tok))
	}
	assert.Equal(t, []int{0, 1, 2, 3}, ids)
	assert.Equal(t, 4, v.Size())
}

func TestIDOfAndTokenOfAreInverses(t *testing.T) {
	v := New()
	id := v.Add("piece")

	got, ok := v.IDOf("piece")
	require.True(t, ok)
	assert.Equal(t, id, got)

	tok, ok := v.TokenOf(id)
	require.True(t, ok)
	assert.Equal(t, "piece", tok)
}

func TestTokenOfOutOfRange(t *testing.T) {
	v := New()
	v.Add("only")

	_, ok := v.TokenOf(5)
	assert.False(t, ok)
	_, ok = v.TokenOf(-1)
	assert.False(t, ok)
}

func TestRequireTokenError(t *testing.T) {
	v := New()
	_, err := v.RequireToken(0)
	require.Error(t, err)
}

func TestIterOrderAndEarlyStop(t *testing.T) {
	v := New()
	for _, tok := range []string{"x", "y", "z"} {
		v.Add(tok)
	}

	var seen []string
	v.Iter(func(id int, token string) bool {
		seen = append(seen, token)
		return id < 1 // stop after the second entry
	})
	assert.Equal(t, []string{"x", "y"}, seen)
}

func TestHas(t *testing.T) {
	v := New()
	assert.False(t, v.Has("nope"))
	v.Add("nope")
	assert.True(t, v.Has("nope"))
}
