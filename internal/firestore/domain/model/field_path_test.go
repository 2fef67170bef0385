package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFieldPath(t *testing.T) {
	fp, err := NewFieldPath("customer.address.city")
	require.NoError(t, err)
	assert.Equal(t, []string{"customer", "address", "city"}, fp.Segments())
	assert.False(t, fp.IsDocumentID())

	id, err := NewFieldPath(DocumentIDField)
	require.NoError(t, err)
	assert.True(t, id.IsDocumentID())

	for _, bad := range []string{"", ".a", "a.", "a..b", "a/b", "__x"} {
		_, err := NewFieldPath(bad)
		assert.Error(t, err, bad)
	}
}

func TestFieldPath_LookupSetDelete(t *testing.T) {
	data := map[string]interface{}{"a": map[string]interface{}{"b": int64(1)}, "s": "x"}

	v, ok := MustNewFieldPath("a.b").Lookup(data)
	assert.True(t, ok)
	assert.Equal(t, int64(1), v)

	_, ok = MustNewFieldPath("s.deeper").Lookup(data)
	assert.False(t, ok)

	MustNewFieldPath("s.deeper").Set(data, int64(2))
	assert.Equal(t, map[string]interface{}{"deeper": int64(2)}, data["s"])

	MustNewFieldPath("a.b").Delete(data)
	assert.Equal(t, map[string]interface{}{}, data["a"])
}

func TestLeafPaths(t *testing.T) {
	paths := LeafPaths(map[string]interface{}{
		"a": int64(1),
		"m": map[string]interface{}{"x": "y", "e": map[string]interface{}{}},
	})
	assert.ElementsMatch(t, []string{"a", "m.x", "m.e"}, paths)
}
