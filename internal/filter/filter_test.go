package filter_test

import (
	"testing"

	"github.com/JulianoL13/doc-queue/internal/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	t.Run("empty expression matches everything", func(t *testing.T) {
		f, err := filter.Compile("  ")
		require.NoError(t, err)

		assert.True(t, f.IsZero())
		assert.True(t, f.Match("id", nil))
		assert.Equal(t, "true", f.String())
	})

	t.Run("rejects invalid syntax", func(t *testing.T) {
		_, err := filter.Compile("msg.type ==")
		assert.Error(t, err)
	})

	t.Run("rejects non boolean expression", func(t *testing.T) {
		_, err := filter.Compile(`"text"`)
		assert.ErrorIs(t, err, filter.ErrNotPredicate)
	})
}

func TestFilter_Match(t *testing.T) {
	f := filter.MustCompile(`msg.type == "numeric"`)

	t.Run("matches field", func(t *testing.T) {
		assert.True(t, f.Match("1", map[string]any{"type": "numeric", "value": 1.0}))
		assert.False(t, f.Match("2", map[string]any{"type": "text"}))
	})

	t.Run("missing field does not match", func(t *testing.T) {
		assert.False(t, f.Match("3", map[string]any{"value": 1.0}))
	})

	t.Run("has guards optional fields", func(t *testing.T) {
		g := filter.MustCompile(`has(msg.key) && msg.key == "k"`)
		assert.True(t, g.Match("4", map[string]any{"key": "k"}))
		assert.False(t, g.Match("5", map[string]any{}))
	})

	t.Run("can address id", func(t *testing.T) {
		g := filter.MustCompile(`id == "abc"`)
		assert.True(t, g.Match("abc", nil))
		assert.False(t, g.Match("abd", nil))
	})
}

func TestAnd(t *testing.T) {
	a := filter.MustCompile(`msg.type == "a"`)
	c := filter.MustCompile(`msg.category == "c"`)

	both := filter.And(a, filter.Filter{}, c)

	assert.True(t, both.Match("1", map[string]any{"type": "a", "category": "c"}))
	assert.False(t, both.Match("2", map[string]any{"type": "a", "category": "d"}))
	assert.False(t, both.Match("3", map[string]any{"type": "b", "category": "c"}))
	assert.Equal(t, `(msg.type == "a") && (msg.category == "c")`, both.String())

	assert.True(t, filter.And().IsZero())
	assert.Equal(t, a.String(), filter.And(filter.Filter{}, a).String())
}

func TestEquals(t *testing.T) {
	t.Run("string", func(t *testing.T) {
		f, err := filter.Equals("type", "text")
		require.NoError(t, err)
		assert.True(t, f.Match("1", map[string]any{"type": "text"}))
		assert.False(t, f.Match("1", map[string]any{"type": "numeric"}))
	})

	t.Run("number", func(t *testing.T) {
		f, err := filter.Equals("value", 2)
		require.NoError(t, err)
		assert.True(t, f.Match("1", map[string]any{"value": 2.0}))
		assert.False(t, f.Match("1", map[string]any{"value": 3.0}))
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := filter.Equals("value", []int{1})
		assert.Error(t, err)
	})
}
