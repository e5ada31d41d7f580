package cache

import (
	"fmt"
	"testing"

	"github.com/josecentenodev/crm-aurelia/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadSize(t *testing.T) {
	_, err := New(0, nil)
	assert.True(t, errors.IsValidation(err))
}

func TestPutGet(t *testing.T) {
	c, err := New(8, nil)
	require.NoError(t, err)

	c.Put("conversations", "list:1", []byte(`[1,2]`))
	c.Put("contacts", "list:1", []byte(`[3]`))

	v, ok := c.Get("conversations", "list:1")
	require.True(t, ok)
	assert.Equal(t, `[1,2]`, string(v))

	v, ok = c.Get("contacts", "list:1")
	require.True(t, ok)
	assert.Equal(t, `[3]`, string(v))

	_, ok = c.Get("contacts", "missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 2, stats.Topics)
}

func TestInvalidateDropsOnlyThatTopic(t *testing.T) {
	c, err := New(16, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		c.Put("messages", fmt.Sprintf("page:%d", i), []byte("m"))
	}
	c.Put("pipeline", "board", []byte("p"))

	assert.Equal(t, 3, c.Invalidate("messages"))
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("messages", "page:0")
	assert.False(t, ok)
	_, ok = c.Get("pipeline", "board")
	assert.True(t, ok)

	assert.Equal(t, 0, c.Invalidate("messages"))
	assert.Equal(t, 0, c.Invalidate("unknown"))

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Invalidations)
	assert.Equal(t, uint64(0), stats.Evictions)
}

func TestEvictionKeepsTopicIndexInSync(t *testing.T) {
	c, err := New(2, nil)
	require.NoError(t, err)

	c.Put("a", "1", []byte("x"))
	c.Put("b", "1", []byte("y"))
	c.Put("b", "2", []byte("z"))

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Evictions)
	assert.Equal(t, 1, c.Stats().Topics)
	assert.Equal(t, 0, c.Invalidate("a"))
	assert.Equal(t, 2, c.Invalidate("b"))
	assert.Equal(t, 0, c.Len())
}

func TestPutReplacesValue(t *testing.T) {
	c, err := New(4, nil)
	require.NoError(t, err)

	c.Put("t", "k", []byte("old"))
	c.Put("t", "k", []byte("new"))

	v, ok := c.Get("t", "k")
	require.True(t, ok)
	assert.Equal(t, "new", string(v))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, c.Invalidate("t"))
}
