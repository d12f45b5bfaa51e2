package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCacheExpiry(t *testing.T) {
	c := NewInMemoryCache[string, int](time.Minute)
	defer c.Close()
	base := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return base }

	c.Set("a", 1, 0)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	base = base.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Size())

	c.cleanup()
	assert.Equal(t, 0, c.Size())
}

func TestInMemoryCacheSetIfAbsent(t *testing.T) {
	c := NewInMemoryCache[string, struct{}](time.Hour)
	defer c.Close()

	assert.True(t, c.SetIfAbsent("fill-1", struct{}{}, 0))
	assert.False(t, c.SetIfAbsent("fill-1", struct{}{}, 0))
	assert.ElementsMatch(t, []string{"fill-1"}, c.Keys())

	c.Delete("fill-1")
	assert.True(t, c.SetIfAbsent("fill-1", struct{}{}, 0))
}
