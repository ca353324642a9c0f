package feed

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedCacheLastWriteWins(t *testing.T) {
	c := NewKeyedCache()
	c.Put(ContentItem{ID: "a", Description: "first"})
	c.Put(ContentItem{ID: "a", Description: "second"})

	item, ok := c.TakeByID("a")
	require.True(t, ok)
	assert.Equal(t, "second", item.Description)

	_, ok = c.TakeByID("a")
	assert.False(t, ok, "consumption must be destructive")
}

func TestKeyedCacheMiss(t *testing.T) {
	c := NewKeyedCache()
	_, ok := c.TakeByID("never-seen")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestKeyedCacheConcurrentWriters(t *testing.T) {
	c := NewKeyedCache()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Put(ContentItem{ID: fmt.Sprintf("item-%d", n)})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
}
