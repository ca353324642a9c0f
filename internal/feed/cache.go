package feed

import "sync"

// KeyedCache buffers content items observed via intercepted network
// responses, keyed by item id. Insertion is last-write-wins; consumption is
// destructive. Writers are the driver's response callbacks, which run
// concurrently with the session loop, so all access is locked.
type KeyedCache struct {
	mu    sync.Mutex
	items map[string]ContentItem
}

// NewKeyedCache creates an empty keyed cache.
func NewKeyedCache() *KeyedCache {
	return &KeyedCache{items: make(map[string]ContentItem)}
}

// Put inserts or overwrites the entry for item.ID.
func (c *KeyedCache) Put(item ContentItem) {
	c.mu.Lock()
	c.items[item.ID] = item
	c.mu.Unlock()
}

// TakeByID removes and returns the entry for id. The second return is false
// when the item has not been observed yet; callers treat that as a transient
// miss, not an error.
func (c *KeyedCache) TakeByID(id string) (ContentItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[id]
	if ok {
		delete(c.items, id)
	}
	return item, ok
}

// Len reports the number of buffered entries.
func (c *KeyedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
