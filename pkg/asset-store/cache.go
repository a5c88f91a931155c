package assetstore

import (
	"context"
	"sync"
	"time"

	registry "github.com/always-cache/httpet/pkg/animal-registry"
)

type cacheEntry struct {
	expires time.Time
	object  *Object
}

// CachedStore keeps recently opened assets in memory.
// Entries live for ttl; when the cache is full the entry expiring first is evicted.
type CachedStore struct {
	next       Store
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mutex *sync.RWMutex
	db    map[string]cacheEntry
}

// NewCachedStore wraps next. A zero ttl or maxEntries disables caching.
func NewCachedStore(next Store, ttl time.Duration, maxEntries int) *CachedStore {
	return &CachedStore{
		next:       next,
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		mutex:      &sync.RWMutex{},
		db:         make(map[string]cacheEntry),
	}
}

func (c *CachedStore) Open(ctx context.Context, asset registry.Asset) (*Object, error) {
	if c.ttl <= 0 || c.maxEntries <= 0 {
		return c.next.Open(ctx, asset)
	}
	if object, ok := c.get(asset.Path); ok {
		return object, nil
	}
	object, err := c.next.Open(ctx, asset)
	if err != nil {
		return nil, err
	}
	c.put(asset.Path, object)
	return object, nil
}

// Len returns the number of cached entries, expired ones included.
func (c *CachedStore) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.db)
}

// Purge removes all cached entries.
func (c *CachedStore) Purge() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.db = make(map[string]cacheEntry)
}

func (c *CachedStore) get(key string) (*Object, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	entry, ok := c.db[key]
	if !ok || c.now().After(entry.expires) {
		return nil, false
	}
	return entry.object, true
}

func (c *CachedStore) put(key string, object *Object) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, ok := c.db[key]; !ok {
		for len(c.db) >= c.maxEntries {
			delete(c.db, c.oldest())
		}
	}
	c.db[key] = cacheEntry{expires: c.now().Add(c.ttl), object: object}
}

// oldest returns the key of the entry with the earliest expiration time.
// The caller must hold the write lock.
func (c *CachedStore) oldest() string {
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range c.db {
		if oldestKey == "" || entry.expires.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.expires
		}
	}
	return oldestKey
}
