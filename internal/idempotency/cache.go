package idempotency

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultLocalCacheMaxItems is the default LRU capacity.
const DefaultLocalCacheMaxItems = 256

// LocalCache is a process-local LRU of terminal records keyed by idempotency key.
// INPROGRESS records are never cached: completion may happen in another process.
type LocalCache struct {
	lru *lru.Cache[string, *Record]
}

// NewLocalCache builds a cache holding at most capacity records.
func NewLocalCache(capacity int) (*LocalCache, error) {
	c, err := lru.New[string, *Record](capacity)
	if err != nil {
		return nil, fmt.Errorf("new lru: %w", err)
	}
	return &LocalCache{lru: c}, nil
}

// Get returns a copy of the cached record, evicting it if it has expired.
func (c *LocalCache) Get(key string, now time.Time) (*Record, bool) {
	if c == nil {
		return nil, false
	}
	rec, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if rec.IsExpired(now) {
		c.lru.Remove(key)
		return nil, false
	}
	return rec.Clone(), true
}

// Put stores rec unless it is INPROGRESS.
func (c *LocalCache) Put(rec *Record) {
	if c == nil || rec == nil || rec.Status == StatusInProgress {
		return
	}
	c.lru.Add(rec.Key, rec.Clone())
}

// Remove drops key.
func (c *LocalCache) Remove(key string) {
	if c == nil {
		return
	}
	c.lru.Remove(key)
}

// Len returns the number of cached records.
func (c *LocalCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
