// Package cache provides the cache implementations behind domain.Cache:
// an in-memory LRU for the Community tier, Redis for the Pro tier, and a
// two-phase combination of both.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LRUCache is an in-memory cache with least-recently-used eviction and
// per-entry TTLs. It serves customer profiles on the Community tier and
// acts as the L1 layer of TwoPhaseCache on the Pro tier.
type LRUCache struct {
	mu       sync.RWMutex
	capacity int
	index    map[string]*list.Element
	lru      *list.List
	counters map[string]*windowCounter
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// windowCounter is a counter that resets when its window elapses.
type windowCounter struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates a cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LRUCache{
		capacity: capacity,
		index:    make(map[string]*list.Element),
		lru:      list.New(),
		counters: make(map[string]*windowCounter),
	}
}

// Get returns the cached value for the tenant's key, or nil on a miss.
// Expired entries are evicted on access.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[cacheKey(tenantID, key)]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		c.evict(elem)
		return nil, nil
	}

	c.lru.MoveToFront(elem)
	return entry.value, nil
}

// Set stores value under the tenant's key for ttl, evicting the oldest
// entries when the cache is over capacity.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	full := cacheKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[full]; ok {
		c.lru.MoveToFront(elem)
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		return nil
	}

	c.index[full] = c.lru.PushFront(&lruEntry{
		key:       full,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})

	for c.lru.Len() > c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.evict(oldest)
		}
	}
	return nil
}

// Delete drops the tenant's key if present.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[cacheKey(tenantID, key)]; ok {
		c.evict(elem)
	}
	return nil
}

// GetProfile returns the cached profile for a customer, or nil on a miss.
func (c *LRUCache) GetProfile(ctx context.Context, tenantID string, customerID string) (*domain.CustomerProfile, error) {
	data, err := c.Get(ctx, tenantID, "profile:"+customerID)
	if err != nil || data == nil {
		return nil, err
	}

	var profile domain.CustomerProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// SetProfile caches a customer profile for ttl.
func (c *LRUCache) SetProfile(ctx context.Context, tenantID string, customerID string, profile *domain.CustomerProfile, ttl time.Duration) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, "profile:"+customerID, data, ttl)
}

// IncrementCounter bumps a windowed counter and returns the new count.
// The count restarts at 1 when the window has elapsed.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}
	full := cacheKey(tenantID, "counter:"+key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	ctr, ok := c.counters[full]
	if !ok || now.After(ctr.expiresAt) {
		c.counters[full] = &windowCounter{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}

	ctr.count++
	return ctr.count, nil
}

// Ping always succeeds; the in-memory cache has no backing service.
func (c *LRUCache) Ping(ctx context.Context) error { return nil }

// Close discards all entries and counters.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]*list.Element)
	c.lru = list.New()
	c.counters = make(map[string]*windowCounter)
	return nil
}

// Stats reports the current entry count and the configured capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len(), c.capacity
}

func cacheKey(tenantID, key string) string {
	return tenantID + ":" + key
}

// evict removes an element from both the list and the index. Callers hold
// the write lock.
func (c *LRUCache) evict(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.index, elem.Value.(*lruEntry).key)
}
