package cache

import (
	"context"
	"sync"
	"time"

	"mediaserve/pkg/types"
)

// minCleanupInterval bounds how often expired scans are swept
const minCleanupInterval = time.Second

type scanEntry struct {
	files    []types.MediaFile
	cachedAt time.Time
}

// ScanCache keeps recent recursive media scans keyed by directory path
type ScanCache struct {
	cache   map[string]*scanEntry
	mutex   sync.RWMutex
	ttl     time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	maxSize int
}

// New creates a new scan cache with the specified TTL and max size
func New(ttl time.Duration, maxSize int) *ScanCache {
	ctx, cancel := context.WithCancel(context.Background())
	cache := &ScanCache{
		cache:   make(map[string]*scanEntry),
		ttl:     ttl,
		ctx:     ctx,
		cancel:  cancel,
		maxSize: maxSize,
	}

	go cache.cleanup()

	return cache
}

// Close gracefully stops the cache cleanup goroutine
func (c *ScanCache) Close() {
	c.cancel()
}

// Get returns the cached scan for dir, if present and fresh
func (c *ScanCache) Get(dir string) ([]types.MediaFile, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.cache[dir]
	if !exists {
		return nil, false
	}

	if time.Since(entry.cachedAt) > c.ttl {
		return nil, false
	}

	return entry.files, true
}

// Set stores the scan result for dir
func (c *ScanCache) Set(dir string, files []types.MediaFile) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.cache[dir]; !exists && len(c.cache) >= c.maxSize {
		c.evictOldest()
	}

	c.cache[dir] = &scanEntry{
		files:    files,
		cachedAt: time.Now(),
	}
}

// evictOldest removes the oldest item from the cache
func (c *ScanCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.cache {
		if oldestKey == "" || entry.cachedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.cachedAt
		}
	}

	if oldestKey != "" {
		delete(c.cache, oldestKey)
	}
}

// cleanup periodically removes expired items from the cache
func (c *ScanCache) cleanup() {
	ticker := time.NewTicker(cleanupInterval(c.ttl))
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if interval := ttl / 2; interval > minCleanupInterval {
		return interval
	}
	return minCleanupInterval
}

func (c *ScanCache) removeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	for key, entry := range c.cache {
		if now.Sub(entry.cachedAt) > c.ttl {
			delete(c.cache, key)
		}
	}
}

// Size returns the current size of the cache
func (c *ScanCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.cache)
}

// Clear removes all items from the cache
func (c *ScanCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache = make(map[string]*scanEntry)
}
