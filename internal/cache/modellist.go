package cache

import (
	"sync"
	"time"

	"antigravity-gateway/internal/pressure"
)

// ModelInfo is one entry in the model catalog.
type ModelInfo struct {
	ID                string
	RemainingFraction float64
	ResetTime         time.Time
}

// ModelListCache is the singleton {list, fetchedAt} cache of §3, with a TTL
// that shrinks under pressure: capped at 15min under HIGH, 5min under
// CRITICAL, regardless of the configured default.
type ModelListCache struct {
	defaultTTL time.Duration

	mu        sync.RWMutex
	list      []ModelInfo
	fetchedAt time.Time
	ttlCap    time.Duration // 0 means "use defaultTTL uncapped"
}

func NewModelListCache(src *pressure.Source, defaultTTL time.Duration) *ModelListCache {
	c := &ModelListCache{defaultTTL: defaultTTL}
	src.Subscribe(pressure.SubscriberFunc(func(level pressure.Level) {
		c.mu.Lock()
		defer c.mu.Unlock()
		switch level {
		case pressure.High:
			c.ttlCap = 15 * time.Minute
		case pressure.Critical:
			c.ttlCap = 5 * time.Minute
		default:
			c.ttlCap = 0
		}
	}))
	return c
}

func (c *ModelListCache) effectiveTTL() time.Duration {
	ttl := c.defaultTTL
	if c.ttlCap > 0 && c.ttlCap < ttl {
		ttl = c.ttlCap
	}
	return ttl
}

// Get returns the cached list if still fresh.
func (c *ModelListCache) Get() ([]ModelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fetchedAt.IsZero() {
		return nil, false
	}
	if time.Since(c.fetchedAt) > c.effectiveTTL() {
		return nil, false
	}
	return c.list, true
}

// Set replaces the cached list and resets fetchedAt to now.
func (c *ModelListCache) Set(list []ModelInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list = list
	c.fetchedAt = time.Now()
}

// Invalidate forces the next Get to miss. The "quotas" call does not use
// it: Catalog.Quotas skips Get and overwrites the list with Set.
func (c *ModelListCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchedAt = time.Time{}
}
