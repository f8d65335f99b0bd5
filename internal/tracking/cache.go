package tracking

import (
	"sync"
	"time"

	"github.com/Veraticus/pinflow/internal/model"
)

// cacheEntry represents a cached campaign.
type cacheEntry struct {
	expiry   time.Time
	campaign *model.Campaign
}

// campaignCache provides thread-safe caching of campaign lookups across sessions.
type campaignCache struct {
	entries map[string]cacheEntry
	stopCh  chan struct{}
	ttl     time.Duration
	mu      sync.RWMutex
	once    sync.Once
}

// newCampaignCache creates a new cache with the specified TTL.
func newCampaignCache(ttl time.Duration) *campaignCache {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}

	cache := &campaignCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

// get returns a copy of the cached campaign if present and not expired.
func (c *campaignCache) get(cid string) (*model.Campaign, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[cid]
	if !exists || time.Now().After(entry.expiry) {
		return nil, false
	}

	campaign := *entry.campaign
	return &campaign, true
}

// set stores a copy of the campaign.
func (c *campaignCache) set(cid string, campaign *model.Campaign) {
	if campaign == nil {
		return
	}
	stored := *campaign

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cid] = cacheEntry{
		campaign: &stored,
		expiry:   time.Now().Add(c.ttl),
	}
}

// cleanup periodically removes expired entries.
func (c *campaignCache) cleanup() {
	interval := c.ttl
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.expiry) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// size returns the number of entries in the cache.
func (c *campaignCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *campaignCache) Close() {
	c.once.Do(func() { close(c.stopCh) })
}
