package scanner

import (
	"sync"
	"time"

	"swing-trading-bot/internal/sizing"
)

// cachedScore stores a scored symbol with its expiry.
type cachedScore struct {
	opp       sizing.Opportunity
	expiresAt time.Time
}

// Cache holds scored opportunities with a TTL so intraday rescans don't
// re-fetch history for every symbol.
type Cache struct {
	entries map[string]cachedScore
	ttl     time.Duration
	mu      sync.RWMutex
}

// NewCache creates a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cachedScore),
		ttl:     ttl,
	}
}

// Get returns a live cached score, or false.
func (c *Cache) Get(symbol string) (sizing.Opportunity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[symbol]
	if !ok || time.Now().After(entry.expiresAt) {
		return sizing.Opportunity{}, false
	}
	return entry.opp, true
}

// Set stores a score.
func (c *Cache) Set(symbol string, opp sizing.Opportunity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[symbol] = cachedScore{opp: opp, expiresAt: time.Now().Add(c.ttl)}
}

// Clear drops everything. Used when the regime flips.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cachedScore)
}
