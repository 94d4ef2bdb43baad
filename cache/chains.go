package cache

import (
	"sync"
	"time"

	"voldash/nse"
)

// ChainCache holds the most recent venue-wide raw chain per symbol. Replace is
// atomic per symbol: readers observe either the prior chain or the new one,
// never a partial write. Entries expire after the configured TTL so a stalled
// refresher cannot keep serving an arbitrarily old chain as "cached".
type ChainCache struct {
	mu  sync.RWMutex
	ttl time.Duration

	entries map[string]chainEntry
}

type chainEntry struct {
	chain     *nse.OptionChain
	fetchedAt time.Time
}

func NewChainCache(ttl time.Duration) *ChainCache {
	return &ChainCache{
		ttl:     ttl,
		entries: make(map[string]chainEntry),
	}
}

// Put replaces the cached chain for a symbol, discarding the prior copy.
func (c *ChainCache) Put(symbol string, chain *nse.OptionChain) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[symbol] = chainEntry{chain: chain, fetchedAt: time.Now()}
}

// Get returns the cached chain for a symbol if it has not expired.
func (c *ChainCache) Get(symbol string) (*nse.OptionChain, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[symbol]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(entry.fetchedAt) > c.ttl {
		return nil, false
	}
	return entry.chain, true
}

// FetchedAt reports when the cached chain for a symbol was stored.
func (c *ChainCache) FetchedAt(symbol string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[symbol]
	if !ok {
		return time.Time{}, false
	}
	return entry.fetchedAt, true
}
