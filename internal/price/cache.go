package price

import (
	"fmt"
	"sync"
	"time"

	"github.com/openfund/accounting/internal/domain"
)

const cacheTTL = 30 * time.Second

type cacheEntry struct {
	price     Price
	expiresAt time.Time
}

type priceCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func newPriceCache() *priceCache {
	return &priceCache{
		entries: make(map[string]cacheEntry),
	}
}

// cacheKey formats: "{asset.Canonical()}@{unix minute}" e.g. "crypto:42@28401234"
func cacheKey(asset domain.AssetRef, at time.Time) string {
	return fmt.Sprintf("%s@%d", asset.Canonical(), at.Unix()/60)
}

func (c *priceCache) get(key string) (Price, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return Price{}, false
	}
	return entry.price, true
}

func (c *priceCache) set(key string, price Price) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		price:     price,
		expiresAt: time.Now().Add(cacheTTL),
	}
}
