// README: TTL cache for distance lookups.
package maps

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wheels/internal/types"
)

// Cache memoizes single-pair lookups in front of another provider.
// Coordinates are bucketed to ~11 m so nearby lookups share entries.
type Cache struct {
	next Provider
	ttl  time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	leg     Leg
	expires time.Time
}

func NewCache(next Provider, ttl time.Duration) *Cache {
	return &Cache{next: next, ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *Cache) Distance(ctx context.Context, origin, destination types.Point) (Leg, error) {
	key := pairKey(origin, destination)
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expires) {
		return e.leg, nil
	}

	leg, err := c.next.Distance(ctx, origin, destination)
	if err != nil {
		return Leg{}, err
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{leg: leg, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return leg, nil
}

// Matrix is not cached; the sequencer calls it once per trip start.
func (c *Cache) Matrix(ctx context.Context, origins, destinations []types.Point) ([][]Leg, error) {
	return c.next.Matrix(ctx, origins, destinations)
}

func pairKey(a, b types.Point) string {
	return fmt.Sprintf("%.4f,%.4f|%.4f,%.4f", a.Lat, a.Lng, b.Lat, b.Lng)
}
