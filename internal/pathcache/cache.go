// Package pathcache stores computed paths for a bounded time.
package pathcache

import (
	"math"
	"sort"
	"time"

	"citynav/internal/geom"
)

const (
	DefaultTTL        = 30 * time.Second
	DefaultMaxEntries = 1000
	DefaultEvictBatch = 100
)

// Key identifies a request by its endpoints rounded to whole units.
type Key struct {
	StartX int `json:"startX"`
	StartY int `json:"startY"`
	EndX   int `json:"endX"`
	EndY   int `json:"endY"`
}

// KeyFor rounds both endpoints to the nearest integer.
func KeyFor(start, end geom.Point) Key {
	return Key{
		StartX: roundCoord(start.X),
		StartY: roundCoord(start.Y),
		EndX:   roundCoord(end.X),
		EndY:   roundCoord(end.Y),
	}
}

func roundCoord(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int(v)
}

type entry struct {
	path       []geom.Point
	computedAt time.Time
}

// Config bounds the cache.
type Config struct {
	TTL time.Duration
	// MaxEntries triggers eviction of EvictBatch oldest entries once exceeded.
	// Zero disables the cap.
	MaxEntries int
	EvictBatch int
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Expired   uint64 `json:"expired"`
	Evictions uint64 `json:"evictions"`
}

// Cache is a TTL map of paths. It is not safe for concurrent use.
type Cache struct {
	cfg     Config
	entries map[Key]entry
	stats   Stats
}

// New constructs a cache. A non-positive TTL uses DefaultTTL.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries < 0 {
		cfg.MaxEntries = 0
	}
	if cfg.EvictBatch <= 0 {
		cfg.EvictBatch = DefaultEvictBatch
	}
	return &Cache{cfg: cfg, entries: make(map[Key]entry)}
}

// TTL reports the entry lifetime.
func (c *Cache) TTL() time.Duration { return c.cfg.TTL }

func (c *Cache) fresh(e entry, now time.Time) bool {
	return now.Sub(e.computedAt) < c.cfg.TTL
}

// Get returns a copy of the cached path for key if it is younger than the TTL.
// Stale entries are dropped on access.
func (c *Cache) Get(key Key, now time.Time) ([]geom.Point, bool) {
	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if !c.fresh(e, now) {
		delete(c.entries, key)
		c.stats.Expired++
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return geom.ClonePath(e.path), true
}

// Put stores path under key, overwriting any previous entry, and evicts the
// oldest entries when the cache grows past its cap.
func (c *Cache) Put(key Key, path []geom.Point, now time.Time) {
	c.entries[key] = entry{path: geom.ClonePath(path), computedAt: now}
	if c.cfg.MaxEntries > 0 && len(c.entries) > c.cfg.MaxEntries {
		c.evictOldest(c.cfg.EvictBatch)
	}
}

func (c *Cache) evictOldest(n int) {
	keys := make([]Key, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]], c.entries[keys[j]]
		if !a.computedAt.Equal(b.computedAt) {
			return a.computedAt.Before(b.computedAt)
		}
		return lessKey(keys[i], keys[j])
	})
	n = min(n, len(keys))
	for _, k := range keys[:n] {
		delete(c.entries, k)
	}
	c.stats.Evictions += uint64(n)
}

func lessKey(a, b Key) bool {
	switch {
	case a.StartX != b.StartX:
		return a.StartX < b.StartX
	case a.StartY != b.StartY:
		return a.StartY < b.StartY
	case a.EndX != b.EndX:
		return a.EndX < b.EndX
	default:
		return a.EndY < b.EndY
	}
}

// Purge removes every entry at least TTL old and reports how many went.
func (c *Cache) Purge(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if !c.fresh(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	c.stats.Expired += uint64(removed)
	return removed
}

// Clear drops every entry and reports how many were held.
func (c *Cache) Clear() int {
	n := len(c.entries)
	clear(c.entries)
	return n
}

// Len reports the number of stored entries, fresh or not.
func (c *Cache) Len() int { return len(c.entries) }

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	s := c.stats
	s.Entries = len(c.entries)
	return s
}
