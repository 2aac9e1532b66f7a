package pathcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citynav/internal/geom"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestKeyForRoundsCoordinates(t *testing.T) {
	assert.Equal(t, Key{StartX: 10, StartY: 11, EndX: -3, EndY: 200}, KeyFor(geom.Pt(10.4, 10.5), geom.Pt(-2.6, 199.9)))
	assert.Equal(t, KeyFor(geom.Pt(1.2, 1.2), geom.Pt(5, 5)), KeyFor(geom.Pt(0.9, 1.4), geom.Pt(5.3, 4.8)))
}

func TestGetRespectsTTL(t *testing.T) {
	c := New(Config{TTL: 30 * time.Second})
	key := KeyFor(geom.Pt(0, 0), geom.Pt(500, 500))
	path := []geom.Point{geom.Pt(0, 0), geom.Pt(500, 500)}
	c.Put(key, path, epoch)

	got, ok := c.Get(key, epoch.Add(29*time.Second))
	require.True(t, ok)
	assert.Equal(t, path, got)

	got[0] = geom.Pt(99, 99)
	again, _ := c.Get(key, epoch.Add(time.Second))
	assert.Equal(t, geom.Pt(0, 0), again[0], "callers receive copies")

	_, ok = c.Get(key, epoch.Add(30*time.Second))
	assert.False(t, ok, "entries expire at exactly the TTL")
	assert.Zero(t, c.Len(), "stale entry dropped on access")

	s := c.Stats()
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, uint64(1), s.Expired)
}

func TestPutOverwritesAndRefreshes(t *testing.T) {
	c := New(Config{})
	key := Key{EndX: 1}
	c.Put(key, []geom.Point{geom.Pt(0, 0), geom.Pt(1, 0)}, epoch)
	c.Put(key, []geom.Point{geom.Pt(0, 0), geom.Pt(0.5, 0.5), geom.Pt(1, 0)}, epoch.Add(20*time.Second))

	got, ok := c.Get(key, epoch.Add(45*time.Second))
	require.True(t, ok)
	assert.Len(t, got, 3)
	assert.Equal(t, 1, c.Len())
}

func TestPurgeRemovesExpired(t *testing.T) {
	c := New(Config{TTL: 10 * time.Second})
	c.Put(Key{StartX: 1}, []geom.Point{{}, {}}, epoch)
	c.Put(Key{StartX: 2}, []geom.Point{{}, {}}, epoch.Add(5*time.Second))

	assert.Equal(t, 1, c.Purge(epoch.Add(12*time.Second)))
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get(Key{StartX: 2}, epoch.Add(12*time.Second))
	assert.True(t, ok)
}

func TestCapacityEvictsOldestBatch(t *testing.T) {
	c := New(Config{MaxEntries: 10, EvictBatch: 3})
	for i := 0; i < 11; i++ {
		c.Put(Key{StartX: i}, []geom.Point{{}, {}}, epoch.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, 8, c.Len())
	for i := 0; i < 3; i++ {
		_, ok := c.Get(Key{StartX: i}, epoch.Add(11*time.Second))
		assert.False(t, ok, "entry %d should be evicted", i)
	}
	_, ok := c.Get(Key{StartX: 3}, epoch.Add(11*time.Second))
	assert.True(t, ok)
	assert.Equal(t, uint64(3), c.Stats().Evictions)
}

func TestClear(t *testing.T) {
	c := New(Config{})
	c.Put(Key{}, []geom.Point{{}, {}}, epoch)
	c.Put(Key{EndY: 4}, []geom.Point{{}, {}}, epoch)
	assert.Equal(t, 2, c.Clear())
	assert.Zero(t, c.Len())
}
