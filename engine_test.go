package citynav

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citynav/internal/geom"
	"citynav/internal/planner"
	"citynav/internal/requests"
	"citynav/logging"
	"citynav/logging/navigation"
	"citynav/logging/sinks"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var scenarioBuilding = geom.Rect{X: 400, Y: 400, Width: 240, Height: 240}

func cityWorld(buildings ...geom.Rect) StaticWorld {
	return StaticWorld{Width: 4000, Height: 3000, Buildings: buildings}
}

func newTestEngine(t *testing.T, cfg Config, world WorldSource) (*Engine, *fakeClock, *sinks.MemorySink) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	memory := sinks.NewMemorySink()
	e := NewEngine(cfg, world, WithClock(clock), WithPublisher(memory))
	return e, clock, memory
}

func requireResolved(t *testing.T, f *requests.Future) []geom.Point {
	t.Helper()
	require.True(t, f.IsDone(), "future still pending")
	path, err := f.Result()
	require.NoError(t, err)
	return path
}

func TestRequestBeforeRebuildReturnsStraightLine(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig(), cityWorld(scenarioBuilding))
	start, end := geom.Pt(200, 500), geom.Pt(1200, 500)

	f := e.RequestPath(start, end)
	assert.Equal(t, []geom.Point{start, end}, requireResolved(t, f))
	assert.Equal(t, string(planner.StrategyStraight), f.Strategy())
	assert.True(t, e.IsPointWalkable(geom.Pt(500, 500)), "no grid yet")
	assert.True(t, e.Feasible(start, end))
	assert.Zero(t, e.queue.Len())
}

func TestFirstUpdateBuildsGrid(t *testing.T) {
	e, _, memory := newTestEngine(t, DefaultConfig(), cityWorld(scenarioBuilding))
	require.False(t, e.Ready())

	e.Update(50 * time.Millisecond)
	require.True(t, e.Ready())
	assert.False(t, e.IsPointWalkable(geom.Pt(500, 500)))
	assert.True(t, e.IsPointWalkable(geom.Pt(100, 100)))
	assert.False(t, e.IsPointWalkable(geom.Pt(-1, 100)))

	events := memory.OfType(navigation.EventGridRebuilt)
	require.Len(t, events, 1)
	payload, ok := events[0].Payload.(navigation.GridRebuiltPayload)
	require.True(t, ok)
	assert.Equal(t, 100, payload.Cols)
	assert.Equal(t, 36, payload.BlockedCells)
}

func TestRebuildCadence(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig(), cityWorld())
	for i := 0; i < 10; i++ {
		e.Update(time.Second)
	}
	// First update builds; the next rebuild is due after five more seconds.
	assert.Equal(t, uint64(2), e.Stats().Rebuilds)
}

func TestRebuildPicksUpWorldChanges(t *testing.T) {
	buildings := []geom.Rect{}
	world := WorldSourceFunc(func() World {
		return World{Width: 1000, Height: 1000, Buildings: buildings}
	})
	e, _, _ := newTestEngine(t, DefaultConfig(), world)
	e.Rebuild()
	assert.True(t, e.IsPointWalkable(geom.Pt(500, 500)))

	buildings = append(buildings, geom.Rect{X: 480, Y: 480, Width: 40, Height: 40})
	e.Rebuild()
	assert.False(t, e.IsPointWalkable(geom.Pt(500, 500)))
}

func TestInvalidWorldFallsBackToDefaultGrid(t *testing.T) {
	e, _, memory := newTestEngine(t, DefaultConfig(), StaticWorld{Width: math.NaN(), Height: 600})
	e.Rebuild()

	require.True(t, e.Ready())
	stats := e.Stats().Grid
	assert.True(t, stats.Fallback)
	assert.Equal(t, 40, stats.Cols)
	assert.Equal(t, 30, stats.Rows)

	events := memory.OfType(navigation.EventGridFallback)
	require.Len(t, events, 1)
	assert.Equal(t, logging.SeverityWarn, events[0].Severity)
}

func TestShortTripsResolveSynchronously(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPathsPerFrame = 1
	e, _, _ := newTestEngine(t, cfg, cityWorld(scenarioBuilding))
	e.Rebuild()

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		start := geom.Pt(rng.Float64()*1200, rng.Float64()*1200)
		angle := rng.Float64() * 2 * math.Pi
		dist := rng.Float64() * 199
		end := geom.Pt(start.X+math.Cos(angle)*dist, start.Y+math.Sin(angle)*dist)

		f := e.RequestPath(start, end)
		path := requireResolved(t, f)
		require.Equal(t, start, path[0])
		require.Equal(t, end, path[len(path)-1])
		for _, p := range path[1 : len(path)-1] {
			require.True(t, e.IsPointWalkable(p), "intermediate %v blocked on trip %v -> %v", p, start, end)
		}
	}
	assert.Zero(t, e.queue.Len(), "short trips are never queued")
}

func TestLongTripsQueueUntilUpdate(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig(), cityWorld(scenarioBuilding))
	e.Rebuild()

	start, end := geom.Pt(200, 500), geom.Pt(1200, 500)
	f := e.RequestPath(start, end)
	assert.False(t, f.IsDone())
	_, err := f.Result()
	assert.ErrorIs(t, err, requests.ErrPending)
	assert.Equal(t, 1, e.queue.Len())

	assert.Equal(t, 1, e.Update(50*time.Millisecond))
	path := requireResolved(t, f)
	assert.Equal(t, string(planner.StrategyHierarchical), f.Strategy())
	assert.Equal(t, start, path[0])
	assert.Equal(t, end, path[len(path)-1])

	leaves := false
	for _, p := range path {
		assert.True(t, e.IsPointWalkable(p))
		if p.Y < scenarioBuilding.Y || p.Y > scenarioBuilding.Y+scenarioBuilding.Height {
			leaves = true
		}
	}
	assert.True(t, leaves, "path %v does not detour around the building", path)
}

func TestUpdateResolvesAtMostMaxPathsPerFrame(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig(), cityWorld())
	e.Rebuild()

	futures := make(map[float64]*requests.Future)
	distances := []float64{1400, 300, 900, 1100, 500, 1300, 400, 700, 1200, 600, 800, 1000}
	for _, d := range distances {
		futures[d] = e.RequestPath(geom.Pt(100, 100), geom.Pt(100+d, 100))
	}
	require.Equal(t, 12, e.queue.Len())

	assert.Equal(t, 5, e.Update(50*time.Millisecond))
	for _, d := range []float64{300, 400, 500, 600, 700} {
		assert.True(t, futures[d].IsDone(), "distance %v should be resolved first", d)
	}

	pending := e.queue.Pending()
	require.Len(t, pending, 7)
	for i := 1; i < len(pending); i++ {
		assert.Greater(t, pending[i-1].Priority, pending[i].Priority)
	}
	for _, r := range pending {
		assert.False(t, r.Future.IsDone())
	}
}

func TestCacheServesUntilTTL(t *testing.T) {
	e, clock, _ := newTestEngine(t, DefaultConfig(), cityWorld())
	e.Rebuild()
	start, end := geom.Pt(100, 100), geom.Pt(900, 100)

	first := e.RequestPath(start, end)
	e.Update(50 * time.Millisecond)
	want := requireResolved(t, first)

	clock.Advance(time.Second)
	hit := e.RequestPath(geom.Pt(100.3, 99.8), end)
	assert.Equal(t, want, requireResolved(t, hit))
	assert.Equal(t, StrategyCached, hit.Strategy())

	clock.Advance(30 * time.Second)
	refreshed := e.RequestPath(start, end)
	assert.False(t, refreshed.IsDone(), "entries older than the TTL are recomputed")
	e.Update(50 * time.Millisecond)
	requireResolved(t, refreshed)

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.Cache.Hits)
	assert.Equal(t, uint64(2), stats.Resolved)
}

func TestCleanupPurgesExpiredEntries(t *testing.T) {
	e, clock, _ := newTestEngine(t, DefaultConfig(), cityWorld())
	e.Rebuild()
	e.RequestPath(geom.Pt(100, 100), geom.Pt(150, 100))
	require.Equal(t, 1, e.cache.Len())

	clock.Advance(31 * time.Second)
	e.Update(time.Second)
	assert.Zero(t, e.cache.Len())
}

func TestCancelWithdrawsQueuedRequest(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig(), cityWorld())
	e.Rebuild()

	f := e.RequestPath(geom.Pt(100, 100), geom.Pt(1500, 100))
	require.True(t, e.Cancel(f.ID()))
	assert.False(t, e.Cancel(f.ID()))
	_, err := f.Result()
	assert.ErrorIs(t, err, requests.ErrCanceled)
	assert.Zero(t, e.Update(50*time.Millisecond))
	assert.Equal(t, uint64(1), e.Stats().Canceled)
}

func TestBacklogWarningFiresOncePerEpisode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPathsPerFrame = 1
	cfg.BacklogWarnThreshold = 2
	e, _, memory := newTestEngine(t, cfg, cityWorld())
	e.Rebuild()

	for i := 0; i < 5; i++ {
		e.RequestPath(geom.Pt(100, 100), geom.Pt(600+float64(i)*100, 100))
	}
	e.Update(50 * time.Millisecond) // 4 pending
	e.Update(50 * time.Millisecond) // 3 pending
	require.Len(t, memory.OfType(navigation.EventQueueBacklog), 1)

	e.Update(50 * time.Millisecond) // 2 pending, episode over
	for i := 0; i < 3; i++ {
		e.RequestPath(geom.Pt(100, 200), geom.Pt(600+float64(i)*100, 200))
	}
	e.Update(50 * time.Millisecond)
	events := memory.OfType(navigation.EventQueueBacklog)
	require.Len(t, events, 2)
	payload := events[1].Payload.(navigation.QueueBacklogPayload)
	assert.Equal(t, 4, payload.Pending)
	assert.Equal(t, 2, payload.Threshold)
}

func TestClearCache(t *testing.T) {
	e, _, memory := newTestEngine(t, DefaultConfig(), cityWorld())
	e.Rebuild()
	e.RequestPath(geom.Pt(100, 100), geom.Pt(150, 100))
	e.RequestPath(geom.Pt(300, 100), geom.Pt(350, 100))

	assert.Equal(t, 2, e.ClearCache())
	assert.Zero(t, e.Stats().Cache.Entries)
	assert.Len(t, memory.OfType(navigation.EventCacheCleared), 1)
}

func TestFeasibleUsesCoarseGrid(t *testing.T) {
	wall := geom.Rect{X: 480, Y: 0, Width: 80, Height: 1000}
	e, _, _ := newTestEngine(t, DefaultConfig(), StaticWorld{Width: 1000, Height: 1000, Buildings: []geom.Rect{wall}})
	e.Rebuild()
	assert.False(t, e.Feasible(geom.Pt(100, 500), geom.Pt(900, 500)))
	assert.True(t, e.Feasible(geom.Pt(100, 500), geom.Pt(300, 900)))
}
