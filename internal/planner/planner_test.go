package planner

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citynav/internal/geom"
	"citynav/internal/grid"
	"citynav/internal/zones"
)

func newRouter(t *testing.T, width, height float64, buildings ...geom.Rect) *Router {
	t.Helper()
	g := grid.Build(width, height, buildings, nil, 40)
	ix := zones.NewIndex(zones.Config{})
	ix.Rebuild(g)
	r := NewRouter(Config{})
	r.Reset(g, ix)
	require.True(t, r.Ready())
	return r
}

func requireEndpoints(t *testing.T, path []geom.Point, start, end geom.Point) {
	t.Helper()
	require.GreaterOrEqual(t, len(path), 2)
	assert.Equal(t, start, path[0])
	assert.Equal(t, end, path[len(path)-1])
}

func TestRouteBeforeGridIsStraight(t *testing.T) {
	r := NewRouter(Config{})
	start, end := geom.Pt(1, 2), geom.Pt(3000, 2000)
	result := r.Route(start, end)
	assert.Equal(t, StrategyStraight, result.Strategy)
	assert.Equal(t, []geom.Point{start, end}, result.Path)
}

func TestRouteSameZoneUsesDetailedSearch(t *testing.T) {
	r := newRouter(t, 4000, 3000)
	start, end := geom.Pt(10, 10), geom.Pt(150, 150)

	result := r.Route(start, end)
	assert.Equal(t, StrategyDetailed, result.Strategy)
	assert.Zero(t, result.Zones)

	detailed, ok := r.grid.FindPath(start, end)
	require.True(t, ok)
	if diff := cmp.Diff(r.Smooth(detailed), result.Path); diff != "" {
		t.Fatalf("unexpected path (-want +got):\n%s", diff)
	}
	assert.Equal(t, []geom.Point{start, end}, result.Path)
}

func TestRouteDetoursAroundBuilding(t *testing.T) {
	building := geom.Rect{X: 400, Y: 400, Width: 240, Height: 240}
	r := newRouter(t, 4000, 3000, building)
	start, end := geom.Pt(200, 500), geom.Pt(1200, 500)

	result := r.Route(start, end)
	assert.Equal(t, StrategyHierarchical, result.Strategy)
	assert.Greater(t, result.Zones, 2)
	requireEndpoints(t, result.Path, start, end)

	detoured := false
	for _, p := range result.Path {
		assert.True(t, r.grid.PassableAt(p), "waypoint %v is blocked", p)
		if p.Y < building.Y || p.Y > building.Y+building.Height {
			detoured = true
		}
	}
	assert.True(t, detoured, "path %v never leaves the building's rows", result.Path)
	assert.Greater(t, geom.PathLength(result.Path), geom.Distance(start, end))

	core := geom.Rect{X: building.X + 25, Y: building.Y + 25, Width: building.Width - 50, Height: building.Height - 50}
	for i := 1; i < len(result.Path); i++ {
		a, b := result.Path[i-1], result.Path[i]
		steps := int(math.Ceil(geom.Distance(a, b) / 5))
		for s := 0; s <= steps; s++ {
			p := geom.Lerp(a, b, float64(s)/float64(max(steps, 1)))
			inside := p.X > core.X && p.X < core.X+core.Width && p.Y > core.Y && p.Y < core.Y+core.Height
			require.False(t, inside, "segment %v-%v crosses the building at %v", a, b, p)
		}
	}
}

func TestRouteEmptyGridSmoothsToStraightLine(t *testing.T) {
	r := newRouter(t, 4000, 3000)
	start, end := geom.Pt(100, 100), geom.Pt(3900, 2900)
	result := r.Route(start, end)
	assert.Equal(t, StrategyHierarchical, result.Strategy)
	assert.Equal(t, []geom.Point{start, end}, result.Path)
	assert.Zero(t, result.Fallbacks)
}

func TestRouteFallsBackWhenZonesDisconnected(t *testing.T) {
	wall := geom.Rect{X: 390, Y: 0, Width: 20, Height: 1000}
	r := newRouter(t, 1000, 1000, wall)
	start, end := geom.Pt(100, 500), geom.Pt(900, 500)

	result := r.Route(start, end)
	assert.Equal(t, StrategyDirect, result.Strategy)
	assert.Equal(t, 1, result.Fallbacks)
	requireEndpoints(t, result.Path, start, end)
}

func TestSmoothCollapsesDensePath(t *testing.T) {
	s := Smoother{Grid: grid.Build(1000, 1000, nil, nil, 40)}
	dense := make([]geom.Point, 0, 21)
	for i := 0; i <= 20; i++ {
		dense = append(dense, geom.Pt(float64(i)*40+20, 20))
	}
	assert.Equal(t, []geom.Point{dense[0], dense[20]}, s.Smooth(dense))

	short := []geom.Point{geom.Pt(1, 1), geom.Pt(2, 2)}
	assert.Equal(t, short, s.Smooth(short))
	assert.Nil(t, s.Smooth(nil))
}

func TestSmoothKeepsCornerAroundObstacle(t *testing.T) {
	g := grid.Build(1000, 1000, []geom.Rect{{X: 200, Y: 0, Width: 80, Height: 400}}, nil, 40)
	s := Smoother{Grid: g}
	path := []geom.Point{geom.Pt(100, 100), geom.Pt(100, 460), geom.Pt(240, 460), geom.Pt(400, 460), geom.Pt(400, 100)}
	smoothed := s.Smooth(path)
	assert.Less(t, len(smoothed), len(path))
	assert.Greater(t, len(smoothed), 2)
	assert.Equal(t, path[0], smoothed[0])
	assert.Equal(t, path[len(path)-1], smoothed[len(smoothed)-1])
}

func TestSmoothIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var buildings []geom.Rect
	for i := 0; i < 12; i++ {
		buildings = append(buildings, geom.Rect{
			X: float64(rng.Intn(900)), Y: float64(rng.Intn(900)),
			Width: float64(40 + rng.Intn(120)), Height: float64(40 + rng.Intn(120)),
		})
	}
	s := Smoother{Grid: grid.Build(1000, 1000, buildings, nil, 40)}
	for trial := 0; trial < 50; trial++ {
		path := make([]geom.Point, 2+rng.Intn(12))
		for i := range path {
			path[i] = geom.Pt(rng.Float64()*1000, rng.Float64()*1000)
		}
		once := s.Smooth(path)
		require.LessOrEqual(t, len(once), len(path))
		if diff := cmp.Diff(once, s.Smooth(once)); diff != "" {
			t.Fatalf("trial %d: smoothing not idempotent (-once +twice):\n%s", trial, diff)
		}
	}
}

func TestDirectPathOpenGround(t *testing.T) {
	g := grid.Build(1000, 1000, nil, nil, 40)
	path := DirectPath(g, geom.Pt(0, 20), geom.Pt(100, 20), 40)
	assert.Equal(t, []geom.Point{geom.Pt(0, 20), geom.Pt(40, 20), geom.Pt(80, 20), geom.Pt(100, 20)}, path)

	assert.Equal(t, []geom.Point{geom.Pt(0, 0), geom.Pt(10, 10)}, DirectPath(nil, geom.Pt(0, 0), geom.Pt(10, 10), 40))
}

func TestDirectPathSidestepsObstacle(t *testing.T) {
	g := grid.Build(1000, 1000, []geom.Rect{{X: 400, Y: 200, Width: 40, Height: 200}}, nil, 40)
	start, end := geom.Pt(200, 300), geom.Pt(700, 300)
	path := DirectPath(g, start, end, 40)
	requireEndpoints(t, path, start, end)
	limit := 4*int(math.Ceil(geom.Distance(start, end)/40)) + 8
	assert.LessOrEqual(t, len(path), limit+2)
	for _, p := range path[1 : len(path)-1] {
		assert.True(t, g.PassableAt(p), "walker stepped onto blocked point %v", p)
	}
}

func TestDirectPathStopsWhenBoxedIn(t *testing.T) {
	g := grid.Build(400, 400, []geom.Rect{{X: 0, Y: 0, Width: 400, Height: 400}}, nil, 40)
	start, end := geom.Pt(20, 20), geom.Pt(380, 380)
	assert.Equal(t, []geom.Point{start, end}, DirectPath(g, start, end, 40))
}
