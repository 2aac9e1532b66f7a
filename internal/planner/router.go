package planner

import (
	"citynav/internal/astar"
	"citynav/internal/geom"
	"citynav/internal/grid"
	"citynav/internal/zones"
)

// Strategy names the way a route was produced.
type Strategy string

const (
	// StrategyStraight is returned before the grid exists.
	StrategyStraight Strategy = "straight"
	// StrategyDetailed is a fine-grid search inside a single zone.
	StrategyDetailed Strategy = "detailed"
	// StrategyHierarchical is a zone route refined on the fine grid.
	StrategyHierarchical Strategy = "hierarchical"
	// StrategyDirect is the stepping walker.
	StrategyDirect Strategy = "direct"
)

// Result is a routed path and how it was obtained.
type Result struct {
	Path     []geom.Point
	Strategy Strategy
	// Zones is the length of the zone route for hierarchical results.
	Zones int
	// Fallbacks counts searches that failed and were replaced by the walker.
	Fallbacks int
}

// Config tunes the router.
type Config struct {
	StepSize      float64
	SampleSpacing float64
	// MaxExpansions caps every individual A* search. Zero means unbounded.
	MaxExpansions int
}

// Router plans paths against the current grid and zone index.
type Router struct {
	cfg      Config
	grid     *grid.Grid
	zones    *zones.Index
	smoother Smoother
}

// NewRouter returns a router with no grid. Until Reset is called every route
// is the straight line between the endpoints.
func NewRouter(cfg Config) *Router {
	if !(cfg.StepSize > 0) {
		cfg.StepSize = DefaultStepSize
	}
	if !(cfg.SampleSpacing > 0) {
		cfg.SampleSpacing = DefaultSampleSpacing
	}
	return &Router{cfg: cfg, smoother: Smoother{SampleSpacing: cfg.SampleSpacing}}
}

// Reset points the router at a freshly built grid and zone index.
func (r *Router) Reset(g *grid.Grid, ix *zones.Index) {
	r.grid = g
	r.zones = ix
	r.smoother.Grid = g
}

// Ready reports whether a grid is available.
func (r *Router) Ready() bool {
	return r.grid != nil && r.zones != nil && r.zones.Ready()
}

// Smooth runs the router's smoother over path.
func (r *Router) Smooth(path []geom.Point) []geom.Point {
	return r.smoother.Smooth(path)
}

// Direct runs the stepping walker between start and end.
func (r *Router) Direct(start, end geom.Point) []geom.Point {
	return DirectPath(r.grid, start, end, r.cfg.StepSize)
}

func (r *Router) searchOptions() []astar.Option {
	if r.cfg.MaxExpansions <= 0 {
		return nil
	}
	return []astar.Option{astar.WithMaxExpansions(r.cfg.MaxExpansions)}
}

// Route plans a path from start to end.
func (r *Router) Route(start, end geom.Point) Result {
	if !r.Ready() {
		return Result{Path: []geom.Point{start, end}, Strategy: StrategyStraight}
	}

	opts := r.searchOptions()
	from, to := r.zones.ZoneOf(start), r.zones.ZoneOf(end)
	if from == to {
		path, ok := r.grid.FindPath(start, end, opts...)
		if !ok {
			return Result{Path: r.Direct(start, end), Strategy: StrategyDirect, Fallbacks: 1}
		}
		return Result{Path: r.smoother.Smooth(path), Strategy: StrategyDetailed}
	}

	route, ok := r.zones.Route(from, to, opts...)
	if !ok {
		return Result{Path: r.Direct(start, end), Strategy: StrategyDirect, Fallbacks: 1}
	}
	coarse := r.coarsePath(route, start, end)

	refined := []geom.Point{start}
	fallbacks := 0
	for i := 1; i < len(coarse); i++ {
		segment, ok := r.grid.FindPath(coarse[i-1], coarse[i], opts...)
		if !ok {
			segment = r.Direct(coarse[i-1], coarse[i])
			fallbacks++
		}
		refined = append(refined, segment[1:]...)
	}
	return Result{
		Path:      r.smoother.Smooth(refined),
		Strategy:  StrategyHierarchical,
		Zones:     len(route),
		Fallbacks: fallbacks,
	}
}

// coarsePath picks one shared waypoint per zone transition, minimizing the
// detour from the previous point toward the zone after next (or end on the
// final transition).
func (r *Router) coarsePath(route []zones.ZoneID, start, end geom.Point) []geom.Point {
	path := make([]geom.Point, 0, len(route)+1)
	path = append(path, start)
	prev := start
	for i := 0; i+1 < len(route); i++ {
		lookahead := end
		if i+2 < len(route) {
			if z, ok := r.zones.Zone(route[i+2]); ok {
				lookahead = z.Centroid()
			}
		}
		candidates := r.zones.WaypointsBetween(route[i], route[i+1])
		if len(candidates) == 0 {
			continue
		}
		best := candidates[0]
		bestCost := geom.Distance(prev, best) + geom.Distance(best, lookahead)
		for _, w := range candidates[1:] {
			cost := geom.Distance(prev, w) + geom.Distance(w, lookahead)
			if cost < bestCost {
				best, bestCost = w, cost
			}
		}
		path = append(path, best)
		prev = best
	}
	return append(path, end)
}
