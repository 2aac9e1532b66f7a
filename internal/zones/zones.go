// Package zones partitions the world into fixed-size square zones used for
// long-range routing.
package zones

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r2"

	"citynav/internal/astar"
	"citynav/internal/geom"
	"citynav/internal/grid"
)

const (
	DefaultSize              = 200.0
	DefaultBlockedThreshold  = 0.3
	DefaultUnwalkablePenalty = 4.0
)

// ZoneID addresses a zone in the implicit zone grid.
type ZoneID struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Zone is a square region with cached walkability and boundary waypoints.
type Zone struct {
	ID              ZoneID
	Bounds          r2.Box
	Walkable        bool
	BlockedFraction float64
	Waypoints       []geom.Point
}

// Centroid returns the center of the zone bounds.
func (z Zone) Centroid() geom.Point {
	return geom.Lerp(z.Bounds.Min, z.Bounds.Max, 0.5)
}

// Config tunes the zone decomposition.
type Config struct {
	Size             float64
	BlockedThreshold float64
	// WaypointStride is the spacing of boundary samples. Zero means twice the
	// fine cell size.
	WaypointStride    float64
	UnwalkablePenalty float64
}

func (cfg Config) normalized() Config {
	if !(cfg.Size > 0) || math.IsInf(cfg.Size, 0) {
		cfg.Size = DefaultSize
	}
	if !(cfg.BlockedThreshold > 0) || cfg.BlockedThreshold > 1 {
		cfg.BlockedThreshold = DefaultBlockedThreshold
	}
	if cfg.WaypointStride < 0 || math.IsNaN(cfg.WaypointStride) {
		cfg.WaypointStride = 0
	}
	if !(cfg.UnwalkablePenalty >= 1) {
		cfg.UnwalkablePenalty = DefaultUnwalkablePenalty
	}
	return cfg
}

// Index owns the zone grid. Zones are allocated on the first Rebuild and
// mutated in place afterwards unless the zone grid dimensions change.
type Index struct {
	cfg   Config
	rows  int
	cols  int
	zones []Zone
	grid  *grid.Grid
}

// NewIndex constructs an empty index. Call Rebuild before querying it.
func NewIndex(cfg Config) *Index {
	return &Index{cfg: cfg.normalized()}
}

// Size reports the zone edge length.
func (ix *Index) Size() float64 { return ix.cfg.Size }

// Rows reports the number of zone rows.
func (ix *Index) Rows() int { return ix.rows }

// Cols reports the number of zone columns.
func (ix *Index) Cols() int { return ix.cols }

// Ready reports whether the index has been built.
func (ix *Index) Ready() bool { return ix != nil && ix.grid != nil && len(ix.zones) > 0 }

// Rebuild recomputes walkability and waypoints for every zone from g.
func (ix *Index) Rebuild(g *grid.Grid) {
	if g == nil {
		return
	}
	size := ix.cfg.Size
	rows := int(math.Ceil(g.Height() / size))
	cols := int(math.Ceil(g.Width() / size))
	rows = max(rows, 1)
	cols = max(cols, 1)
	if rows != ix.rows || cols != ix.cols || len(ix.zones) != rows*cols {
		ix.rows, ix.cols = rows, cols
		ix.zones = make([]Zone, rows*cols)
		for row := 0; row < rows; row++ {
			for col := 0; col < cols; col++ {
				ix.zones[row*cols+col] = Zone{
					ID: ZoneID{Row: row, Col: col},
					Bounds: r2.Box{
						Min: geom.Pt(float64(col)*size, float64(row)*size),
						Max: geom.Pt(float64(col+1)*size, float64(row+1)*size),
					},
				}
			}
		}
	}
	ix.grid = g

	cs := g.CellSize()
	stride := ix.cfg.WaypointStride
	if stride == 0 {
		stride = cs * 2
	}
	for i := range ix.zones {
		z := &ix.zones[i]
		minCol := int(math.Floor(z.Bounds.Min.X / cs))
		minRow := int(math.Floor(z.Bounds.Min.Y / cs))
		maxCol := int(math.Ceil(z.Bounds.Max.X / cs))
		maxRow := int(math.Ceil(z.Bounds.Max.Y / cs))
		z.BlockedFraction = g.BlockedFraction(minCol, minRow, maxCol, maxRow)
		z.Walkable = z.BlockedFraction < ix.cfg.BlockedThreshold
		z.Waypoints = ix.edgeWaypoints(g, z.Bounds, cs, stride, nil)
	}
}

func (ix *Index) edgeWaypoints(g *grid.Grid, b r2.Box, start, stride float64, out []geom.Point) []geom.Point {
	size := ix.cfg.Size
	for offset := start; offset < size; offset += stride {
		candidates := [...]geom.Point{
			geom.Pt(b.Min.X+offset, b.Min.Y),
			geom.Pt(b.Min.X+offset, b.Max.Y),
			geom.Pt(b.Min.X, b.Min.Y+offset),
			geom.Pt(b.Max.X, b.Min.Y+offset),
		}
		for _, p := range candidates {
			if g.PassableAt(p) {
				out = append(out, p)
			}
		}
	}
	return out
}

// ZoneOf returns the zone containing p. Points outside the world clamp to the
// nearest border zone.
func (ix *Index) ZoneOf(p geom.Point) ZoneID {
	size := ix.cfg.Size
	row := int(math.Floor(p.Y / size))
	col := int(math.Floor(p.X / size))
	if math.IsNaN(p.X) || math.IsNaN(p.Y) {
		row, col = 0, 0
	}
	return ZoneID{
		Row: min(max(row, 0), max(ix.rows-1, 0)),
		Col: min(max(col, 0), max(ix.cols-1, 0)),
	}
}

func (ix *Index) inRange(id ZoneID) bool {
	return id.Row >= 0 && id.Col >= 0 && id.Row < ix.rows && id.Col < ix.cols
}

// Zone returns the zone with the given id.
func (ix *Index) Zone(id ZoneID) (Zone, bool) {
	if !ix.inRange(id) {
		return Zone{}, false
	}
	return ix.zones[id.Row*ix.cols+id.Col], true
}

// Zones returns a copy of every zone in row-major order.
func (ix *Index) Zones() []Zone {
	out := make([]Zone, len(ix.zones))
	copy(out, ix.zones)
	return out
}

// WalkableCount reports how many zones are walkable.
func (ix *Index) WalkableCount() int {
	count := 0
	for _, z := range ix.zones {
		if z.Walkable {
			count++
		}
	}
	return count
}

const edgeEpsilon = 1e-6

// WaypointsBetween returns the passable waypoints on the border shared by two
// edge-adjacent zones, ordered along the border. Zones that do not share a
// border yield nil.
func (ix *Index) WaypointsBetween(a, b ZoneID) []geom.Point {
	za, okA := ix.Zone(a)
	zb, okB := ix.Zone(b)
	if !okA || !okB {
		return nil
	}
	dr, dc := b.Row-a.Row, b.Col-a.Col
	var onBorder func(p geom.Point) bool
	switch {
	case dr == 0 && dc == 1:
		x := za.Bounds.Max.X
		onBorder = func(p geom.Point) bool { return math.Abs(p.X-x) < edgeEpsilon }
	case dr == 0 && dc == -1:
		x := za.Bounds.Min.X
		onBorder = func(p geom.Point) bool { return math.Abs(p.X-x) < edgeEpsilon }
	case dr == 1 && dc == 0:
		y := za.Bounds.Max.Y
		onBorder = func(p geom.Point) bool { return math.Abs(p.Y-y) < edgeEpsilon }
	case dr == -1 && dc == 0:
		y := za.Bounds.Min.Y
		onBorder = func(p geom.Point) bool { return math.Abs(p.Y-y) < edgeEpsilon }
	default:
		return nil
	}

	seen := make(map[geom.Point]struct{})
	var shared []geom.Point
	for _, set := range [...][]geom.Point{za.Waypoints, zb.Waypoints} {
		for _, p := range set {
			if !onBorder(p) {
				continue
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			shared = append(shared, p)
		}
	}
	sort.Slice(shared, func(i, j int) bool {
		if shared[i].X != shared[j].X {
			return shared[i].X < shared[j].X
		}
		return shared[i].Y < shared[j].Y
	})
	return shared
}

type zoneGraph struct {
	ix   *Index
	goal ZoneID
}

var zoneOffsets = [...]ZoneID{{Row: -1}, {Col: 1}, {Row: 1}, {Col: -1}}

func (zg zoneGraph) Neighbors(id ZoneID) []astar.Neighbor[ZoneID] {
	out := make([]astar.Neighbor[ZoneID], 0, len(zoneOffsets))
	from, _ := zg.ix.Zone(id)
	for _, d := range zoneOffsets {
		next := ZoneID{Row: id.Row + d.Row, Col: id.Col + d.Col}
		to, ok := zg.ix.Zone(next)
		if !ok {
			continue
		}
		if len(zg.ix.WaypointsBetween(id, next)) == 0 {
			continue
		}
		cost := geom.Distance(from.Centroid(), to.Centroid())
		if !to.Walkable && next != zg.goal {
			cost *= zg.ix.cfg.UnwalkablePenalty
		}
		out = append(out, astar.Neighbor[ZoneID]{ID: next, Cost: cost})
	}
	return out
}

// Route runs A* over the zone graph. Edges join edge-adjacent zones that
// share at least one passable waypoint; entering an unwalkable zone is
// penalized rather than forbidden. The returned sequence includes both
// endpoints.
func (ix *Index) Route(from, to ZoneID, opts ...astar.Option) ([]ZoneID, bool) {
	if !ix.Ready() || !ix.inRange(from) || !ix.inRange(to) {
		return nil, false
	}
	heuristic := func(a, b ZoneID) float64 {
		return math.Hypot(float64(a.Col-b.Col), float64(a.Row-b.Row)) * ix.cfg.Size
	}
	result, err := astar.Search[ZoneID](zoneGraph{ix: ix, goal: to}, from, to, heuristic, opts...)
	if err != nil || !result.Found {
		return nil, false
	}
	return result.Path, true
}
