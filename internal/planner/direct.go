package planner

import (
	"math"

	"citynav/internal/geom"
	"citynav/internal/grid"
)

// DefaultStepSize is the stride of the direct walker.
const DefaultStepSize = 40.0

// probeAngles are tried in order, relative to the heading toward the target,
// when the next straight step is blocked.
var probeAngles = [...]float64{
	math.Pi / 4, -math.Pi / 4,
	math.Pi / 2, -math.Pi / 2,
	3 * math.Pi / 4, -3 * math.Pi / 4,
	math.Pi, 0,
}

// DirectPath walks from start toward end in fixed steps, sidestepping blocked
// points by probing around the current position at one cell distance. When no
// probe is passable the walk stops early. The literal end point is always
// appended, so the result has at least two points.
func DirectPath(g *grid.Grid, start, end geom.Point, step float64) []geom.Point {
	if !(step > 0) {
		step = DefaultStepSize
	}
	path := []geom.Point{start}
	if g == nil || !geom.Finite(start) || !geom.Finite(end) {
		return append(path, end)
	}
	probe := g.CellSize()
	limit := 4*int(math.Ceil(geom.Distance(start, end)/step)) + 8

	current := start
	for i := 0; i < limit && geom.Distance(current, end) > step; i++ {
		heading := math.Atan2(end.Y-current.Y, end.X-current.X)
		next := geom.Pt(current.X+math.Cos(heading)*step, current.Y+math.Sin(heading)*step)
		if !g.PassableAt(next) {
			alt, ok := alternative(g, current, heading, probe)
			if !ok {
				break
			}
			next = alt
		}
		current = next
		path = append(path, current)
	}
	return append(path, end)
}

func alternative(g *grid.Grid, from geom.Point, heading, distance float64) (geom.Point, bool) {
	for _, offset := range probeAngles {
		angle := heading + offset
		p := geom.Pt(from.X+math.Cos(angle)*distance, from.Y+math.Sin(angle)*distance)
		if g.PassableAt(p) {
			return p, true
		}
	}
	return geom.Point{}, false
}
