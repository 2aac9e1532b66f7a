package planner

import (
	"math"

	"citynav/internal/geom"
	"citynav/internal/grid"
)

// DefaultSampleSpacing is the distance between visibility samples.
const DefaultSampleSpacing = 40.0

// Smoother removes waypoints that can be skipped along a straight line.
type Smoother struct {
	Grid          *grid.Grid
	SampleSpacing float64
}

func (s Smoother) spacing() float64 {
	if s.SampleSpacing > 0 {
		return s.SampleSpacing
	}
	return DefaultSampleSpacing
}

// Visible reports whether every interior sample on the segment a-b lies on a
// passable cell. The endpoints themselves are not checked.
func (s Smoother) Visible(a, b geom.Point) bool {
	if s.Grid == nil {
		return true
	}
	steps := int(math.Ceil(geom.Distance(a, b) / s.spacing()))
	for i := 1; i < steps; i++ {
		if !s.Grid.PassableAt(geom.Lerp(a, b, float64(i)/float64(steps))) {
			return false
		}
	}
	return true
}

// Smooth keeps, from each retained point, the furthest later point that is
// visible from it. The result never grows and keeps both endpoints.
func (s Smoother) Smooth(path []geom.Point) []geom.Point {
	if len(path) < 3 {
		return geom.ClonePath(path)
	}
	smoothed := []geom.Point{path[0]}
	current := 0
	for current < len(path)-1 {
		furthest := current + 1
		for i := current + 2; i < len(path); i++ {
			if s.Visible(path[current], path[i]) {
				furthest = i
			}
		}
		smoothed = append(smoothed, path[furthest])
		current = furthest
	}
	return smoothed
}
