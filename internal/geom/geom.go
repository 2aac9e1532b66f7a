// Package geom holds the planar primitives shared by the navigation packages.
package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Point is a world-space coordinate.
type Point = r2.Vec

// Pt is shorthand for constructing a Point.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Distance reports the Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	return r2.Norm(r2.Sub(b, a))
}

// Lerp interpolates between a and b at t in [0, 1].
func Lerp(a, b Point, t float64) Point {
	return r2.Add(a, r2.Scale(t, r2.Sub(b, a)))
}

// Finite reports whether both coordinates are finite numbers.
func Finite(p Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Clamp limits value to the range [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Rect is an axis-aligned building footprint.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether the rectangle has finite, positive extents.
func (r Rect) Valid() bool {
	for _, v := range [...]float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return r.Width > 0 && r.Height > 0
}

// Box converts the rectangle to an r2.Box.
func (r Rect) Box() r2.Box {
	return r2.Box{
		Min: Point{X: r.X, Y: r.Y},
		Max: Point{X: r.X + r.Width, Y: r.Y + r.Height},
	}
}

// Segment is a road centerline.
type Segment struct {
	StartX float64 `json:"startX"`
	StartY float64 `json:"startY"`
	EndX   float64 `json:"endX"`
	EndY   float64 `json:"endY"`
}

// Start returns the first endpoint.
func (s Segment) Start() Point { return Point{X: s.StartX, Y: s.StartY} }

// End returns the second endpoint.
func (s Segment) End() Point { return Point{X: s.EndX, Y: s.EndY} }

// Length reports the segment length.
func (s Segment) Length() float64 { return Distance(s.Start(), s.End()) }

// PathLength sums the leg lengths of a polyline.
func PathLength(path []Point) float64 {
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += Distance(path[i-1], path[i])
	}
	return total
}

// ClonePath returns a copy of path with independent backing storage.
func ClonePath(path []Point) []Point {
	if len(path) == 0 {
		return nil
	}
	cloned := make([]Point, len(path))
	copy(cloned, path)
	return cloned
}
