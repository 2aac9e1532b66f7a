package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceAndLerp(t *testing.T) {
	a, b := Pt(0, 0), Pt(30, 40)
	assert.Equal(t, 50.0, Distance(a, b))
	assert.Equal(t, Pt(15, 20), Lerp(a, b, 0.5))
	assert.Equal(t, b, Lerp(a, b, 1))
}

func TestFinite(t *testing.T) {
	assert.True(t, Finite(Pt(1, -1)))
	assert.False(t, Finite(Pt(math.NaN(), 0)))
	assert.False(t, Finite(Pt(0, math.Inf(-1))))
}

func TestRectValidAndBox(t *testing.T) {
	r := Rect{X: 10, Y: 20, Width: 30, Height: 40}
	assert.True(t, r.Valid())
	box := r.Box()
	assert.Equal(t, Pt(10, 20), box.Min)
	assert.Equal(t, Pt(40, 60), box.Max)

	assert.False(t, Rect{Width: 0, Height: 5}.Valid())
	assert.False(t, Rect{Width: math.NaN(), Height: 5}.Valid())
	assert.False(t, Rect{X: math.Inf(1), Width: 5, Height: 5}.Valid())
}

func TestPathHelpers(t *testing.T) {
	path := []Point{Pt(0, 0), Pt(3, 4), Pt(3, 10)}
	assert.Equal(t, 11.0, PathLength(path))
	assert.Zero(t, PathLength(path[:1]))

	cloned := ClonePath(path)
	cloned[0] = Pt(9, 9)
	assert.Equal(t, Pt(0, 0), path[0])
	assert.Nil(t, ClonePath(nil))

	seg := Segment{StartX: 0, StartY: 0, EndX: 0, EndY: 12}
	assert.Equal(t, 12.0, seg.Length())
	assert.Equal(t, 3.0, Clamp(5, 0, 3))
	assert.Equal(t, 0.0, Clamp(-1, 0, 3))
}
