// Package grid builds the fine and coarse occupancy grids the router searches.
package grid

import (
	"math"

	"citynav/internal/geom"
)

const (
	// DefaultCellSize is the fine cell edge in world units.
	DefaultCellSize = 40.0
	// DefaultCols and DefaultRows size the fallback grid used when the world
	// dimensions are unusable.
	DefaultCols = 40
	DefaultRows = 30
)

// CellState is the occupancy of a single fine cell.
type CellState uint8

const (
	Free CellState = iota
	Blocked
	Road
)

func (s CellState) String() string {
	switch s {
	case Free:
		return "free"
	case Blocked:
		return "blocked"
	case Road:
		return "road"
	default:
		return "unknown"
	}
}

// Cell addresses a fine grid position.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Grid is the fine-resolution occupancy grid. It is immutable once built.
type Grid struct {
	cols, rows int
	cellSize   float64
	width      float64
	height     float64
	cells      []CellState
	fallback   bool
}

func usable(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// Build rasterizes buildings and road centerlines into a fresh grid. Roads are
// marked after buildings and overwrite them. Unusable world dimensions fall
// back to a DefaultCols x DefaultRows grid; Fallback reports when that happened.
func Build(width, height float64, buildings []geom.Rect, roads []geom.Segment, cellSize float64) *Grid {
	fallback := false
	if !usable(cellSize) {
		cellSize = DefaultCellSize
		fallback = true
	}
	if !usable(width) || !usable(height) {
		width = DefaultCols * cellSize
		height = DefaultRows * cellSize
		fallback = true
	}

	cols := int(math.Ceil(width / cellSize))
	rows := int(math.Ceil(height / cellSize))
	if cols <= 0 {
		cols = 1
	}
	if rows <= 0 {
		rows = 1
	}
	g := &Grid{
		cols:     cols,
		rows:     rows,
		cellSize: cellSize,
		width:    width,
		height:   height,
		cells:    make([]CellState, cols*rows),
		fallback: fallback,
	}

	for _, b := range buildings {
		g.markBuilding(b)
	}
	for _, r := range roads {
		g.markRoad(r)
	}
	return g
}

func (g *Grid) markBuilding(b geom.Rect) {
	if !b.Valid() {
		return
	}
	startRow := int(math.Floor(b.Y / g.cellSize))
	endRow := int(math.Ceil((b.Y + b.Height) / g.cellSize))
	startCol := int(math.Floor(b.X / g.cellSize))
	endCol := int(math.Ceil((b.X + b.Width) / g.cellSize))
	startRow = max(startRow, 0)
	startCol = max(startCol, 0)
	endRow = min(endRow, g.rows)
	endCol = min(endCol, g.cols)
	for row := startRow; row < endRow; row++ {
		for col := startCol; col < endCol; col++ {
			g.cells[g.index(col, row)] = Blocked
		}
	}
}

func (g *Grid) markRoad(s geom.Segment) {
	start, end := s.Start(), s.End()
	if !geom.Finite(start) || !geom.Finite(end) {
		return
	}
	step := g.cellSize / 4
	samples := int(math.Ceil(s.Length()/step)) + 1
	for i := 0; i <= samples; i++ {
		p := geom.Lerp(start, end, float64(i)/float64(samples))
		if c, ok := g.CellAt(p); ok {
			g.cells[g.index(c.Col, c.Row)] = Road
		}
	}
}

func (g *Grid) index(col, row int) int {
	return row*g.cols + col
}

// Cols reports the number of columns.
func (g *Grid) Cols() int { return g.cols }

// Rows reports the number of rows.
func (g *Grid) Rows() int { return g.rows }

// CellSize reports the edge length of a cell in world units.
func (g *Grid) CellSize() float64 { return g.cellSize }

// Width reports the world width covered by the grid.
func (g *Grid) Width() float64 { return g.width }

// Height reports the world height covered by the grid.
func (g *Grid) Height() float64 { return g.height }

// Fallback reports whether Build substituted the default grid size.
func (g *Grid) Fallback() bool { return g.fallback }

// InBounds reports whether c lies inside the grid.
func (g *Grid) InBounds(c Cell) bool {
	return g != nil && c.Col >= 0 && c.Row >= 0 && c.Col < g.cols && c.Row < g.rows
}

// State returns the occupancy of c. Cells outside the grid read as Blocked.
func (g *Grid) State(c Cell) CellState {
	if !g.InBounds(c) {
		return Blocked
	}
	return g.cells[g.index(c.Col, c.Row)]
}

// Passable reports whether c is Free or Road.
func (g *Grid) Passable(c Cell) bool {
	return g.State(c) != Blocked
}

// CellAt maps a world point to its cell, failing for points outside the grid.
func (g *Grid) CellAt(p geom.Point) (Cell, bool) {
	if g == nil || !geom.Finite(p) {
		return Cell{}, false
	}
	col := int(math.Floor(p.X / g.cellSize))
	row := int(math.Floor(p.Y / g.cellSize))
	c := Cell{Row: row, Col: col}
	return c, g.InBounds(c)
}

// PassableAt reports whether the world point lies in a Free or Road cell.
func (g *Grid) PassableAt(p geom.Point) bool {
	c, ok := g.CellAt(p)
	return ok && g.Passable(c)
}

// StateAt returns the occupancy at a world point.
func (g *Grid) StateAt(p geom.Point) CellState {
	c, ok := g.CellAt(p)
	if !ok {
		return Blocked
	}
	return g.State(c)
}

// Center returns the world position of the center of c.
func (g *Grid) Center(c Cell) geom.Point {
	return geom.Point{
		X: (float64(c.Col) + 0.5) * g.cellSize,
		Y: (float64(c.Row) + 0.5) * g.cellSize,
	}
}

// locate clamps p into the grid before mapping it to a cell.
func (g *Grid) locate(p geom.Point) (Cell, bool) {
	if g == nil || g.cols == 0 || g.rows == 0 || !geom.Finite(p) {
		return Cell{}, false
	}
	x := geom.Clamp(p.X, 0, float64(g.cols)*g.cellSize-1e-6)
	y := geom.Clamp(p.Y, 0, float64(g.rows)*g.cellSize-1e-6)
	return g.CellAt(geom.Point{X: x, Y: y})
}

// BlockedCount reports how many cells are Blocked.
func (g *Grid) BlockedCount() int {
	count := 0
	for _, s := range g.cells {
		if s == Blocked {
			count++
		}
	}
	return count
}

// BlockedFraction reports the share of Blocked cells in the cell-aligned
// rectangle [minCol, maxCol) x [minRow, maxRow), clipped to the grid.
func (g *Grid) BlockedFraction(minCol, minRow, maxCol, maxRow int) float64 {
	minCol = max(minCol, 0)
	minRow = max(minRow, 0)
	maxCol = min(maxCol, g.cols)
	maxRow = min(maxRow, g.rows)
	total := (maxCol - minCol) * (maxRow - minRow)
	if total <= 0 {
		return 0
	}
	blocked := 0
	for row := minRow; row < maxRow; row++ {
		for col := minCol; col < maxCol; col++ {
			if g.cells[g.index(col, row)] == Blocked {
				blocked++
			}
		}
	}
	return float64(blocked) / float64(total)
}
