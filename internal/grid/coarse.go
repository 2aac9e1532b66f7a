package grid

import (
	"math"

	"citynav/internal/astar"
	"citynav/internal/geom"
)

// Coarse aggregates 2x2 blocks of fine cells. A coarse cell is blocked when
// at least two of its four fine cells are Blocked.
type Coarse struct {
	cols, rows int
	cellSize   float64
	blocked    []bool
}

// BuildCoarse derives the coarse grid from g.
func BuildCoarse(g *Grid) *Coarse {
	if g == nil {
		return nil
	}
	cols := (g.cols + 1) / 2
	rows := (g.rows + 1) / 2
	c := &Coarse{
		cols:     cols,
		rows:     rows,
		cellSize: g.cellSize * 2,
		blocked:  make([]bool, cols*rows),
	}
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			count := 0
			for dr := 0; dr < 2; dr++ {
				for dc := 0; dc < 2; dc++ {
					fine := Cell{Row: row*2 + dr, Col: col*2 + dc}
					if g.InBounds(fine) && g.State(fine) == Blocked {
						count++
					}
				}
			}
			c.blocked[row*cols+col] = count >= 2
		}
	}
	return c
}

// Cols reports the number of coarse columns.
func (c *Coarse) Cols() int { return c.cols }

// Rows reports the number of coarse rows.
func (c *Coarse) Rows() int { return c.rows }

// CellSize reports the coarse cell edge in world units.
func (c *Coarse) CellSize() float64 { return c.cellSize }

// Blocked reports whether the coarse cell is blocked. Out-of-range cells read
// as blocked.
func (c *Coarse) Blocked(cell Cell) bool {
	if c == nil || cell.Col < 0 || cell.Row < 0 || cell.Col >= c.cols || cell.Row >= c.rows {
		return true
	}
	return c.blocked[cell.Row*c.cols+cell.Col]
}

// BlockedCount reports how many coarse cells are blocked.
func (c *Coarse) BlockedCount() int {
	count := 0
	for _, b := range c.blocked {
		if b {
			count++
		}
	}
	return count
}

func (c *Coarse) cellAt(p geom.Point) (Cell, bool) {
	if c == nil || !geom.Finite(p) {
		return Cell{}, false
	}
	cell := Cell{Row: int(math.Floor(p.Y / c.cellSize)), Col: int(math.Floor(p.X / c.cellSize))}
	if cell.Col < 0 || cell.Row < 0 || cell.Col >= c.cols || cell.Row >= c.rows {
		return Cell{}, false
	}
	return cell, true
}

type coarseGraph struct {
	coarse *Coarse
}

func (cg coarseGraph) Neighbors(cell Cell) []astar.Neighbor[Cell] {
	passable := func(col, row int) bool { return !cg.coarse.Blocked(Cell{Row: row, Col: col}) }
	return expand(passable, cg.coarse.cellSize, cell)
}

// Feasible is a cheap long-range reachability estimate: it runs A* over the
// coarse grid between the cells containing a and b. Endpoints in blocked
// coarse cells are allowed to leave their own cell. The estimate can miss
// narrow gaps that only the fine grid resolves.
func (c *Coarse) Feasible(a, b geom.Point, opts ...astar.Option) bool {
	from, ok := c.cellAt(a)
	if !ok {
		return false
	}
	to, ok := c.cellAt(b)
	if !ok {
		return false
	}
	if from == to {
		return true
	}
	graph := endpointGraph{inner: coarseGraph{coarse: c}, coarse: c, goal: to}
	result, err := astar.Search[Cell](graph, from, to, euclidean(c.cellSize), opts...)
	return err == nil && result.Found
}

// endpointGraph lets the search enter the goal cell even when it is blocked.
type endpointGraph struct {
	inner  coarseGraph
	coarse *Coarse
	goal   Cell
}

func (eg endpointGraph) Neighbors(cell Cell) []astar.Neighbor[Cell] {
	out := eg.inner.Neighbors(cell)
	if eg.coarse.Blocked(eg.goal) {
		dc, dr := eg.goal.Col-cell.Col, eg.goal.Row-cell.Row
		if dc >= -1 && dc <= 1 && dr >= -1 && dr <= 1 && (dc != 0 || dr != 0) {
			cost := eg.coarse.cellSize
			if dc != 0 && dr != 0 {
				cost *= math.Sqrt2
			}
			out = append(out, astar.Neighbor[Cell]{ID: eg.goal, Cost: cost})
		}
	}
	return out
}
