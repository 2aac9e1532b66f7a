package grid

import (
	"math"

	"citynav/internal/astar"
	"citynav/internal/geom"
)

type navNeighbor struct {
	col      int
	row      int
	cost     float64
	diagonal bool
}

var navNeighborOffsets = [...]navNeighbor{
	{col: 0, row: -1, cost: 1, diagonal: false},
	{col: 1, row: 0, cost: 1, diagonal: false},
	{col: 0, row: 1, cost: 1, diagonal: false},
	{col: -1, row: 0, cost: 1, diagonal: false},
	{col: 1, row: -1, cost: math.Sqrt2, diagonal: true},
	{col: 1, row: 1, cost: math.Sqrt2, diagonal: true},
	{col: -1, row: 1, cost: math.Sqrt2, diagonal: true},
	{col: -1, row: -1, cost: math.Sqrt2, diagonal: true},
}

// passableFunc abstracts the occupancy test so the fine and coarse grids can
// share neighbor expansion.
type passableFunc func(col, row int) bool

func canTraverseDiagonal(passable passableFunc, col, row int, delta navNeighbor) bool {
	if !delta.diagonal {
		return true
	}
	return passable(col+delta.col, row) && passable(col, row+delta.row)
}

func expand(passable passableFunc, cellSize float64, c Cell) []astar.Neighbor[Cell] {
	out := make([]astar.Neighbor[Cell], 0, len(navNeighborOffsets))
	for _, delta := range navNeighborOffsets {
		nc, nr := c.Col+delta.col, c.Row+delta.row
		if !passable(nc, nr) {
			continue
		}
		if !canTraverseDiagonal(passable, c.Col, c.Row, delta) {
			continue
		}
		out = append(out, astar.Neighbor[Cell]{ID: Cell{Row: nr, Col: nc}, Cost: delta.cost * cellSize})
	}
	return out
}

func euclidean(cellSize float64) astar.Heuristic[Cell] {
	return func(from, to Cell) float64 {
		return math.Hypot(float64(from.Col-to.Col), float64(from.Row-to.Row)) * cellSize
	}
}

type cellGraph struct {
	grid *Grid
}

func (cg cellGraph) Neighbors(c Cell) []astar.Neighbor[Cell] {
	return expand(cg.passable, cg.grid.cellSize, c)
}

func (cg cellGraph) passable(col, row int) bool {
	return cg.grid.Passable(Cell{Row: row, Col: col})
}

// SearchCells runs A* between two cells over the fine grid using
// 8-directional moves. Diagonal steps require both flanking orthogonal cells to
// be passable. The second result is false when no path exists.
func (g *Grid) SearchCells(from, to Cell, opts ...astar.Option) ([]Cell, bool) {
	if g == nil || !g.InBounds(from) || !g.InBounds(to) {
		return nil, false
	}
	result, err := astar.Search[Cell](cellGraph{grid: g}, from, to, euclidean(g.cellSize), opts...)
	if err != nil || !result.Found {
		return nil, false
	}
	return result.Path, true
}

// ClosestPassable finds the nearest Free or Road cell to c by breadth-first
// search.
func (g *Grid) ClosestPassable(c Cell) (Cell, bool) {
	if !g.InBounds(c) {
		return Cell{}, false
	}
	if g.Passable(c) {
		return c, true
	}
	visited := map[Cell]struct{}{c: {}}
	queue := []Cell{c}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if g.Passable(current) {
			return current, true
		}
		for _, delta := range navNeighborOffsets {
			next := Cell{Row: current.Row + delta.row, Col: current.Col + delta.col}
			if !g.InBounds(next) {
				continue
			}
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return Cell{}, false
}

// FindPath searches between two world points and returns the waypoint
// sequence [start, intermediate cell centers..., end]. Start or goal points in
// a blocked cell are snapped to the nearest passable cell, whose center is then
// kept as an explicit waypoint. The second result is false when the search is
// exhausted.
func (g *Grid) FindPath(start, end geom.Point, opts ...astar.Option) ([]geom.Point, bool) {
	startCell, ok := g.locate(start)
	if !ok {
		return nil, false
	}
	goalCell, ok := g.locate(end)
	if !ok {
		return nil, false
	}
	startSnapped := !g.Passable(startCell)
	if startSnapped {
		if startCell, ok = g.ClosestPassable(startCell); !ok {
			return nil, false
		}
	}
	goalSnapped := !g.Passable(goalCell)
	if goalSnapped {
		if goalCell, ok = g.ClosestPassable(goalCell); !ok {
			return nil, false
		}
	}

	cells, ok := g.SearchCells(startCell, goalCell, opts...)
	if !ok {
		return nil, false
	}

	path := make([]geom.Point, 0, len(cells)+2)
	path = append(path, start)
	for i, c := range cells {
		first, last := i == 0, i == len(cells)-1
		if (first && !startSnapped) || (last && !goalSnapped) {
			continue
		}
		path = append(path, g.Center(c))
	}
	path = append(path, end)
	return path, true
}
