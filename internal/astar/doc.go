// Package astar provides a generic, deterministic A* search.
//
// The search is generic over the node type and runs to completion on the
// calling goroutine. When several open nodes share the lowest f-score the one
// with the lowest g-score wins, and remaining ties go to the node that entered
// the open set first, so identical inputs always produce identical paths.
package astar
