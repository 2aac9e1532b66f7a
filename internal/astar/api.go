package astar

import (
	"container/heap"
	"errors"
)

var (
	// ErrNoPath is returned when the open set empties before reaching the goal.
	ErrNoPath = errors.New("astar: no path found")
	// ErrExpansionLimit is returned when the search exceeds its expansion budget.
	ErrExpansionLimit = errors.New("astar: expansion limit reached")
)

// Graph is generic over node type N.
// N must be comparable so it can be used in maps.
type Graph[NodeType comparable] interface {
	Neighbors(node NodeType) []Neighbor[NodeType]
}

// Neighbor represents a reachable node with a cost.
type Neighbor[NodeType comparable] struct {
	ID   NodeType
	Cost float64
}

// Heuristic returns the estimated cost from node a to node b.
type Heuristic[NodeType comparable] func(from NodeType, to NodeType) float64

// Result contains the outcome of a search.
type Result[NodeType comparable] struct {
	Path          []NodeType
	TotalCost     float64
	ExpandedNodes int
	Found         bool
}

// Options defines parameters for the search.
type Options struct {
	// MaxExpansions bounds the number of closed nodes. Zero means unbounded.
	MaxExpansions int
}

// Option is a function that modifies Options.
type Option func(*Options)

// WithMaxExpansions caps how many nodes a single search may expand.
func WithMaxExpansions(limit int) Option {
	return func(options *Options) { options.MaxExpansions = limit }
}

// Search runs A* from startNode to goalNode.
func Search[NodeType comparable](
	graph Graph[NodeType],
	startNode NodeType,
	goalNode NodeType,
	heuristic Heuristic[NodeType],
	options ...Option,
) (Result[NodeType], error) {
	searchOptions := Options{}
	for _, option := range options {
		option(&searchOptions)
	}

	openSet := make(priorityQueue[NodeType], 0)
	heap.Init(&openSet)

	var seq uint64
	startItem := &queueItem[NodeType]{
		node:   startNode,
		gScore: 0,
		fCost:  heuristic(startNode, goalNode),
		seq:    seq,
	}
	heap.Push(&openSet, startItem)

	cameFrom := make(map[NodeType]NodeType)
	pathCostFromStart := map[NodeType]float64{startNode: 0}
	closedSet := make(map[NodeType]bool)
	openSetMap := map[NodeType]*queueItem[NodeType]{startNode: startItem}

	expandedNodes := 0
	for openSet.Len() > 0 {
		currentItem := heap.Pop(&openSet).(*queueItem[NodeType])
		currentNode := currentItem.node
		delete(openSetMap, currentNode)

		if closedSet[currentNode] {
			continue
		}
		closedSet[currentNode] = true
		expandedNodes++

		if currentNode == goalNode {
			return Result[NodeType]{
				Path:          reconstructPath(cameFrom, currentNode, startNode),
				TotalCost:     currentItem.gScore,
				ExpandedNodes: expandedNodes,
				Found:         true,
			}, nil
		}
		if searchOptions.MaxExpansions > 0 && expandedNodes >= searchOptions.MaxExpansions {
			return Result[NodeType]{ExpandedNodes: expandedNodes}, ErrExpansionLimit
		}

		for _, neighbor := range graph.Neighbors(currentNode) {
			if closedSet[neighbor.ID] {
				continue
			}
			tentativeG := currentItem.gScore + neighbor.Cost
			if previous, exists := pathCostFromStart[neighbor.ID]; exists && tentativeG >= previous {
				continue
			}
			pathCostFromStart[neighbor.ID] = tentativeG
			cameFrom[neighbor.ID] = currentNode
			f := tentativeG + heuristic(neighbor.ID, goalNode)
			if item, inOpen := openSetMap[neighbor.ID]; inOpen {
				item.gScore = tentativeG
				item.fCost = f
				heap.Fix(&openSet, item.indexInQueue)
				continue
			}
			seq++
			item := &queueItem[NodeType]{node: neighbor.ID, gScore: tentativeG, fCost: f, seq: seq}
			heap.Push(&openSet, item)
			openSetMap[neighbor.ID] = item
		}
	}

	return Result[NodeType]{ExpandedNodes: expandedNodes}, ErrNoPath
}

func reconstructPath[NodeType comparable](
	cameFrom map[NodeType]NodeType,
	current NodeType,
	start NodeType,
) []NodeType {
	path := []NodeType{current}
	for current != start {
		previousNode, exists := cameFrom[current]
		if !exists {
			break
		}
		path = append(path, previousNode)
		current = previousNode
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
