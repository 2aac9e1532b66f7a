package astar

type queueItem[NodeType comparable] struct {
	node         NodeType
	gScore       float64
	fCost        float64
	seq          uint64
	indexInQueue int
}

type priorityQueue[NodeType comparable] []*queueItem[NodeType]

func (queue priorityQueue[NodeType]) Len() int { return len(queue) }

func (queue priorityQueue[NodeType]) Less(i, j int) bool {
	a, b := queue[i], queue[j]
	if a.fCost != b.fCost {
		return a.fCost < b.fCost
	}
	if a.gScore != b.gScore {
		return a.gScore < b.gScore
	}
	return a.seq < b.seq
}

func (queue priorityQueue[NodeType]) Swap(i, j int) {
	queue[i], queue[j] = queue[j], queue[i]
	queue[i].indexInQueue = i
	queue[j].indexInQueue = j
}

func (queue *priorityQueue[NodeType]) Push(x any) {
	item := x.(*queueItem[NodeType])
	item.indexInQueue = len(*queue)
	*queue = append(*queue, item)
}

func (queue *priorityQueue[NodeType]) Pop() any {
	old := *queue
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.indexInQueue = -1
	*queue = old[:n-1]
	return item
}
