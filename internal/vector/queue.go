package vector

// candidate is a graph node paired with its distance to the current query.
type candidate struct {
	idx  uint32
	dist float64
}

// candidateQueue is a container/heap implementation. It is a min-heap on
// distance unless max is set.
type candidateQueue struct {
	items []candidate
	max   bool
}

func (q *candidateQueue) Len() int { return len(q.items) }

func (q *candidateQueue) Less(i, j int) bool {
	if q.max {
		return q.items[i].dist > q.items[j].dist
	}
	return q.items[i].dist < q.items[j].dist
}

func (q *candidateQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *candidateQueue) Push(x any) { q.items = append(q.items, x.(candidate)) }

func (q *candidateQueue) Pop() any {
	n := len(q.items)
	item := q.items[n-1]
	q.items = q.items[:n-1]
	return item
}

// Top returns the root without removing it.
func (q *candidateQueue) Top() candidate { return q.items[0] }
