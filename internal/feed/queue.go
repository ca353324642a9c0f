package feed

import "sync"

// Queue is a strict-FIFO buffer for platforms whose interaction model is a
// sequential scroll feed. Enqueue order is delivery order; consumption is
// destructive.
type Queue struct {
	mu    sync.Mutex
	items []ContentItem
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends item to the tail.
func (q *Queue) Enqueue(item ContentItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// Dequeue removes and returns the oldest entry; the second return is false
// when the queue is empty.
func (q *Queue) Dequeue() (ContentItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return ContentItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len reports the number of buffered entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
