package jobtable

import (
	"sync"

	"github.com/kernbread/finalProjectDistributedForNoel/pkg/types"
)

// ResultQueue is a FIFO of completed results awaiting upstream delivery. It
// has its own lock, independent of the job table.
type ResultQueue struct {
	mu    sync.Mutex
	items []types.CompletedResult
}

// NewResultQueue creates an empty queue.
func NewResultQueue() *ResultQueue {
	return &ResultQueue{items: make([]types.CompletedResult, 0)}
}

// Push appends r to the back of the queue.
func (q *ResultQueue) Push(r types.CompletedResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, r)
}

// PushFront returns an undelivered result to the head of the queue so it is
// retried before anything queued after it.
func (q *ResultQueue) PushFront(r types.CompletedResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]types.CompletedResult{r}, q.items...)
}

// Pop removes and returns the head of the queue.
func (q *ResultQueue) Pop() (types.CompletedResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return types.CompletedResult{}, false
	}
	r := q.items[0]
	q.items[0] = types.CompletedResult{}
	q.items = q.items[1:]
	return r, true
}

// Len returns the number of queued results.
func (q *ResultQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued results, head first.
func (q *ResultQueue) Snapshot() []types.CompletedResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]types.CompletedResult(nil), q.items...)
}
