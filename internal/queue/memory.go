package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Memory is a single-process priority queue. One mutex serialises every
// mutating operation.
type Memory struct {
	mu       sync.Mutex
	items    itemHeap
	byCall   map[string]*item
	seq      uint64
	capacity int

	est *Estimator
	now func() time.Time
}

// NewMemory returns an in-memory queue. capacity <= 0 means unbounded.
func NewMemory(capacity int, est *Estimator) *Memory {
	if est == nil {
		est = NewEstimator(0)
	}
	return &Memory{
		byCall:   map[string]*item{},
		capacity: capacity,
		est:      est,
		now:      time.Now,
	}
}

func (q *Memory) Enqueue(ctx context.Context, callID string, rank int) (Entry, error) {
	if callID == "" {
		return Entry{}, ErrInvalidCall
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if it, ok := q.byCall[callID]; ok {
		return q.describe(it), nil
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return Entry{}, ErrQueueFull
	}

	q.seq++
	it := &item{
		entry: Entry{CallID: callID, Rank: rank, EnqueuedAt: q.now().UTC()},
		seq:   q.seq,
	}
	heap.Push(&q.items, it)
	q.byCall[callID] = it
	return q.describe(it), nil
}

func (q *Memory) DequeueNext(ctx context.Context) (Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Entry{}, false, nil
	}
	it := heap.Pop(&q.items).(*item)
	delete(q.byCall, it.entry.CallID)
	e := it.entry
	e.Position = 1
	e.EstimatedWait = 0
	return e, true, nil
}

func (q *Memory) Peek(ctx context.Context, callID string) (Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byCall[callID]
	if !ok {
		return Entry{}, false, nil
	}
	return q.describe(it), true, nil
}

func (q *Memory) Remove(ctx context.Context, callID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byCall[callID]
	if !ok {
		return false, nil
	}
	heap.Remove(&q.items, it.index)
	delete(q.byCall, callID)
	return true, nil
}

func (q *Memory) Reprioritize(ctx context.Context, callID string, rank int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byCall[callID]
	if !ok {
		return false, nil
	}
	it.entry.Rank = rank
	heap.Fix(&q.items, it.index)
	return true, nil
}

func (q *Memory) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// describe fills Position and EstimatedWait. Caller holds q.mu.
func (q *Memory) describe(target *item) Entry {
	pos := 1
	for _, it := range q.items {
		if it != target && it.less(target) {
			pos++
		}
	}
	e := target.entry
	e.Position = pos
	e.EstimatedWait = q.est.Estimate(pos)
	return e
}

type item struct {
	entry Entry
	seq   uint64
	index int
}

func (a *item) less(b *item) bool {
	if a.entry.Rank != b.entry.Rank {
		return a.entry.Rank < b.entry.Rank
	}
	return a.seq < b.seq
}

type itemHeap []*item

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
