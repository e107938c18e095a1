// Package jobqueue holds pending tile generation jobs, deduplicated by key
// and ordered by priority.
package jobqueue

import (
	"container/heap"
	"sync"

	"fieldmap/internal/tile"
)

// Prioritizer scores a job. Lower values are generated first.
type Prioritizer interface {
	Priority(key tile.Key) float64
}

// PrioritizerFunc adapts a function to Prioritizer.
type PrioritizerFunc func(key tile.Key) float64

func (f PrioritizerFunc) Priority(key tile.Key) float64 {
	return f(key)
}

type item struct {
	job   tile.Job
	index int
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].job.Priority == h[j].job.Priority {
		return h[i].job.Submitted.Before(h[j].job.Submitted)
	}
	return h[i].job.Priority < h[j].job.Priority
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue holds at most one pending job per key. Keys handed out by Pop stay
// reserved until Done, so resubmitting a key that is being generated is a no-op.
type Queue struct {
	mu          sync.Mutex
	pending     map[tile.Key]*item
	inFlight    map[tile.Key]struct{}
	heap        itemHeap
	prioritizer Prioritizer
	ready       chan struct{}
}

func New(p Prioritizer) *Queue {
	return &Queue{
		pending:     make(map[tile.Key]*item),
		inFlight:    make(map[tile.Key]struct{}),
		prioritizer: p,
		ready:       make(chan struct{}, 1),
	}
}

// Add enqueues job unless its key is already pending or in flight.
// It reports whether a new job was queued.
func (q *Queue) Add(job tile.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, busy := q.inFlight[job.Key]; busy {
		return false
	}
	if it, ok := q.pending[job.Key]; ok {
		if q.prioritizer != nil {
			it.job.Priority = q.prioritizer.Priority(job.Key)
			heap.Fix(&q.heap, it.index)
		}
		return false
	}

	if q.prioritizer != nil {
		job.Priority = q.prioritizer.Priority(job.Key)
	}
	it := &item{job: job}
	heap.Push(&q.heap, it)
	q.pending[job.Key] = it
	return true
}

// RequestSchedule recomputes priorities and wakes a waiting worker.
func (q *Queue) RequestSchedule() {
	q.mu.Lock()
	if q.prioritizer != nil {
		for _, it := range q.heap {
			it.job.Priority = q.prioritizer.Priority(it.job.Key)
		}
		heap.Init(&q.heap)
	}
	n := len(q.heap)
	q.mu.Unlock()

	if n > 0 {
		q.signal()
	}
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled when jobs have been scheduled.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Pop removes the highest priority job and marks its key in flight.
func (q *Queue) Pop() (tile.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return tile.Job{}, false
	}
	it := heap.Pop(&q.heap).(*item)
	delete(q.pending, it.job.Key)
	q.inFlight[it.job.Key] = struct{}{}
	if len(q.heap) > 0 {
		// let another worker pick up the rest
		q.signal()
	}
	return it.job, true
}

// Done releases a key returned by Pop.
func (q *Queue) Done(key tile.Key) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inFlight, key)
}

// Clear drops all pending jobs. Jobs in flight are not waited for.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = make(map[tile.Key]*item)
	q.heap = nil
}

// Retain drops pending jobs for which keep returns false and returns how many were dropped.
func (q *Queue) Retain(keep func(tile.Key) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.heap[:0]
	dropped := 0
	for _, it := range q.heap {
		if keep(it.job.Key) {
			kept = append(kept, it)
			continue
		}
		delete(q.pending, it.job.Key)
		dropped++
	}
	for i := len(kept); i < len(q.heap); i++ {
		q.heap[i] = nil
	}
	q.heap = kept
	for i, it := range q.heap {
		it.index = i
	}
	heap.Init(&q.heap)
	return dropped
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// InFlight returns the number of popped jobs not yet marked done.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// Keys returns the pending keys in no particular order.
func (q *Queue) Keys() []tile.Key {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys := make([]tile.Key, 0, len(q.heap))
	for _, it := range q.heap {
		keys = append(keys, it.job.Key)
	}
	return keys
}
