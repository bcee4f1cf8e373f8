package queue

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"arb-exec-bot/internal/arb"
)

var (
	ErrDuplicate = errors.New("opportunity already queued")
	ErrPaused    = errors.New("queue is paused")
	ErrDropped   = errors.New("queue full, priority below tail")
)

// Queue is the bounded, priority-ordered admission queue. It holds pending
// opportunities only; it never consults the risk ledger or circuit breaker.
type Queue struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*entry
	heap     entryHeap
	paused   bool
	now      func() time.Time
}

type entry struct {
	opp      *arb.Opportunity
	priority float64
	index    int
}

// State is a point-in-time summary for operators and tests.
type State struct {
	Depth    int
	Capacity int
	Paused   bool
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{
		capacity: capacity,
		items:    make(map[string]*entry),
		now:      time.Now,
	}
}

// SetClock overrides the queue clock, for tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Enqueue adds an opportunity in priority order. Duplicates by ID are
// rejected. When the queue is full the lowest-priority entry is dropped;
// if that is the incoming opportunity, ErrDropped is returned.
func (q *Queue) Enqueue(opp *arb.Opportunity) error {
	if err := opp.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused {
		return ErrPaused
	}
	if _, ok := q.items[opp.ID]; ok {
		return ErrDuplicate
	}
	now := q.now()
	if opp.Expired(now) {
		opp.Status = arb.StatusExpired
		return nil
	}
	e := &entry{opp: opp, priority: opp.PriorityScore(now)}
	if len(q.items) >= q.capacity {
		tail := q.lowest()
		if tail == nil || tail.priority >= e.priority {
			return ErrDropped
		}
		q.remove(tail)
		tail.opp.Status = arb.StatusRejected
	}
	opp.Status = arb.StatusPending
	q.items[opp.ID] = e
	heap.Push(&q.heap, e)
	return nil
}

// DequeueBatch hands out up to n opportunities in priority order, marking them
// ADMITTED. Entries whose deadline has passed are evicted as EXPIRED and
// returned separately; they are never dispatched.
func (q *Queue) DequeueBatch(n int) (admitted, expired []*arb.Opportunity) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused {
		return nil, nil
	}
	now := q.now()
	for len(admitted) < n && q.heap.Len() > 0 {
		e := heap.Pop(&q.heap).(*entry)
		delete(q.items, e.opp.ID)
		if e.opp.Expired(now) {
			e.opp.Status = arb.StatusExpired
			expired = append(expired, e.opp)
			continue
		}
		e.opp.Status = arb.StatusAdmitted
		admitted = append(admitted, e.opp)
	}
	return admitted, expired
}

// Pause stops all enqueue and dequeue activity until Resume. Used when a
// critical system error requires operator intervention.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Snapshot() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return State{Depth: len(q.items), Capacity: q.capacity, Paused: q.paused}
}

func (q *Queue) lowest() *entry {
	var min *entry
	for _, e := range q.heap {
		if min == nil || e.priority < min.priority {
			min = e
		}
	}
	return min
}

func (q *Queue) remove(e *entry) {
	heap.Remove(&q.heap, e.index)
	delete(q.items, e.opp.ID)
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool { return h[i].priority > h[j].priority }

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
