package reactor

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// TimerID uniquely identifies a scheduled timer, drawn from a global
// monotonic counter starting above zero.
type TimerID uint64

var timerIDCounter atomic.Uint64

func nextTimerID() TimerID {
	return TimerID(timerIDCounter.Add(1))
}

// TimerCallback is invoked with the firing timer's own id, so a repeating
// callback can cancel itself.
type TimerCallback func(id TimerID)

// timer is one scheduled unit of work: a deadline, an optional repeat
// interval, and at most one of the highest/lowest priority tier flags
// (spec.md §3 "Timer": "a timer is not both highest and lowest").
type timer struct {
	id       TimerID
	cb       TimerCallback
	when     time.Time
	interval time.Duration
	repeat   bool
	highest  bool
	lowest   bool

	// heapIndex is maintained by container/heap for O(log n) removal,
	// though removal here is lazy (see TimerQueue.Cancel) and heapIndex is
	// only used by the heap package's own bookkeeping.
	heapIndex int
}

func (t *timer) restart(now time.Time) {
	if t.repeat {
		t.when = now.Add(t.interval)
	}
}

// timerHeap is a container/heap min-heap ordered by deadline, mirroring
// the original's TimerPriorityQueue (a std::priority_queue turned into a
// min-heap via an inverted comparator).
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// TimerQueue is a min-heap of timers by deadline plus a lazily-cancelled
// "active" id set, with two dedicated slots for at most one highest- and
// one lowest-priority timer per tick (SPEC_FULL.md §4.11 item 1: this
// replaces the original's ambiguous overwrite-on-second-expiry behavior
// with "first claim wins the slot, extras fall into the ordinary batch" so
// every expired timer is still invoked exactly once).
type TimerQueue struct {
	mu     sync.Mutex
	heap   timerHeap
	active map[TimerID]struct{}
}

// NewTimerQueue constructs an empty TimerQueue.
func NewTimerQueue() *TimerQueue {
	return &TimerQueue{active: make(map[TimerID]struct{})}
}

// Add schedules cb to run at `when`, optionally repeating every interval,
// and returns its id. Only one of highest/lowest may be true.
func (q *TimerQueue) Add(cb TimerCallback, when time.Time, interval time.Duration, highest, lowest bool) TimerID {
	assertf(!(highest && lowest), "timer cannot be both highest and lowest priority")
	t := &timer{
		id:       nextTimerID(),
		cb:       cb,
		when:     when,
		interval: interval,
		repeat:   interval > 0,
		highest:  highest,
		lowest:   lowest,
	}
	q.mu.Lock()
	q.active[t.id] = struct{}{}
	heap.Push(&q.heap, t)
	q.mu.Unlock()
	return t.id
}

// Cancel removes id from the active set. Lazy: if the timer has already
// been popped for this tick but not yet run, it is silently skipped; if it
// is still in the heap, it is skipped once popped.
func (q *TimerQueue) Cancel(id TimerID) {
	q.mu.Lock()
	delete(q.active, id)
	q.mu.Unlock()
}

// NextDeadline returns the earliest pending timer's deadline and true, or
// the zero time and false if the queue is empty.
func (q *TimerQueue) NextDeadline() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return time.Time{}, false
	}
	return q.heap[0].when, true
}

// ProcessExpired pops every timer whose deadline has passed as of now,
// partitions them into (highest, normal batch, lowest) per the two-slot
// policy, invokes them in that order, then re-inserts repeating timers.
// Cancelled (inactive) timers are dropped without being invoked.
func (q *TimerQueue) ProcessExpired(now time.Time) {
	var highestT, lowestT *timer
	var batch []*timer

	q.mu.Lock()
	for len(q.heap) > 0 && q.heap[0].when.Before(now) {
		t := heap.Pop(&q.heap).(*timer)
		switch {
		case t.highest && highestT == nil:
			highestT = t
		case t.lowest && lowestT == nil:
			lowestT = t
		default:
			batch = append(batch, t)
		}
	}
	q.mu.Unlock()

	run := func(t *timer) {
		q.mu.Lock()
		_, ok := q.active[t.id]
		q.mu.Unlock()
		if !ok {
			return
		}
		t.cb(t.id)
		q.reinsertIfRepeating(t, now)
	}

	if highestT != nil {
		run(highestT)
	}
	for _, t := range batch {
		run(t)
	}
	if lowestT != nil {
		run(lowestT)
	}
}

func (q *TimerQueue) reinsertIfRepeating(t *timer, now time.Time) {
	if !t.repeat {
		q.mu.Lock()
		delete(q.active, t.id)
		q.mu.Unlock()
		return
	}
	t.restart(now)
	q.mu.Lock()
	if _, ok := q.active[t.id]; ok {
		heap.Push(&q.heap, t)
	}
	q.mu.Unlock()
}
