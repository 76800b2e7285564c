// Package wheel implements a hierarchical timing wheel: a low-accuracy,
// O(1)-insert alternative to a heap-based timer for tracking large numbers
// of coarse-grained deadlines (idle-connection kickoff being the primary
// use case), grounded on
// original_source/netpoll/net/inner/timing_wheel.h/.cc.
//
// Go has no destructors, so the original's refcounted CallbackEntry (whose
// ~CallbackEntry fires the callback on last release) is replaced with an
// explicit Entry interface: Expire is invoked directly, once, either when a
// bucket is rotated out of the wheel or when the wheel itself is closed.
package wheel

import (
	"time"

	"github.com/joeycumines/netreactor/reactor"
)

// DefaultBucketsNumPerQueue matches the original's
// TIMING_BUCKET_NUM_PER_WHEEL.
const DefaultBucketsNumPerQueue = 100

// DefaultTickInterval matches the original's TIMING_TICK_INTERVAL.
const DefaultTickInterval = time.Second

// Entry is anything a Wheel can track. Expire is called at most once, from
// the owning loop's goroutine, when the entry's bucket rotates out (or the
// wheel is closed with entries still pending).
type Entry interface {
	Expire()
}

// EntryFunc adapts a plain function to Entry, mirroring the original's
// CallbackEntry (a one-shot std::function wrapper).
type EntryFunc func()

func (f EntryFunc) Expire() { f() }

type bucket map[Entry]struct{}

// Wheel is a hierarchical ring of buckets rotated by a lowest-priority
// repeating timer on an *reactor.Loop. Each additional queue trades
// precision for a longer maximum delay: queue i can hold delays up to
// bucketsNumPerQueue^(i+1) ticks, with the longest queue bridging
// over-long delays through intermediate EntryFunc hops exactly as the
// original does.
type Wheel struct {
	loop                 *reactor.Loop
	queues               []queue
	ticksCounter         uint64
	ticksInterval        time.Duration
	bucketsNumPerQueue   int
	timerID              reactor.TimerID
	closed               bool
}

// queue is a fixed-size front/back rotating buffer of buckets, mirroring
// the original's BucketQueue (a std::deque<EntryBucket>).
type queue struct {
	buckets []bucket
}

func newQueue(size int) queue {
	q := queue{buckets: make([]bucket, size)}
	for i := range q.buckets {
		q.buckets[i] = make(bucket)
	}
	return q
}

// rotate drops the front bucket, appends a fresh empty one at the back, and
// returns the dropped bucket's entries so the caller can expire them.
func (q *queue) rotate() bucket {
	old := q.buckets[0]
	copy(q.buckets, q.buckets[1:])
	q.buckets[len(q.buckets)-1] = make(bucket)
	return old
}

// New constructs a Wheel bound to loop, sized to hold delays up to
// maxTimeout at ticksInterval resolution with bucketsNumPerQueue buckets
// per ring. The wheel starts rotating immediately via a lowest-priority
// repeating timer on loop.
func New(loop *reactor.Loop, maxTimeout time.Duration, ticksInterval time.Duration, bucketsNumPerQueue int) *Wheel {
	if ticksInterval <= 0 {
		ticksInterval = DefaultTickInterval
	}
	if bucketsNumPerQueue <= 1 {
		bucketsNumPerQueue = DefaultBucketsNumPerQueue
	}

	maxTicks := int64(maxTimeout / ticksInterval)
	ticksNum := int64(bucketsNumPerQueue)
	queueNum := 1
	for maxTicks > ticksNum {
		queueNum++
		ticksNum *= int64(bucketsNumPerQueue)
	}

	w := &Wheel{
		loop:               loop,
		ticksInterval:      ticksInterval,
		bucketsNumPerQueue: bucketsNumPerQueue,
	}
	w.queues = make([]queue, queueNum)
	for i := range w.queues {
		w.queues[i] = newQueue(bucketsNumPerQueue)
	}

	w.timerID = loop.RunEvery(ticksInterval, func(reactor.TimerID) { w.rotate() }, false, true)
	return w
}

// rotate advances the wheel by one tick, dropping and re-expiring any
// bucket whose ring has come back around, exactly mirroring the
// "t % pow == 0" cascading logic of the original's lambda.
func (w *Wheel) rotate() {
	w.loop.AssertInLoopThread()
	w.ticksCounter++
	t := w.ticksCounter
	pow := uint64(1)
	for i := range w.queues {
		if t%pow == 0 {
			dropped := w.queues[i].rotate()
			for e := range dropped {
				e.Expire()
			}
		}
		pow *= uint64(w.bucketsNumPerQueue)
	}
}

// Insert schedules entry to expire after delay elapses, rounding up to the
// next whole tick. A non-positive delay is a no-op (matching the
// original's insertEntry early return), not an immediate expiry: callers
// that want immediate expiry should call Expire directly. Safe to call
// from any goroutine; the actual bucket placement always runs on the
// owning loop.
func (w *Wheel) Insert(delay time.Duration, entry Entry) {
	if delay <= 0 || entry == nil {
		return
	}
	w.loop.RunInLoop(func() { w.insertInLoop(delay, entry) })
}

func (w *Wheel) insertInLoop(delay time.Duration, entry Entry) {
	w.loop.AssertInLoopThread()

	ticks := int64(delay / w.ticksInterval)
	if delay%w.ticksInterval != 0 {
		ticks++
	}
	if ticks <= 0 {
		ticks = 1
	}

	buckets := int64(w.bucketsNumPerQueue)
	t := int64(w.ticksCounter)

	for i := range w.queues {
		if ticks <= buckets {
			w.queues[i].buckets[ticks-1][entry] = struct{}{}
			return
		}
		if i < len(w.queues)-1 {
			// Delay outgrows this ring: wrap the entry in a bridging entry
			// that the next ring holds; when the bridge's bucket rotates
			// out, it computes the real remaining offset and re-inserts
			// the original entry into this ring.
			capturedTicks, capturedT, capturedI, capturedEntry := ticks, t, i, entry
			entry = EntryFunc(func() {
				if capturedTicks > 0 {
					idx := (capturedTicks + capturedT%buckets - 1) % buckets
					w.queues[capturedI].buckets[idx][capturedEntry] = struct{}{}
				}
			})
		} else {
			// Longest ring still isn't enough: park at its farthest bucket.
			w.queues[i].buckets[buckets-1][entry] = struct{}{}
		}
		ticks = (ticks + t%buckets - 1) / buckets
		t /= buckets
	}
}

// Close stops the wheel's rotation timer and expires every entry still
// pending in any bucket, mirroring the original destructor's reverse
// clear() pass (which drops the buckets' shared_ptr references, running
// any CallbackEntry destructors still outstanding). Must be called from
// the owning loop's goroutine.
func (w *Wheel) Close() {
	w.loop.AssertInLoopThread()
	if w.closed {
		return
	}
	w.closed = true
	w.loop.CancelTimer(w.timerID)
	for i := len(w.queues) - 1; i >= 0; i-- {
		for _, b := range w.queues[i].buckets {
			for e := range b {
				e.Expire()
			}
		}
	}
}
