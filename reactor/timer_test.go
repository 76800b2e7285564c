package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerQueueOrdersByDeadline(t *testing.T) {
	t.Parallel()
	q := NewTimerQueue()
	var order []int
	now := time.Now()
	q.Add(func(TimerID) { order = append(order, 3) }, now.Add(30*time.Millisecond), 0, false, false)
	q.Add(func(TimerID) { order = append(order, 1) }, now.Add(10*time.Millisecond), 0, false, false)
	q.Add(func(TimerID) { order = append(order, 2) }, now.Add(20*time.Millisecond), 0, false, false)

	q.ProcessExpired(now.Add(40 * time.Millisecond))
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestTimerQueueCancelSkipsCallback(t *testing.T) {
	t.Parallel()
	q := NewTimerQueue()
	called := false
	id := q.Add(func(TimerID) { called = true }, time.Now(), 0, false, false)
	q.Cancel(id)
	q.ProcessExpired(time.Now().Add(time.Millisecond))
	require.False(t, called)
}

func TestTimerQueueHighestRunsBeforeBatch(t *testing.T) {
	t.Parallel()
	q := NewTimerQueue()
	var order []string
	now := time.Now()
	q.Add(func(TimerID) { order = append(order, "normal") }, now, 0, false, false)
	q.Add(func(TimerID) { order = append(order, "highest") }, now, 0, true, false)
	q.Add(func(TimerID) { order = append(order, "lowest") }, now, 0, false, true)

	q.ProcessExpired(now.Add(time.Millisecond))
	require.Equal(t, []string{"highest", "normal", "lowest"}, order)
}

// TestTimerQueueTwoHighestInSameTickBothRun exercises SPEC_FULL.md §4.11
// item 1's resolution of the original source's ambiguous "second
// highest-priority timer silently replaces the first" behavior: here
// every expired timer, including a second highest-priority one in the
// same tick, is invoked exactly once.
func TestTimerQueueTwoHighestInSameTickBothRun(t *testing.T) {
	t.Parallel()
	q := NewTimerQueue()
	var fired []int
	now := time.Now()
	q.Add(func(TimerID) { fired = append(fired, 1) }, now, 0, true, false)
	q.Add(func(TimerID) { fired = append(fired, 2) }, now, 0, true, false)

	q.ProcessExpired(now.Add(time.Millisecond))
	require.ElementsMatch(t, []int{1, 2}, fired)
	require.Len(t, fired, 2)
}

func TestTimerQueueRepeatingReinsertsAfterFiring(t *testing.T) {
	t.Parallel()
	q := NewTimerQueue()
	count := 0
	now := time.Now()
	id := q.Add(func(TimerID) { count++ }, now, 5*time.Millisecond, false, false)

	q.ProcessExpired(now.Add(time.Millisecond))
	require.Equal(t, 1, count)

	next, ok := q.NextDeadline()
	require.True(t, ok)
	require.True(t, next.After(now))

	q.Cancel(id)
	q.ProcessExpired(next.Add(time.Millisecond))
	require.Equal(t, 1, count, "cancelled repeating timer must not fire again")
}

func TestTimerBothHighestAndLowestPanics(t *testing.T) {
	t.Parallel()
	q := NewTimerQueue()
	require.Panics(t, func() {
		q.Add(func(TimerID) {}, time.Now(), 0, true, true)
	})
}
