package wheel

import (
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/netreactor/reactor"
	"github.com/stretchr/testify/require"
)

type countingEntry struct {
	mu     *sync.Mutex
	count  *int
	signal chan struct{}
}

func newCountingEntry() (countingEntry, *int) {
	n := 0
	return countingEntry{mu: &sync.Mutex{}, count: &n, signal: make(chan struct{}, 1)}, &n
}

func (e countingEntry) Expire() {
	e.mu.Lock()
	*e.count++
	e.mu.Unlock()
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func runLoop(t *testing.T) (*reactor.Loop, func()) {
	t.Helper()
	loop, err := reactor.New(reactor.WithMaxPollTimeout(20 * time.Millisecond))
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		_ = loop.Run()
		close(done)
	}()
	return loop, func() {
		loop.Quit()
		<-done
		_ = loop.Close()
	}
}

func TestWheelExpiresEntryAfterDelay(t *testing.T) {
	t.Parallel()
	loop, stop := runLoop(t)
	defer stop()

	w := New(loop, 5*time.Second, 10*time.Millisecond, 10)
	entry, count := newCountingEntry()

	w.Insert(30*time.Millisecond, entry)

	select {
	case <-entry.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("entry never expired")
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	require.Equal(t, 1, *count)
}

func TestWheelBridgesLongDelayAcrossRings(t *testing.T) {
	t.Parallel()
	loop, stop := runLoop(t)
	defer stop()

	// bucketsNumPerQueue=4 with a 5ms tick gives ring 0 a max span of 20ms,
	// so a 60ms delay must bridge through ring 1.
	w := New(loop, time.Second, 5*time.Millisecond, 4)
	require.GreaterOrEqual(t, len(w.queues), 2)

	entry, count := newCountingEntry()
	w.Insert(60*time.Millisecond, entry)

	select {
	case <-entry.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("bridged entry never expired")
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	require.Equal(t, 1, *count)
}

func TestWheelCloseExpiresOutstandingEntries(t *testing.T) {
	t.Parallel()
	loop, err := reactor.New(reactor.WithMaxPollTimeout(20 * time.Millisecond))
	require.NoError(t, err)

	var w *Wheel
	entry, count := newCountingEntry()

	ready := make(chan struct{})
	loop.RunOnQuit(func() {
		w.Close()
	})
	go func() {
		_ = loop.Run()
	}()
	loop.RunInLoop(func() {
		w = New(loop, time.Hour, time.Minute, 10)
		w.Insert(30*time.Minute, entry)
		close(ready)
	})
	<-ready
	time.Sleep(10 * time.Millisecond)

	loop.Quit()
	<-entry.signal

	entry.mu.Lock()
	defer entry.mu.Unlock()
	require.Equal(t, 1, *count)
	_ = loop.Close()
}

func TestWheelNonPositiveDelayIsNoop(t *testing.T) {
	t.Parallel()
	loop, stop := runLoop(t)
	defer stop()

	w := New(loop, time.Second, 10*time.Millisecond, 10)
	entry, count := newCountingEntry()
	w.Insert(0, entry)
	w.Insert(-time.Second, entry)

	time.Sleep(50 * time.Millisecond)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	require.Equal(t, 0, *count)
}
