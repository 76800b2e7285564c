package reactor

import "sync"

// LoopThread spawns a goroutine that owns exactly one Loop, grounded on
// original_source/netpoll/net/eventloop_thread.cc: Start blocks until the
// owned loop has been constructed and is about to start running, so Loop()
// is non-nil once Start has returned successfully.
type LoopThread struct {
	opts []Option
	loop *Loop
	done chan struct{}
	wg   sync.WaitGroup
}

// NewLoopThread constructs (but does not start) a LoopThread.
func NewLoopThread(opts ...Option) *LoopThread {
	return &LoopThread{opts: opts, done: make(chan struct{})}
}

// Start spawns the owning goroutine and blocks until its Loop is ready.
func (t *LoopThread) Start() (*Loop, error) {
	ready := make(chan error, 1)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		loop, err := New(t.opts...)
		if err != nil {
			ready <- err
			return
		}
		t.loop = loop
		ready <- nil
		_ = loop.Run()
		close(t.done)
	}()
	if err := <-ready; err != nil {
		return nil, err
	}
	return t.loop, nil
}

// Loop returns the owned loop, valid once Start has returned successfully.
func (t *LoopThread) Loop() *Loop { return t.loop }

// Stop quits the owned loop and waits for its goroutine to exit.
func (t *LoopThread) Stop() {
	if t.loop != nil {
		t.loop.Quit()
	}
	t.wg.Wait()
}

// LoopThreadPool spawns N LoopThreads and round-robins Next across
// them. A pool of size 0 always returns the supplied base loop, matching
// original_source/netpoll/net/eventloop_threadpool.cc's fallback.
type LoopThreadPool struct {
	base    *Loop
	threads []*LoopThread
	loops   []*Loop
	next    int
	mu      sync.Mutex
}

// NewLoopThreadPool constructs a pool of size additional loops on top of
// base, which also serves as the sole loop when size is 0.
func NewLoopThreadPool(base *Loop, size int, opts ...Option) (*LoopThreadPool, error) {
	p := &LoopThreadPool{base: base}
	for i := 0; i < size; i++ {
		th := NewLoopThread(opts...)
		loop, err := th.Start()
		if err != nil {
			p.Stop()
			return nil, err
		}
		p.threads = append(p.threads, th)
		p.loops = append(p.loops, loop)
	}
	return p, nil
}

// Next returns the next loop in round-robin order (or the base loop if
// the pool has no additional threads).
func (p *LoopThreadPool) Next() *Loop {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loops) == 0 {
		return p.base
	}
	l := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return l
}

// All returns every loop the pool round-robins across (excluding base),
// or a single-element slice containing base if the pool has no threads.
func (p *LoopThreadPool) All() []*Loop {
	if len(p.loops) == 0 {
		return []*Loop{p.base}
	}
	return append([]*Loop(nil), p.loops...)
}

// Stop quits and joins every owned thread (not the base loop, which the
// caller owns).
func (p *LoopThreadPool) Stop() {
	for _, th := range p.threads {
		th.Stop()
	}
}
