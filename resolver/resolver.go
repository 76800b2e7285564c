// Package resolver implements hostname-to-address resolution with a
// TTL'd cache and a single background worker, grounded on
// original_source/netpoll/net/inner/resolver_impl.h/.cc.
package resolver

import (
	"net"
	"sync"
	"time"

	"github.com/joeycumines/netreactor/netaddr"
)

// Callback receives the resolved address, or netaddr.Unspecified() if
// resolution failed.
type Callback func(addr netaddr.Addr)

type cacheEntry struct {
	addr   netaddr.Addr
	stored time.Time
}

// Resolver caches successful lookups for timeout (0 means cache forever,
// matching the original's m_timeout==0 special case) and serializes actual
// getaddrinfo-equivalent work onto a single background goroutine, mirroring
// ResolverImpl's single-worker ConcurrentTaskQueue. Negative results are
// never cached.
type Resolver struct {
	timeout time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry

	tasks chan func()
	once  sync.Once
	done  chan struct{}
}

// New constructs a Resolver and starts its background worker. timeout<=0
// means cached entries never expire.
func New(timeout time.Duration) *Resolver {
	r := &Resolver{
		timeout: timeout,
		cache:   make(map[string]cacheEntry),
		tasks:   make(chan func(), 64),
		done:    make(chan struct{}),
	}
	go r.worker()
	return r
}

func (r *Resolver) worker() {
	for {
		select {
		case fn, ok := <-r.tasks:
			if !ok {
				close(r.done)
				return
			}
			fn()
		}
	}
}

// Close stops the background worker and blocks until it exits. Tasks
// already queued are still run before the worker exits.
func (r *Resolver) Close() {
	r.once.Do(func() { close(r.tasks) })
	<-r.done
}

// Resolve looks up hostname, preferring a still-fresh cache entry, and
// invokes cb exactly once with the result. On a cache hit cb runs
// synchronously on the caller's goroutine; otherwise it runs on the
// resolver's background goroutine.
func (r *Resolver) Resolve(hostname string, cb Callback) {
	if addr, ok := r.lookupCache(hostname); ok {
		cb(addr)
		return
	}

	select {
	case r.tasks <- func() { r.resolveTask(hostname, cb) }:
	case <-r.done:
		cb(netaddr.Unspecified())
	}
}

// SyncResolve blocks until hostname has been resolved (or failed to
// resolve), mirroring ResolverImpl::syncResolve's promise/future pairing.
func (r *Resolver) SyncResolve(hostname string) netaddr.Addr {
	result := make(chan netaddr.Addr, 1)
	r.Resolve(hostname, func(addr netaddr.Addr) { result <- addr })
	return <-result
}

func (r *Resolver) lookupCache(hostname string) (netaddr.Addr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[hostname]
	if !ok {
		return netaddr.Addr{}, false
	}
	if r.timeout > 0 && time.Since(entry.stored) > r.timeout {
		return netaddr.Addr{}, false
	}
	return entry.addr, true
}

func (r *Resolver) resolveTask(hostname string, cb Callback) {
	// Re-check the cache: another queued lookup for the same hostname may
	// have populated it while this task waited its turn.
	if addr, ok := r.lookupCache(hostname); ok {
		cb(addr)
		return
	}

	ips, err := net.LookupIP(hostname)
	if err != nil || len(ips) == 0 {
		cb(netaddr.Unspecified())
		return
	}

	addr, convErr := netaddr.FromIPPort(ips[0].String(), 0)
	if convErr != nil {
		cb(netaddr.Unspecified())
		return
	}

	r.mu.Lock()
	r.cache[hostname] = cacheEntry{addr: addr, stored: time.Now()}
	r.mu.Unlock()

	cb(addr)
}
