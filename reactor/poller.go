// Package reactor implements the event loop core: Loop, Poller backends,
// Channel, and TimerQueue. Poller backends live in platform-specific files
// (poller_linux.go for epoll, poller_darwin.go for kqueue, poller_windows.go
// for a select-based fallback), behind the single Poller interface defined
// here so the Loop never branches on platform.
package reactor

// Poller is the abstraction over the OS readiness primitive. Every method
// must be called only from the owning Loop's goroutine.
type Poller interface {
	// Update registers or mutates fd's interest mask.
	Update(ch *Channel)
	// Remove unsubscribes fd. ch's interest mask must already be empty.
	Remove(ch *Channel)
	// Poll blocks up to timeoutMs and returns the channels that became
	// ready, each with its received-event mask already recorded via
	// setRevents.
	Poll(timeoutMs int) ([]*Channel, error)
	// Close releases the underlying OS resource.
	Close() error
}
