package reactor

import "sync"

// Registry tracks a set of running loops so a supervisor can quit all of
// them at once, grounded on original_source/netpoll/wrap/eventloop_wrap.cc's
// QuitAllEventLoop(), which iterates a process-wide registry.
type Registry struct {
	mu    sync.Mutex
	loops []*Loop
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry { return &Registry{} }

// Register adds loop to the registry.
func (r *Registry) Register(loop *Loop) {
	r.mu.Lock()
	r.loops = append(r.loops, loop)
	r.mu.Unlock()
}

// QuitAll calls Quit on every registered loop.
func (r *Registry) QuitAll() {
	r.mu.Lock()
	loops := append([]*Loop(nil), r.loops...)
	r.mu.Unlock()
	for _, l := range loops {
		l.Quit()
	}
}
