package session

import "sync"

// Factory builds a controller for a tenant. Wiring (dispatcher, identity,
// change-feed subscription) lives with the caller.
type Factory func(tenantID string) *Controller

// Registry hands out one controller per tenant, created lazily on first use.
// The single-session invariant is per dialer instance, which here means per
// tenant within this process.
type Registry struct {
	mu          sync.Mutex
	controllers map[string]*Controller
	factory     Factory
	closed      bool
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{
		controllers: make(map[string]*Controller),
		factory:     factory,
	}
}

// For returns the tenant's controller, creating it if needed.
func (r *Registry) For(tenantID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[tenantID]; ok {
		return c
	}
	c := r.factory(tenantID)
	if !r.closed {
		r.controllers[tenantID] = c
	}
	return c
}

// CountByState reports how many live controllers sit in each state.
// Used by the metrics collector at scrape time.
func (r *Registry) CountByState() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int)
	for _, c := range r.controllers {
		out[string(c.Snapshot().State)]++
	}
	return out
}

// Close stops every controller. Subsequent For calls still return a working
// controller but it is not retained.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, c := range r.controllers {
		c.Stop()
	}
	r.controllers = make(map[string]*Controller)
}
