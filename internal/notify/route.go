package notify

import "sync"

// RouteTracker holds the route the user is currently viewing.
type RouteTracker struct {
	mu    sync.RWMutex
	route string
}

// NewRouteTracker creates a tracker with no route.
func NewRouteTracker() *RouteTracker {
	return &RouteTracker{}
}

// Set records the current route.
func (r *RouteTracker) Set(route string) {
	r.mu.Lock()
	r.route = route
	r.mu.Unlock()
}

// Current returns the current route.
func (r *RouteTracker) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.route
}
