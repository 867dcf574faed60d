package resolver

import "sync"

// LinkInfo is the operational view of a port or LAG published by its
// orchestrator and consumed by interface and sub-interface resolution.
type LinkInfo struct {
	MTU     int
	AdminUp bool
	// Ready is set once the link's hardware object exists.
	Ready bool
	// Lag names the port channel a port is a member of.
	Lag string
}

type linkRegistry struct {
	mu    sync.RWMutex
	links map[string]LinkInfo
}

func newLinkRegistry() *linkRegistry {
	return &linkRegistry{links: make(map[string]LinkInfo)}
}

// SetLink publishes a link's attributes and notifies link:<alias> when
// they changed.
func (r *Resolver) SetLink(alias string, info LinkInfo) {
	r.links.mu.Lock()
	prev, ok := r.links.links[alias]
	r.links.links[alias] = info
	r.links.mu.Unlock()

	if !ok || prev != info {
		r.Notify("link:" + alias)
	}
}

// UpdateLink applies fn to the current attributes of alias.
func (r *Resolver) UpdateLink(alias string, fn func(*LinkInfo)) {
	r.links.mu.Lock()
	prev, ok := r.links.links[alias]
	next := prev
	fn(&next)
	r.links.links[alias] = next
	r.links.mu.Unlock()

	if !ok || prev != next {
		r.Notify("link:" + alias)
	}
}

// ClearLink forgets a link.
func (r *Resolver) ClearLink(alias string) {
	r.links.mu.Lock()
	_, ok := r.links.links[alias]
	delete(r.links.links, alias)
	r.links.mu.Unlock()

	if ok {
		r.Notify("link:" + alias)
	}
}

// Link returns the published attributes of a port or LAG.
func (r *Resolver) Link(alias string) (LinkInfo, bool) {
	r.links.mu.RLock()
	defer r.links.mu.RUnlock()
	info, ok := r.links.links[alias]
	return info, ok
}
