package manager

import (
	"fmt"
	"sort"
	"sync"
)

// inflight is the registry of admitted generations keyed by request ID.
type inflight struct {
	mu      sync.Mutex
	entries map[string]*ActiveGeneration
}

func newInflight() *inflight {
	return &inflight{entries: make(map[string]*ActiveGeneration)}
}

func (r *inflight) add(g *ActiveGeneration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[g.RequestID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRequest, g.RequestID)
	}
	r.entries[g.RequestID] = g
	return nil
}

// remove deletes g if it is still the registered entry for its ID.
// Removing an unknown or replaced entry is a no-op.
func (r *inflight) remove(g *ActiveGeneration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[g.RequestID]; ok && cur == g {
		delete(r.entries, g.RequestID)
		return true
	}
	return false
}

func (r *inflight) get(id string) (*ActiveGeneration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.entries[id]
	return g, ok
}

func (r *inflight) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// list returns entries oldest first.
func (r *inflight) list() []*ActiveGeneration {
	r.mu.Lock()
	out := make([]*ActiveGeneration, 0, len(r.entries))
	for _, g := range r.entries {
		out = append(out, g)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
