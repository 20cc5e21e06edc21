// Package stats aggregates per-resource call counters for the inference core
// and the retry engine. Entries are created on first use and live for the
// lifetime of the process; Reset zeroes them without removing the entry.
package stats

import (
	"sort"
	"sync"
	"time"
)

// Well-known resource names.
const (
	ResourceInference = "inference"
)

// Outcome describes one completed call against a named resource.
type Outcome struct {
	Success   bool
	Attempts  int
	RetryTime time.Duration
	Latency   time.Duration
}

// ServiceStats is a read-only snapshot of one resource's counters.
type ServiceStats struct {
	Name            string        `json:"name"`
	TotalCalls      int64         `json:"total_calls"`
	SuccessfulCalls int64         `json:"successful_calls"`
	FailedCalls     int64         `json:"failed_calls"`
	TotalAttempts   int64         `json:"total_attempts"`
	TotalRetryTime  time.Duration `json:"total_retry_time_ns"`
	TotalLatency    time.Duration `json:"total_latency_ns"`
	AverageAttempts float64       `json:"average_attempts"`
	AverageLatency  time.Duration `json:"average_latency_ns"`
	SuccessRate     float64       `json:"success_rate"`
	LastSuccessAt   time.Time     `json:"last_success_at,omitempty"`
	LastFailureAt   time.Time     `json:"last_failure_at,omitempty"`
}

type entry struct {
	mu sync.Mutex
	s  ServiceStats
}

func (e *entry) snapshot() ServiceStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.s
	if s.TotalCalls > 0 {
		s.AverageAttempts = float64(s.TotalAttempts) / float64(s.TotalCalls)
		s.AverageLatency = s.TotalLatency / time.Duration(s.TotalCalls)
		s.SuccessRate = float64(s.SuccessfulCalls) / float64(s.TotalCalls)
	}
	return s
}

// Registry holds ServiceStats entries keyed by resource name. It is safe for
// concurrent use; each entry has its own lock so completions on different
// resources never contend.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry), now: time.Now}
}

func (r *Registry) get(name string) *entry {
	r.mu.RLock()
	e := r.entries[name]
	r.mu.RUnlock()
	if e != nil {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e = r.entries[name]; e == nil {
		e = &entry{s: ServiceStats{Name: name}}
		r.entries[name] = e
	}
	return e
}

// Record applies one call outcome to the named resource.
func (r *Registry) Record(name string, o Outcome) {
	attempts := o.Attempts
	if attempts < 1 {
		attempts = 1
	}
	now := r.now()
	e := r.get(name)
	e.mu.Lock()
	e.s.TotalCalls++
	e.s.TotalAttempts += int64(attempts)
	e.s.TotalRetryTime += o.RetryTime
	e.s.TotalLatency += o.Latency
	if o.Success {
		e.s.SuccessfulCalls++
		e.s.LastSuccessAt = now
	} else {
		e.s.FailedCalls++
		e.s.LastFailureAt = now
	}
	e.mu.Unlock()
}

// Get returns the snapshot for name and whether the resource has been seen.
func (r *Registry) Get(name string) (ServiceStats, bool) {
	r.mu.RLock()
	e := r.entries[name]
	r.mu.RUnlock()
	if e == nil {
		return ServiceStats{Name: name}, false
	}
	return e.snapshot(), true
}

// Snapshot returns all entries ordered by name.
func (r *Registry) Snapshot() []ServiceStats {
	r.mu.RLock()
	out := make([]ServiceStats, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset zeroes the counters of one resource. Unknown names are a no-op.
func (r *Registry) Reset(name string) {
	r.mu.RLock()
	e := r.entries[name]
	r.mu.RUnlock()
	if e == nil {
		return
	}
	e.mu.Lock()
	e.s = ServiceStats{Name: name}
	e.mu.Unlock()
}

// ResetAll zeroes every entry.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	r.mu.RUnlock()
	for _, n := range names {
		r.Reset(n)
	}
}
