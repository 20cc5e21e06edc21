package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of one generation.
type State string

const (
	StateQueued    State = "queued"
	StateAdmitted  State = "admitted"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateTimedOut  State = "timed_out"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateReclaimed State = "reclaimed"
)

// Terminal reports whether s ends a generation.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateTimedOut, StateFailed, StateCancelled, StateReclaimed:
		return true
	}
	return false
}

// Options are the per-request generation knobs.
type Options struct {
	ID          string
	MaxTokens   int
	Temperature float64
	TopP        float64
	Stop        []string
	Seed        int
	Priority    int
}

// GenerationRequest is a request as owned by the manager after admission.
type GenerationRequest struct {
	ID          string
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        float64
	Stop        []string
	Seed        int
	Priority    int
	SubmittedAt time.Time
}

// ActiveGeneration is an admitted request in the in-flight registry. Its
// terminal transition runs exactly once, whichever of the worker path, the
// caller, the timeout or the monitor gets there first.
type ActiveGeneration struct {
	RequestID string
	StartedAt time.Time
	Streaming bool

	state      atomic.Value // State
	cancel     context.CancelFunc
	unregister func(*ActiveGeneration)
	release    func()
	once       sync.Once
	done       chan struct{}
}

func newActiveGeneration(id string, streaming bool, cancel context.CancelFunc, release func()) *ActiveGeneration {
	g := &ActiveGeneration{
		RequestID: id,
		StartedAt: time.Now(),
		Streaming: streaming,
		cancel:    cancel,
		release:   release,
		done:      make(chan struct{}),
	}
	g.state.Store(StateAdmitted)
	return g
}

// State returns the current state.
func (g *ActiveGeneration) State() State { return g.state.Load().(State) }

// Done is closed once the generation reached a terminal state.
func (g *ActiveGeneration) Done() <-chan struct{} { return g.done }

// Age is the time since admission.
func (g *ActiveGeneration) Age(now time.Time) time.Duration { return now.Sub(g.StartedAt) }

func (g *ActiveGeneration) markRunning() {
	g.state.CompareAndSwap(StateAdmitted, StateRunning)
}

// finish moves g to a terminal state, cancels the worker, removes it from
// the registry and releases the slot. It reports whether this call
// performed the transition.
func (g *ActiveGeneration) finish(s State) bool {
	won := false
	g.once.Do(func() {
		won = true
		g.state.Store(s)
		if g.cancel != nil {
			g.cancel()
		}
		// Unregister before the slot frees: running entries <= slots.
		if g.unregister != nil {
			g.unregister(g)
		}
		if g.release != nil {
			g.release()
		}
		close(g.done)
	})
	return won
}
