package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Retry-After hints attached to rejections.
const (
	overloadRetryAfter     = 5 * time.Second
	backpressureRetryAfter = time.Second
)

// AdmissionController gates generations: a host-load check, then one of
// Slots concurrency slots, with at most QueueSize callers waiting for a slot.
// Waiters hold no slot and are served FIFO.
type AdmissionController struct {
	probe     LoadProbe
	sem       *semaphore.Weighted
	slots     int
	queueSize int64
	maxWait   time.Duration

	queued  atomic.Int64
	running atomic.Int64
}

// NewAdmissionController returns a controller with slots concurrency slots
// (at least 1) and a backlog of queueSize. maxWait bounds the time spent in
// the backlog; 0 waits until ctx is done.
func NewAdmissionController(slots, queueSize int, maxWait time.Duration, probe LoadProbe) *AdmissionController {
	if slots < 1 {
		slots = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if probe == nil {
		probe = noLoadProbe{}
	}
	return &AdmissionController{
		probe:     probe,
		sem:       semaphore.NewWeighted(int64(slots)),
		slots:     slots,
		queueSize: int64(queueSize),
		maxWait:   maxWait,
	}
}

// Admit blocks until a slot is granted, the request is rejected, or ctx is
// done. On success it returns a release func that frees the slot; calling it
// more than once is safe.
func (a *AdmissionController) Admit(ctx context.Context) (func(), error) {
	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r := a.probe.CheckLoad(); r.Overloaded {
		return nil, &AdmissionRejected{Reason: ReasonHostOverloaded, RetryAfter: overloadRetryAfter}
	}
	if a.sem.TryAcquire(1) {
		return a.granted(), nil
	}
	if !a.reserveBacklog() {
		return nil, &AdmissionRejected{Reason: ReasonBackpressureRejected, RetryAfter: backpressureRetryAfter}
	}
	defer a.queued.Add(-1)

	wctx := ctx
	if a.maxWait > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, a.maxWait)
		defer cancel()
	}
	if err := a.sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &AdmissionRejected{Reason: ReasonBackpressureRejected, RetryAfter: backpressureRetryAfter}
	}
	return a.granted(), nil
}

func (a *AdmissionController) reserveBacklog() bool {
	for {
		n := a.queued.Load()
		if n >= a.queueSize {
			return false
		}
		if a.queued.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (a *AdmissionController) granted() func() {
	a.running.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			a.running.Add(-1)
			a.sem.Release(1)
		})
	}
}

// Running is the number of slots currently held.
func (a *AdmissionController) Running() int { return int(a.running.Load()) }

// Queued is the number of callers waiting for a slot.
func (a *AdmissionController) Queued() int { return int(a.queued.Load()) }

func (a *AdmissionController) Slots() int { return a.slots }

func (a *AdmissionController) QueueSize() int { return int(a.queueSize) }

// Probe returns the current host-load report.
func (a *AdmissionController) Probe() LoadReport { return a.probe.CheckLoad() }
