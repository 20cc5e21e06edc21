package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func overloaded() LoadReport { return LoadReport{Overloaded: true, Utilization: 3.5} }

func TestAdmit_HostOverloadedTouchesNothing(t *testing.T) {
	fm := &fakeModel{tokens: []string{"x"}}
	pub := NewMemoryPublisher()
	m := newTestManager(t, fm, ManagerConfig{LoadProbe: LoadProbeFunc(overloaded), Publisher: pub})

	_, err := m.Generate(testCtx(t), "hi", Options{})
	var rej *AdmissionRejected
	if !errors.As(err, &rej) || rej.Reason != ReasonHostOverloaded {
		t.Fatalf("expected host_overloaded rejection, got %v", err)
	}
	if rej.RetryAfter <= 0 {
		t.Fatalf("expected a retry-after hint")
	}
	if m.adm.Running() != 0 || m.active.len() != 0 || fm.calls.Load() != 0 {
		t.Fatalf("overload rejection touched state: running=%d active=%d calls=%d", m.adm.Running(), m.active.len(), fm.calls.Load())
	}
	if pub.Count(EventAdmissionRejected) != 1 {
		t.Fatalf("expected admission_rejected event")
	}
	if s := m.Stats(); s.TotalCalls != 0 {
		t.Fatalf("rejections must not count as calls: %+v", s)
	}
}

func TestAdmit_QueueOfTwoWithOneSlot(t *testing.T) {
	fm := &fakeModel{tokens: []string{"done"}, block: make(chan struct{})}
	m := newTestManager(t, fm, ManagerConfig{MaxConcurrency: 1, QueueSize: 2})
	ctx := testCtx(t)

	var wg sync.WaitGroup
	var rejected, succeeded atomic.Int32
	var other atomic.Value
	run := func() {
		defer wg.Done()
		_, err := m.Generate(ctx, "p", Options{})
		switch {
		case err == nil:
			succeeded.Add(1)
		case IsAdmissionRejected(err):
			var rej *AdmissionRejected
			errors.As(err, &rej)
			if rej.Reason == ReasonBackpressureRejected {
				rejected.Add(1)
				return
			}
			other.Store(err)
		default:
			other.Store(err)
		}
	}

	wg.Add(1)
	go run()
	waitFor(t, "first request running", func() bool { return fm.running.Load() == 1 })

	wg.Add(3)
	for i := 0; i < 3; i++ {
		go run()
	}
	waitFor(t, "two queued and one rejected", func() bool {
		return m.adm.Queued() == 2 && rejected.Load() == 1
	})
	if got := m.adm.Running(); got != 1 {
		t.Fatalf("running=%d want 1", got)
	}
	if got := m.active.len(); got != 1 {
		t.Fatalf("queued requests must not be registered: active=%d", got)
	}

	closeOnce(fm.block)
	wg.Wait()
	if v := other.Load(); v != nil {
		t.Fatalf("unexpected error: %v", v)
	}
	if succeeded.Load() != 3 || rejected.Load() != 1 {
		t.Fatalf("succeeded=%d rejected=%d", succeeded.Load(), rejected.Load())
	}
	if fm.maxRunning.Load() != 1 {
		t.Fatalf("max concurrent model calls=%d want 1", fm.maxRunning.Load())
	}
}

func TestAdmit_ConcurrencyBoundUnderBurst(t *testing.T) {
	fm := &fakeModel{tokens: []string{"x"}, delay: 10 * time.Millisecond}
	m := newTestManager(t, fm, ManagerConfig{MaxConcurrency: 3, QueueSize: 64})
	ctx := testCtx(t)

	var peak atomic.Int32
	fm.onEnter = func() {
		n := int32(m.active.len())
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				return
			}
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Generate(ctx, "p", Options{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
	}
	if got := fm.maxRunning.Load(); got > 3 {
		t.Fatalf("model saw %d concurrent calls, bound is 3", got)
	}
	if peak.Load() > 3 {
		t.Fatalf("registry held %d entries, bound is 3", peak.Load())
	}
	if s := m.Stats(); s.SuccessfulCalls != 40 {
		t.Fatalf("stats: %+v", s)
	}
}

func TestAdmit_MaxQueueWaitRejects(t *testing.T) {
	a := NewAdmissionController(1, 4, 30*time.Millisecond, nil)
	release, err := a.Admit(context.Background())
	if err != nil {
		t.Fatalf("first admit: %v", err)
	}
	defer release()

	start := time.Now()
	_, err = a.Admit(context.Background())
	var rej *AdmissionRejected
	if !errors.As(err, &rej) || rej.Reason != ReasonBackpressureRejected {
		t.Fatalf("expected backpressure after max wait, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("max wait not honoured")
	}
	if a.Queued() != 0 {
		t.Fatalf("backlog not released: %d", a.Queued())
	}
}

func TestAdmit_CancelWhileQueued(t *testing.T) {
	a := NewAdmissionController(1, 1, 0, nil)
	release, err := a.Admit(context.Background())
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := a.Admit(ctx)
		errc <- err
	}()
	waitFor(t, "queued", func() bool { return a.Queued() == 1 })
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if a.Queued() != 0 {
		t.Fatalf("backlog not released")
	}

	release()
	release() // idempotent
	if a.Running() != 0 {
		t.Fatalf("running=%d", a.Running())
	}
	r2, err := a.Admit(context.Background())
	if err != nil {
		t.Fatalf("slot not freed: %v", err)
	}
	r2()
}

func TestAdmit_ZeroQueueRejectsImmediately(t *testing.T) {
	a := NewAdmissionController(1, 0, 0, nil)
	release, _ := a.Admit(context.Background())
	defer release()
	if _, err := a.Admit(context.Background()); !IsAdmissionRejected(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
}
