package manager

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGenerate_Success(t *testing.T) {
	fm := &fakeModel{tokens: []string{"hello", " world"}}
	pub := NewMemoryPublisher()
	m := newTestManager(t, fm, ManagerConfig{Publisher: pub})

	res, err := m.Run(testCtx(t), "say hi", Options{MaxTokens: 16})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Text != "hello world" {
		t.Fatalf("text: %q", res.Text)
	}
	if res.RequestID == "" {
		t.Fatalf("expected a generated request id")
	}
	if res.MaxTokens != 16 {
		t.Fatalf("max tokens: %d", res.MaxTokens)
	}
	s := m.Stats()
	if s.TotalCalls != 1 || s.SuccessfulCalls != 1 || s.FailedCalls != 0 {
		t.Fatalf("stats: %+v", s)
	}
	if pub.Count(EventGenerationStarted) != 1 || pub.Count(EventGenerationCompleted) != 1 {
		t.Fatalf("events: %+v", pub.Events())
	}
	if m.adm.Running() != 0 || m.active.len() != 0 {
		t.Fatalf("slot or entry leaked")
	}
}

func TestGenerate_KeepsCallerRequestID(t *testing.T) {
	fm := &fakeModel{tokens: []string{"x"}}
	m := newTestManager(t, fm, ManagerConfig{})
	res, err := m.Run(testCtx(t), "p", Options{ID: "req-42"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.RequestID != "req-42" {
		t.Fatalf("request id: %q", res.RequestID)
	}
}

func TestGenerate_ModelErrorIsGenerationFailed(t *testing.T) {
	boom := errors.New("kv cache exhausted")
	fm := &fakeModel{err: boom}
	pub := NewMemoryPublisher()
	m := newTestManager(t, fm, ManagerConfig{Publisher: pub})

	_, err := m.Generate(testCtx(t), "p", Options{})
	if !IsGenerationFailed(err) {
		t.Fatalf("expected GenerationFailed, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("cause not wrapped: %v", err)
	}
	if s := m.Stats(); s.FailedCalls != 1 || s.SuccessfulCalls != 0 {
		t.Fatalf("stats: %+v", s)
	}
	if pub.Count(EventGenerationFailed) != 1 {
		t.Fatalf("expected generation_failed event")
	}
	if m.adm.Running() != 0 || m.active.len() != 0 {
		t.Fatalf("slot or entry leaked")
	}
}

func TestGenerate_PanicIsGenerationFailed(t *testing.T) {
	fm := &fakeModel{panicMsg: "ggml assert"}
	m := newTestManager(t, fm, ManagerConfig{})

	_, err := m.Generate(testCtx(t), "p", Options{})
	if !IsGenerationFailed(err) {
		t.Fatalf("expected GenerationFailed, got %v", err)
	}
	if m.adm.Running() != 0 {
		t.Fatalf("slot leaked after panic")
	}
}

func TestGenerate_TimeoutFreesSlotWhileWorkerHangs(t *testing.T) {
	fm := &fakeModel{block: make(chan struct{}), hang: true}
	pub := NewMemoryPublisher()
	m := newTestManager(t, fm, ManagerConfig{MaxConcurrency: 1, InferenceTimeout: 100 * time.Millisecond, Publisher: pub})

	start := time.Now()
	_, err := m.Generate(testCtx(t), "p", Options{})
	elapsed := time.Since(start)

	var te *GenerationTimeout
	if !errors.As(err, &te) {
		t.Fatalf("expected GenerationTimeout, got %v", err)
	}
	if te.After != 100*time.Millisecond {
		t.Fatalf("timeout after: %v", te.After)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("timeout not enforced: %v", elapsed)
	}
	// The worker is still stuck but the slot is already back.
	if fm.running.Load() != 1 {
		t.Fatalf("expected the worker to still be running")
	}
	if m.adm.Running() != 0 || m.active.len() != 0 {
		t.Fatalf("slot or entry held after timeout")
	}
	if s := m.Stats(); s.FailedCalls != 1 {
		t.Fatalf("stats: %+v", s)
	}
	if pub.Count(EventGenerationTimeout) != 1 {
		t.Fatalf("expected generation_timeout event")
	}

	// A new request gets the freed slot.
	closeOnce(fm.block)
	waitFor(t, "stuck worker exit", func() bool { return fm.running.Load() == 0 })
	if _, err := m.Generate(testCtx(t), "again", Options{}); err != nil {
		t.Fatalf("generate after timeout: %v", err)
	}
}

func TestGenerate_CallerCancelRecordsNoStats(t *testing.T) {
	fm := &fakeModel{block: make(chan struct{})}
	pub := NewMemoryPublisher()
	m := newTestManager(t, fm, ManagerConfig{Publisher: pub})

	ctx, cancel := context.WithCancel(testCtx(t))
	errc := make(chan error, 1)
	go func() {
		_, err := m.Generate(ctx, "p", Options{})
		errc <- err
	}()
	waitFor(t, "worker running", func() bool { return fm.running.Load() == 1 })
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	waitFor(t, "worker observes cancellation", func() bool { return fm.cancelled.Load() == 1 })
	if s := m.Stats(); s.TotalCalls != 0 {
		t.Fatalf("cancelled generations must not be recorded: %+v", s)
	}
	if pub.Count(EventGenerationCancelled) != 1 {
		t.Fatalf("expected generation_cancelled event")
	}
	if m.adm.Running() != 0 || m.active.len() != 0 {
		t.Fatalf("slot or entry leaked")
	}
}

func TestGenerate_NotStarted(t *testing.T) {
	m := NewWithConfig(ManagerConfig{Runtime: &fakeRuntime{model: &fakeModel{}}, ModelPath: "/m.gguf"})
	if _, err := m.Generate(testCtx(t), "p", Options{}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if h := m.HealthCheck(); h.Status != Unhealthy {
		t.Fatalf("health: %+v", h)
	}
}

func TestStart_LoadFailure(t *testing.T) {
	rt := &fakeRuntime{loadErr: errors.New("bad magic")}
	pub := NewMemoryPublisher()
	m := NewWithConfig(ManagerConfig{Runtime: rt, ModelPath: "/m.gguf", Publisher: pub})
	t.Cleanup(func() { _ = m.Close() })

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected load error")
	}
	if pub.Count(EventModelLoadFailed) != 1 {
		t.Fatalf("expected model_load_failed event")
	}
	if m.Ready() {
		t.Fatalf("ready after failed load")
	}
	if _, err := m.Generate(testCtx(t), "p", Options{}); !IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
	h := m.HealthCheck()
	if h.Status != Unhealthy || h.ModelLoaded || h.Reason != "bad magic" {
		t.Fatalf("health: %+v", h)
	}
	if st := m.Status(); st.Error != "bad magic" || st.ModelLoaded {
		t.Fatalf("status: %+v", st)
	}
}

func TestStart_PassesLoadOptions(t *testing.T) {
	rt := &fakeRuntime{model: &fakeModel{}}
	m := NewWithConfig(ManagerConfig{Runtime: rt, ModelPath: "/models/a.gguf", LoadOptions: LoadOptions{ContextWindow: 2048, Threads: 4}})
	t.Cleanup(func() { _ = m.Close() })
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if rt.loads.Load() != 1 {
		t.Fatalf("model loaded %d times", rt.loads.Load())
	}
	if rt.lastPath != "/models/a.gguf" || rt.lastOpts.ContextWindow != 2048 || rt.lastOpts.Threads != 4 {
		t.Fatalf("load args: %q %+v", rt.lastPath, rt.lastOpts)
	}
}

func TestGenerate_DuplicateRequestID(t *testing.T) {
	fm := &fakeModel{tokens: []string{"x"}, block: make(chan struct{})}
	m := newTestManager(t, fm, ManagerConfig{})
	ctx := testCtx(t)

	errc := make(chan error, 1)
	go func() {
		_, err := m.Generate(ctx, "p", Options{ID: "dup"})
		errc <- err
	}()
	waitFor(t, "first request running", func() bool { return fm.running.Load() == 1 })

	if _, err := m.Generate(ctx, "p", Options{ID: "dup"}); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
	closeOnce(fm.block)
	if err := <-errc; err != nil {
		t.Fatalf("first request: %v", err)
	}
	if m.adm.Running() != 0 {
		t.Fatalf("duplicate rejection leaked a slot")
	}
}

func TestClose_CancelsInFlight(t *testing.T) {
	fm := &fakeModel{block: make(chan struct{})}
	m := newTestManager(t, fm, ManagerConfig{})
	ctx := testCtx(t)

	errc := make(chan error, 1)
	go func() {
		_, err := m.Generate(ctx, "p", Options{})
		errc <- err
	}()
	waitFor(t, "worker running", func() bool { return fm.running.Load() == 1 })

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !fm.closed.Load() {
		t.Fatalf("model not closed")
	}
	if m.active.len() != 0 {
		t.Fatalf("entries left after close")
	}
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		m := newTestManager(t, &fakeModel{}, ManagerConfig{})
		h := m.HealthCheck()
		if h.Status != Healthy || !h.ModelLoaded {
			t.Fatalf("health: %+v", h)
		}
	})

	t.Run("overloaded", func(t *testing.T) {
		m := newTestManager(t, &fakeModel{}, ManagerConfig{LoadProbe: LoadProbeFunc(overloaded)})
		h := m.HealthCheck()
		if h.Status != Degraded || h.Reason != ReasonHostOverloaded || h.HostLoad != 3.5 {
			t.Fatalf("health: %+v", h)
		}
	})

	t.Run("saturated", func(t *testing.T) {
		fm := &fakeModel{block: make(chan struct{})}
		m := newTestManager(t, fm, ManagerConfig{MaxConcurrency: 1, QueueSize: 2})
		ctx := testCtx(t)
		done := make(chan struct{}, 2)
		for i := 0; i < 2; i++ {
			go func() {
				_, _ = m.Generate(ctx, "p", Options{})
				done <- struct{}{}
			}()
		}
		waitFor(t, "one running and one queued", func() bool {
			return fm.running.Load() == 1 && m.adm.Queued() == 1
		})
		h := m.HealthCheck()
		if h.Status != Degraded || h.Reason != "saturated" || h.ActiveRequests != 1 || h.QueuedRequests != 1 {
			t.Fatalf("health: %+v", h)
		}
		closeOnce(fm.block)
		<-done
		<-done
		if h := m.HealthCheck(); h.Status != Healthy {
			t.Fatalf("health after drain: %+v", h)
		}
	})
}

func TestStatus_ListsActiveGenerations(t *testing.T) {
	fm := &fakeModel{block: make(chan struct{})}
	m := newTestManager(t, fm, ManagerConfig{MaxConcurrency: 3, QueueSize: 5})

	ctx := testCtx(t)
	go func() { _, _ = m.Generate(ctx, "p", Options{ID: "a"}) }()
	waitFor(t, "worker running", func() bool { return fm.running.Load() == 1 })

	st := m.Status()
	if !st.ModelLoaded || st.MaxConcurrency != 3 || st.QueueSize != 5 || st.Model != "/models/test.gguf" {
		t.Fatalf("status: %+v", st)
	}
	if len(st.Active) != 1 || st.Active[0].RequestID != "a" || st.Active[0].State != string(StateRunning) || st.Active[0].Streaming {
		t.Fatalf("active: %+v", st.Active)
	}
}
