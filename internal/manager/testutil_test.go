package manager

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeRuntime hands out a single fakeModel.
type fakeRuntime struct {
	loadErr  error
	model    *fakeModel
	loads    atomic.Int32
	lastPath string
	lastOpts LoadOptions
}

func (r *fakeRuntime) Load(path string, opts LoadOptions) (Model, error) {
	r.loads.Add(1)
	r.lastPath, r.lastOpts = path, opts
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return r.model, nil
}

// fakeModel is a lightweight in-memory model used for tests.
type fakeModel struct {
	tokens   []string
	err      error
	panicMsg string
	// block, when set, holds every call until closed. With hang the call
	// also ignores cancellation, like a stuck native call.
	block chan struct{}
	hang  bool
	delay time.Duration
	// onEnter runs at the start of every call.
	onEnter func()

	running    atomic.Int32
	maxRunning atomic.Int32
	calls      atomic.Int32
	cancelled  atomic.Int32
	closed     atomic.Bool

	mu         sync.Mutex
	lastParams Params
}

func (f *fakeModel) enter(p Params) func() {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastParams = p
	f.mu.Unlock()
	n := f.running.Add(1)
	for {
		m := f.maxRunning.Load()
		if n <= m || f.maxRunning.CompareAndSwap(m, n) {
			break
		}
	}
	if f.onEnter != nil {
		f.onEnter()
	}
	return func() { f.running.Add(-1) }
}

func (f *fakeModel) params() Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastParams
}

func (f *fakeModel) wait(ctx context.Context) error {
	if f.block != nil {
		if f.hang {
			<-f.block
			return nil
		}
		select {
		case <-f.block:
		case <-ctx.Done():
			f.cancelled.Add(1)
			return ctx.Err()
		}
	}
	if f.delay > 0 {
		t := time.NewTimer(f.delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			f.cancelled.Add(1)
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeModel) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	defer f.enter(p)()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	return strings.Join(f.tokens, ""), nil
}

func (f *fakeModel) GenerateStream(ctx context.Context, prompt string, p Params, emit func(string) error) error {
	defer f.enter(p)()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	for _, tok := range f.tokens {
		if err := ctx.Err(); err != nil {
			f.cancelled.Add(1)
			return err
		}
		if err := emit(tok); err != nil {
			return err
		}
	}
	if err := f.wait(ctx); err != nil {
		return err
	}
	return f.err
}

func (f *fakeModel) Close() error {
	f.closed.Store(true)
	return nil
}

// newTestManager starts a manager over model with test-friendly defaults.
func newTestManager(t *testing.T, model *fakeModel, cfg ManagerConfig) *Manager {
	t.Helper()
	if cfg.Runtime == nil {
		cfg.Runtime = &fakeRuntime{model: model}
	}
	if cfg.ModelPath == "" {
		cfg.ModelPath = "/models/test.gguf"
	}
	if cfg.InferenceTimeout == 0 {
		cfg.InferenceTimeout = 5 * time.Second
	}
	m := NewWithConfig(cfg)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		if model != nil && model.block != nil {
			closeOnce(model.block)
		}
		_ = m.Close()
	})
	return m
}

var closedChans sync.Map

// closeOnce closes ch unless a test already did.
func closeOnce(ch chan struct{}) {
	if _, loaded := closedChans.LoadOrStore(ch, true); !loaded {
		close(ch)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
