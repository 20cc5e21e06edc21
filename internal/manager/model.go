package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ModelHandle owns the single shared model. The model is loaded lazily and
// exactly once; later calls reuse it without further locking.
type ModelHandle struct {
	runtime Runtime
	path    string
	opts    LoadOptions

	once    sync.Once
	model   Model
	err     error
	loaded  atomic.Bool
	loadErr atomic.Pointer[error]

	closeOnce sync.Once
}

func NewModelHandle(rt Runtime, path string, opts LoadOptions) *ModelHandle {
	return &ModelHandle{runtime: rt, path: path, opts: opts}
}

// Load initialises the model on first call and returns the load error, if
// any, on every call.
func (h *ModelHandle) Load() error {
	h.once.Do(func() {
		defer h.publish()
		if h.runtime == nil {
			h.err = errors.New("no model runtime configured")
			return
		}
		h.model, h.err = h.runtime.Load(h.path, h.opts)
		if h.err == nil && h.model == nil {
			h.err = errors.New("runtime returned nil model")
		}
	})
	return h.err
}

func (h *ModelHandle) publish() {
	if h.err != nil {
		err := h.err
		h.loadErr.Store(&err)
		return
	}
	h.loaded.Store(true)
}

// Loaded reports whether a model is ready for use. It never triggers a load.
func (h *ModelHandle) Loaded() bool { return h.loaded.Load() }

// Err returns the load error, or nil if loading succeeded or has not run.
func (h *ModelHandle) Err() error {
	if p := h.loadErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (h *ModelHandle) Path() string { return h.path }

func (h *ModelHandle) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	if err := h.Load(); err != nil {
		return "", err
	}
	return h.model.Generate(ctx, prompt, p)
}

func (h *ModelHandle) GenerateStream(ctx context.Context, prompt string, p Params, emit func(string) error) error {
	if err := h.Load(); err != nil {
		return err
	}
	return h.model.GenerateStream(ctx, prompt, p, emit)
}

// Close frees the model if it was loaded.
func (h *ModelHandle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		// Block a concurrent first Load from racing the close.
		h.once.Do(func() {
			h.err = errors.New("model handle closed")
			h.publish()
		})
		h.loaded.Store(false)
		if h.model != nil {
			err = h.model.Close()
		}
	})
	return err
}
