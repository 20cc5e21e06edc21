package manager

import "context"

// Runtime loads a model from a path (or, for server runtimes, a model name).
// Concrete implementations (e.g., llama.cpp) should satisfy this interface.
type Runtime interface {
	Load(path string, opts LoadOptions) (Model, error)
}

// Model is a loaded model. Calls may run concurrently up to the manager's
// concurrency bound; implementations must return when ctx is cancelled.
type Model interface {
	// Generate blocks until the full completion is produced.
	Generate(ctx context.Context, prompt string, p Params) (string, error)
	// GenerateStream calls emit for each produced fragment. An emit error
	// stops generation and is returned.
	GenerateStream(ctx context.Context, prompt string, p Params, emit func(string) error) error
	// Close releases any resources associated with the model.
	Close() error
}

// LoadOptions are fixed at model load time.
type LoadOptions struct {
	ContextWindow int
	Threads       int
	GPULayers     int
}

// Params captures generation parameters passed to the runtime.
type Params struct {
	MaxTokens     int
	Temperature   float32
	TopP          float32
	Stop          []string
	Seed          int
	RepeatPenalty float32
}

// LlamaAvailable reports whether this binary was built with the llama tag.
func LlamaAvailable() bool { return llamaBuilt }
