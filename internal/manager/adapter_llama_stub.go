//go:build !llama

package manager

// This file provides a no-CGO stub for the llama runtime. It is compiled when
// the 'llama' build tag is NOT set, keeping default builds and CI CGO-free.
// The real runtime lives in adapter_llama.go (tagged 'llama').

var llamaBuilt = false

type llamaRuntime struct{}

func NewLlamaRuntime() Runtime { return llamaRuntime{} }

// Load fails fast: llama runtime not available in this build.
func (llamaRuntime) Load(string, LoadOptions) (Model, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
