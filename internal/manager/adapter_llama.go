//go:build llama

package manager

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// llamaRuntime loads GGUF models in-process through go-llama.cpp.
type llamaRuntime struct{}

func NewLlamaRuntime() Runtime { return llamaRuntime{} }

// llamaModel owns the loaded model
type llamaModel struct {
	model   *llama.LLama
	threads int
}

func (llamaRuntime) Load(path string, opts LoadOptions) (Model, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	mo := []llama.ModelOption{
		llama.SetContext(opts.ContextWindow),
	}
	if opts.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(opts.GPULayers))
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaModel{model: m, threads: opts.Threads}, nil
}

func (m *llamaModel) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	return m.predict(ctx, prompt, p, nil)
}

func (m *llamaModel) GenerateStream(ctx context.Context, prompt string, p Params, emit func(string) error) error {
	_, err := m.predict(ctx, prompt, p, emit)
	return err
}

func (m *llamaModel) predict(ctx context.Context, prompt string, p Params, emit func(string) error) (string, error) {
	if m.model == nil {
		return "", errors.New("llama model not initialized")
	}
	var emitErr error
	po := predictOptions(p, m.threads)
	// Per-call callback; returning false stops generation.
	po = append(po, llama.SetTokenCallback(func(tok string) bool {
		if ctx.Err() != nil {
			return false
		}
		if emit != nil {
			if err := emit(tok); err != nil {
				emitErr = err
				return false
			}
		}
		return true
	}))
	text, err := m.model.Predict(prompt, po...)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if emitErr != nil {
		return "", emitErr
	}
	return text, err
}

func (m *llamaModel) Close() error {
	if m.model != nil {
		m.model.Free()
		m.model = nil
	}
	return nil
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orFloat(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts Params into go-llama.cpp options
func predictOptions(p Params, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, p.MaxTokens)),
		llama.SetThreads(orInt(threads, llama.DefaultOptions.Threads)),
		llama.SetTopP(orFloat(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTemperature(orFloat(p.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(orFloat(p.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if p.Seed != 0 {
		po = append(po, llama.SetSeed(p.Seed))
	}
	if len(p.Stop) > 0 {
		po = append(po, llama.SetStopWords(p.Stop...))
	}
	return po
}
