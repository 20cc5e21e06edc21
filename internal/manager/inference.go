package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"inferd/internal/stats"
)

// Result is a completed batch generation.
type Result struct {
	RequestID string
	Text      string
	MaxTokens int
	Latency   time.Duration
}

// Generate runs one generation to completion and returns the text.
func (m *Manager) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	res, err := m.Run(ctx, prompt, opts)
	return res.Text, err
}

// Run is Generate with request metadata. It fails with *AdmissionRejected,
// *GenerationTimeout, *GenerationFailed or the caller's context error.
func (m *Manager) Run(ctx context.Context, prompt string, opts Options) (Result, error) {
	g, wctx, req, params, err := m.begin(ctx, prompt, opts, false)
	if err != nil {
		return Result{RequestID: req.ID}, err
	}
	res := Result{RequestID: g.RequestID, MaxTokens: params.MaxTokens}

	type outcome struct {
		text string
		err  error
	}
	// Buffered so an abandoned worker can always deliver and exit.
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("model panic: %v", r)}
			}
		}()
		g.markRunning()
		text, err := m.model.Generate(wctx, req.Prompt, params)
		done <- outcome{text: text, err: err}
	}()

	timer := time.NewTimer(m.remaining(g))
	defer timer.Stop()

	select {
	case o := <-done:
		res.Latency = time.Since(g.StartedAt)
		switch {
		case o.err == nil:
			if m.settle(g, StateCompleted, nil) {
				res.Text = o.text
				return res, nil
			}
		case errors.Is(o.err, context.DeadlineExceeded):
			if m.settle(g, StateTimedOut, o.err) {
				return res, m.timeoutErr(g)
			}
		default:
			if m.settle(g, StateFailed, o.err) {
				return res, &GenerationFailed{RequestID: g.RequestID, Cause: o.err}
			}
		}
	case <-timer.C:
		if m.settle(g, StateTimedOut, nil) {
			res.Latency = time.Since(g.StartedAt)
			return res, m.timeoutErr(g)
		}
	case <-ctx.Done():
		if m.settle(g, StateCancelled, ctx.Err()) {
			return res, fmt.Errorf("generation %s: %w", g.RequestID, ctx.Err())
		}
	case <-g.Done():
	}
	return res, m.terminalErr(g)
}

// begin admits a request and registers it. The returned context is the
// worker's: detached from the caller's cancellation, cancelled on the
// generation's terminal transition.
func (m *Manager) begin(ctx context.Context, prompt string, opts Options, streaming bool) (*ActiveGeneration, context.Context, GenerationRequest, Params, error) {
	req := GenerationRequest{
		ID:          opts.ID,
		Prompt:      prompt,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Stop:        opts.Stop,
		Seed:        opts.Seed,
		Priority:    opts.Priority,
		SubmittedAt: time.Now(),
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if !m.model.Loaded() {
		if err := m.model.Err(); err != nil {
			return nil, nil, req, Params{}, ErrDependencyUnavailable("model unavailable: " + err.Error())
		}
		return nil, nil, req, Params{}, ErrNotStarted
	}
	if _, ok := m.active.get(req.ID); ok {
		return nil, nil, req, Params{}, fmt.Errorf("%w: %s", ErrDuplicateRequest, req.ID)
	}

	release, err := m.adm.Admit(ctx)
	if err != nil {
		var rej *AdmissionRejected
		if errors.As(err, &rej) {
			m.pub.Publish(Event{Name: EventAdmissionRejected, RequestID: req.ID, Fields: map[string]any{"reason": rej.Reason}})
		}
		return nil, nil, req, Params{}, err
	}

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g := newActiveGeneration(req.ID, streaming, cancel, release)
	g.unregister = func(g *ActiveGeneration) { m.active.remove(g) }
	if err := m.active.add(g); err != nil {
		cancel()
		release()
		return nil, nil, req, Params{}, err
	}

	params := m.params(req)
	if req.MaxTokens > params.MaxTokens {
		m.pub.Publish(Event{Name: EventBudgetClamped, RequestID: req.ID, Fields: map[string]any{
			"requested": req.MaxTokens,
			"allowed":   params.MaxTokens,
		}})
	}
	m.pub.Publish(Event{Name: EventGenerationStarted, RequestID: req.ID, Fields: map[string]any{
		"streaming":  streaming,
		"max_tokens": params.MaxTokens,
		"queued_ms":  g.StartedAt.Sub(req.SubmittedAt).Milliseconds(),
	}})
	return g, wctx, req, params, nil
}

func (m *Manager) params(req GenerationRequest) Params {
	stop := make([]string, 0, len(m.cfg.StopTokens)+len(req.Stop))
	stop = append(stop, m.cfg.StopTokens...)
	stop = append(stop, req.Stop...)
	return Params{
		MaxTokens:     safeBudget(m.cfg.LoadOptions.ContextWindow, estimateTokens(req.Prompt), m.cfg.SafetyMargin, req.MaxTokens),
		Temperature:   float32(req.Temperature),
		TopP:          float32(req.TopP),
		Stop:          stop,
		Seed:          req.Seed,
		RepeatPenalty: float32(m.cfg.RepeatPenalty),
	}
}

// remaining is the wall-clock budget left, measured from admission.
func (m *Manager) remaining(g *ActiveGeneration) time.Duration {
	d := m.cfg.InferenceTimeout - time.Since(g.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// settle performs g's terminal transition and, if this call won it,
// records stats and publishes the matching event.
func (m *Manager) settle(g *ActiveGeneration, s State, cause error) bool {
	if !g.finish(s) {
		return false
	}
	latency := time.Since(g.StartedAt)
	if s != StateCancelled {
		m.stats.Record(stats.ResourceInference, stats.Outcome{Success: s == StateCompleted, Latency: latency})
	}
	fields := map[string]any{"latency_ms": latency.Milliseconds(), "streaming": g.Streaming}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	m.pub.Publish(Event{Name: eventFor(s), RequestID: g.RequestID, Fields: fields})
	return true
}

func eventFor(s State) string {
	switch s {
	case StateCompleted:
		return EventGenerationCompleted
	case StateTimedOut:
		return EventGenerationTimeout
	case StateCancelled:
		return EventGenerationCancelled
	case StateReclaimed:
		return EventGenerationReclaimed
	default:
		return EventGenerationFailed
	}
}

func (m *Manager) timeoutErr(g *ActiveGeneration) error {
	return &GenerationTimeout{RequestID: g.RequestID, After: m.cfg.InferenceTimeout}
}

// terminalErr maps a transition won elsewhere (timer, monitor, Close) to
// the error the caller sees.
func (m *Manager) terminalErr(g *ActiveGeneration) error {
	switch g.State() {
	case StateTimedOut, StateReclaimed:
		return m.timeoutErr(g)
	case StateCancelled:
		return fmt.Errorf("generation %s: %w", g.RequestID, context.Canceled)
	case StateFailed:
		return &GenerationFailed{RequestID: g.RequestID}
	default:
		return fmt.Errorf("generation %s ended in state %s", g.RequestID, g.State())
	}
}
