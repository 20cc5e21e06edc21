package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/stats"
)

// Attempt is one try of an operation as seen by the engine.
type Attempt struct {
	Number    int           `json:"number"`
	Delay     time.Duration `json:"delay"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Succeeded bool          `json:"succeeded"`
	Err       string        `json:"error,omitempty"`
}

// Engine runs operations under a Policy and records one stats outcome per
// call. It is safe for concurrent use.
type Engine struct {
	stats       *stats.Registry
	log         zerolog.Logger
	policies    map[string]Policy
	rnd         func() float64
	sleep       func(context.Context, time.Duration) error
	onExhausted func(resource string, attempts int, last error)

	mu      sync.Mutex
	history map[string][]Attempt
}

type Option func(*Engine)

// WithStats records call outcomes into r.
func WithStats(r *stats.Registry) Option { return func(e *Engine) { e.stats = r } }

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithPolicies replaces the named policy table (defaults to Presets()).
func WithPolicies(p map[string]Policy) Option {
	return func(e *Engine) {
		e.policies = make(map[string]Policy, len(p))
		for k, v := range p {
			e.policies[k] = v
		}
	}
}

// WithRand sets the jitter source; fn must return values in [0,1).
func WithRand(fn func() float64) Option { return func(e *Engine) { e.rnd = fn } }

// WithSleep replaces the inter-attempt wait.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// OnExhausted registers a hook called after the final failed attempt.
func OnExhausted(fn func(resource string, attempts int, last error)) Option {
	return func(e *Engine) { e.onExhausted = fn }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		stats:    stats.NewRegistry(),
		log:      zerolog.Nop(),
		policies: Presets(),
		rnd:      rand.Float64,
		sleep:    sleepCtx,
		history:  make(map[string][]Attempt),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Stats returns the registry the engine records into.
func (e *Engine) Stats() *stats.Registry { return e.stats }

// Policy looks up a named policy.
func (e *Engine) Policy(name string) (Policy, bool) {
	p, ok := e.policies[name]
	return p, ok
}

// LastAttempts returns the attempt history of the most recent call made
// under resource.
func (e *Engine) LastAttempts(resource string) []Attempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.history[resource]
	out := make([]Attempt, len(h))
	copy(out, h)
	return out
}

// Execute runs op under the named policy.
func (e *Engine) Execute(ctx context.Context, policy, resource string, op func(context.Context) error) error {
	p, ok := e.Policy(policy)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPolicy, policy)
	}
	_, err := Do(ctx, e, p, resource, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Wrap binds op to a policy so it can be called repeatedly.
func Wrap[T any](e *Engine, p Policy, resource string, op func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) { return Do(ctx, e, p, resource, op) }
}

// Do runs op until it succeeds, the policy rejects the error, attempts run
// out, or ctx is done. Errors rejected by Policy.Retryable are returned
// unchanged; exhaustion returns an *ExhaustedError.
func Do[T any](ctx context.Context, e *Engine, p Policy, resource string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, fmt.Errorf("retry %s: %w", resource, err)
	}

	start := time.Now()
	attempts := make([]Attempt, 0, p.MaxAttempts)
	var slept time.Duration
	var last error

	done := func(ok bool) {
		e.finish(resource, attempts, stats.Outcome{
			Success:   ok,
			Attempts:  len(attempts),
			RetryTime: slept,
			Latency:   time.Since(start),
		})
	}

	for n := 1; n <= p.MaxAttempts; n++ {
		var delay time.Duration
		if n > 1 {
			delay = p.Delay(n, e.rnd)
			if delay > 0 {
				if err := e.sleep(ctx, delay); err != nil {
					done(false)
					return zero, err
				}
				slept += delay
			}
		}
		if err := ctx.Err(); err != nil {
			done(false)
			return zero, err
		}

		a := Attempt{Number: n, Delay: delay, StartedAt: time.Now()}
		res, err := runAttempt(ctx, p.Timeout, op)
		a.EndedAt = time.Now()

		if err == nil && (p.Success == nil || p.Success(res)) {
			a.Succeeded = true
			attempts = append(attempts, a)
			done(true)
			if n > 1 {
				e.log.Debug().Str("resource", resource).Int("attempts", n).Msg("retry succeeded")
			}
			return res, nil
		}

		if err != nil {
			last = err
			a.Err = err.Error()
		} else {
			a.Err = ErrUnsatisfied.Error()
		}
		attempts = append(attempts, a)

		if err != nil && ctx.Err() != nil {
			done(false)
			return zero, ctx.Err()
		}
		if err != nil && p.Retryable != nil && !p.Retryable(err) {
			done(false)
			e.log.Debug().Str("resource", resource).Int("attempt", n).Err(err).Msg("error not retryable")
			return zero, err
		}
		if n < p.MaxAttempts {
			e.log.Debug().Str("resource", resource).Int("attempt", n).Str("error", a.Err).Msg("attempt failed, retrying")
		}
	}

	done(false)
	ex := &ExhaustedError{Resource: resource, Attempts: p.MaxAttempts, Last: last}
	e.log.Warn().Str("resource", resource).Int("attempts", p.MaxAttempts).Err(ex).Msg("retries exhausted")
	if e.onExhausted != nil {
		e.onExhausted(resource, p.MaxAttempts, last)
	}
	return zero, ex
}

// DoNamed is Do with a policy looked up by name.
func DoNamed[T any](ctx context.Context, e *Engine, policy, resource string, op func(context.Context) (T, error)) (T, error) {
	p, ok := e.Policy(policy)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrUnknownPolicy, policy)
	}
	return Do(ctx, e, p, resource, op)
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return op(ctx)
}

func (e *Engine) finish(resource string, attempts []Attempt, o stats.Outcome) {
	e.mu.Lock()
	e.history[resource] = attempts
	e.mu.Unlock()
	e.stats.Record(resource, o)
}
