package retry

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Strategy selects how the delay before the next attempt is computed.
type Strategy int

const (
	Fixed Strategy = iota
	Exponential
	Linear
	Fibonacci
	RandomJitter
)

func (s Strategy) String() string {
	switch s {
	case Fixed:
		return "fixed"
	case Exponential:
		return "exponential"
	case Linear:
		return "linear"
	case Fibonacci:
		return "fibonacci"
	case RandomJitter:
		return "random_jitter"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy accepts the config spellings of a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.NewReplacer("-", "_", " ", "_").Replace(strings.TrimSpace(s))) {
	case "fixed":
		return Fixed, nil
	case "exponential":
		return Exponential, nil
	case "linear":
		return Linear, nil
	case "fibonacci":
		return Fibonacci, nil
	case "random_jitter", "randomjitter", "jitter":
		return RandomJitter, nil
	default:
		return Fixed, fmt.Errorf("unknown retry strategy %q", s)
	}
}

// Policy describes how an operation is retried. It is a value type: copies
// are independent and the With* helpers return modified copies, so a single
// policy can be shared between call sites.
type Policy struct {
	MaxAttempts  int
	Strategy     Strategy
	BaseDelay    time.Duration
	MaxDelay     time.Duration // 0 means no upper bound
	Multiplier   float64       // exponential only; 0 means 2
	JitterFactor float64       // multiplicative +/- jitter in [0,1]
	Timeout      time.Duration // per attempt; 0 disables

	// Retryable, when set, stops retrying as soon as it rejects an error.
	Retryable func(error) bool
	// Success, when set, must accept the result for an attempt to succeed.
	// Build it from a typed predicate with SuccessIf.
	Success func(any) bool
}

// Validate reports whether p is usable.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("max attempts must be >= 1, got %d", p.MaxAttempts)
	case p.BaseDelay < 0 || p.MaxDelay < 0 || p.Timeout < 0:
		return fmt.Errorf("delays and timeout must be >= 0")
	case p.JitterFactor < 0 || p.JitterFactor > 1:
		return fmt.Errorf("jitter factor must be within [0,1], got %v", p.JitterFactor)
	case p.Multiplier < 0:
		return fmt.Errorf("multiplier must be >= 0, got %v", p.Multiplier)
	case p.Strategy < Fixed || p.Strategy > RandomJitter:
		return fmt.Errorf("unknown strategy %v", p.Strategy)
	}
	return nil
}

func (p Policy) WithMaxAttempts(n int) Policy { p.MaxAttempts = n; return p }

func (p Policy) WithStrategy(s Strategy) Policy { p.Strategy = s; return p }

func (p Policy) WithDelays(base, max time.Duration) Policy {
	p.BaseDelay, p.MaxDelay = base, max
	return p
}

func (p Policy) WithJitter(f float64) Policy { p.JitterFactor = f; return p }

func (p Policy) WithTimeout(d time.Duration) Policy { p.Timeout = d; return p }

func (p Policy) WithRetryable(fn func(error) bool) Policy { p.Retryable = fn; return p }

func (p Policy) WithSuccess(fn func(any) bool) Policy { p.Success = fn; return p }

// SuccessIf adapts a typed result predicate for Policy.Success. A result of
// another type never satisfies it.
func SuccessIf[T any](pred func(T) bool) func(any) bool {
	return func(v any) bool {
		t, ok := v.(T)
		return ok && pred(t)
	}
}

// Delay returns the wait before the given attempt (attempt >= 2; the first
// attempt never waits). rnd must return values in [0,1).
func (p Policy) Delay(attempt int, rnd func() float64) time.Duration {
	if attempt < 2 {
		return 0
	}
	k := float64(attempt - 1)
	base := float64(p.BaseDelay)
	var d float64
	switch p.Strategy {
	case Fixed:
		d = base
	case Exponential:
		m := p.Multiplier
		if m == 0 {
			m = 2
		}
		d = base * math.Pow(m, k-1)
	case Linear:
		d = base * k
	case Fibonacci:
		d = base * float64(fib(attempt-1))
	case RandomJitter:
		d = base + rnd()*base*k
	}
	if p.JitterFactor > 0 {
		d *= 1 + (2*rnd()-1)*p.JitterFactor
	}
	if d < 0 || math.IsNaN(d) {
		d = 0
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// fib returns the n-th Fibonacci number with fib(1) = fib(2) = 1.
func fib(n int) int64 {
	if n <= 0 {
		return 0
	}
	a, b := int64(0), int64(1)
	for i := 1; i < n; i++ {
		if b > math.MaxInt64/2 {
			return b
		}
		a, b = b, a+b
	}
	return b
}
