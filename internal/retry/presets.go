package retry

import (
	"fmt"
	"time"
)

// Preset policy names for common dependency classes.
const (
	Default     = "default"
	Database    = "database"
	Cache       = "cache"
	VectorStore = "vector_store"
	Model       = "model"
	Filesystem  = "filesystem"
	Network     = "network"
)

// Presets returns a fresh copy of the built-in policies.
func Presets() map[string]Policy {
	return map[string]Policy{
		Default: {
			MaxAttempts: 3, Strategy: Exponential, BaseDelay: 100 * time.Millisecond,
			MaxDelay: 10 * time.Second, Multiplier: 2, JitterFactor: 0.1,
			Retryable: NotPermanent,
		},
		Database: {
			MaxAttempts: 3, Strategy: Exponential, BaseDelay: 100 * time.Millisecond,
			MaxDelay: 5 * time.Second, Multiplier: 2, JitterFactor: 0.1, Timeout: 10 * time.Second,
			Retryable: IsTransient,
		},
		Cache: {
			MaxAttempts: 2, Strategy: Fixed, BaseDelay: 50 * time.Millisecond,
			MaxDelay: 500 * time.Millisecond, Timeout: time.Second,
			Retryable: IsTransient,
		},
		VectorStore: {
			MaxAttempts: 3, Strategy: Exponential, BaseDelay: 200 * time.Millisecond,
			MaxDelay: 10 * time.Second, Multiplier: 2, JitterFactor: 0.2, Timeout: 30 * time.Second,
			Retryable: IsTransient,
		},
		Model: {
			MaxAttempts: 2, Strategy: Linear, BaseDelay: time.Second,
			MaxDelay: 5 * time.Second,
			Retryable: IsTransient,
		},
		Filesystem: {
			MaxAttempts: 3, Strategy: Fibonacci, BaseDelay: 50 * time.Millisecond,
			MaxDelay: 2 * time.Second,
			Retryable: IsTransientFS,
		},
		Network: {
			MaxAttempts: 5, Strategy: RandomJitter, BaseDelay: 250 * time.Millisecond,
			MaxDelay: 30 * time.Second, JitterFactor: 0.2, Timeout: 15 * time.Second,
			Retryable: IsTransient,
		},
	}
}

// Override carries configured replacements for preset fields. Zero values
// keep the preset value; JitterFactor is a pointer so 0 can be set explicitly.
type Override struct {
	MaxAttempts  int
	Strategy     string
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor *float64
	Timeout      time.Duration
}

// ApplyOverrides returns base with overrides merged in. Names missing from
// base start from the Default preset.
func ApplyOverrides(base map[string]Policy, overrides map[string]Override) (map[string]Policy, error) {
	out := make(map[string]Policy, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for name, ov := range overrides {
		p, ok := out[name]
		if !ok {
			p = Presets()[Default]
		}
		if ov.MaxAttempts > 0 {
			p.MaxAttempts = ov.MaxAttempts
		}
		if ov.Strategy != "" {
			s, err := ParseStrategy(ov.Strategy)
			if err != nil {
				return nil, fmt.Errorf("retry policy %s: %w", name, err)
			}
			p.Strategy = s
		}
		if ov.BaseDelay > 0 {
			p.BaseDelay = ov.BaseDelay
		}
		if ov.MaxDelay > 0 {
			p.MaxDelay = ov.MaxDelay
		}
		if ov.Multiplier > 0 {
			p.Multiplier = ov.Multiplier
		}
		if ov.JitterFactor != nil {
			p.JitterFactor = *ov.JitterFactor
		}
		if ov.Timeout > 0 {
			p.Timeout = ov.Timeout
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("retry policy %s: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}
