package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func half() float64 { return 0.5 }

func TestDelay_Strategies(t *testing.T) {
	base := time.Second
	cases := []struct {
		name     string
		strategy Strategy
		want     []time.Duration // delays before attempts 2..5
	}{
		{"fixed", Fixed, []time.Duration{base, base, base, base}},
		{"exponential", Exponential, []time.Duration{base, 2 * base, 4 * base, 8 * base}},
		{"linear", Linear, []time.Duration{base, 2 * base, 3 * base, 4 * base}},
		{"fibonacci", Fibonacci, []time.Duration{base, base, 2 * base, 3 * base}},
		// base + 0.5*base*k
		{"random_jitter", RandomJitter, []time.Duration{1500 * time.Millisecond, 2 * base, 2500 * time.Millisecond, 3 * base}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Policy{MaxAttempts: 5, Strategy: tc.strategy, BaseDelay: base, Multiplier: 2}
			for i, want := range tc.want {
				assert.Equal(t, want, p.Delay(i+2, half), "attempt %d", i+2)
			}
		})
	}
}

func TestDelay_FirstAttemptNeverWaits(t *testing.T) {
	p := Policy{MaxAttempts: 3, Strategy: Fixed, BaseDelay: time.Second}
	assert.Zero(t, p.Delay(1, half))
	assert.Zero(t, p.Delay(0, half))
}

func TestDelay_ClampedToMax(t *testing.T) {
	p := Policy{MaxAttempts: 10, Strategy: Exponential, BaseDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, 2*time.Second, p.Delay(3, half))
	assert.Equal(t, 3*time.Second, p.Delay(4, half))
	assert.Equal(t, 3*time.Second, p.Delay(9, half))
}

func TestDelay_JitterWithinBounds(t *testing.T) {
	p := Policy{MaxAttempts: 3, Strategy: Fixed, BaseDelay: time.Second, JitterFactor: 0.2}
	assert.Equal(t, 800*time.Millisecond, p.Delay(2, func() float64 { return 0 }))
	assert.Equal(t, time.Second, p.Delay(2, half))
	hi := p.Delay(2, func() float64 { return 0.999999 })
	assert.LessOrEqual(t, hi, 1200*time.Millisecond)
	assert.Greater(t, hi, 1190*time.Millisecond)
}

func TestDelay_HugeExponentDoesNotOverflow(t *testing.T) {
	p := Policy{MaxAttempts: 200, Strategy: Exponential, BaseDelay: time.Second, Multiplier: 10}
	assert.Positive(t, p.Delay(150, half))
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{
		"fixed": Fixed, "Exponential": Exponential, "linear": Linear,
		"fibonacci": Fibonacci, "random_jitter": RandomJitter, "random-jitter": RandomJitter,
	} {
		got, err := ParseStrategy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStrategy("quadratic")
	assert.Error(t, err)
}

func TestPolicy_WithHelpersCopy(t *testing.T) {
	base := Presets()[Database]
	custom := base.WithMaxAttempts(7).WithJitter(0)
	assert.Equal(t, 3, base.MaxAttempts)
	assert.Equal(t, 0.1, base.JitterFactor)
	assert.Equal(t, 7, custom.MaxAttempts)
	assert.Zero(t, custom.JitterFactor)
}

func TestPolicy_Validate(t *testing.T) {
	assert.Error(t, Policy{MaxAttempts: 0}.Validate())
	assert.Error(t, Policy{MaxAttempts: 1, JitterFactor: 1.5}.Validate())
	assert.Error(t, Policy{MaxAttempts: 1, BaseDelay: -1}.Validate())
	assert.NoError(t, Policy{MaxAttempts: 1}.Validate())
	for name, p := range Presets() {
		assert.NoError(t, p.Validate(), name)
	}
}

func TestApplyOverrides(t *testing.T) {
	zero := 0.0
	got, err := ApplyOverrides(Presets(), map[string]Override{
		Database: {MaxAttempts: 5, JitterFactor: &zero},
		"search": {Strategy: "linear", BaseDelay: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, got[Database].MaxAttempts)
	assert.Zero(t, got[Database].JitterFactor)
	assert.Equal(t, Exponential, got[Database].Strategy)

	s, ok := got["search"]
	require.True(t, ok)
	assert.Equal(t, Linear, s.Strategy)
	assert.Equal(t, 10*time.Millisecond, s.BaseDelay)
	assert.Equal(t, Presets()[Default].MaxAttempts, s.MaxAttempts)

	_, err = ApplyOverrides(Presets(), map[string]Override{Cache: {Strategy: "nope"}})
	assert.Error(t, err)
}
