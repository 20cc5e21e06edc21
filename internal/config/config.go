// Package config defines the typed daemon configuration. It is resolved
// once at startup: file values, then defaults for anything left zero, then
// validation. Changes require a restart.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds runtime parameters for the service.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr" validate:"required"`
	ModelPath    string `json:"model_path" yaml:"model_path" toml:"model_path"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`
	// Runtime is "llama" (in-process) or "server" (llama.cpp HTTP server).
	Runtime   string `json:"runtime" yaml:"runtime" toml:"runtime" validate:"oneof=llama server"`
	ServerURL string `json:"server_url" yaml:"server_url" toml:"server_url" validate:"omitempty,url"`

	Inference InferenceConfig        `json:"inference" yaml:"inference" toml:"inference"`
	Monitor   MonitorConfig          `json:"monitor" yaml:"monitor" toml:"monitor"`
	HTTP      HTTPConfig             `json:"http" yaml:"http" toml:"http"`
	Log       LogConfig              `json:"log" yaml:"log" toml:"log"`
	Retry     map[string]RetryConfig `json:"retry" yaml:"retry" toml:"retry" validate:"dive"`
}

type InferenceConfig struct {
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency" toml:"max_concurrency" validate:"gte=1"`
	// QueueSize and SafetyMargin are pointers so an explicit 0 (no backlog,
	// no margin) is kept apart from "unset".
	QueueSize     *int     `json:"queue_size" yaml:"queue_size" toml:"queue_size" validate:"omitempty,gte=0"`
	MaxQueueWait  Duration `json:"max_queue_wait" yaml:"max_queue_wait" toml:"max_queue_wait" validate:"gte=0"`
	Timeout       Duration `json:"timeout" yaml:"timeout" toml:"timeout" validate:"gt=0"`
	ContextWindow int      `json:"context_window" yaml:"context_window" toml:"context_window" validate:"gte=16"`
	SafetyMargin  *int     `json:"safety_margin" yaml:"safety_margin" toml:"safety_margin" validate:"omitempty,gte=0"`
	// Threads is passed to llama.cpp; 0 lets the runtime pick. A generation
	// on every core keeps load1 per CPU near 1.0, which LoadThreshold
	// must stay above.
	Threads       int      `json:"threads" yaml:"threads" toml:"threads" validate:"gte=0"`
	GPULayers     int      `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers" validate:"gte=0"`
	StopTokens    []string `json:"stop_tokens" yaml:"stop_tokens" toml:"stop_tokens"`
	RepeatPenalty float64  `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty" validate:"gte=0"`
	StreamBuffer  int      `json:"stream_buffer" yaml:"stream_buffer" toml:"stream_buffer" validate:"gte=1"`
	// LoadThreshold is the per-CPU 1m load average above which new requests
	// are rejected. Negative disables the probe. The default leaves
	// headroom over the load a running generation causes on its own.
	LoadThreshold float64 `json:"load_threshold" yaml:"load_threshold" toml:"load_threshold"`
}

type MonitorConfig struct {
	Interval    Duration `json:"interval" yaml:"interval" toml:"interval" validate:"gt=0"`
	StuckFactor float64  `json:"stuck_factor" yaml:"stuck_factor" toml:"stuck_factor" validate:"gte=1"`
}

type HTTPConfig struct {
	MaxBodyBytes    int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes" validate:"gte=0"`
	CORSOrigins     []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level" validate:"omitempty,oneof=trace debug info warn error off"`
	Format string `json:"format" yaml:"format" toml:"format" validate:"omitempty,oneof=json console"`
}

// RetryConfig overrides fields of a named retry preset. Zero values keep
// the preset.
type RetryConfig struct {
	MaxAttempts  int      `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts" validate:"gte=0"`
	Strategy     string   `json:"strategy" yaml:"strategy" toml:"strategy" validate:"omitempty,oneof=fixed exponential linear fibonacci random_jitter"`
	BaseDelay    Duration `json:"base_delay" yaml:"base_delay" toml:"base_delay" validate:"gte=0"`
	MaxDelay     Duration `json:"max_delay" yaml:"max_delay" toml:"max_delay" validate:"gte=0"`
	Multiplier   float64  `json:"multiplier" yaml:"multiplier" toml:"multiplier" validate:"gte=0"`
	JitterFactor *float64 `json:"jitter_factor" yaml:"jitter_factor" toml:"jitter_factor" validate:"omitempty,gte=0,lte=1"`
	Timeout      Duration `json:"timeout" yaml:"timeout" toml:"timeout" validate:"gte=0"`
}

// Defaults returns a configuration with every default filled in except
// ModelPath.
func Defaults() Config {
	return Config{
		Addr:    ":8080",
		Runtime: "llama",
		Inference: InferenceConfig{
			MaxConcurrency: 2,
			QueueSize:      IntPtr(10),
			Timeout:        Duration(120 * time.Second),
			ContextWindow:  4096,
			SafetyMargin:   IntPtr(32),
			RepeatPenalty:  1.1,
			StreamBuffer:   64,
			LoadThreshold:  1.5,
		},
		Monitor: MonitorConfig{
			Interval:    Duration(30 * time.Second),
			StuckFactor: 2,
		},
		HTTP: HTTPConfig{
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// ApplyDefaults replaces zero values with Defaults().
func (c *Config) ApplyDefaults() {
	d := Defaults()
	setStr(&c.Addr, d.Addr)
	setStr(&c.Runtime, d.Runtime)
	c.Runtime = strings.ToLower(c.Runtime)

	in, di := &c.Inference, d.Inference
	setInt(&in.MaxConcurrency, di.MaxConcurrency)
	setIntPtr(&in.QueueSize, *di.QueueSize)
	setDur(&in.Timeout, di.Timeout)
	setInt(&in.ContextWindow, di.ContextWindow)
	setIntPtr(&in.SafetyMargin, *di.SafetyMargin)
	setInt(&in.StreamBuffer, di.StreamBuffer)
	if in.RepeatPenalty == 0 {
		in.RepeatPenalty = di.RepeatPenalty
	}
	if in.LoadThreshold == 0 {
		in.LoadThreshold = di.LoadThreshold
	}

	setDur(&c.Monitor.Interval, d.Monitor.Interval)
	if c.Monitor.StuckFactor == 0 {
		c.Monitor.StuckFactor = d.Monitor.StuckFactor
	}
	if c.HTTP.MaxBodyBytes == 0 {
		c.HTTP.MaxBodyBytes = d.HTTP.MaxBodyBytes
	}
	setDur(&c.HTTP.ShutdownTimeout, d.HTTP.ShutdownTimeout)
	setStr(&c.Log.Level, d.Log.Level)
	setStr(&c.Log.Format, d.Log.Format)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate fails fast on the first invalid section.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Runtime {
	case "llama":
		if c.ModelPath == "" {
			return fmt.Errorf("invalid config: model_path is required for the llama runtime")
		}
	case "server":
		if c.ServerURL == "" {
			return fmt.Errorf("invalid config: server_url is required for the server runtime")
		}
	}
	return nil
}

func setStr(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func setIntPtr(dst **int, v int) {
	if *dst == nil {
		*dst = IntPtr(v)
	}
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }

func setDur(dst *Duration, v Duration) {
	if *dst == 0 {
		*dst = v
	}
}
