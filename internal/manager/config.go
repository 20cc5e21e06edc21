package manager

import (
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/stats"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxConcurrency   = 2
	defaultQueueSize        = 10
	defaultInferenceTimeout = 120 * time.Second
	defaultContextWindow    = 4096
	defaultSafetyMargin     = 32
	defaultRepeatPenalty    = 1.1
	defaultMonitorInterval  = 30 * time.Second
	defaultStuckFactor      = 2.0
	defaultStreamBuffer     = 64
	defaultRestartDelay     = time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Runtime     Runtime
	ModelPath   string
	LoadOptions LoadOptions

	MaxConcurrency   int
	QueueSize        int // 0 uses the default; negative disables the backlog
	MaxQueueWait     time.Duration
	InferenceTimeout time.Duration
	SafetyMargin     int // 0 uses the default; negative means none
	StopTokens       []string
	RepeatPenalty    float64
	StreamBuffer     int

	MonitorInterval time.Duration
	StuckFactor     float64
	RestartDelay    time.Duration

	LoadProbe LoadProbe
	Publisher EventPublisher
	Stats     *stats.Registry
	Logger    *zerolog.Logger
}

func (c *ManagerConfig) applyDefaults() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}
	switch {
	case c.QueueSize == 0:
		c.QueueSize = defaultQueueSize
	case c.QueueSize < 0:
		c.QueueSize = 0
	}
	if c.InferenceTimeout <= 0 {
		c.InferenceTimeout = defaultInferenceTimeout
	}
	if c.LoadOptions.ContextWindow <= 0 {
		c.LoadOptions.ContextWindow = defaultContextWindow
	}
	if c.SafetyMargin < 0 {
		c.SafetyMargin = 0
	} else if c.SafetyMargin == 0 {
		c.SafetyMargin = defaultSafetyMargin
	}
	if c.RepeatPenalty <= 0 {
		c.RepeatPenalty = defaultRepeatPenalty
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = defaultStreamBuffer
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = defaultMonitorInterval
	}
	if c.StuckFactor < 1 {
		c.StuckFactor = defaultStuckFactor
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = defaultRestartDelay
	}
	if c.LoadProbe == nil {
		c.LoadProbe = noLoadProbe{}
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	if c.Stats == nil {
		c.Stats = stats.NewRegistry()
	}
}
