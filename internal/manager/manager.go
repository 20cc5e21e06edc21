package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/stats"
	"inferd/pkg/types"
)

// Manager is the inference execution core for one model: admission,
// bounded execution with timeouts, streaming and stuck-generation cleanup.
type Manager struct {
	cfg    ManagerConfig
	model  *ModelHandle
	adm    *AdmissionController
	active *inflight
	stats  *stats.Registry
	pub    EventPublisher
	log    zerolog.Logger

	stuckCleaned atomic.Uint64
	startTime    time.Time

	mu          sync.Mutex
	started     bool
	stopMonitor context.CancelFunc
	monitorDone chan struct{}
}

// NewWithConfig constructs a Manager from ManagerConfig. The model is not
// loaded until Start.
func NewWithConfig(cfg ManagerConfig) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:       cfg,
		model:     NewModelHandle(cfg.Runtime, cfg.ModelPath, cfg.LoadOptions),
		adm:       NewAdmissionController(cfg.MaxConcurrency, cfg.QueueSize, cfg.MaxQueueWait, cfg.LoadProbe),
		active:    newInflight(),
		stats:     cfg.Stats,
		pub:       cfg.Publisher,
		log:       zerolog.Nop(),
		startTime: time.Now(),
	}
	if cfg.Logger != nil {
		m.log = *cfg.Logger
	}
	return m
}

// Start loads the model and starts the supervised stuck-generation monitor.
// A load failure is returned and is not retried.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	t0 := time.Now()
	if err := m.model.Load(); err != nil {
		m.pub.Publish(Event{Name: EventModelLoadFailed, Fields: map[string]any{"path": m.cfg.ModelPath, "error": err.Error()}})
		return fmt.Errorf("load model %q: %w", m.cfg.ModelPath, err)
	}
	m.pub.Publish(Event{Name: EventModelLoaded, Fields: map[string]any{
		"path":    m.cfg.ModelPath,
		"load_ms": time.Since(t0).Milliseconds(),
	}})

	mctx, cancel := context.WithCancel(ctx)
	m.stopMonitor = cancel
	m.monitorDone = make(chan struct{})
	go func() {
		defer close(m.monitorDone)
		supervise(mctx, "stuck_monitor", m.log, m.pub, m.cfg.RestartDelay, m.runMonitor)
	}()
	m.started = true
	return nil
}

// Close stops the monitor, cancels every in-flight generation and frees the
// model.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.stopMonitor != nil {
		m.stopMonitor()
		<-m.monitorDone
		m.stopMonitor = nil
	}
	m.started = false
	m.mu.Unlock()

	for _, g := range m.active.list() {
		m.settle(g, StateCancelled, nil)
	}
	return m.model.Close()
}

// Ready reports whether the model is loaded.
func (m *Manager) Ready() bool { return m.model.Loaded() }

// StatsRegistry exposes the registry the manager records into.
func (m *Manager) StatsRegistry() *stats.Registry { return m.stats }

// Stats returns the inference resource counters.
func (m *Manager) Stats() stats.ServiceStats {
	s, _ := m.stats.Get(stats.ResourceInference)
	return s
}

// StuckCleaned is the number of generations reclaimed by the monitor.
func (m *Manager) StuckCleaned() uint64 { return m.stuckCleaned.Load() }

// HealthStatus is the coarse health of the manager.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

type Health struct {
	Status               HealthStatus
	ActiveRequests       int
	QueuedRequests       int
	StuckRequestsCleaned uint64
	ModelLoaded          bool
	HostLoad             float64
	Reason               string
}

// HealthCheck is unhealthy without a loaded model and degraded while the
// host is overloaded or every slot is busy with callers waiting.
func (m *Manager) HealthCheck() Health {
	load := m.adm.Probe()
	h := Health{
		Status:               Healthy,
		ActiveRequests:       m.active.len(),
		QueuedRequests:       m.adm.Queued(),
		StuckRequestsCleaned: m.stuckCleaned.Load(),
		ModelLoaded:          m.model.Loaded(),
		HostLoad:             load.Utilization,
	}
	switch {
	case !h.ModelLoaded:
		h.Status = Unhealthy
		h.Reason = "model not loaded"
		if err := m.model.Err(); err != nil {
			h.Reason = err.Error()
		}
	case load.Overloaded:
		h.Status = Degraded
		h.Reason = ReasonHostOverloaded
	case m.adm.Running() >= m.adm.Slots() && h.QueuedRequests > 0:
		h.Status = Degraded
		h.Reason = "saturated"
	}
	return h
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	now := time.Now()
	resp := types.StatusResponse{
		Model:                m.cfg.ModelPath,
		ModelLoaded:          m.model.Loaded(),
		MaxConcurrency:       m.adm.Slots(),
		QueueSize:            m.adm.QueueSize(),
		QueueLen:             m.adm.Queued(),
		StuckRequestsCleaned: m.stuckCleaned.Load(),
		UptimeSeconds:        int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix:       now.Unix(),
	}
	if err := m.model.Err(); err != nil {
		resp.Error = err.Error()
	}
	gens := m.active.list()
	resp.Active = make([]types.ActiveGeneration, 0, len(gens))
	for _, g := range gens {
		resp.Active = append(resp.Active, types.ActiveGeneration{
			RequestID:  g.RequestID,
			State:      string(g.State()),
			Streaming:  g.Streaming,
			AgeSeconds: g.Age(now).Seconds(),
		})
	}
	return resp
}
