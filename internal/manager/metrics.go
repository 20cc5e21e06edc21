package manager

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsPublisher counts events by name.
type MetricsPublisher struct {
	events *prometheus.CounterVec
}

func NewMetricsPublisher() *MetricsPublisher {
	return &MetricsPublisher{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inferd_inference_events_total",
			Help: "Inference lifecycle events by name",
		}, []string{"event"}),
	}
}

func (p *MetricsPublisher) Publish(e Event) {
	p.events.WithLabelValues(e.Name).Inc()
}

func (p *MetricsPublisher) Describe(ch chan<- *prometheus.Desc) { p.events.Describe(ch) }

func (p *MetricsPublisher) Collect(ch chan<- prometheus.Metric) { p.events.Collect(ch) }

// RegisterMetrics registers gauges for slot usage, backlog and reclaimed
// generations on reg.
func (m *Manager) RegisterMetrics(reg prometheus.Registerer) error {
	cs := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "inferd_inference_active",
			Help: "Generations holding a concurrency slot",
		}, func() float64 { return float64(m.adm.Running()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "inferd_inference_queued",
			Help: "Requests waiting for a concurrency slot",
		}, func() float64 { return float64(m.adm.Queued()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "inferd_inference_slots",
			Help: "Configured concurrency slots",
		}, func() float64 { return float64(m.adm.Slots()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "inferd_inference_stuck_reclaimed_total",
			Help: "Stuck generations reclaimed by the monitor",
		}, func() float64 { return float64(m.stuckCleaned.Load()) }),
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
