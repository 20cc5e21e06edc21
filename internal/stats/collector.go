package stats

import "github.com/prometheus/client_golang/prometheus"

// Collector exports a Registry as Prometheus metrics at scrape time.
type Collector struct {
	reg *Registry

	calls     *prometheus.Desc
	attempts  *prometheus.Desc
	retryTime *prometheus.Desc
	latency   *prometheus.Desc
	success   *prometheus.Desc
}

// NewCollector builds a collector over reg.
func NewCollector(reg *Registry) *Collector {
	return &Collector{
		reg: reg,
		calls: prometheus.NewDesc("inferd_service_calls_total",
			"Completed calls per resource and result", []string{"resource", "result"}, nil),
		attempts: prometheus.NewDesc("inferd_service_attempts_total",
			"Attempts made per resource, including retries", []string{"resource"}, nil),
		retryTime: prometheus.NewDesc("inferd_service_retry_seconds_total",
			"Time spent sleeping between retry attempts", []string{"resource"}, nil),
		latency: prometheus.NewDesc("inferd_service_latency_seconds_total",
			"Accumulated call latency", []string{"resource"}, nil),
		success: prometheus.NewDesc("inferd_service_success_ratio",
			"Successful calls over total calls", []string{"resource"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.calls
	ch <- c.attempts
	ch <- c.retryTime
	ch <- c.latency
	ch <- c.success
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.reg.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(s.SuccessfulCalls), s.Name, "success")
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(s.FailedCalls), s.Name, "failure")
		ch <- prometheus.MustNewConstMetric(c.attempts, prometheus.CounterValue, float64(s.TotalAttempts), s.Name)
		ch <- prometheus.MustNewConstMetric(c.retryTime, prometheus.CounterValue, s.TotalRetryTime.Seconds(), s.Name)
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.CounterValue, s.TotalLatency.Seconds(), s.Name)
		ch <- prometheus.MustNewConstMetric(c.success, prometheus.GaugeValue, s.SuccessRate, s.Name)
	}
}
