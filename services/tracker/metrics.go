package tracker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the tracker's Prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	pollerTicks   *prometheus.CounterVec
	activePollers prometheus.Gauge
	ingest        *prometheus.CounterVec
	accumulated   *prometheus.CounterVec
	visionLatency prometheus.Histogram
}

// NewMetrics registers the tracker collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// result: ok, sampler_error, store_error, stopped
		pollerTicks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "focusguard",
			Name:      "poller_ticks_total",
			Help:      "Session poller ticks by outcome",
		}, []string{"result"}),
		activePollers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "focusguard",
			Name:      "active_pollers",
			Help:      "Session pollers currently registered",
		}),
		ingest: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "focusguard",
			Name:      "ingest_total",
			Help:      "Ingest gateway calls by source and outcome",
		}, []string{"source", "result"}),
		accumulated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "focusguard",
			Name:      "accumulated_seconds_total",
			Help:      "Seconds credited to session aggregates",
		}, []string{"bucket"}),
		visionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "focusguard",
			Name:      "vision_call_duration_seconds",
			Help:      "Remote vision classifier latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
	}
}

func (m *Metrics) tick(result string) {
	if m == nil {
		return
	}
	m.pollerTicks.WithLabelValues(result).Inc()
}

func (m *Metrics) pollers(n int) {
	if m == nil {
		return
	}
	m.activePollers.Set(float64(n))
}

func (m *Metrics) ingested(source Source, result string) {
	if m == nil {
		return
	}
	m.ingest.WithLabelValues(string(source), result).Inc()
}

func (m *Metrics) credited(d Delta) {
	if m == nil || d.Seconds == 0 {
		return
	}
	m.accumulated.WithLabelValues(d.Bucket.String()).Add(float64(d.Seconds))
}

func (m *Metrics) visionCall(took time.Duration) {
	if m == nil {
		return
	}
	m.visionLatency.Observe(took.Seconds())
}

// resultLabel buckets an error into a metric label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsUpstream(err):
		return "upstream_error"
	case IsValidation(err):
		return "invalid"
	case IsNotFound(err):
		return "not_found"
	}
	if _, ok := AsRateLimited(err); ok {
		return "rate_limited"
	}
	return "error"
}
