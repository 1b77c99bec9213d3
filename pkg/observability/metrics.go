package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	NodesAccepted  *prometheus.CounterVec
	NodesRejected  *prometheus.CounterVec
	ProviderErrors *prometheus.CounterVec
	BatchDuration  *prometheus.HistogramVec
	ActiveSessions prometheus.Gauge
	PreloadsFired  prometheus.Counter
	PreloadsReused prometheus.Counter
}

// NewMetrics creates and registers the engine collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodesAccepted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "palette_nodes_accepted_total",
				Help: "Accepted suggestion nodes by source provider.",
			},
			[]string{"provider"},
		),
		NodesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "palette_nodes_rejected_total",
				Help: "Candidates dropped as duplicates by source provider.",
			},
			[]string{"provider"},
		),
		ProviderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "palette_provider_errors_total",
				Help: "Isolated provider failures during orchestrator runs.",
			},
			[]string{"provider"},
		),
		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "palette_batch_duration_seconds",
				Help:    "Wall-clock duration of orchestrator runs.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"diagram_type"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "palette_active_sessions",
				Help: "Sessions currently alive in the store.",
			},
		),
		PreloadsFired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "palette_preloads_fired_total",
				Help: "Speculative preload runs started.",
			},
		),
		PreloadsReused: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "palette_preloads_reused_total",
				Help: "Explicit start calls that reused a preloaded session.",
			},
		),
	}
	reg.MustRegister(
		m.NodesAccepted,
		m.NodesRejected,
		m.ProviderErrors,
		m.BatchDuration,
		m.ActiveSessions,
		m.PreloadsFired,
		m.PreloadsReused,
	)
	return m
}

// NopMetrics returns collectors bound to a throwaway registry, for tests and
// callers that do not scrape.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// ObserveBatch records one completed run.
func (m *Metrics) ObserveBatch(diagramType string, d time.Duration) {
	m.BatchDuration.WithLabelValues(diagramType).Observe(d.Seconds())
}
