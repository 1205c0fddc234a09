package bootstrap

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage names used as metric labels.
const (
	StagePreflight   = "preflight"
	StageAcquire     = "acquire"
	StageMint        = "mint"
	StagePersist     = "persist"
	StageVerifyGrant = "verify_grant"
)

// Metrics records per-stage results for one run. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry
	results  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lastRun  *prometheus.GaugeVec
}

// NewMetrics registers the bootstrap metrics on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		results: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skyops_bootstrap_stage_total",
				Help: "Bootstrap stage executions by result",
			},
			[]string{"environment", "stage", "result"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skyops_bootstrap_stage_duration_seconds",
				Help:    "Duration of bootstrap stages in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"environment", "stage"},
		),
		lastRun: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "skyops_bootstrap_last_run_timestamp_seconds",
				Help: "Unix time of the last bootstrap run by final status",
			},
			[]string{"environment", "status"},
		),
	}
}

// Observe records one stage execution.
func (m *Metrics) Observe(environment, stage, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(environment, stage, result).Inc()
	m.duration.WithLabelValues(environment, stage).Observe(elapsed.Seconds())
}

// Finished stamps the end of a run.
func (m *Metrics) Finished(environment, status string, at time.Time) {
	if m == nil {
		return
	}
	m.lastRun.WithLabelValues(environment, status).Set(float64(at.Unix()))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the metrics in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
