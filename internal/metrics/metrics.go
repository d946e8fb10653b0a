// Package metrics records probe outcomes in a private Prometheus registry and
// exports them in the node_exporter textfile format.
//
// A nil *Collector is a valid no-op receiver, so callers never need to
// nil-check. All methods are safe for concurrent use.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/isometry/ldapprobe/internal/probe"
)

const namespace = "ldapprobe"

// Collector tracks per-attempt probe metrics.
type Collector struct {
	registry *prometheus.Registry

	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
	warnings *prometheus.CounterVec
	lastRun  prometheus.Gauge
}

// New returns a Collector backed by a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Probe attempts by connection mode, outcome and failing phase",
			},
			[]string{"mode", "outcome", "phase"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Wall-clock duration of probe attempts",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"mode"},
		),
		warnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "warnings_total",
				Help:      "Non-fatal problems observed during successful attempts",
			},
			[]string{"mode", "phase"},
		),
		lastRun: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last probe run finished",
			},
		),
	}
}

// Observe records one probe result.
func (c *Collector) Observe(res probe.Result) {
	if c == nil {
		return
	}

	mode := res.Mode.String()
	phase := res.Phase.String()
	if phase == "" {
		phase = "none"
	}

	c.attempts.WithLabelValues(mode, res.Outcome.String(), phase).Inc()
	c.duration.WithLabelValues(mode).Observe(res.Duration.Seconds())

	for _, w := range res.Warnings {
		c.warnings.WithLabelValues(mode, w.Phase.String()).Inc()
	}
}

// MarkFinished records the completion time of a run.
func (c *Collector) MarkFinished(t time.Time) {
	if c == nil {
		return
	}
	c.lastRun.Set(float64(t.Unix()))
}

// WriteTextfile atomically writes all metrics to path.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, c.registry)
}
