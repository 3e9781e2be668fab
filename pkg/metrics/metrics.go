// Package metrics records pipeline and operation activity as Prometheus
// metrics. A CLI run has no scrape endpoint, so the registry is written to a
// node_exporter textfile when the run finishes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gitlab.com/tozd/go/errors"
)

const namespace = "tilepack"

// Entry actions
const (
	ActionProcessed = "processed"
	ActionPassed    = "passed"
	ActionFailed    = "failed"
)

// Run results
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// 📈 Metrics owns a private registry. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	entries       *prometheus.CounterVec
	bytesIn       *prometheus.CounterVec
	bytesOut      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		entries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entries_total",
				Help:      "Entries handled by a stage",
			},
			[]string{"stage", "content_type", "action"},
		),
		bytesIn: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_bytes_in_total",
				Help:      "Bytes read by a stage",
			},
			[]string{"stage"},
		),
		bytesOut: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_bytes_out_total",
				Help:      "Bytes written by a stage",
			},
			[]string{"stage"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time taken by a stage over the whole package",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 1800},
			},
			[]string{"stage"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Pipeline and operation runs by result",
			},
			[]string{"kind", "result"},
		),
	}
}

// ObserveEntry counts one entry and its sizes
func (m *Metrics) ObserveEntry(stage, contentType, action string, in, out int) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(stage, contentType, action).Inc()
	m.bytesIn.WithLabelValues(stage).Add(float64(in))
	m.bytesOut.WithLabelValues(stage).Add(float64(out))
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveRun counts a finished run; a nil err is a success
func (m *Metrics) ObserveRun(kind string, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.runs.WithLabelValues(kind, result).Inc()
}

// Registry exposes the underlying registry for gathering
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// 💾 WriteTextfile writes every metric in the text exposition format
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
