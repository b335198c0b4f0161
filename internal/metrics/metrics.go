// Package metrics records run outcomes in a Prometheus registry and writes
// them out in the node-exporter textfile format.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"lab-harness/internal/readiness"
	"lab-harness/internal/report"
)

const MetricsNamespace = "lab_harness"

// Startup failure reasons.
const (
	ReasonTimeout = "timeout"
	ReasonExited  = "exited"
	ReasonSpawn   = "spawn"
)

type Metrics struct {
	registry *prometheus.Registry

	modeRuns        *prometheus.CounterVec
	cases           *prometheus.CounterVec
	modeDuration    *prometheus.GaugeVec
	startupFailures *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		modeRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "mode_runs_total",
			Help:      "Mode iterations by verdict",
		}, []string{"mode", "result"}),
		cases: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "cases_total",
			Help:      "Suite cases by outcome",
		}, []string{"mode", "outcome"}),
		modeDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "mode_duration_seconds",
			Help:      "Wall time of the last iteration of each mode, start to stop",
		}, []string{"mode"}),
		startupFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "startup_failures_total",
			Help:      "Servers that never became ready",
		}, []string{"mode", "reason"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordSummary folds every verdict of a run into the metrics.
func (m *Metrics) RecordSummary(sum *report.Summary) {
	for _, v := range sum.Verdicts {
		m.modeDuration.WithLabelValues(v.Mode).Set(v.Duration.Seconds())
		if !v.SuiteRan() {
			m.modeRuns.WithLabelValues(v.Mode, "start_failed").Inc()
			m.startupFailures.WithLabelValues(v.Mode, StartupReason(v.Err)).Inc()
			continue
		}
		result := "pass"
		if !v.Passed {
			result = "fail"
		}
		m.modeRuns.WithLabelValues(v.Mode, result).Inc()
		if v.Result.Validate() != nil {
			// Counters only go up; a malformed tally is already a failed mode.
			continue
		}
		m.cases.WithLabelValues(v.Mode, "success").Add(float64(v.Result.SuccessCnt))
		m.cases.WithLabelValues(v.Mode, "error").Add(float64(v.Result.ErrorCnt))
		m.cases.WithLabelValues(v.Mode, "timeout").Add(float64(v.Result.TimeoutCnt))
	}
}

// StartupReason buckets a startup failure for the reason label.
func StartupReason(err error) string {
	switch {
	case errors.Is(err, readiness.ErrReadinessTimeout):
		return ReasonTimeout
	case errors.Is(err, readiness.ErrProcessExitedEarly):
		return ReasonExited
	default:
		return ReasonSpawn
	}
}

// WriteTextfile atomically replaces path with the current metric values.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
