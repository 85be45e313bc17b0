// SPDX-License-Identifier: AGPL-3.0-only

// Package metrics exposes Prometheus counters for tick activity. All observe
// methods are safe on a nil *Metrics so callers need no guards when the
// listener is disabled.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"upi/internal/apperr"
	"upi/internal/model"
)

// Metrics bundles the poller's instrumentation on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	ticks           *prometheus.CounterVec
	changes         *prometheus.CounterVec
	failures        *prometheus.CounterVec
	persistFailures prometheus.Counter
	tasks           prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upi_ticks_total",
			Help: "Completed check ticks by url and result.",
		}, []string{"url", "result"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upi_changes_total",
			Help: "Detected value changes by url.",
		}, []string{"url"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upi_tick_failures_total",
			Help: "Tick failures by pipeline stage.",
		}, []string{"stage"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upi_persist_failures_total",
			Help: "Failed state file writes.",
		}),
		tasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "upi_tasks",
			Help: "Number of configured tasks.",
		}),
	}
	m.reg.MustRegister(m.ticks, m.changes, m.failures, m.persistFailures, m.tasks)
	return m
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// SetTaskCount records the configured task count.
func (m *Metrics) SetTaskCount(n int) {
	if m == nil {
		return
	}
	m.tasks.Set(float64(n))
}

// ObserveOutcome records one completed tick.
func (m *Metrics) ObserveOutcome(o model.Outcome) {
	if m == nil {
		return
	}
	result := "ok"
	if o.Err != nil {
		result = "error"
		m.failures.WithLabelValues(stageOf(o.Err)).Inc()
	} else if o.Changed {
		m.changes.WithLabelValues(o.URL).Inc()
	}
	m.ticks.WithLabelValues(o.URL, result).Inc()
}

// ObservePersistFailure records one failed state save.
func (m *Metrics) ObservePersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func stageOf(err error) string {
	var fe *apperr.FetchError
	if errors.As(err, &fe) {
		return "fetch"
	}
	var ee *apperr.ExtractError
	if errors.As(err, &ee) {
		return "extract"
	}
	return "other"
}
