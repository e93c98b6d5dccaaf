// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package scheduling

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mescore-dev/mescore/internal/monitoring"
)

type Monitor struct {
	runTimer       *prometheus.HistogramVec
	recordsGauge   *prometheus.GaugeVec
	diagnosticsCtr *prometheus.CounterVec
}

func NewSchedulingMonitor(registry *monitoring.Registry) Monitor {
	runTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mescore_scheduling_run_duration_seconds",
		Help:    "Duration of schedule generation runs",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})
	recordsGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mescore_scheduling_records",
		Help: "Number of schedule records emitted by the last run",
	}, []string{"task"})
	diagnosticsCtr := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mescore_scheduling_diagnostics_total",
		Help: "Number of diagnostics accumulated during schedule generation",
	}, []string{"task"})
	registry.MustRegister(runTimer, recordsGauge, diagnosticsCtr)
	return Monitor{
		runTimer:       runTimer,
		recordsGauge:   recordsGauge,
		diagnosticsCtr: diagnosticsCtr,
	}
}

func (m Monitor) observeRun(task string, seconds float64, records, diagnostics int) {
	if m.runTimer == nil {
		return
	}
	m.runTimer.WithLabelValues(task).Observe(seconds)
	m.recordsGauge.WithLabelValues(task).Set(float64(records))
	m.diagnosticsCtr.WithLabelValues(task).Add(float64(diagnostics))
}
