// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mescore-dev/mescore/internal/monitoring"
)

// Monitor counts samples and read errors per machine.
type Monitor struct {
	samplesCtr *prometheus.CounterVec
	errorsCtr  *prometheus.CounterVec
}

func NewCollectorMonitor(registry *monitoring.Registry) Monitor {
	samplesCtr := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mescore_collector_samples_total",
		Help: "Samples successfully read from a machine device.",
	}, []string{"machine"})
	errorsCtr := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mescore_collector_read_errors_total",
		Help: "Failed connection attempts and reads per machine device.",
	}, []string{"machine"})
	registry.MustRegister(samplesCtr, errorsCtr)
	return Monitor{samplesCtr: samplesCtr, errorsCtr: errorsCtr}
}

func (m Monitor) observeSample(machineID string) {
	if m.samplesCtr == nil {
		return
	}
	m.samplesCtr.WithLabelValues(machineID).Inc()
}

func (m Monitor) observeError(machineID string) {
	if m.errorsCtr == nil {
		return
	}
	m.errorsCtr.WithLabelValues(machineID).Inc()
}
