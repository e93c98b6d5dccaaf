// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package production

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mescore-dev/mescore/internal/monitoring"
)

type Monitor struct {
	statusGauge    *prometheus.GaugeVec
	transitionsCtr *prometheus.CounterVec
	oeeGauge       *prometheus.GaugeVec
}

func NewProductionMonitor(registry *monitoring.Registry) Monitor {
	statusGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mescore_machine_status",
		Help: "Classified machine status (0 off, 1 idle, 2 production)",
	}, []string{"machine"})
	transitionsCtr := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mescore_machine_status_transitions_total",
		Help: "Number of classified status transitions per machine",
	}, []string{"machine", "status"})
	oeeGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mescore_shift_oee_ratio",
		Help: "OEE ratios of the current shift per machine",
	}, []string{"machine", "ratio"})
	registry.MustRegister(statusGauge, transitionsCtr, oeeGauge)
	return Monitor{
		statusGauge:    statusGauge,
		transitionsCtr: transitionsCtr,
		oeeGauge:       oeeGauge,
	}
}

func (m Monitor) observeTransition(machine string, status int) {
	if m.statusGauge == nil {
		return
	}
	m.statusGauge.WithLabelValues(machine).Set(float64(status))
	m.transitionsCtr.WithLabelValues(machine, strconv.Itoa(status)).Inc()
}

func (m Monitor) observeOEE(machine string, summary ShiftSummary) {
	if m.oeeGauge == nil {
		return
	}
	m.oeeGauge.WithLabelValues(machine, "availability").Set(summary.Availability)
	m.oeeGauge.WithLabelValues(machine, "performance").Set(summary.Performance)
	m.oeeGauge.WithLabelValues(machine, "quality").Set(summary.Quality)
	m.oeeGauge.WithLabelValues(machine, "oee").Set(summary.OEE)
}
