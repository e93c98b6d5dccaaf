// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package ems

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mescore-dev/mescore/internal/monitoring"
)

type Monitor struct {
	powerGauge  *prometheus.GaugeVec
	energyGauge *prometheus.GaugeVec
}

func NewEMSMonitor(registry *monitoring.Registry) Monitor {
	powerGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mescore_ems_power_kw",
		Help: "Latest active power reading per machine",
	}, []string{"machine"})
	energyGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mescore_ems_energy_kwh_total",
		Help: "Latest cumulative energy register per machine",
	}, []string{"machine"})
	registry.MustRegister(powerGauge, energyGauge)
	return Monitor{powerGauge: powerGauge, energyGauge: energyGauge}
}

func (m Monitor) observeReading(reading Reading) {
	if m.powerGauge == nil {
		return
	}
	m.powerGauge.WithLabelValues(reading.MachineID).Set(reading.PowerKW)
	m.energyGauge.WithLabelValues(reading.MachineID).Set(reading.EnergyKWH)
}
