// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mescore-dev/mescore/internal/monitoring"
)

type Monitor struct {
	connectionAttempts prometheus.Counter
}

func NewMQTTMonitor(registry *monitoring.Registry) Monitor {
	connectionAttempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mescore_mqtt_connection_attempts_total",
		Help: "Total number of attempts to connect to the MQTT broker",
	})
	registry.MustRegister(connectionAttempts)
	return Monitor{
		connectionAttempts: connectionAttempts,
	}
}
