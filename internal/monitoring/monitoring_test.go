// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package monitoring

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mescore-dev/mescore/internal/conf"
)

func TestRegistryGatherAddsLabels(t *testing.T) {
	registry := NewRegistry(conf.MonitoringConfig{
		Labels: map[string]string{"plant": "unit-2"},
	})
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mescore_test_total",
		Help: "Test counter",
	})
	registry.MustRegister(counter)
	counter.Inc()

	families, err := registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, family := range families {
		if family.GetName() != "mescore_test_total" {
			continue
		}
		for _, metric := range family.Metric {
			for _, label := range metric.Label {
				if label.GetName() == "plant" && label.GetValue() == "unit-2" {
					return
				}
			}
		}
		t.Fatal("expected plant label on test metric")
	}
	t.Fatal("test metric not found")
}
