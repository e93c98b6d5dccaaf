// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewConfigFromMap_Defaults(t *testing.T) {
	c := newConfigFromMap(map[string]any{
		"db": map[string]any{"host": "localhost", "port": "5432"},
	})
	if c.SchedulerConfig.ShiftStartHour != 6 || c.SchedulerConfig.ShiftEndHour != 22 {
		t.Errorf("expected 06-22 shift window, got %d-%d",
			c.SchedulerConfig.ShiftStartHour, c.SchedulerConfig.ShiftEndHour)
	}
	if c.SchedulerConfig.DefaultSetupMinutes != 30 {
		t.Errorf("expected default setup of 30 min, got %d", c.SchedulerConfig.DefaultSetupMinutes)
	}
	if c.SchedulerConfig.DefaultCycleMinutes != 5 {
		t.Errorf("expected default cycle of 5 min, got %d", c.SchedulerConfig.DefaultCycleMinutes)
	}
	if c.CollectorConfig.PollIntervalSeconds != 1 {
		t.Errorf("expected 1s poll interval, got %d", c.CollectorConfig.PollIntervalSeconds)
	}
	if c.CollectorConfig.EnergyPollIntervalSeconds != 5 {
		t.Errorf("expected 5s energy poll interval, got %d", c.CollectorConfig.EnergyPollIntervalSeconds)
	}
	if c.CollectorConfig.ReconnectBackoffSeconds != 60 {
		t.Errorf("expected 60s reconnect backoff, got %d", c.CollectorConfig.ReconnectBackoffSeconds)
	}
}

func TestMergeMaps(t *testing.T) {
	base := map[string]any{
		"db": map[string]any{"host": "localhost", "password": ""},
	}
	overlay := map[string]any{
		"db": map[string]any{"password": "secret"},
	}
	merged := mergeMaps(base, overlay)
	db, ok := merged["db"].(map[string]any)
	if !ok {
		t.Fatal("expected db map after merge")
	}
	if db["host"] != "localhost" {
		t.Errorf("expected base host to survive, got %v", db["host"])
	}
	if db["password"] != "secret" {
		t.Errorf("expected overlay password to win, got %v", db["password"])
	}
}

func TestGetConfigOrDie_FromEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logging:
  level: debug
  format: json
db:
  host: dbhost
  port: "5432"
  database: mescore
  user: mescore
collector:
  pollIntervalSeconds: 2
  lsv2:
    - machineId: VMC-1
      host: 10.0.0.5
      port: 19000
      partMarker: M4170
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MESCORE_CONFIG", path)
	c := GetConfigOrDie()
	if c.DBConfig.Host != "dbhost" {
		t.Errorf("expected db host dbhost, got %s", c.DBConfig.Host)
	}
	if c.CollectorConfig.PollIntervalSeconds != 2 {
		t.Errorf("expected poll interval 2, got %d", c.CollectorConfig.PollIntervalSeconds)
	}
	if len(c.CollectorConfig.LSV2) != 1 || c.CollectorConfig.LSV2[0].MachineID != "VMC-1" {
		t.Errorf("expected one lsv2 device VMC-1, got %+v", c.CollectorConfig.LSV2)
	}
	if c.LoggingConfig.Level() == 0 {
		// debug level is -4; just ensure the mapping did not fall through.
		t.Errorf("expected debug level, got %v", c.LoggingConfig.Level())
	}
}
