// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package scheduling

import (
	"testing"
	"time"
)

func TestActivatePart_Idempotent(t *testing.T) {
	env := setupSchedulingDB(t)
	defer env.Close()

	first := ist(2025, time.June, 2, 8, 0)
	if err := ActivatePart(*env.DB, "PO-1", first); err != nil {
		t.Fatal(err)
	}
	// Re-activating keeps the original activation clock.
	if err := ActivatePart(*env.DB, "PO-1", ist(2025, time.June, 3, 8, 0)); err != nil {
		t.Fatal(err)
	}

	var status PartScheduleStatus
	if err := env.DB.SelectOne(&status,
		"SELECT * FROM scheduling_part_schedule_status WHERE production_order = :po",
		map[string]any{"po": "PO-1"}); err != nil {
		t.Fatal(err)
	}
	if status.State != PartStateActive {
		t.Errorf("expected active state, got %s", status.State)
	}
	if status.ActivationTime == nil || !status.ActivationTime.Equal(first) {
		t.Errorf("expected activation time %v, got %v", first, status.ActivationTime)
	}
}

func TestDeactivateAndReactivatePart(t *testing.T) {
	env := setupSchedulingDB(t)
	defer env.Close()

	first := ist(2025, time.June, 2, 8, 0)
	if err := ActivatePart(*env.DB, "PO-1", first); err != nil {
		t.Fatal(err)
	}
	if err := DeactivatePart(*env.DB, "PO-1"); err != nil {
		t.Fatal(err)
	}

	var status PartScheduleStatus
	if err := env.DB.SelectOne(&status,
		"SELECT * FROM scheduling_part_schedule_status WHERE production_order = :po",
		map[string]any{"po": "PO-1"}); err != nil {
		t.Fatal(err)
	}
	if status.State != PartStateInactive {
		t.Errorf("expected inactive state, got %s", status.State)
	}
	// The audit trail keeps the activation time.
	if status.ActivationTime == nil || !status.ActivationTime.Equal(first) {
		t.Errorf("expected activation time %v, got %v", first, status.ActivationTime)
	}

	// Re-activation after deactivation restarts the clock.
	second := ist(2025, time.June, 4, 8, 0)
	if err := ActivatePart(*env.DB, "PO-1", second); err != nil {
		t.Fatal(err)
	}
	if err := env.DB.SelectOne(&status,
		"SELECT * FROM scheduling_part_schedule_status WHERE production_order = :po",
		map[string]any{"po": "PO-1"}); err != nil {
		t.Fatal(err)
	}
	if status.ActivationTime == nil || !status.ActivationTime.Equal(second) {
		t.Errorf("expected activation time %v, got %v", second, status.ActivationTime)
	}
}

func TestDeactivatePart_Unknown(t *testing.T) {
	env := setupSchedulingDB(t)
	defer env.Close()
	if err := DeactivatePart(*env.DB, "PO-unknown"); err != nil {
		t.Errorf("expected deactivating an unknown part to be a no-op, got %v", err)
	}
}
