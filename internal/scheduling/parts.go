// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package scheduling

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mescore-dev/mescore/internal/db"
)

// Mark a production order as eligible for scheduling. The status row is
// created lazily on first activation. Re-activating an already active part
// is a no-op: the activation clock keeps its original value.
func ActivatePart(d db.DB, productionOrder string, now time.Time) error {
	now = now.UTC()
	var status PartScheduleStatus
	err := d.SelectOne(&status,
		"SELECT * FROM scheduling_part_schedule_status WHERE production_order = :po",
		map[string]any{"po": productionOrder})
	if errors.Is(err, sql.ErrNoRows) {
		status = PartScheduleStatus{
			ProductionOrder: productionOrder,
			State:           PartStateActive,
			ActivationTime:  &now,
			UpdatedAt:       &now,
		}
		return d.Insert(&status)
	}
	if err != nil {
		return fmt.Errorf("failed to load part schedule status: %w", err)
	}
	if status.State == PartStateActive {
		return nil
	}
	status.State = PartStateActive
	status.ActivationTime = &now
	status.UpdatedAt = &now
	if _, err := d.Update(&status); err != nil {
		return fmt.Errorf("failed to activate part: %w", err)
	}
	return nil
}

// Withdraw a production order from scheduling. The activation time is kept
// for the audit trail; only the state flips.
func DeactivatePart(d db.DB, productionOrder string) error {
	var status PartScheduleStatus
	err := d.SelectOne(&status,
		"SELECT * FROM scheduling_part_schedule_status WHERE production_order = :po",
		map[string]any{"po": productionOrder})
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load part schedule status: %w", err)
	}
	if status.State == PartStateInactive {
		return nil
	}
	status.State = PartStateInactive
	if _, err := d.Update(&status); err != nil {
		return fmt.Errorf("failed to deactivate part: %w", err)
	}
	return nil
}
