// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package scheduling

import (
	"fmt"

	"github.com/mescore-dev/mescore/internal/db"
)

// Persist an operator production log after validating the data model
// invariants. Nothing is written when a check fails.
func RecordProductionLog(d db.DB, log *ProductionLog) error {
	if log.QuantityCompleted < 0 || log.QuantityRejected < 0 {
		return fmt.Errorf("%w: negative quantity on production log", ErrInput)
	}
	// Stored normalized so time-window queries compare consistently.
	log.StartTime = log.StartTime.UTC()
	if log.EndTime != nil {
		utc := log.EndTime.UTC()
		log.EndTime = &utc
	}
	if log.EndTime != nil && log.EndTime.Before(log.StartTime) {
		return fmt.Errorf("%w: production log ends before it starts", ErrInput)
	}

	var order Order
	err := d.SelectOne(&order,
		`SELECT * FROM scheduling_orders
		 WHERE part_number = :part AND production_order = :po`,
		map[string]any{"part": log.PartNumber, "po": log.ProductionOrder})
	if err != nil {
		return fmt.Errorf("%w: unknown order %s/%s", ErrInput, log.PartNumber, log.ProductionOrder)
	}

	// Cumulative completions for the operation must stay within the order.
	completed, err := d.SelectInt(
		`SELECT COALESCE(SUM(quantity_completed), 0) FROM scheduling_production_logs
		 WHERE production_order = :po AND operation_number = :op`,
		map[string]any{"po": log.ProductionOrder, "op": log.OperationNumber})
	if err != nil {
		return fmt.Errorf("failed to sum production logs: %w", err)
	}
	if int(completed)+log.QuantityCompleted > order.RequiredQuantity {
		return fmt.Errorf("%w: operation %d of %s would exceed required quantity %d",
			ErrState, log.OperationNumber, log.ProductionOrder, order.RequiredQuantity)
	}

	if err := d.Insert(log); err != nil {
		return fmt.Errorf("failed to insert production log: %w", err)
	}
	return nil
}
