// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package scheduling

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-gorp/gorp"
	"github.com/shopspring/decimal"

	"github.com/mescore-dev/mescore/internal/conf"
	"github.com/mescore-dev/mescore/internal/db"
	"github.com/mescore-dev/mescore/internal/mqtt"
	"github.com/mescore-dev/mescore/internal/shopcal"
)

// Live machine availability, answered by the status engine. AvailableFrom
// reports the earliest instant the machine can take work; ok is false when
// the machine is off with no known return.
type MachineAvailability interface {
	AvailableFrom(machineID string, now time.Time) (from time.Time, ok bool)
}

// Rescheduler folds operator production logs back into the plan: completed
// work becomes a closed version, remainders are re-planned shift-aware, and
// downstream operations are cascaded to the new end.
type Rescheduler struct {
	DB           db.DB
	Clock        shopcal.Clock
	Config       conf.SchedulerConfig
	Monitor      Monitor
	Availability MachineAvailability
	// Optional; a nil client disables trigger publishing.
	MQTT mqtt.Client
}

type rescheduleGroup struct {
	MachineID       string
	OperationNumber int
	PartNumber      string
	ProductionOrder string
	Items           []PlannedScheduleItem
}

// Run regenerates the active schedule versions for all logged work under a
// single transaction. Data issues accumulate as diagnostics.
func (r *Rescheduler) Run(ctx context.Context) ([]string, error) {
	started := time.Now()
	var diagnostics []string

	groups, err := r.loadGroups()
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}

	tx, err := r.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	rollback := func() {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "error", rbErr)
		}
	}

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			rollback()
			return diagnostics, fmt.Errorf("%w: reschedule cancelled", ErrTimeout)
		}
		newEnd, err := r.rescheduleGroup(tx, group, &diagnostics)
		if err != nil {
			rollback()
			return diagnostics, err
		}
		if newEnd == nil {
			continue
		}
		if err := r.cascade(tx, group, *newEnd, &diagnostics); err != nil {
			rollback()
			return diagnostics, err
		}
	}

	if err := tx.Commit(); err != nil {
		return diagnostics, fmt.Errorf("failed to commit reschedule: %w", err)
	}

	r.Monitor.observeRun("reschedule", time.Since(started).Seconds(), len(groups), len(diagnostics))
	if r.MQTT != nil {
		r.MQTT.Publish(mqtt.TriggerScheduleRevised, map[string]any{"groups": len(groups)})
	}
	return diagnostics, nil
}

// Build the (machine, operation, part) groups restricted to parts that have
// at least one production log.
func (r *Rescheduler) loadGroups() ([]rescheduleGroup, error) {
	var loggedOrders []string
	if _, err := r.DB.Select(&loggedOrders,
		"SELECT DISTINCT production_order FROM scheduling_production_logs"); err != nil {
		return nil, fmt.Errorf("failed to load logged orders: %w", err)
	}
	logged := make(map[string]bool, len(loggedOrders))
	for _, po := range loggedOrders {
		logged[po] = true
	}

	var items []PlannedScheduleItem
	if _, err := r.DB.Select(&items,
		`SELECT * FROM scheduling_planned_items WHERE status != :invalidated`,
		map[string]any{"invalidated": ItemStatusInvalidated}); err != nil {
		return nil, fmt.Errorf("failed to load planned items: %w", err)
	}

	type groupKey struct {
		MachineID       string
		OperationNumber int
		PartNumber      string
	}
	byKey := map[groupKey]*rescheduleGroup{}
	var order []groupKey
	for _, item := range items {
		if !logged[item.ProductionOrder] {
			continue
		}
		k := groupKey{item.MachineID, item.OperationNumber, item.PartNumber}
		g, ok := byKey[k]
		if !ok {
			g = &rescheduleGroup{
				MachineID:       item.MachineID,
				OperationNumber: item.OperationNumber,
				PartNumber:      item.PartNumber,
				ProductionOrder: item.ProductionOrder,
			}
			byKey[k] = g
			order = append(order, k)
		}
		g.Items = append(g.Items, item)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.PartNumber != b.PartNumber {
			return a.PartNumber < b.PartNumber
		}
		if a.OperationNumber != b.OperationNumber {
			return a.OperationNumber < b.OperationNumber
		}
		return a.MachineID < b.MachineID
	})
	groups := make([]rescheduleGroup, 0, len(order))
	for _, k := range order {
		groups = append(groups, *byKey[k])
	}
	return groups, nil
}

// Fold the group's logs into new versions on its newest item. Returns the
// end of the new plan, nil when nothing changed.
func (r *Rescheduler) rescheduleGroup(
	tx *gorp.Transaction, group rescheduleGroup, diagnostics *[]string,
) (*time.Time, error) {
	// Newest item carries the plan.
	newest := group.Items[0]
	for _, item := range group.Items[1:] {
		if item.ID > newest.ID {
			newest = item
		}
	}

	var active ScheduleVersion
	err := tx.SelectOne(&active,
		`SELECT * FROM scheduling_versions WHERE item_id = :item AND is_active`,
		map[string]any{"item": newest.ID})
	if errors.Is(err, sql.ErrNoRows) {
		*diagnostics = append(*diagnostics, fmt.Sprintf(
			"item %d of %s has no active version, skipped", newest.ID, group.ProductionOrder))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active version: %w", err)
	}

	logs, err := r.groupLogs(tx, group)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, nil
	}

	actual := 0
	groupStart := logs[0].StartTime
	groupEnd := *logs[0].EndTime
	for _, log := range logs {
		actual += log.QuantityCompleted
		if log.StartTime.Before(groupStart) {
			groupStart = log.StartTime
		}
		if log.EndTime.After(groupEnd) {
			groupEnd = *log.EndTime
		}
	}
	if actual > newest.TotalQuantity {
		actual = newest.TotalQuantity
	}
	if actual == 0 {
		return nil, nil
	}
	remaining := newest.TotalQuantity - actual

	// Close the previously active version.
	active.IsActive = false
	if _, err := tx.Update(&active); err != nil {
		return nil, fmt.Errorf("failed to deactivate version: %w", err)
	}

	// Version for the actuals.
	completedVersion := ScheduleVersion{
		ItemID:            newest.ID,
		VersionNumber:     active.VersionNumber + 1,
		PlannedStartTime:  groupStart,
		PlannedEndTime:    groupEnd,
		PlannedQuantity:   actual,
		CompletedQuantity: actual,
		RemainingQuantity: 0,
		IsActive:          remaining == 0,
	}
	if err := tx.Insert(&completedVersion); err != nil {
		return nil, fmt.Errorf("failed to insert completed version: %w", err)
	}
	lastVersion := completedVersion.VersionNumber
	newEnd := groupEnd

	if remaining > 0 {
		// Plan the remainder shift-aware from the end of the actuals.
		op, err := r.lookupOperation(tx, group.ProductionOrder, group.OperationNumber)
		if err != nil {
			return nil, err
		}
		setup, cycle := r.timing(op, group.ProductionOrder, group.OperationNumber, diagnostics)
		start := r.Clock.AdjustToShift(groupEnd.In(shopcal.IST))
		minutes := setup.Add(cycle.Mul(decimal.NewFromInt(int64(remaining))))
		_, end := r.Clock.SplitMinutes(start, minutes)
		remainderVersion := ScheduleVersion{
			ItemID:            newest.ID,
			VersionNumber:     lastVersion + 1,
			PlannedStartTime:  start,
			PlannedEndTime:    end,
			PlannedQuantity:   remaining,
			RemainingQuantity: remaining,
			IsActive:          true,
		}
		if err := tx.Insert(&remainderVersion); err != nil {
			return nil, fmt.Errorf("failed to insert remainder version: %w", err)
		}
		lastVersion = remainderVersion.VersionNumber
		newEnd = end
	}

	newest.CurrentVersion = lastVersion
	newest.RemainingQuantity = remaining
	if remaining == 0 {
		newest.Status = ItemStatusCompleted
	} else {
		newest.Status = ItemStatusScheduled
	}
	if _, err := tx.Update(&newest); err != nil {
		return nil, fmt.Errorf("failed to update planned item: %w", err)
	}
	return &newEnd, nil
}

// Collect closed logs attached to any version of the group's items or
// directly to the group's operation.
func (r *Rescheduler) groupLogs(tx *gorp.Transaction, group rescheduleGroup) ([]ProductionLog, error) {
	versionIDs := map[int64]bool{}
	for _, item := range group.Items {
		var ids []int64
		if _, err := tx.Select(&ids,
			"SELECT id FROM scheduling_versions WHERE item_id = :item",
			map[string]any{"item": item.ID}); err != nil {
			return nil, fmt.Errorf("failed to load version ids: %w", err)
		}
		for _, id := range ids {
			versionIDs[id] = true
		}
	}

	var logs []ProductionLog
	if _, err := tx.Select(&logs,
		`SELECT * FROM scheduling_production_logs
		 WHERE production_order = :po AND operation_number = :op`,
		map[string]any{"po": group.ProductionOrder, "op": group.OperationNumber}); err != nil {
		return nil, fmt.Errorf("failed to load production logs: %w", err)
	}
	var usable []ProductionLog
	for _, log := range logs {
		if log.EndTime == nil || log.QuantityCompleted <= 0 {
			continue
		}
		if log.VersionID != nil && !versionIDs[*log.VersionID] {
			continue
		}
		usable = append(usable, log)
	}
	return usable, nil
}

// Re-plan every schedulable downstream operation of the group's order to
// start at the predecessor's new end. Groups are processed in ascending
// operation order, so overlapping cascades of one order supersede each
// other: the later pass deactivates the earlier version and the highest
// version number stays the single active plan.
func (r *Rescheduler) cascade(
	tx *gorp.Transaction, group rescheduleGroup, cascadeStart time.Time, diagnostics *[]string,
) error {
	var items []PlannedScheduleItem
	if _, err := tx.Select(&items,
		`SELECT * FROM scheduling_planned_items
		 WHERE production_order = :po AND operation_number > :op
		   AND status NOT IN (:invalidated, :completed)
		 ORDER BY operation_number ASC, id DESC`,
		map[string]any{
			"po": group.ProductionOrder, "op": group.OperationNumber,
			"invalidated": ItemStatusInvalidated, "completed": ItemStatusCompleted,
		}); err != nil {
		return fmt.Errorf("failed to load downstream items: %w", err)
	}

	start := cascadeStart
	seen := map[int]bool{}
	for _, item := range items {
		// Newest item per operation wins; the query orders id descending.
		if seen[item.OperationNumber] {
			continue
		}
		seen[item.OperationNumber] = true

		op, err := r.lookupOperation(tx, item.ProductionOrder, item.OperationNumber)
		if err != nil {
			return err
		}
		if op != nil && !r.workCenterSchedulable(tx, op.WorkCenter) {
			continue
		}

		planStart := start
		if r.Availability != nil {
			from, ok := r.Availability.AvailableFrom(item.MachineID, planStart)
			if !ok {
				*diagnostics = append(*diagnostics, fmt.Sprintf(
					"machine %s is off indefinitely, operation %d of %s not re-planned",
					item.MachineID, item.OperationNumber, item.ProductionOrder))
				continue
			}
			if from.After(planStart) {
				planStart = from
			}
		}

		var active ScheduleVersion
		err = tx.SelectOne(&active,
			`SELECT * FROM scheduling_versions WHERE item_id = :item AND is_active`,
			map[string]any{"item": item.ID})
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load downstream active version: %w", err)
		}

		quantity := active.RemainingQuantity
		if quantity <= 0 {
			quantity = active.PlannedQuantity
		}
		setup, cycle := r.timing(op, item.ProductionOrder, item.OperationNumber, diagnostics)
		adjusted := r.Clock.AdjustToShift(planStart.In(shopcal.IST))
		minutes := setup.Add(cycle.Mul(decimal.NewFromInt(int64(quantity))))
		_, end := r.Clock.SplitMinutes(adjusted, minutes)

		active.IsActive = false
		if _, err := tx.Update(&active); err != nil {
			return fmt.Errorf("failed to deactivate downstream version: %w", err)
		}
		next := ScheduleVersion{
			ItemID:            item.ID,
			VersionNumber:     active.VersionNumber + 1,
			PlannedStartTime:  adjusted,
			PlannedEndTime:    end,
			PlannedQuantity:   quantity,
			CompletedQuantity: active.CompletedQuantity,
			RemainingQuantity: quantity,
			IsActive:          true,
		}
		if err := tx.Insert(&next); err != nil {
			return fmt.Errorf("failed to insert downstream version: %w", err)
		}
		item.CurrentVersion = next.VersionNumber
		if _, err := tx.Update(&item); err != nil {
			return fmt.Errorf("failed to update downstream item: %w", err)
		}
		start = end
	}
	return nil
}

func (r *Rescheduler) lookupOperation(tx *gorp.Transaction, productionOrder string, operationNumber int) (*Operation, error) {
	var op Operation
	err := tx.SelectOne(&op,
		`SELECT * FROM scheduling_operations
		 WHERE production_order = :po AND operation_number = :op`,
		map[string]any{"po": productionOrder, "op": operationNumber})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load operation: %w", err)
	}
	return &op, nil
}

func (r *Rescheduler) workCenterSchedulable(tx *gorp.Transaction, workCenter string) bool {
	var wc WorkCenter
	err := tx.SelectOne(&wc,
		"SELECT * FROM scheduling_work_centers WHERE id = :id",
		map[string]any{"id": workCenter})
	if err != nil {
		return false
	}
	return wc.IsSchedulable
}

// Operation timing with the usual defaults when the definition is missing.
func (r *Rescheduler) timing(op *Operation, productionOrder string, operationNumber int, diagnostics *[]string) (setup, cycle decimal.Decimal) {
	if op != nil {
		setup, cycle = op.SetupTime, op.IdealCycleTime
	}
	if !cycle.IsPositive() {
		if !setup.IsPositive() {
			setup = decimal.NewFromInt(int64(r.Config.DefaultSetupMinutes))
		}
		cycle = decimal.NewFromInt(int64(r.Config.DefaultCycleMinutes))
		*diagnostics = append(*diagnostics, fmt.Sprintf(
			"operation %d of %s has no timing definition, assuming setup %s min cycle %s min",
			operationNumber, productionOrder, setup, cycle))
	}
	return setup, cycle
}
