// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mescore-dev/mescore/internal/conf"
	"github.com/mescore-dev/mescore/internal/db"
	"github.com/mescore-dev/mescore/internal/mqtt"
	"github.com/mescore-dev/mescore/internal/shopcal"
)

// Identity of a part within a schedule generation.
type PartKey struct {
	PartNumber      string
	ProductionOrder string
}

// One emitted scheduling interval, either a setup or a process fragment.
type ScheduleRecord struct {
	PartNumber           string
	ProductionOrder      string
	OperationNumber      int
	OperationDescription string
	MachineID            string
	Start                time.Time
	End                  time.Time
	// Progress label, e.g. Setup(20/30 min) or Process(80pcs).
	QuantityLabel string
	// Pieces produced in this fragment; zero for setup fragments.
	Pieces int
}

// Result of one batch schedule generation. Data issues never fail the run;
// they accumulate as diagnostics instead.
type BatchResult struct {
	Records []ScheduleRecord
	// Expected completion instant per unit, 1..Q, per part.
	UnitCompletionTimes map[PartKey][]time.Time
	// Human-readable notices for parts that could not be fully scheduled.
	PartiallyCompleted []string
}

// BatchScheduler transforms the activated production orders into a
// time-phased schedule of setup and production intervals.
type BatchScheduler struct {
	DB      db.DB
	Clock   shopcal.Clock
	Config  conf.SchedulerConfig
	Monitor Monitor
	// Optional; a nil client disables trigger publishing.
	MQTT mqtt.Client
}

// Schedule every active part using the quantities requested on the orders.
func (s *BatchScheduler) Run(ctx context.Context) (BatchResult, error) {
	var orders []Order
	if _, err := s.DB.Select(&orders, "SELECT * FROM scheduling_orders"); err != nil {
		return BatchResult{}, fmt.Errorf("failed to load orders: %w", err)
	}
	quantities := make(map[PartKey]int, len(orders))
	for _, o := range orders {
		quantities[PartKey{o.PartNumber, o.ProductionOrder}] = o.RequiredQuantity
	}
	return s.RunWithQuantities(ctx, quantities)
}

// Schedule the given parts with explicitly requested quantities.
func (s *BatchScheduler) RunWithQuantities(ctx context.Context, quantities map[PartKey]int) (BatchResult, error) {
	started := time.Now()
	result := BatchResult{UnitCompletionTimes: map[PartKey][]time.Time{}}

	schedulable, err := s.loadSchedulableWorkCenters()
	if err != nil {
		return result, err
	}
	machines, err := s.loadMachines()
	if err != nil {
		return result, err
	}
	statuses, err := s.loadPartStatuses()
	if err != nil {
		return result, err
	}
	priorities, err := s.loadPriorities()
	if err != nil {
		return result, err
	}
	opsByPart, dropped := s.loadOperations(schedulable, machines, statuses)
	for _, notice := range dropped {
		result.PartiallyCompleted = append(result.PartiallyCompleted, notice)
	}

	parts := s.sortParts(opsByPart, statuses, priorities)

	for _, key := range parts {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("%w: schedule generation cancelled", ErrTimeout)
		}
		quantity, ok := quantities[key]
		if !ok || quantity <= 0 {
			result.PartiallyCompleted = append(result.PartiallyCompleted,
				fmt.Sprintf("part %s/%s skipped: no requested quantity", key.PartNumber, key.ProductionOrder))
			continue
		}
		status := statuses[key.ProductionOrder]
		if status.ActivationTime == nil {
			result.PartiallyCompleted = append(result.PartiallyCompleted,
				fmt.Sprintf("part %s/%s skipped: no activation timestamp", key.PartNumber, key.ProductionOrder))
			continue
		}
		records, completions, notices := s.schedulePart(key, opsByPart[key], quantity, *status.ActivationTime)
		result.Records = append(result.Records, records...)
		result.UnitCompletionTimes[key] = completions
		result.PartiallyCompleted = append(result.PartiallyCompleted, notices...)
	}

	if err := s.persist(ctx, result.Records, quantities); err != nil {
		return result, err
	}

	s.Monitor.observeRun("batch", time.Since(started).Seconds(),
		len(result.Records), len(result.PartiallyCompleted))
	if s.MQTT != nil {
		s.MQTT.Publish(mqtt.TriggerScheduleGenerated, map[string]any{
			"records":     len(result.Records),
			"diagnostics": len(result.PartiallyCompleted),
		})
	}
	slog.Info("batch schedule generated",
		"records", len(result.Records), "diagnostics", len(result.PartiallyCompleted))
	return result, nil
}

// Schedule one part: walk its operations in sequence order, emitting setup
// and production fragments and advancing the cursor.
func (s *BatchScheduler) schedulePart(
	key PartKey, ops []Operation, quantity int, activation time.Time,
) (records []ScheduleRecord, completions []time.Time, notices []string) {
	cursor := s.Clock.AdjustToShift(activation.In(shopcal.IST))
	for _, op := range ops {
		cursor = s.Clock.AdjustToShift(cursor)

		setup, cycle := op.SetupTime, op.IdealCycleTime
		if !cycle.IsPositive() {
			if !setup.IsPositive() {
				setup = decimal.NewFromInt(int64(s.Config.DefaultSetupMinutes))
			}
			cycle = decimal.NewFromInt(int64(s.Config.DefaultCycleMinutes))
			notices = append(notices, fmt.Sprintf(
				"operation %d of %s/%s has no timing definition, assuming setup %s min cycle %s min",
				op.OperationNumber, key.PartNumber, key.ProductionOrder, setup, cycle))
			slog.Warn("missing operation timing, using defaults",
				"part", key.PartNumber, "order", key.ProductionOrder, "operation", op.OperationNumber)
		}

		// Setup interval, split across shift windows as needed.
		if setup.IsPositive() {
			fragments, end := s.Clock.SplitMinutes(cursor, setup)
			done := decimal.Zero
			for _, f := range fragments {
				done = done.Add(f.Minutes)
				records = append(records, ScheduleRecord{
					PartNumber:           key.PartNumber,
					ProductionOrder:      key.ProductionOrder,
					OperationNumber:      op.OperationNumber,
					OperationDescription: op.OperationDescription,
					MachineID:            op.MachineID,
					Start:                f.Start,
					End:                  f.End,
					QuantityLabel:        fmt.Sprintf("Setup(%s/%s min)", done, setup),
				})
			}
			cursor = end
		}

		// Production interval for the full quantity.
		totalMinutes := cycle.Mul(decimal.NewFromInt(int64(quantity)))
		fragments, end := s.Clock.SplitMinutes(cursor, totalMinutes)
		remainingPieces := quantity
		remainingMinutes := totalMinutes
		for i, f := range fragments {
			pieces := remainingPieces
			if i < len(fragments)-1 {
				share := decimal.NewFromInt(int64(remainingPieces)).
					Mul(f.Minutes).Div(remainingMinutes).Floor()
				pieces = int(share.IntPart())
				if pieces < 1 {
					pieces = 1
				}
				if pieces > remainingPieces {
					pieces = remainingPieces
				}
			}
			records = append(records, ScheduleRecord{
				PartNumber:           key.PartNumber,
				ProductionOrder:      key.ProductionOrder,
				OperationNumber:      op.OperationNumber,
				OperationDescription: op.OperationDescription,
				MachineID:            op.MachineID,
				Start:                f.Start,
				End:                  f.End,
				QuantityLabel:        fmt.Sprintf("Process(%dpcs)", pieces),
				Pieces:               pieces,
			})
			remainingPieces -= pieces
			remainingMinutes = remainingMinutes.Sub(f.Minutes)
		}
		cursor = end
	}

	completions = make([]time.Time, quantity)
	for i := range completions {
		completions[i] = cursor
	}
	return records, completions, notices
}

// Persist the emitted records as planned schedule items under one
// transaction. Exact duplicates are reused; stale items for the same
// operation with different bounds are invalidated.
func (s *BatchScheduler) persist(ctx context.Context, records []ScheduleRecord, quantities map[PartKey]int) error {
	type opKey struct {
		PartKey
		OperationNumber int
		MachineID       string
	}
	type bounds struct {
		start, end time.Time
	}
	// Collapse fragments into one overall interval per operation.
	intervals := map[opKey]bounds{}
	var order []opKey
	for _, r := range records {
		k := opKey{PartKey{r.PartNumber, r.ProductionOrder}, r.OperationNumber, r.MachineID}
		b, seen := intervals[k]
		if !seen {
			order = append(order, k)
			intervals[k] = bounds{r.Start, r.End}
			continue
		}
		if r.Start.Before(b.start) {
			b.start = r.Start
		}
		if r.End.After(b.end) {
			b.end = r.End
		}
		intervals[k] = b
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, k := range order {
		if err := ctx.Err(); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("rollback failed", "error", rbErr)
			}
			return fmt.Errorf("%w: schedule persistence cancelled", ErrTimeout)
		}
		b := intervals[k]
		quantity := quantities[k.PartKey]

		var existing []PlannedScheduleItem
		if _, err := tx.Select(&existing,
			`SELECT * FROM scheduling_planned_items
			 WHERE part_number = :part AND production_order = :po
			   AND operation_number = :op AND machine_id = :machine
			   AND total_quantity = :qty AND status != :invalidated`,
			map[string]any{
				"part": k.PartNumber, "po": k.ProductionOrder,
				"op": k.OperationNumber, "machine": k.MachineID,
				"qty": quantity, "invalidated": ItemStatusInvalidated,
			}); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("rollback failed", "error", rbErr)
			}
			return fmt.Errorf("failed to load planned items: %w", err)
		}

		duplicate := false
		for i := range existing {
			item := &existing[i]
			if item.InitialStartTime.Equal(b.start) && item.InitialEndTime.Equal(b.end) {
				duplicate = true
				continue
			}
			item.Status = ItemStatusInvalidated
			if _, err := tx.Update(item); err != nil {
				if rbErr := tx.Rollback(); rbErr != nil {
					slog.Error("rollback failed", "error", rbErr)
				}
				return fmt.Errorf("failed to invalidate planned item %d: %w", item.ID, err)
			}
		}
		if duplicate {
			continue
		}

		item := PlannedScheduleItem{
			PartNumber:        k.PartNumber,
			ProductionOrder:   k.ProductionOrder,
			OperationNumber:   k.OperationNumber,
			MachineID:         k.MachineID,
			TotalQuantity:     quantity,
			InitialStartTime:  b.start,
			InitialEndTime:    b.end,
			RemainingQuantity: quantity,
			Status:            ItemStatusScheduled,
			CurrentVersion:    1,
		}
		if err := tx.Insert(&item); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("rollback failed", "error", rbErr)
			}
			return fmt.Errorf("failed to insert planned item: %w", err)
		}
		version := ScheduleVersion{
			ItemID:            item.ID,
			VersionNumber:     1,
			PlannedStartTime:  b.start,
			PlannedEndTime:    b.end,
			PlannedQuantity:   quantity,
			RemainingQuantity: quantity,
			IsActive:          true,
		}
		if err := tx.Insert(&version); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("rollback failed", "error", rbErr)
			}
			return fmt.Errorf("failed to insert schedule version: %w", err)
		}
	}
	return tx.Commit()
}

func (s *BatchScheduler) loadSchedulableWorkCenters() (map[string]bool, error) {
	var centers []WorkCenter
	if _, err := s.DB.Select(&centers, "SELECT * FROM scheduling_work_centers"); err != nil {
		return nil, fmt.Errorf("failed to load work centers: %w", err)
	}
	schedulable := make(map[string]bool, len(centers))
	for _, wc := range centers {
		schedulable[wc.ID] = wc.IsSchedulable
	}
	return schedulable, nil
}

func (s *BatchScheduler) loadMachines() (map[string]Machine, error) {
	var machines []Machine
	if _, err := s.DB.Select(&machines, "SELECT * FROM scheduling_machines"); err != nil {
		return nil, fmt.Errorf("failed to load machines: %w", err)
	}
	byID := make(map[string]Machine, len(machines))
	for _, m := range machines {
		byID[m.ID] = m
	}
	return byID, nil
}

func (s *BatchScheduler) loadPartStatuses() (map[string]PartScheduleStatus, error) {
	var statuses []PartScheduleStatus
	if _, err := s.DB.Select(&statuses, "SELECT * FROM scheduling_part_schedule_status"); err != nil {
		return nil, fmt.Errorf("failed to load part schedule statuses: %w", err)
	}
	byPO := make(map[string]PartScheduleStatus, len(statuses))
	for _, st := range statuses {
		byPO[st.ProductionOrder] = st
	}
	return byPO, nil
}

func (s *BatchScheduler) loadPriorities() (map[PartKey]int, error) {
	var orders []Order
	if _, err := s.DB.Select(&orders, "SELECT * FROM scheduling_orders"); err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	priorities := make(map[PartKey]int, len(orders))
	for _, o := range orders {
		priorities[PartKey{o.PartNumber, o.ProductionOrder}] = o.Priority
	}
	return priorities, nil
}

// Load operations grouped by part, applying the filtering pipeline: drop
// operations on non-schedulable work centers, drop sentinel machines, retain
// only active parts, sort by operation number.
func (s *BatchScheduler) loadOperations(
	schedulable map[string]bool, machines map[string]Machine, statuses map[string]PartScheduleStatus,
) (map[PartKey][]Operation, []string) {
	var ops []Operation
	if _, err := s.DB.Select(&ops, "SELECT * FROM scheduling_operations"); err != nil {
		return nil, []string{fmt.Sprintf("failed to load operations: %v", err)}
	}
	var notices []string
	byPart := map[PartKey][]Operation{}
	for _, op := range ops {
		workCenter := op.WorkCenter
		if m, ok := machines[op.MachineID]; ok && workCenter == "" {
			workCenter = m.WorkCenter
		}
		if op.MachineID == DefaultSentinel || workCenter == DefaultSentinel {
			continue
		}
		if !schedulable[workCenter] {
			continue
		}
		status, ok := statuses[op.ProductionOrder]
		if !ok || status.State != PartStateActive {
			continue
		}
		key := PartKey{op.PartNumber, op.ProductionOrder}
		byPart[key] = append(byPart[key], op)
	}
	for key := range byPart {
		sort.Slice(byPart[key], func(i, j int) bool {
			return byPart[key][i].OperationNumber < byPart[key][j].OperationNumber
		})
	}
	return byPart, notices
}

// Deterministic part ordering: activation time, then priority, then part
// number, then production order. The legacy flag ranks priority first.
func (s *BatchScheduler) sortParts(
	opsByPart map[PartKey][]Operation,
	statuses map[string]PartScheduleStatus,
	priorities map[PartKey]int,
) []PartKey {
	parts := make([]PartKey, 0, len(opsByPart))
	for key := range opsByPart {
		parts = append(parts, key)
	}
	activation := func(key PartKey) time.Time {
		st, ok := statuses[key.ProductionOrder]
		if !ok || st.ActivationTime == nil {
			return time.Time{}
		}
		return *st.ActivationTime
	}
	sort.Slice(parts, func(i, j int) bool {
		a, b := parts[i], parts[j]
		if s.Config.OrderByPriorityFirst {
			if priorities[a] != priorities[b] {
				return priorities[a] < priorities[b]
			}
		}
		at, bt := activation(a), activation(b)
		if !at.Equal(bt) {
			return at.Before(bt)
		}
		if priorities[a] != priorities[b] {
			return priorities[a] < priorities[b]
		}
		if a.PartNumber != b.PartNumber {
			return a.PartNumber < b.PartNumber
		}
		return a.ProductionOrder < b.ProductionOrder
	})
	return parts
}
