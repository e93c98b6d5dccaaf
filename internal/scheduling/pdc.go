// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package scheduling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mescore-dev/mescore/internal/db"
)

const (
	PDCStatusCompleted  = "completed"
	PDCStatusInProgress = "in_progress"
	PDCStatusPending    = "pending"

	PDCSourceReschedule = "reschedule"
	PDCSourceScheduled  = "scheduled"
	PDCSourceNone       = "none"
)

// Completion estimate for one active production order.
type PDCRow struct {
	PartNumber      string     `json:"part_number"`
	ProductionOrder string     `json:"production_order"`
	PDC             *time.Time `json:"pdc"`
	Status          string     `json:"status"`
	DataSource      string     `json:"data_source"`
}

// PDCCache holds the last projection for its TTL. Zero TTL disables caching.
type PDCCache struct {
	TTL time.Duration

	mutex     sync.Mutex
	rows      []PDCRow
	expiresAt time.Time
}

func (c *PDCCache) get(now time.Time) ([]PDCRow, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.rows == nil || now.After(c.expiresAt) {
		return nil, false
	}
	return c.rows, true
}

func (c *PDCCache) set(rows []PDCRow, now time.Time) {
	if c.TTL <= 0 {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.rows = rows
	c.expiresAt = now.Add(c.TTL)
}

// PDCProjector combines the planned schedule with operator logs into a
// probable date of completion per active production order.
type PDCProjector struct {
	DB      db.DB
	Cache   *PDCCache
	Monitor Monitor
}

// Project returns one row per active production order.
func (p *PDCProjector) Project(ctx context.Context) ([]PDCRow, error) {
	started := time.Now()
	if p.Cache != nil {
		if rows, ok := p.Cache.get(started); ok {
			return rows, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: pdc projection cancelled", ErrTimeout)
	}

	type activeOrder struct {
		PartNumber      string `db:"part_number"`
		ProductionOrder string `db:"production_order"`
	}
	var actives []activeOrder
	if _, err := p.DB.Select(&actives,
		`SELECT o.part_number, o.production_order
		 FROM scheduling_part_schedule_status s
		 JOIN scheduling_orders o ON o.production_order = s.production_order
		 WHERE s.state = :active
		 ORDER BY o.part_number ASC, o.production_order ASC`,
		map[string]any{"active": PartStateActive}); err != nil {
		return nil, fmt.Errorf("failed to load active parts: %w", err)
	}

	rows := make([]PDCRow, 0, len(actives))
	for _, active := range actives {
		row, err := p.projectOrder(active.PartNumber, active.ProductionOrder)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	if p.Cache != nil {
		p.Cache.set(rows, started)
	}
	p.Monitor.observeRun("pdc", time.Since(started).Seconds(), len(rows), 0)
	return rows, nil
}

func (p *PDCProjector) projectOrder(partNumber, productionOrder string) (PDCRow, error) {
	row := PDCRow{
		PartNumber:      partNumber,
		ProductionOrder: productionOrder,
		Status:          PDCStatusPending,
		DataSource:      PDCSourceNone,
	}

	var items []PlannedScheduleItem
	if _, err := p.DB.Select(&items,
		`SELECT * FROM scheduling_planned_items
		 WHERE production_order = :po AND status != :invalidated
		 ORDER BY operation_number ASC, id DESC`,
		map[string]any{"po": productionOrder, "invalidated": ItemStatusInvalidated}); err != nil {
		return row, fmt.Errorf("failed to load planned items: %w", err)
	}
	if len(items) == 0 {
		return row, nil
	}

	// Newest item per operation carries the plan.
	newest := map[int]PlannedScheduleItem{}
	for _, item := range items {
		if existing, ok := newest[item.OperationNumber]; !ok || item.ID > existing.ID {
			newest[item.OperationNumber] = item
		}
	}

	// Active versions take precedence over the initial plan; a version
	// beyond the first means the rescheduler has spoken.
	var pdc time.Time
	rescheduled := false
	for _, item := range newest {
		var versions []ScheduleVersion
		if _, err := p.DB.Select(&versions,
			`SELECT * FROM scheduling_versions WHERE item_id = :item AND is_active`,
			map[string]any{"item": item.ID}); err != nil {
			return row, fmt.Errorf("failed to load active versions: %w", err)
		}
		end := item.InitialEndTime
		for _, version := range versions {
			if version.PlannedEndTime.After(end) || version.VersionNumber > 1 {
				end = version.PlannedEndTime
			}
			if version.VersionNumber > 1 {
				rescheduled = true
			}
		}
		if end.After(pdc) {
			pdc = end
		}
	}
	if !pdc.IsZero() {
		row.PDC = &pdc
		if rescheduled {
			row.DataSource = PDCSourceReschedule
		} else {
			row.DataSource = PDCSourceScheduled
		}
	}

	// Classification from the log aggregate per operation.
	type opTotal struct {
		OperationNumber int `db:"operation_number"`
		Completed       int `db:"completed"`
	}
	var totals []opTotal
	if _, err := p.DB.Select(&totals,
		`SELECT operation_number, COALESCE(SUM(quantity_completed), 0) AS completed
		 FROM scheduling_production_logs WHERE production_order = :po
		 GROUP BY operation_number`,
		map[string]any{"po": productionOrder}); err != nil {
		return row, fmt.Errorf("failed to aggregate production logs: %w", err)
	}
	completed := map[int]int{}
	anyLogs := false
	for _, total := range totals {
		completed[total.OperationNumber] = total.Completed
		if total.Completed > 0 {
			anyLogs = true
		}
	}
	if !anyLogs {
		return row, nil
	}

	allDone := true
	for opNumber, item := range newest {
		if completed[opNumber] < item.TotalQuantity {
			allDone = false
			break
		}
	}
	if allDone {
		row.Status = PDCStatusCompleted
	} else {
		row.Status = PDCStatusInProgress
	}
	return row, nil
}
