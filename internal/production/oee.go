// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package production

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mescore-dev/mescore/internal/conf"
	"github.com/mescore-dev/mescore/internal/db"
	"github.com/mescore-dev/mescore/internal/mqtt"
	"github.com/mescore-dev/mescore/internal/shopcal"
)

// SummaryEngine owns the per-shift OEE rows. It is the only writer of
// ShiftSummary; the status engine merely signals a refresh for
// (machine, now). Updates replay the status stream from scratch, so
// repeating the same call is idempotent.
type SummaryEngine struct {
	DB      db.DB
	Config  conf.OEEConfig
	Monitor Monitor
	// Optional; a nil client disables trigger publishing.
	MQTT mqtt.Client
}

// Reconcile recomputes the shift summaries of every machine known to the
// live status table. The range from since to now is walked in hourly steps
// so every shift it touches is replayed; a zero since covers only the
// current shift. Hours between shifts are skipped.
func (e *SummaryEngine) Reconcile(since, now time.Time) error {
	var machineIDs []string
	if _, err := e.DB.Select(&machineIDs,
		"SELECT machine_id FROM production_machine_raw_live ORDER BY machine_id"); err != nil {
		return fmt.Errorf("failed to load machines: %w", err)
	}
	if since.IsZero() || since.After(now) {
		since = now
	}
	for _, machineID := range machineIDs {
		for at := since; at.Before(now); at = at.Add(time.Hour) {
			if err := e.Update(at, machineID); err != nil {
				return err
			}
		}
		if err := e.Update(now, machineID); err != nil {
			return err
		}
	}
	return nil
}

// Update recomputes the shift summary covering now for the machine.
func (e *SummaryEngine) Update(now time.Time, machineID string) error {
	now = now.In(shopcal.IST)
	windows, err := e.shiftWindows()
	if err != nil {
		return err
	}
	if len(windows) == 0 {
		// No runtime shifts configured, nothing to summarize.
		return nil
	}
	window, shiftStart, shiftEnd, err := shopcal.ResolveShift(now, windows)
	if errors.Is(err, shopcal.ErrNoShift) {
		// Between shifts, nothing to summarize.
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to resolve shift for %v: %w", now, err)
	}
	shiftID := window.ID
	shiftLenMin := shiftEnd.Sub(shiftStart).Minutes()

	horizon := now
	if horizon.After(shiftEnd) {
		horizon = shiftEnd
	}
	off, idle, production, err := e.replayDurations(machineID, shiftStart, horizon)
	if err != nil {
		return err
	}
	off = clamp(off, 0, shiftLenMin)
	idle = clamp(idle, 0, shiftLenMin)
	production = clamp(production, 0, shiftLenMin)

	total, good, bad, err := e.partCounts(machineID, shiftStart, horizon)
	if err != nil {
		return err
	}

	summary := ShiftSummary{
		MachineID:         machineID,
		ShiftID:           shiftID,
		ShiftStart:        shiftStart.UTC(),
		OffTimeMin:        off,
		IdleTimeMin:       idle,
		ProductionTimeMin: production,
		TotalParts:        total,
		GoodParts:         good,
		BadParts:          bad,
	}

	operating := shiftLenMin
	var config ConfigInfo
	err = e.DB.SelectOne(&config,
		"SELECT * FROM production_config_info WHERE machine_id = :machine",
		map[string]any{"machine": machineID})
	if err == nil {
		operating -= config.PlannedNonProductionMin + config.PlannedDowntimeMin
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to load machine config: %w", err)
	}

	if operating > 0 {
		summary.Availability = clamp(production/operating, 0, 1)
	}
	summary.Performance, err = e.performance(machineID, shiftStart, horizon, production*60)
	if err != nil {
		return err
	}
	summary.Quality = 1
	if total > 0 {
		summary.Quality = float64(good) / float64(total)
	}
	summary.OEE = summary.Availability * summary.Performance * summary.Quality
	summary.AvailabilityLoss = 1 - summary.Availability
	summary.PerformanceLoss = 1 - summary.Performance
	summary.QualityLoss = 1 - summary.Quality
	summary.OEELoss = 1 - summary.OEE

	if err := db.Upsert(&e.DB, &summary); err != nil {
		return fmt.Errorf("failed to upsert shift summary: %w", err)
	}

	e.Monitor.observeOEE(machineID, summary)
	if e.MQTT != nil {
		e.MQTT.Publish(mqtt.TriggerShiftSummaryUpdated, map[string]any{
			"machine_id":  machineID,
			"shift_id":    shiftID,
			"shift_start": summary.ShiftStart,
		})
	}
	return nil
}

func (e *SummaryEngine) shiftWindows() ([]shopcal.ShiftWindow, error) {
	var shifts []ShiftInfo
	if _, err := e.DB.Select(&shifts,
		"SELECT * FROM production_shift_info ORDER BY shift_id ASC"); err != nil {
		return nil, fmt.Errorf("failed to load shift definitions: %w", err)
	}
	windows := make([]shopcal.ShiftWindow, 0, len(shifts))
	for _, shift := range shifts {
		windows = append(windows, shopcal.ShiftWindow{
			ID:    shift.ShiftID,
			Start: shift.StartTime,
			End:   shift.EndTime,
		})
	}
	return windows, nil
}

// Replay the edge-triggered history between shiftStart and horizon. Each
// segment contributes to the accumulator of the status it started with.
func (e *SummaryEngine) replayDurations(machineID string, shiftStart, horizon time.Time) (off, idle, production float64, err error) {
	// Status at shift start is the last transition at or before it.
	baseline := StatusOff
	var last MachineRaw
	err = e.DB.SelectOne(&last,
		`SELECT * FROM production_machine_raw
		 WHERE machine_id = :machine AND recorded_at <= :start
		 ORDER BY recorded_at DESC, id DESC LIMIT 1`,
		map[string]any{"machine": machineID, "start": shiftStart.UTC()})
	if err == nil {
		baseline = last.Status
	} else if !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, 0, fmt.Errorf("failed to load baseline transition: %w", err)
	}

	var rows []MachineRaw
	if _, err := e.DB.Select(&rows,
		`SELECT * FROM production_machine_raw
		 WHERE machine_id = :machine AND recorded_at > :start AND recorded_at <= :end
		 ORDER BY recorded_at ASC, id ASC`,
		map[string]any{"machine": machineID, "start": shiftStart.UTC(), "end": horizon.UTC()}); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to load transitions: %w", err)
	}

	accumulate := func(status int, minutes float64) {
		switch status {
		case StatusIdle:
			idle += minutes
		case StatusProduction:
			production += minutes
		default:
			off += minutes
		}
	}
	status := baseline
	cursor := shiftStart
	for _, row := range rows {
		accumulate(status, row.RecordedAt.Sub(cursor).Minutes())
		status = row.Status
		cursor = row.RecordedAt
	}
	if horizon.After(cursor) {
		accumulate(status, horizon.Sub(cursor).Minutes())
	}
	return off, idle, production, nil
}

func (e *SummaryEngine) partCounts(machineID string, shiftStart, horizon time.Time) (total, good, bad int, err error) {
	type logRow struct {
		Completed  int `db:"quantity_completed"`
		Rejected   int `db:"quantity_rejected"`
		PartStatus int `db:"part_status"`
	}
	var logs []logRow
	if _, err := e.DB.Select(&logs,
		`SELECT quantity_completed, quantity_rejected, part_status
		 FROM scheduling_production_logs
		 WHERE machine_id = :machine AND start_time >= :start AND start_time <= :end`,
		map[string]any{"machine": machineID, "start": shiftStart.UTC(), "end": horizon.UTC()}); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to aggregate production logs: %w", err)
	}
	for _, log := range logs {
		total += log.Completed + log.Rejected
		bad += log.Rejected
		if e.Config.LegacyQuality && log.PartStatus == 2 {
			// The historic accounting counted these rows as all good.
			good += log.Completed + log.Rejected
			bad -= log.Rejected
			continue
		}
		good += log.Completed
	}
	return total, good, bad, nil
}

// Performance per operation logged in the shift: ideal time over operating
// time, capped at 1, averaged across operations.
func (e *SummaryEngine) performance(machineID string, shiftStart, horizon time.Time, operatingSec float64) (float64, error) {
	if operatingSec <= 0 {
		return 0, nil
	}
	type opRow struct {
		IdealCycleTime decimal.Decimal `db:"ideal_cycle_time"`
		TotalParts     int             `db:"total_parts"`
	}
	var ops []opRow
	if _, err := e.DB.Select(&ops,
		`SELECT o.ideal_cycle_time AS ideal_cycle_time,
		        SUM(l.quantity_completed + l.quantity_rejected) AS total_parts
		 FROM scheduling_production_logs l
		 JOIN scheduling_operations o
		   ON o.production_order = l.production_order
		  AND o.operation_number = l.operation_number
		 WHERE l.machine_id = :machine AND l.start_time >= :start AND l.start_time <= :end
		 GROUP BY l.production_order, l.operation_number, o.ideal_cycle_time`,
		map[string]any{"machine": machineID, "start": shiftStart.UTC(), "end": horizon.UTC()}); err != nil {
		return 0, fmt.Errorf("failed to load operation performance: %w", err)
	}
	if len(ops) == 0 {
		return 0, nil
	}
	sum := 0.0
	for _, op := range ops {
		idealSec, _ := op.IdealCycleTime.Mul(decimal.NewFromInt(60)).Float64()
		ratio := idealSec * float64(op.TotalParts) / operatingSec
		sum += clamp(ratio, 0, 1)
	}
	return sum / float64(len(ops)), nil
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
