// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package ems

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mescore-dev/mescore/internal/db"
	"github.com/mescore-dev/mescore/internal/shopcal"
)

// One energy meter sample.
type Reading struct {
	MachineID   string
	Timestamp   time.Time
	PowerKW     float64
	EnergyKWH   float64
	Voltage     float64
	CurrentAmps float64
	Frequency   float64
	PowerFactor float64
}

// Engine persists meter readings: live row, history append, and the
// per-shift energy accumulator derived from the cumulative kWh register.
type Engine struct {
	DB      db.DB
	Monitor Monitor
}

func (e *Engine) Record(reading Reading) error {
	at := reading.Timestamp.UTC()
	live := MachineEMSLive{
		MachineID:   reading.MachineID,
		PowerKW:     reading.PowerKW,
		EnergyKWH:   reading.EnergyKWH,
		Voltage:     reading.Voltage,
		CurrentAmps: reading.CurrentAmps,
		Frequency:   reading.Frequency,
		PowerFactor: reading.PowerFactor,
		UpdatedAt:   at,
	}
	if err := db.Upsert(&e.DB, &live); err != nil {
		return fmt.Errorf("failed to upsert ems live row: %w", err)
	}
	if err := e.DB.Insert(&MachineEMSHistory{
		MachineID:   reading.MachineID,
		PowerKW:     reading.PowerKW,
		EnergyKWH:   reading.EnergyKWH,
		Voltage:     reading.Voltage,
		CurrentAmps: reading.CurrentAmps,
		Frequency:   reading.Frequency,
		PowerFactor: reading.PowerFactor,
		RecordedAt:  at,
	}); err != nil {
		return fmt.Errorf("failed to append ems history row: %w", err)
	}
	if err := e.updateShiftwise(reading); err != nil {
		return err
	}
	e.Monitor.observeReading(reading)
	return nil
}

// The shift's energy is the cumulative register minus its value at the
// first sample of the shift.
func (e *Engine) updateShiftwise(reading Reading) error {
	windows, err := e.shiftWindows()
	if err != nil {
		return err
	}
	if len(windows) == 0 {
		return nil
	}
	window, shiftStart, _, err := shopcal.ResolveShift(reading.Timestamp.In(shopcal.IST), windows)
	if errors.Is(err, shopcal.ErrNoShift) {
		// Between shifts, the accumulator has no row to advance.
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to resolve shift for %v: %w", reading.Timestamp, err)
	}
	shiftID := window.ID

	var baseline MachineEMSHistory
	err = e.DB.SelectOne(&baseline,
		`SELECT * FROM ems_machine_history
		 WHERE machine_id = :machine AND recorded_at >= :start
		 ORDER BY recorded_at ASC, id ASC LIMIT 1`,
		map[string]any{"machine": reading.MachineID, "start": shiftStart.UTC()})
	if errors.Is(err, sql.ErrNoRows) {
		baseline.EnergyKWH = reading.EnergyKWH
	} else if err != nil {
		return fmt.Errorf("failed to load shift baseline reading: %w", err)
	}

	consumed := reading.EnergyKWH - baseline.EnergyKWH
	if consumed < 0 {
		// Meter register rolled over or was replaced.
		consumed = 0
	}
	row := ShiftwiseEnergy{
		MachineID:  reading.MachineID,
		ShiftID:    shiftID,
		ShiftStart: shiftStart.UTC(),
		EnergyKWH:  consumed,
	}
	if err := db.Upsert(&e.DB, &row); err != nil {
		return fmt.Errorf("failed to upsert shiftwise energy: %w", err)
	}
	return nil
}

func (e *Engine) shiftWindows() ([]shopcal.ShiftWindow, error) {
	type shiftRow struct {
		ShiftID   int    `db:"shift_id"`
		StartTime string `db:"start_time"`
		EndTime   string `db:"end_time"`
	}
	var shifts []shiftRow
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
