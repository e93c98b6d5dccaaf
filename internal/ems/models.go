// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

// Package ems keeps the electrical bookkeeping of the shop floor: live and
// historic energy meter readings plus per-shift energy accumulators.
package ems

import (
	"time"

	"github.com/mescore-dev/mescore/internal/db"
)

// Latest meter reading per machine, always overwritten in place.
type MachineEMSLive struct {
	MachineID   string    `db:"machine_id"`
	PowerKW     float64   `db:"power_kw"`
	EnergyKWH   float64   `db:"energy_kwh"`
	Voltage     float64   `db:"voltage"`
	CurrentAmps float64   `db:"current_amps"`
	Frequency   float64   `db:"frequency"`
	PowerFactor float64   `db:"power_factor"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (MachineEMSLive) TableName() string { return "ems_machine_live" }

// Append-only history of meter readings.
type MachineEMSHistory struct {
	ID          int64     `db:"id"`
	MachineID   string    `db:"machine_id"`
	PowerKW     float64   `db:"power_kw"`
	EnergyKWH   float64   `db:"energy_kwh"`
	Voltage     float64   `db:"voltage"`
	CurrentAmps float64   `db:"current_amps"`
	Frequency   float64   `db:"frequency"`
	PowerFactor float64   `db:"power_factor"`
	RecordedAt  time.Time `db:"recorded_at"`
}

func (MachineEMSHistory) TableName() string { return "ems_machine_history" }

// Energy consumed per machine and shift, derived from the cumulative
// meter register.
type ShiftwiseEnergy struct {
	MachineID  string    `db:"machine_id"`
	ShiftID    int       `db:"shift_id"`
	ShiftStart time.Time `db:"shift_start"`
	EnergyKWH  float64   `db:"energy_kwh"`
}

func (ShiftwiseEnergy) TableName() string { return "ems_shiftwise_energy" }

// Register the ems tables on the database.
func AddTables(d db.DB) {
	d.AddTable(MachineEMSLive{}).SetKeys(false, "machine_id")
	d.AddTable(MachineEMSHistory{}).SetKeys(true, "id")
	d.AddTable(ShiftwiseEnergy{}).SetKeys(false, "machine_id", "shift_id", "shift_start")
}
