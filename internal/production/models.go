// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

// Package production tracks live machine state from the shop floor and
// derives per-shift OEE summaries from the recorded status stream.
package production

import (
	"time"

	"github.com/mescore-dev/mescore/internal/db"
)

// Classified machine status codes, mirrored in production_status_lookup.
const (
	StatusOff        = 0
	StatusIdle       = 1
	StatusProduction = 2
)

// Lookup table binding status codes to their display names.
type StatusLookup struct {
	Code int    `db:"code"`
	Name string `db:"name"`
}

func (StatusLookup) TableName() string { return "production_status_lookup" }

// Latest raw state per machine, always overwritten in place.
type MachineRawLive struct {
	MachineID       string    `db:"machine_id"`
	Status          int       `db:"status"`
	OpMode          int       `db:"op_mode"`
	ProgStatus      int       `db:"prog_status"`
	PartCount       int       `db:"part_count"`
	SelectedProgram string    `db:"selected_program"`
	ActiveProgram   string    `db:"active_program"`
	ScheduledJob    string    `db:"scheduled_job"`
	ActualJob       string    `db:"actual_job"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (MachineRawLive) TableName() string { return "production_machine_raw_live" }

// Edge-triggered history of raw state transitions, append-only.
type MachineRaw struct {
	ID              int64     `db:"id"`
	MachineID       string    `db:"machine_id"`
	Status          int       `db:"status"`
	OpMode          int       `db:"op_mode"`
	ProgStatus      int       `db:"prog_status"`
	PartCount       int       `db:"part_count"`
	SelectedProgram string    `db:"selected_program"`
	ActiveProgram   string    `db:"active_program"`
	ScheduledJob    string    `db:"scheduled_job"`
	ActualJob       string    `db:"actual_job"`
	RecordedAt      time.Time `db:"recorded_at"`
}

func (MachineRaw) TableName() string { return "production_machine_raw" }

// Runtime shift definition, clock times in "15:04" notation. Shifts may
// cross midnight.
type ShiftInfo struct {
	ShiftID   int    `db:"shift_id"`
	StartTime string `db:"start_time"`
	EndTime   string `db:"end_time"`
}

func (ShiftInfo) TableName() string { return "production_shift_info" }

// Per-shift OEE accumulators and ratios for one machine.
type ShiftSummary struct {
	MachineID  string    `db:"machine_id"`
	ShiftID    int       `db:"shift_id"`
	ShiftStart time.Time `db:"shift_start"`

	OffTimeMin        float64 `db:"off_time_min"`
	IdleTimeMin       float64 `db:"idle_time_min"`
	ProductionTimeMin float64 `db:"production_time_min"`

	TotalParts int `db:"total_parts"`
	GoodParts  int `db:"good_parts"`
	BadParts   int `db:"bad_parts"`

	Availability     float64 `db:"availability"`
	Performance      float64 `db:"performance"`
	Quality          float64 `db:"quality"`
	OEE              float64 `db:"oee"`
	AvailabilityLoss float64 `db:"availability_loss"`
	PerformanceLoss  float64 `db:"performance_loss"`
	QualityLoss      float64 `db:"quality_loss"`
	OEELoss          float64 `db:"oee_loss"`
}

func (ShiftSummary) TableName() string { return "production_shift_summary" }

// One downtime window per machine; a row without closed_dt is still open.
type MachineDowntime struct {
	ID        int64      `db:"id"`
	MachineID string     `db:"machine_id"`
	OpenDT    time.Time  `db:"open_dt"`
	ClosedDT  *time.Time `db:"closed_dt"`
}

func (MachineDowntime) TableName() string { return "production_machine_downtimes" }

// Planned deductions from the shift length, per machine.
type ConfigInfo struct {
	MachineID               string  `db:"machine_id"`
	PlannedNonProductionMin float64 `db:"planned_non_production_min"`
	PlannedDowntimeMin      float64 `db:"planned_downtime_min"`
}

func (ConfigInfo) TableName() string { return "production_config_info" }

// Register the production tables on the database.
func AddTables(d db.DB) {
	d.AddTable(StatusLookup{}).SetKeys(false, "code")
	d.AddTable(MachineRawLive{}).SetKeys(false, "machine_id")
	d.AddTable(MachineRaw{}).SetKeys(true, "id")
	d.AddTable(ShiftInfo{}).SetKeys(false, "shift_id")
	d.AddTable(ShiftSummary{}).SetKeys(false, "machine_id", "shift_id", "shift_start")
	d.AddTable(MachineDowntime{}).SetKeys(true, "id")
	d.AddTable(ConfigInfo{}).SetKeys(false, "machine_id")
}
