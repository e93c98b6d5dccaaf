// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

// Package scheduling holds the order/operation data model, the batch
// scheduler that turns activated production orders into time-phased
// schedule items, the dynamic rescheduler that supersedes versions from
// production logs, and the completion-date projector.
package scheduling

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mescore-dev/mescore/internal/db"
)

// States of a part schedule status row.
const (
	PartStateActive   = "active"
	PartStateInactive = "inactive"
)

// States of a planned schedule item.
const (
	ItemStatusScheduled   = "scheduled"
	ItemStatusInProgress  = "in_progress"
	ItemStatusCompleted   = "completed"
	ItemStatusInvalidated = "invalidated"
)

// Sentinel machine/work center name that marks an unmaintained routing row.
const DefaultSentinel = "Default"

// A production order: a part number bound to a quantity and an optional
// delivery commitment. Created by the master data load, never deleted here.
type Order struct {
	PartNumber       string     `db:"part_number"`
	ProductionOrder  string     `db:"production_order"`
	RequiredQuantity int        `db:"required_quantity"`
	LaunchedQuantity int        `db:"launched_quantity"`
	// Lower value means higher priority.
	Priority     int        `db:"priority"`
	DeliveryDate *time.Time `db:"delivery_date"`
	RawMaterial  string     `db:"raw_material"`
	Project      string     `db:"project"`
}

func (Order) TableName() string { return "scheduling_orders" }

// One routing step of an order, bound to a specific machine. Operation
// numbers are strictly increasing within an order and define the sequence.
type Operation struct {
	ID                   int64           `db:"id"`
	PartNumber           string          `db:"part_number"`
	ProductionOrder      string          `db:"production_order"`
	OperationNumber      int             `db:"operation_number"`
	OperationDescription string          `db:"operation_description"`
	MachineID            string          `db:"machine_id"`
	WorkCenter           string          `db:"work_center"`
	// Minutes, stored as rational.
	SetupTime      decimal.Decimal `db:"setup_time"`
	IdealCycleTime decimal.Decimal `db:"ideal_cycle_time"`
}

func (Operation) TableName() string { return "scheduling_operations" }

// A group of machines managed together. Only schedulable work centers
// participate in scheduling.
type WorkCenter struct {
	ID            string `db:"id"`
	IsSchedulable bool   `db:"is_schedulable"`
}

func (WorkCenter) TableName() string { return "scheduling_work_centers" }

type Machine struct {
	ID         string `db:"id"`
	WorkCenter string `db:"work_center"`
}

func (Machine) TableName() string { return "scheduling_machines" }

// Activation state of a production order. Created lazily on first
// activation and never deleted; the activation time only moves on an
// inactive-to-active transition.
type PartScheduleStatus struct {
	ProductionOrder string     `db:"production_order"`
	State           string     `db:"state"`
	ActivationTime  *time.Time `db:"activation_time"`
	UpdatedAt       *time.Time `db:"updated_at"`
}

func (PartScheduleStatus) TableName() string { return "scheduling_part_schedule_status" }

// One scheduled operation of an order on a machine. The tuple (order,
// operation, machine, total quantity, initial bounds) is the dedup key
// within a schedule generation.
type PlannedScheduleItem struct {
	ID                int64     `db:"id"`
	PartNumber        string    `db:"part_number"`
	ProductionOrder   string    `db:"production_order"`
	OperationNumber   int       `db:"operation_number"`
	MachineID         string    `db:"machine_id"`
	TotalQuantity     int       `db:"total_quantity"`
	InitialStartTime  time.Time `db:"initial_start_time"`
	InitialEndTime    time.Time `db:"initial_end_time"`
	RemainingQuantity int       `db:"remaining_quantity"`
	Status            string    `db:"status"`
	CurrentVersion    int       `db:"current_version"`
}

func (PlannedScheduleItem) TableName() string { return "scheduling_planned_items" }

// One revision of a planned schedule item. Version numbers increase from 1;
// at most one version per item is active.
type ScheduleVersion struct {
	ID                int64     `db:"id"`
	ItemID            int64     `db:"item_id"`
	VersionNumber     int       `db:"version_number"`
	PlannedStartTime  time.Time `db:"planned_start_time"`
	PlannedEndTime    time.Time `db:"planned_end_time"`
	PlannedQuantity   int       `db:"planned_quantity"`
	CompletedQuantity int       `db:"completed_quantity"`
	RemainingQuantity int       `db:"remaining_quantity"`
	IsActive          bool      `db:"is_active"`
}

func (ScheduleVersion) TableName() string { return "scheduling_versions" }

// Operator-reported actual production against an operation, optionally tied
// to a specific schedule version. Logs outlive versions.
type ProductionLog struct {
	ID                int64      `db:"id"`
	PartNumber        string     `db:"part_number"`
	ProductionOrder   string     `db:"production_order"`
	OperationNumber   int        `db:"operation_number"`
	VersionID         *int64     `db:"version_id"`
	MachineID         *string    `db:"machine_id"`
	StartTime         time.Time  `db:"start_time"`
	EndTime           *time.Time `db:"end_time"`
	QuantityCompleted int        `db:"quantity_completed"`
	QuantityRejected  int        `db:"quantity_rejected"`
	PartStatus        int        `db:"part_status"`
	Notes             string     `db:"notes"`
}

func (ProductionLog) TableName() string { return "scheduling_production_logs" }

// Register the scheduling tables on the database.
func AddTables(d db.DB) {
	d.AddTable(Order{}).SetKeys(false, "part_number", "production_order")
	d.AddTable(Operation{}).SetKeys(true, "id")
	d.AddTable(WorkCenter{}).SetKeys(false, "id")
	d.AddTable(Machine{}).SetKeys(false, "id")
	d.AddTable(PartScheduleStatus{}).SetKeys(false, "production_order")
	d.AddTable(PlannedScheduleItem{}).SetKeys(true, "id")
	d.AddTable(ScheduleVersion{}).SetKeys(true, "id")
	d.AddTable(ProductionLog{}).SetKeys(true, "id")
}
