// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package scheduling

import (
	"context"
	"testing"
	"time"

	testlibDB "github.com/mescore-dev/mescore/testlib/db"
)

func seedPDCOrder(t *testing.T, env testlibDB.DBEnv) (op10, op20 PlannedScheduleItem) {
	seedOrder(t, env, "E", "PO-5", 50, 1)
	seedMachine(t, env, "M1", "WC1", true)
	seedOperation(t, env, "E", "PO-5", 10, "M1", "WC1", 0, 2)
	seedOperation(t, env, "E", "PO-5", 20, "M1", "WC1", 0, 2)
	if err := ActivatePart(*env.DB, "PO-5", ist(2025, time.June, 2, 8, 0)); err != nil {
		t.Fatal(err)
	}

	op10 = PlannedScheduleItem{
		PartNumber: "E", ProductionOrder: "PO-5", OperationNumber: 10, MachineID: "M1",
		TotalQuantity: 50, RemainingQuantity: 50,
		InitialStartTime: ist(2025, time.June, 9, 8, 0),
		InitialEndTime:   ist(2025, time.June, 9, 12, 0),
		Status:           ItemStatusScheduled, CurrentVersion: 1,
	}
	if err := env.DB.Insert(&op10); err != nil {
		t.Fatal(err)
	}
	op20 = PlannedScheduleItem{
		PartNumber: "E", ProductionOrder: "PO-5", OperationNumber: 20, MachineID: "M1",
		TotalQuantity: 50, RemainingQuantity: 50,
		InitialStartTime: ist(2025, time.June, 9, 12, 0),
		InitialEndTime:   ist(2025, time.June, 9, 16, 0),
		Status:           ItemStatusScheduled, CurrentVersion: 1,
	}
	if err := env.DB.Insert(&op20); err != nil {
		t.Fatal(err)
	}
	return op10, op20
}

func logCompletion(t *testing.T, env testlibDB.DBEnv, opNumber, quantity int) {
	end := ist(2025, time.June, 9, 12, 0)
	if err := RecordProductionLog(*env.DB, &ProductionLog{
		PartNumber: "E", ProductionOrder: "PO-5", OperationNumber: opNumber,
		StartTime: ist(2025, time.June, 9, 8, 0), EndTime: &end,
		QuantityCompleted: quantity,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestPDCProjector_InProgressFromReschedule(t *testing.T) {
	env := setupSchedulingDB(t)
	defer env.Close()
	op10, op20 := seedPDCOrder(t, env)

	// The rescheduler has spoken for op 10, ending Jun 10 18:00.
	rescheduledEnd := ist(2025, time.June, 10, 18, 0)
	if err := env.DB.Insert(&ScheduleVersion{
		ItemID: op10.ID, VersionNumber: 1,
		PlannedStartTime: op10.InitialStartTime, PlannedEndTime: op10.InitialEndTime,
		PlannedQuantity: 50, RemainingQuantity: 50,
	}); err != nil {
		t.Fatal(err)
	}
	if err := env.DB.Insert(&ScheduleVersion{
		ItemID: op10.ID, VersionNumber: 2,
		PlannedStartTime: op10.InitialStartTime, PlannedEndTime: rescheduledEnd,
		PlannedQuantity: 50, RemainingQuantity: 10, IsActive: true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := env.DB.Insert(&ScheduleVersion{
		ItemID: op20.ID, VersionNumber: 1,
		PlannedStartTime: op20.InitialStartTime, PlannedEndTime: op20.InitialEndTime,
		PlannedQuantity: 50, RemainingQuantity: 50, IsActive: true,
	}); err != nil {
		t.Fatal(err)
	}
	logCompletion(t, env, 10, 40)

	projector := &PDCProjector{DB: *env.DB}
	rows, err := projector.Project(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %+v", rows)
	}
	row := rows[0]
	if row.Status != PDCStatusInProgress {
		t.Errorf("expected in_progress, got %s", row.Status)
	}
	if row.DataSource != PDCSourceReschedule {
		t.Errorf("expected reschedule source, got %s", row.DataSource)
	}
	if row.PDC == nil || !row.PDC.Equal(rescheduledEnd) {
		t.Errorf("expected pdc %v, got %v", rescheduledEnd, row.PDC)
	}
}

func TestPDCProjector_PendingWithoutPlan(t *testing.T) {
	env := setupSchedulingDB(t)
	defer env.Close()
	seedOrder(t, env, "E", "PO-5", 50, 1)
	if err := ActivatePart(*env.DB, "PO-5", ist(2025, time.June, 2, 8, 0)); err != nil {
		t.Fatal(err)
	}

	projector := &PDCProjector{DB: *env.DB}
	rows, err := projector.Project(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %+v", rows)
	}
	row := rows[0]
	if row.Status != PDCStatusPending || row.DataSource != PDCSourceNone || row.PDC != nil {
		t.Errorf("unexpected row without a plan: %+v", row)
	}
}

func TestPDCProjector_PendingWithPlanButNoLogs(t *testing.T) {
	env := setupSchedulingDB(t)
	defer env.Close()
	_, op20 := seedPDCOrder(t, env)

	projector := &PDCProjector{DB: *env.DB}
	rows, err := projector.Project(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	row := rows[0]
	if row.Status != PDCStatusPending {
		t.Errorf("expected pending, got %s", row.Status)
	}
	if row.DataSource != PDCSourceScheduled {
		t.Errorf("expected scheduled source, got %s", row.DataSource)
	}
	if row.PDC == nil || !row.PDC.Equal(op20.InitialEndTime) {
		t.Errorf("expected pdc %v, got %v", op20.InitialEndTime, row.PDC)
	}
}

func TestPDCProjector_Completed(t *testing.T) {
	env := setupSchedulingDB(t)
	defer env.Close()
	seedPDCOrder(t, env)
	logCompletion(t, env, 10, 50)
	logCompletion(t, env, 20, 50)

	projector := &PDCProjector{DB: *env.DB}
	rows, err := projector.Project(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rows[0].Status != PDCStatusCompleted {
		t.Errorf("expected completed, got %s", rows[0].Status)
	}
}

func TestPDCProjector_InactivePartExcluded(t *testing.T) {
	env := setupSchedulingDB(t)
	defer env.Close()
	seedPDCOrder(t, env)
	if err := DeactivatePart(*env.DB, "PO-5"); err != nil {
		t.Fatal(err)
	}

	projector := &PDCProjector{DB: *env.DB}
	rows, err := projector.Project(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows for inactive parts, got %+v", rows)
	}
}

func TestPDCCache(t *testing.T) {
	env := setupSchedulingDB(t)
	defer env.Close()
	seedPDCOrder(t, env)

	projector := &PDCProjector{DB: *env.DB, Cache: &PDCCache{TTL: time.Hour}}
	first, err := projector.Project(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 row, got %+v", first)
	}

	// Within the TTL the projection is served from the cache.
	if err := DeactivatePart(*env.DB, "PO-5"); err != nil {
		t.Fatal(err)
	}
	second, err := projector.Project(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 1 {
		t.Errorf("expected the cached projection, got %+v", second)
	}
}
