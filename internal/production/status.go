// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package production

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mescore-dev/mescore/internal/db"
	"github.com/mescore-dev/mescore/internal/mqtt"
)

// Callback into the shift summary engine, invoked after every write.
type SummaryUpdater interface {
	Update(now time.Time, machineID string) error
}

// One classified device sample. Collectors fill the raw fields their
// protocol exposes and leave the rest zeroed.
type Reading struct {
	MachineID string
	Timestamp time.Time
	Status    int

	OpMode     int
	ProgStatus int
	// Boolean PLC part-completion marker, counted on the rising edge.
	PartMarker bool
	// Monotonic part counter, counted on increase. Takes precedence over
	// the marker when the device exposes one.
	PartCounter *int

	SelectedProgram string
	ActiveProgram   string
	ScheduledJob    string
	ActualJob       string
}

// Classify an energy meter sample against the per-machine current threshold.
func ClassifyEnergy(amps, frequency, thresholdAmps float64) int {
	if math.Abs(amps) > thresholdAmps {
		return StatusProduction
	}
	if frequency > 0 {
		return StatusIdle
	}
	return StatusOff
}

// Classify a machine-control sample (OPC UA or LSV2). A failed connection
// or read timeout classifies as OFF before this is ever called.
func ClassifyControl(connected, running bool) int {
	if !connected {
		return StatusOff
	}
	if running {
		return StatusProduction
	}
	return StatusIdle
}

// StatusEngine ingests classified samples, maintains the live row and the
// edge-triggered history per machine, and tracks downtime windows. Each
// machine has exactly one writing poller, so per-machine state needs no
// database-level coordination.
type StatusEngine struct {
	DB      db.DB
	Monitor Monitor
	Summary SummaryUpdater
	// Optional; a nil client disables trigger publishing.
	MQTT mqtt.Client

	mutex      sync.Mutex
	lastMarker map[string]bool
}

// Ingest one sample: update the live row, append a history row when an
// observed field changed, and open or close downtime windows on OFF
// transitions.
func (e *StatusEngine) Ingest(reading Reading) error {
	var live MachineRawLive
	err := e.DB.SelectOne(&live,
		"SELECT * FROM production_machine_raw_live WHERE machine_id = :machine",
		map[string]any{"machine": reading.MachineID})
	firstSample := errors.Is(err, sql.ErrNoRows)
	if err != nil && !firstSample {
		return fmt.Errorf("failed to load live row: %w", err)
	}

	partCount := live.PartCount
	switch {
	case reading.PartCounter != nil:
		if *reading.PartCounter > partCount {
			partCount = *reading.PartCounter
		}
	case reading.PartMarker && !e.markerWasHigh(reading.MachineID):
		partCount++
	}
	e.setMarker(reading.MachineID, reading.PartMarker)

	next := MachineRawLive{
		MachineID:       reading.MachineID,
		Status:          reading.Status,
		OpMode:          reading.OpMode,
		ProgStatus:      reading.ProgStatus,
		PartCount:       partCount,
		SelectedProgram: reading.SelectedProgram,
		ActiveProgram:   reading.ActiveProgram,
		ScheduledJob:    reading.ScheduledJob,
		ActualJob:       reading.ActualJob,
		UpdatedAt:       reading.Timestamp.UTC(),
	}
	changed := firstSample ||
		next.Status != live.Status ||
		next.OpMode != live.OpMode ||
		next.ProgStatus != live.ProgStatus ||
		next.PartCount != live.PartCount ||
		next.SelectedProgram != live.SelectedProgram ||
		next.ActiveProgram != live.ActiveProgram ||
		next.ScheduledJob != live.ScheduledJob ||
		next.ActualJob != live.ActualJob

	if err := db.Upsert(&e.DB, &next); err != nil {
		return fmt.Errorf("failed to upsert live row: %w", err)
	}

	if changed {
		if err := e.DB.Insert(&MachineRaw{
			MachineID:       next.MachineID,
			Status:          next.Status,
			OpMode:          next.OpMode,
			ProgStatus:      next.ProgStatus,
			PartCount:       next.PartCount,
			SelectedProgram: next.SelectedProgram,
			ActiveProgram:   next.ActiveProgram,
			ScheduledJob:    next.ScheduledJob,
			ActualJob:       next.ActualJob,
			RecordedAt:      next.UpdatedAt,
		}); err != nil {
			return fmt.Errorf("failed to append history row: %w", err)
		}
	}

	statusChanged := firstSample || next.Status != live.Status
	if statusChanged {
		if err := e.trackDowntime(reading.MachineID, next.Status, next.UpdatedAt); err != nil {
			return err
		}
		e.Monitor.observeTransition(reading.MachineID, next.Status)
		if e.MQTT != nil {
			e.MQTT.Publish(mqtt.TriggerMachineStatusChanged+"/"+reading.MachineID, map[string]any{
				"machine_id": reading.MachineID,
				"status":     next.Status,
				"timestamp":  next.UpdatedAt,
			})
		}
		slog.Info("machine status changed",
			"machine", reading.MachineID, "from", live.Status, "to", next.Status)
	}

	if e.Summary != nil {
		if err := e.Summary.Update(reading.Timestamp, reading.MachineID); err != nil {
			return fmt.Errorf("failed to update shift summary: %w", err)
		}
	}
	return nil
}

// Open a downtime on the first transition into OFF, close it on the first
// transition out. At most one open downtime exists per machine.
func (e *StatusEngine) trackDowntime(machineID string, current int, now time.Time) error {
	var open MachineDowntime
	err := e.DB.SelectOne(&open,
		`SELECT * FROM production_machine_downtimes
		 WHERE machine_id = :machine AND closed_dt IS NULL
		 ORDER BY open_dt DESC LIMIT 1`,
		map[string]any{"machine": machineID})
	hasOpen := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to load open downtime: %w", err)
	}

	switch {
	case current == StatusOff && !hasOpen:
		if err := e.DB.Insert(&MachineDowntime{MachineID: machineID, OpenDT: now}); err != nil {
			return fmt.Errorf("failed to open downtime: %w", err)
		}
	case current != StatusOff && hasOpen:
		open.ClosedDT = &now
		if _, err := e.DB.Update(&open); err != nil {
			return fmt.Errorf("failed to close downtime: %w", err)
		}
	}
	return nil
}

// AvailableFrom answers the rescheduler's machine-availability check. A
// machine whose live row says OFF is treated as off indefinitely since the
// device reports no expected return.
func (e *StatusEngine) AvailableFrom(machineID string, now time.Time) (time.Time, bool) {
	var live MachineRawLive
	err := e.DB.SelectOne(&live,
		"SELECT * FROM production_machine_raw_live WHERE machine_id = :machine",
		map[string]any{"machine": machineID})
	if errors.Is(err, sql.ErrNoRows) {
		// Machines without a collector are planned normally.
		return now, true
	}
	if err != nil {
		slog.Error("failed to load live row for availability", "machine", machineID, "error", err)
		return now, true
	}
	if live.Status == StatusOff {
		return time.Time{}, false
	}
	return now, true
}

func (e *StatusEngine) markerWasHigh(machineID string) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.lastMarker[machineID]
}

func (e *StatusEngine) setMarker(machineID string, high bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.lastMarker == nil {
		e.lastMarker = map[string]bool{}
	}
	e.lastMarker[machineID] = high
}
