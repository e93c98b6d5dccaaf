// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mescore-dev/mescore/internal/production"
	testlibDB "github.com/mescore-dev/mescore/testlib/db"
)

func setupStatusEngine(t *testing.T) *production.StatusEngine {
	env := testlibDB.SetupDBEnv(t)
	production.AddTables(*env.DB)
	if err := env.DB.CreateTablesIfNotExists(); err != nil {
		t.Fatal(err)
	}
	return &production.StatusEngine{DB: *env.DB}
}

// fakeDevice replays a scripted sequence of samples and errors, then
// cancels the poller's context.
type fakeDevice struct {
	id       string
	script   []func() (production.Reading, error)
	cancel   context.CancelFunc
	connects int
	closes   int
	failNext int
}

func (d *fakeDevice) MachineID() string { return d.id }

func (d *fakeDevice) Connect(ctx context.Context) error {
	d.connects++
	if d.failNext > 0 {
		d.failNext--
		return errors.New("connection refused")
	}
	return nil
}

func (d *fakeDevice) Sample(ctx context.Context) (production.Reading, error) {
	if len(d.script) == 0 {
		d.cancel()
		return production.Reading{}, errors.New("script exhausted")
	}
	step := d.script[0]
	d.script = d.script[1:]
	if len(d.script) == 0 {
		d.cancel()
	}
	return step()
}

func (d *fakeDevice) Close() { d.closes++ }

func sampleStep(id string, status int, at time.Time) func() (production.Reading, error) {
	return func() (production.Reading, error) {
		return production.Reading{MachineID: id, Timestamp: at, Status: status}, nil
	}
}

func errorStep() func() (production.Reading, error) {
	return func() (production.Reading, error) {
		return production.Reading{}, errors.New("read timed out")
	}
}

func runPoller(t *testing.T, engine *production.StatusEngine, device *fakeDevice) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	device.cancel = cancel
	poller := Poller{
		Device:      device,
		Engine:      engine,
		Interval:    time.Millisecond,
		ReadTimeout: time.Second,
		Backoff:     time.Millisecond,
	}
	poller.Run(ctx)
	if ctx.Err() == context.DeadlineExceeded {
		t.Fatal("poller did not stop on cancel")
	}
}

func machineHistory(t *testing.T, engine *production.StatusEngine, machineID string) []production.MachineRaw {
	var rows []production.MachineRaw
	_, err := engine.DB.Select(&rows, `
		SELECT * FROM production_machine_raw
		WHERE machine_id = :machine ORDER BY id`,
		map[string]any{"machine": machineID})
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestPoller_SamplesAndFinalFlush(t *testing.T) {
	engine := setupStatusEngine(t)
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	device := &fakeDevice{id: "M1", script: []func() (production.Reading, error){
		sampleStep("M1", production.StatusProduction, base),
		sampleStep("M1", production.StatusIdle, base.Add(time.Second)),
	}}

	runPoller(t, engine, device)

	// Production, idle, and the off record flushed on shutdown.
	history := machineHistory(t, engine, "M1")
	if len(history) != 3 {
		t.Fatalf("expected 3 history rows, got %d", len(history))
	}
	wantStatuses := []int{production.StatusProduction, production.StatusIdle, production.StatusOff}
	for i, want := range wantStatuses {
		if history[i].Status != want {
			t.Errorf("history[%d].Status = %d, want %d", i, history[i].Status, want)
		}
	}
	if device.closes == 0 {
		t.Error("device was not closed on shutdown")
	}
}

func TestPoller_ReadFailureDisconnects(t *testing.T) {
	engine := setupStatusEngine(t)
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	device := &fakeDevice{id: "M2", script: []func() (production.Reading, error){
		sampleStep("M2", production.StatusProduction, base),
		errorStep(),
		sampleStep("M2", production.StatusProduction, base.Add(2*time.Second)),
	}}

	runPoller(t, engine, device)

	// The failed read classifies the machine OFF and forces a reconnect.
	history := machineHistory(t, engine, "M2")
	wantStatuses := []int{
		production.StatusProduction,
		production.StatusOff,
		production.StatusProduction,
		production.StatusOff,
	}
	if len(history) != len(wantStatuses) {
		t.Fatalf("expected %d history rows, got %d", len(wantStatuses), len(history))
	}
	for i, want := range wantStatuses {
		if history[i].Status != want {
			t.Errorf("history[%d].Status = %d, want %d", i, history[i].Status, want)
		}
	}
	if device.connects != 2 {
		t.Errorf("expected 2 connect attempts, got %d", device.connects)
	}
}

func TestPoller_ConnectFailureRecordsOff(t *testing.T) {
	engine := setupStatusEngine(t)
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	device := &fakeDevice{id: "M3", failNext: 2, script: []func() (production.Reading, error){
		sampleStep("M3", production.StatusIdle, base),
	}}

	runPoller(t, engine, device)

	// Two refused connects collapse into one off record, then the sample.
	history := machineHistory(t, engine, "M3")
	wantStatuses := []int{production.StatusOff, production.StatusIdle, production.StatusOff}
	if len(history) != len(wantStatuses) {
		t.Fatalf("expected %d history rows, got %d", len(wantStatuses), len(history))
	}
	for i, want := range wantStatuses {
		if history[i].Status != want {
			t.Errorf("history[%d].Status = %d, want %d", i, history[i].Status, want)
		}
	}
	if device.connects != 3 {
		t.Errorf("expected 3 connect attempts, got %d", device.connects)
	}
}

func TestDecodeRegister(t *testing.T) {
	tests := []struct {
		field string
		raw   uint16
		want  float64
	}{
		{"power", 125, 12.5},
		{"energy", 40823, 4082.3},
		{"voltage", 4151, 415.1},
		{"current", 312, 3.12},
		{"frequency", 5002, 50.02},
		{"powerFactor", 987, 0.987},
		{"unknown", 7, 7},
	}
	for _, tt := range tests {
		if got := decodeRegister(tt.field, tt.raw); got != tt.want {
			t.Errorf("decodeRegister(%q, %d) = %v, want %v", tt.field, tt.raw, got, tt.want)
		}
	}
}
