// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

// Package collector polls shop-floor devices (OPC UA controls, HEIDENHAIN
// LSV2 controls, Modbus energy meters) and feeds classified samples into
// the live status engine. Each device has exactly one poller, so all rows
// of a machine have a single writer.
package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/mescore-dev/mescore/internal/production"
)

// A pollable machine control. Sample errors are treated as disconnection:
// the poller records OFF, closes the device, and retries the connect after
// the backoff.
type Device interface {
	MachineID() string
	Connect(ctx context.Context) error
	Sample(ctx context.Context) (production.Reading, error)
	Close()
}

// Poller drives one device on a fixed cadence.
type Poller struct {
	Device      Device
	Engine      *production.StatusEngine
	Interval    time.Duration
	ReadTimeout time.Duration
	Backoff     time.Duration
	Monitor     Monitor
}

// Run polls until the context is cancelled. On shutdown a final OFF record
// is flushed so downtime tracking sees the gap.
func (p *Poller) Run(ctx context.Context) {
	machineID := p.Device.MachineID()
	defer func() {
		p.Device.Close()
		if err := p.Engine.Ingest(production.Reading{
			MachineID: machineID,
			Timestamp: time.Now(),
			Status:    production.StatusOff,
		}); err != nil {
			slog.Error("failed to flush final off record", "machine", machineID, "error", err)
		}
	}()

	connected := false
	for {
		if ctx.Err() != nil {
			return
		}
		if !connected {
			if err := p.Device.Connect(ctx); err != nil {
				p.Monitor.observeError(machineID)
				slog.Warn("device connect failed", "machine", machineID, "error", err)
				p.ingestOff(machineID)
				if !sleep(ctx, p.Backoff) {
					return
				}
				continue
			}
			connected = true
		}

		readCtx, cancel := context.WithTimeout(ctx, p.ReadTimeout)
		reading, err := p.Device.Sample(readCtx)
		cancel()
		if err != nil {
			// A read timeout counts as disconnection.
			p.Monitor.observeError(machineID)
			slog.Warn("device read failed", "machine", machineID, "error", err)
			p.Device.Close()
			connected = false
			p.ingestOff(machineID)
			if !sleep(ctx, p.Backoff) {
				return
			}
			continue
		}

		p.Monitor.observeSample(machineID)
		if err := p.Engine.Ingest(reading); err != nil {
			slog.Error("failed to ingest sample", "machine", machineID, "error", err)
		}
		if !sleep(ctx, p.Interval) {
			return
		}
	}
}

func (p *Poller) ingestOff(machineID string) {
	if err := p.Engine.Ingest(production.Reading{
		MachineID: machineID,
		Timestamp: time.Now(),
		Status:    production.StatusOff,
	}); err != nil {
		slog.Error("failed to ingest off record", "machine", machineID, "error", err)
	}
}

// Context-aware sleep; false when the context was cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
