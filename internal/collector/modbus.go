// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"

	"github.com/mescore-dev/mescore/internal/conf"
	"github.com/mescore-dev/mescore/internal/ems"
	"github.com/mescore-dev/mescore/internal/production"
)

// Fixed-point scaling of the meter's holding registers.
var meterScale = map[string]float64{
	"power":       10,   // 0.1 kW
	"energy":      10,   // 0.1 kWh
	"voltage":     10,   // 0.1 V
	"current":     100,  // 0.01 A
	"frequency":   100,  // 0.01 Hz
	"powerFactor": 1000, // 0.001
}

// meterReader is the conversation on the shared serial port.
type meterReader interface {
	open() error
	read(meter conf.ModbusMeterConfig) (ems.Reading, error)
	close()
}

// serialBus reads meters over Modbus ASCII on one serial port.
type serialBus struct {
	config  conf.ModbusBusConfig
	timeout time.Duration
	handler *modbus.ASCIIClientHandler
}

func (s *serialBus) open() error {
	handler := modbus.NewASCIIClientHandler(s.config.Device)
	handler.Config = serial.Config{
		Address:  s.config.Device,
		BaudRate: s.config.BaudRate,
		DataBits: s.config.DataBits,
		Parity:   s.config.Parity,
		StopBits: s.config.StopBits,
		Timeout:  s.timeout,
	}
	if err := handler.Connect(); err != nil {
		return fmt.Errorf("failed to open %s: %w", s.config.Device, err)
	}
	s.handler = handler
	return nil
}

func (s *serialBus) close() {
	if s.handler == nil {
		return
	}
	if err := s.handler.Close(); err != nil {
		slog.Error("failed to close energy bus", "device", s.config.Device, "error", err)
	}
	s.handler = nil
}

func (s *serialBus) read(meter conf.ModbusMeterConfig) (ems.Reading, error) {
	s.handler.SlaveId = meter.SlaveID
	client := modbus.NewClient(s.handler)

	reading := ems.Reading{MachineID: meter.MachineID, Timestamp: time.Now()}
	for field, address := range meter.Registers {
		raw, err := client.ReadHoldingRegisters(address, 1)
		if err != nil {
			return ems.Reading{}, fmt.Errorf("failed to read %s register: %w", field, err)
		}
		if len(raw) < 2 {
			return ems.Reading{}, fmt.Errorf("short response for %s register", field)
		}
		value := decodeRegister(field, uint16(raw[0])<<8|uint16(raw[1]))
		switch field {
		case "power":
			reading.PowerKW = value
		case "energy":
			reading.EnergyKWH = value
		case "voltage":
			reading.Voltage = value
		case "current":
			reading.CurrentAmps = value
		case "frequency":
			reading.Frequency = value
		case "powerFactor":
			reading.PowerFactor = value
		}
	}
	return reading, nil
}

// EnergyBus polls every meter on one shared serial bus. Meters are read
// strictly in sequence since the bus carries a single conversation; the
// bus poller is the only writer for its machines.
type EnergyBus struct {
	Bus         conf.ModbusBusConfig
	Interval    time.Duration
	ReadTimeout time.Duration
	Backoff     time.Duration

	Status  *production.StatusEngine
	EMS     *ems.Engine
	Monitor Monitor

	// Defaults to the Modbus ASCII serial port.
	reader meterReader
}

// Run polls until the context is cancelled, then flushes a final OFF
// record per meter.
func (b *EnergyBus) Run(ctx context.Context) {
	if b.reader == nil {
		b.reader = &serialBus{config: b.Bus, timeout: b.ReadTimeout}
	}
	defer func() {
		b.reader.close()
		for _, meter := range b.Bus.Meters {
			b.ingestOff(meter.MachineID)
		}
	}()

	connected := false
	for {
		if ctx.Err() != nil {
			return
		}
		if !connected {
			if err := b.reader.open(); err != nil {
				slog.Warn("energy bus connect failed", "device", b.Bus.Device, "error", err)
				for _, meter := range b.Bus.Meters {
					b.Monitor.observeError(meter.MachineID)
					b.ingestOff(meter.MachineID)
				}
				if !sleep(ctx, b.Backoff) {
					return
				}
				continue
			}
			connected = true
		}

		failed := 0
		for _, meter := range b.Bus.Meters {
			if !b.pollMeter(meter) {
				failed++
			}
		}
		// Every meter failing in one pass points at the port, not the
		// meters. Reopen after the backoff.
		if len(b.Bus.Meters) > 0 && failed == len(b.Bus.Meters) {
			b.reader.close()
			connected = false
			if !sleep(ctx, b.Backoff) {
				return
			}
			continue
		}
		if !sleep(ctx, b.Interval) {
			return
		}
	}
}

func (b *EnergyBus) pollMeter(meter conf.ModbusMeterConfig) bool {
	reading, err := b.reader.read(meter)
	if err != nil {
		// An unreachable meter classifies its machine OFF; the bus
		// itself stays up for the other meters.
		b.Monitor.observeError(meter.MachineID)
		slog.Warn("meter read failed", "machine", meter.MachineID, "error", err)
		b.ingestOff(meter.MachineID)
		return false
	}
	b.Monitor.observeSample(meter.MachineID)

	if err := b.EMS.Record(reading); err != nil {
		slog.Error("failed to record energy reading", "machine", meter.MachineID, "error", err)
	}
	if err := b.Status.Ingest(production.Reading{
		MachineID: meter.MachineID,
		Timestamp: reading.Timestamp,
		Status: production.ClassifyEnergy(
			reading.CurrentAmps, reading.Frequency, meter.ThresholdAmps),
	}); err != nil {
		slog.Error("failed to ingest meter status", "machine", meter.MachineID, "error", err)
	}
	return true
}

func (b *EnergyBus) ingestOff(machineID string) {
	if err := b.Status.Ingest(production.Reading{
		MachineID: machineID,
		Timestamp: time.Now(),
		Status:    production.StatusOff,
	}); err != nil {
		slog.Error("failed to ingest off record", "machine", machineID, "error", err)
	}
}

func decodeRegister(field string, raw uint16) float64 {
	scale, ok := meterScale[field]
	if !ok {
		scale = 1
	}
	return float64(raw) / scale
}
