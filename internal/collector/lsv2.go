// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mescore-dev/mescore/internal/conf"
	"github.com/mescore-dev/mescore/internal/production"
)

// HEIDENHAIN LSV2 protocol over TCP, port 19000 by default. A telegram is a
// 4-byte big-endian length followed by a 4-character command and payload.
// No maintained Go client exists for LSV2, so the small subset we need is
// spoken directly: INSPECT login, run info, and PLC memory reads.
const (
	lsv2DefaultPort = 19000

	lsv2CmdLogin       = "A_LG"
	lsv2CmdReadRunInfo = "R_RI"
	lsv2CmdReadMemory  = "R_MB"
	lsv2RespError      = "T_ER"

	// Run info parameter for the program status.
	lsv2RunInfoProgramStatus = 26
	// Program status code while an NC program executes.
	lsv2ProgramStatusStarted = 0
	// Value the PLC writes into the part-completion word while a part
	// finishes.
	lsv2PartFlagRaised = 255
)

// LSV2Device polls one HEIDENHAIN control.
type LSV2Device struct {
	Config conf.LSV2DeviceConfig

	conn net.Conn
}

func (d *LSV2Device) MachineID() string { return d.Config.MachineID }

func (d *LSV2Device) Connect(ctx context.Context) error {
	port := d.Config.Port
	if port == 0 {
		port = lsv2DefaultPort
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(d.Config.Host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("failed to dial control: %w", err)
	}
	d.conn = conn
	if _, err := d.exchange(ctx, lsv2CmdLogin, []byte("INSPECT\x00")); err != nil {
		d.Close()
		return fmt.Errorf("login rejected: %w", err)
	}
	return nil
}

func (d *LSV2Device) Sample(ctx context.Context) (production.Reading, error) {
	status, err := d.exchange(ctx, lsv2CmdReadRunInfo, []byte{lsv2RunInfoProgramStatus})
	if err != nil {
		return production.Reading{}, fmt.Errorf("failed to read run info: %w", err)
	}
	progStatus := 0
	if len(status) > 0 {
		progStatus = int(status[len(status)-1])
	}

	reading := production.Reading{
		MachineID:  d.Config.MachineID,
		Timestamp:  time.Now(),
		ProgStatus: progStatus,
		Status: production.ClassifyControl(true,
			progStatus == lsv2ProgramStatusStarted),
	}
	if err := d.readPartSignal(ctx, &reading); err != nil {
		return production.Reading{}, err
	}
	return reading, nil
}

// Read the configured part-completion signal: a PLC marker bit (M....) or a
// PLC word raised to 255 (D....), both observed on the rising edge.
func (d *LSV2Device) readPartSignal(ctx context.Context, reading *production.Reading) error {
	marker := strings.TrimSpace(d.Config.PartMarker)
	if marker == "" {
		return nil
	}
	address, err := strconv.Atoi(marker[1:])
	if err != nil {
		return fmt.Errorf("malformed part marker %q: %w", marker, err)
	}
	switch marker[0] {
	case 'M', 'm':
		// Markers are bits of PLC memory, 8 per byte.
		payload := memoryRequest(uint32(address/8), 1)
		data, err := d.exchange(ctx, lsv2CmdReadMemory, payload)
		if err != nil {
			return fmt.Errorf("failed to read marker %s: %w", marker, err)
		}
		if len(data) > 0 {
			reading.PartMarker = data[0]&(1<<(address%8)) != 0
		}
	case 'D', 'd':
		payload := memoryRequest(uint32(address), 4)
		data, err := d.exchange(ctx, lsv2CmdReadMemory, payload)
		if err != nil {
			return fmt.Errorf("failed to read word %s: %w", marker, err)
		}
		// The PLC program raises the word to 255 while a part completes,
		// so it is a flag observed on the rising edge, not a counter.
		if len(data) >= 4 {
			reading.PartMarker = binary.BigEndian.Uint32(data[:4]) == lsv2PartFlagRaised
		}
	default:
		return fmt.Errorf("unsupported part marker %q", marker)
	}
	return nil
}

func (d *LSV2Device) Close() {
	if d.conn == nil {
		return
	}
	d.conn.Close()
	d.conn = nil
}

// One request/response round trip under the context deadline.
func (d *LSV2Device) exchange(ctx context.Context, command string, payload []byte) ([]byte, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(time.Second)
	}
	if err := d.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	telegram := make([]byte, 4+4+len(payload))
	binary.BigEndian.PutUint32(telegram, uint32(4+len(payload)))
	copy(telegram[4:], command)
	copy(telegram[8:], payload)
	if _, err := d.conn.Write(telegram); err != nil {
		return nil, err
	}

	header := make([]byte, 8)
	if _, err := io.ReadFull(d.conn, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	if length < 4 || length > 1<<16 {
		return nil, fmt.Errorf("malformed telegram length %d", length)
	}
	response := string(header[4:8])
	data := make([]byte, length-4)
	if _, err := io.ReadFull(d.conn, data); err != nil {
		return nil, err
	}
	if response == lsv2RespError {
		return nil, fmt.Errorf("control refused %s", command)
	}
	return data, nil
}

func memoryRequest(address uint32, count uint32) []byte {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload, address)
	binary.BigEndian.PutUint32(payload[4:], count)
	return payload
}
