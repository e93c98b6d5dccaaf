// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/awcullen/opcua/client"
	"github.com/awcullen/opcua/ua"

	"github.com/mescore-dev/mescore/internal/conf"
	"github.com/mescore-dev/mescore/internal/production"
)

// Program status code reported as "running" by the controls we poll.
const opcuaProgStatusRunning = 3

// OPCUADevice polls one machine control over OPC UA. The node ids for the
// observed fields come from the device config.
type OPCUADevice struct {
	Config conf.OPCUADeviceConfig

	channel *client.Client
}

func (d *OPCUADevice) MachineID() string { return d.Config.MachineID }

func (d *OPCUADevice) Connect(ctx context.Context) error {
	channel, err := client.Dial(ctx, d.Config.Endpoint, client.WithInsecureSkipVerify())
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", d.Config.Endpoint, err)
	}
	d.channel = channel
	return nil
}

func (d *OPCUADevice) Sample(ctx context.Context) (production.Reading, error) {
	fields := []string{"progStatus", "opMode", "actParts", "progName", "selectedWorkPProg"}
	request := &ua.ReadRequest{TimestampsToReturn: ua.TimestampsToReturnNeither}
	for _, field := range fields {
		node, ok := d.Config.Nodes[field]
		if !ok {
			continue
		}
		request.NodesToRead = append(request.NodesToRead, ua.ReadValueID{
			NodeID:      ua.ParseNodeID(node),
			AttributeID: ua.AttributeIDValue,
		})
	}

	response, err := d.channel.Read(ctx, request)
	if err != nil {
		return production.Reading{}, fmt.Errorf("failed to read nodes: %w", err)
	}

	reading := production.Reading{
		MachineID: d.Config.MachineID,
		Timestamp: time.Now(),
	}
	i := 0
	for _, field := range fields {
		if _, ok := d.Config.Nodes[field]; !ok {
			continue
		}
		value := response.Results[i].Value
		i++
		switch field {
		case "progStatus":
			reading.ProgStatus = asInt(value)
		case "opMode":
			reading.OpMode = asInt(value)
		case "actParts":
			counter := asInt(value)
			reading.PartCounter = &counter
		case "progName":
			reading.ActiveProgram = asString(value)
		case "selectedWorkPProg":
			reading.SelectedProgram = asString(value)
		}
	}
	reading.Status = production.ClassifyControl(true, reading.ProgStatus == opcuaProgStatusRunning)
	return reading, nil
}

func (d *OPCUADevice) Close() {
	if d.channel == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.channel.Close(ctx); err != nil {
		_ = d.channel.Abort(ctx)
	}
	d.channel = nil
}

func asInt(v any) int {
	switch value := v.(type) {
	case int8:
		return int(value)
	case int16:
		return int(value)
	case int32:
		return int(value)
	case int64:
		return int(value)
	case uint8:
		return int(value)
	case uint16:
		return int(value)
	case uint32:
		return int(value)
	case uint64:
		return int(value)
	case float32:
		return int(value)
	case float64:
		return int(value)
	default:
		return 0
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
