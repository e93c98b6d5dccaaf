// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Configuration for structured logging.
type LoggingConfig struct {
	// The log level to use (debug, info, warn, error).
	LevelStr string `yaml:"level"`
	// The log format to use (json, text).
	Format string `yaml:"format"`
}

// Database configuration.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Configuration for the monitoring module.
type MonitoringConfig struct {
	// The labels to add to all metrics.
	Labels map[string]string `yaml:"labels"`
	// The port to expose the metrics on.
	Port int `yaml:"port"`
}

// Configuration for the api server.
type APIConfig struct {
	// The port to expose the api on.
	Port int `yaml:"port"`
}

// Configuration for the mqtt client.
type MQTTConfig struct {
	// The URL of the MQTT broker.
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Configuration for the batch scheduler and dynamic rescheduler.
type SchedulerConfig struct {
	// Hour of day (IST) at which the scheduling shift window opens.
	ShiftStartHour int `yaml:"shiftStartHour"`
	// Hour of day (IST) at which the scheduling shift window closes.
	ShiftEndHour int `yaml:"shiftEndHour"`
	// Setup minutes assumed when an operation definition is missing.
	DefaultSetupMinutes int `yaml:"defaultSetupMinutes"`
	// Cycle minutes assumed when an operation definition is missing.
	DefaultCycleMinutes int `yaml:"defaultCycleMinutes"`
	// Legacy part ordering that ranks project priority before the
	// activation timestamp. Off by default.
	OrderByPriorityFirst bool `yaml:"orderByPriorityFirst"`
}

// Fill in the canonical 06:00-22:00 window and the operation defaults
// where the config leaves them zero.
func (c SchedulerConfig) WithDefaults() SchedulerConfig {
	if c.ShiftStartHour == 0 && c.ShiftEndHour == 0 {
		c.ShiftStartHour = 6
		c.ShiftEndHour = 22
	}
	if c.DefaultSetupMinutes == 0 {
		c.DefaultSetupMinutes = 30
	}
	if c.DefaultCycleMinutes == 0 {
		c.DefaultCycleMinutes = 5
	}
	return c
}

// Configuration for the shift summary and OEE engine.
type OEEConfig struct {
	// Preserve the legacy accounting that sets good parts equal to total
	// parts for logs flagged with part status 2. Known to be dubious.
	LegacyQuality bool `yaml:"legacyQuality"`
}

// One OPC UA machine endpoint to poll.
type OPCUADeviceConfig struct {
	MachineID string `yaml:"machineId"`
	// E.g. opc.tcp://10.0.0.12:4840
	Endpoint string `yaml:"endpoint"`
	// Node ids by field name (progStatus, opMode, actParts, progName,
	// selectedWorkPProg).
	Nodes map[string]string `yaml:"nodes"`
}

// One HEIDENHAIN LSV2 control to poll.
type LSV2DeviceConfig struct {
	MachineID string `yaml:"machineId"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	// PLC marker observed for part completion: either a marker address
	// such as M4170 or a DWORD address such as D2592.
	PartMarker string `yaml:"partMarker"`
}

// One energy meter on the shared Modbus serial bus.
type ModbusMeterConfig struct {
	MachineID string `yaml:"machineId"`
	SlaveID   byte   `yaml:"slaveId"`
	// Current draw above which the machine counts as producing, in amps.
	ThresholdAmps float64 `yaml:"thresholdAmps"`
	// Holding register addresses by field name (power, energy, voltage,
	// current, frequency, powerFactor).
	Registers map[string]uint16 `yaml:"registers"`
}

// The shared serial bus carrying all energy meters.
type ModbusBusConfig struct {
	// Serial device, e.g. /dev/ttyUSB0.
	Device string `yaml:"device"`
	// Delta PLC meters speak 9600-7-E-2 ASCII.
	BaudRate int                 `yaml:"baudRate"`
	DataBits int                 `yaml:"dataBits"`
	Parity   string              `yaml:"parity"`
	StopBits int                 `yaml:"stopBits"`
	Meters   []ModbusMeterConfig `yaml:"meters"`
}

// Configuration for the device collectors.
type CollectorConfig struct {
	// Seconds between poll iterations for OPC UA and LSV2 devices.
	PollIntervalSeconds int `yaml:"pollIntervalSeconds"`
	// Seconds between poll iterations for the energy meter bus.
	EnergyPollIntervalSeconds int `yaml:"energyPollIntervalSeconds"`
	// Per-read deadline in seconds. A timeout counts as disconnection.
	ReadTimeoutSeconds int `yaml:"readTimeoutSeconds"`
	// Seconds to wait after a failed connect before retrying.
	ReconnectBackoffSeconds int `yaml:"reconnectBackoffSeconds"`

	OPCUA  []OPCUADeviceConfig `yaml:"opcua,omitempty"`
	LSV2   []LSV2DeviceConfig  `yaml:"lsv2,omitempty"`
	Modbus ModbusBusConfig     `yaml:"modbus,omitempty"`
}

// Fill in the default poll cadence where the config leaves it zero.
func (c CollectorConfig) WithDefaults() CollectorConfig {
	if c.PollIntervalSeconds == 0 {
		c.PollIntervalSeconds = 1
	}
	if c.EnergyPollIntervalSeconds == 0 {
		c.EnergyPollIntervalSeconds = 5
	}
	if c.ReadTimeoutSeconds == 0 {
		c.ReadTimeoutSeconds = 1
	}
	if c.ReconnectBackoffSeconds == 0 {
		c.ReconnectBackoffSeconds = 60
	}
	return c
}

// Configuration for the mescore service.
type Config struct {
	LoggingConfig    `yaml:"logging"`
	APIConfig        `yaml:"api"`
	DBConfig         `yaml:"db"`
	MonitoringConfig `yaml:"monitoring"`
	MQTTConfig       `yaml:"mqtt"`
	SchedulerConfig  `yaml:"scheduler"`
	OEEConfig        `yaml:"oee"`
	CollectorConfig  `yaml:"collector"`
}

const (
	defaultConfigPath  = "/etc/mescore/config.yaml"
	defaultSecretsPath = "/etc/mescore/secrets.yaml"
)

// Load the configuration from the default yaml files, panicking on failure.
//
// Two files are read: the base config and an optional secrets overlay whose
// values override the base. The path of the base file can be changed with
// the MESCORE_CONFIG environment variable.
func GetConfigOrDie() Config {
	path := os.Getenv("MESCORE_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}
	base, err := readRawConfig(path)
	if err != nil {
		panic(fmt.Errorf("conf: failed to read %s: %w", path, err))
	}
	// The secrets overlay is optional.
	if overlay, err := readRawConfig(defaultSecretsPath); err == nil {
		base = mergeMaps(base, overlay)
	}
	return newConfigFromMap(base)
}

func newConfigFromMap(raw map[string]any) Config {
	// Marshal again, and then unmarshal into the config struct.
	merged, err := yaml.Marshal(raw)
	if err != nil {
		panic(err)
	}
	var c Config
	if err := yaml.Unmarshal(merged, &c); err != nil {
		panic(err)
	}
	c.SchedulerConfig = c.SchedulerConfig.WithDefaults()
	c.CollectorConfig = c.CollectorConfig.WithDefaults()
	return c
}

// Read the yaml as a map from the given file path.
func readRawConfig(filepath string) (map[string]any, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	bytes, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	var conf map[string]any
	if err := yaml.Unmarshal(bytes, &conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// mergeMaps recursively overrides dst with src (in-place).
func mergeMaps(dst, src map[string]any) map[string]any {
	result := dst
	for k, v := range src {
		if v == nil {
			continue
		}
		if dstVal, ok := dst[k]; ok {
			dstMap, dstIsMap := dstVal.(map[string]any)
			srcMap, srcIsMap := v.(map[string]any)
			if dstIsMap && srcIsMap {
				result[k] = mergeMaps(dstMap, srcMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}
