package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/barcode.scanner/internal/scanner"
	"github.com/banshee-data/barcode.scanner/internal/serialmux"
)

// DefaultConfigPath is the example configuration shipped with the repo.
const DefaultConfigPath = "config/scanner.defaults.json"

const (
	DefaultPort   = "/dev/ttyUSB0"
	DefaultListen = ":8080"
	DefaultDBPath = "scans.db"
)

// ScannerConfig is the service configuration file. Every field is optional;
// the Get* methods supply defaults for anything omitted, so partial configs
// are safe.
type ScannerConfig struct {
	// Serial line
	Port     *string `json:"port,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty"`

	// Protocol timing, as duration strings like "800ms"
	CommandTimeout *string `json:"command_timeout,omitempty"`
	ProbeTimeout   *string `json:"probe_timeout,omitempty"`
	SettleDelay    *string `json:"settle_delay,omitempty"`
	PollInterval   *string `json:"poll_interval,omitempty"`

	// Assembler
	BufferCapacity *int    `json:"buffer_capacity,omitempty"`
	OverflowPolicy *string `json:"overflow_policy,omitempty"` // "truncate" or "error"

	// Service
	Listen     *string `json:"listen,omitempty"`
	DBPath     *string `json:"db_path,omitempty"`
	MQTTBroker *string `json:"mqtt_broker,omitempty"`
	MQTTTopic  *string `json:"mqtt_topic,omitempty"`

	// Settings are applied in order once the scanner responds.
	Settings []scanner.Setting `json:"settings,omitempty"`
}

func ptrString(v string) *string { return &v }

// EmptyScannerConfig returns a config with every field unset.
func EmptyScannerConfig() *ScannerConfig {
	return &ScannerConfig{}
}

// LoadConfig reads and validates a JSON config file. The file must have a
// .json extension and be at most 1MB.
func LoadConfig(path string) (*ScannerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyScannerConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory or
// a parent. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *ScannerConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks every set field.
func (c *ScannerConfig) Validate() error {
	if _, err := c.PortOptions().Normalize(); err != nil {
		return err
	}

	durations := map[string]*string{
		"command_timeout": c.CommandTimeout,
		"probe_timeout":   c.ProbeTimeout,
		"settle_delay":    c.SettleDelay,
		"poll_interval":   c.PollInterval,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	if c.BufferCapacity != nil && *c.BufferCapacity < 2 {
		// one byte is always reserved for the terminator
		return fmt.Errorf("buffer_capacity must be at least 2, got %d", *c.BufferCapacity)
	}
	if c.OverflowPolicy != nil {
		if _, err := scanner.ParseOverflowPolicy(*c.OverflowPolicy); err != nil {
			return err
		}
	}

	for i, s := range c.Settings {
		if err := scanner.ValidateCommand(s.Opcode, s.Value); err != nil {
			return fmt.Errorf("settings[%d]: %w", i, err)
		}
	}
	return nil
}

func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func getString(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

func getInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetPort returns the serial device path or DefaultPort.
func (c *ScannerConfig) GetPort() string { return getString(c.Port, DefaultPort) }

// GetListen returns the HTTP listen address or DefaultListen.
func (c *ScannerConfig) GetListen() string { return getString(c.Listen, DefaultListen) }

// GetDBPath returns the database path or DefaultDBPath.
func (c *ScannerConfig) GetDBPath() string { return getString(c.DBPath, DefaultDBPath) }

// GetMQTTBroker returns the broker URL, empty when publishing is off.
func (c *ScannerConfig) GetMQTTBroker() string { return getString(c.MQTTBroker, "") }

func (c *ScannerConfig) GetMQTTTopic() string { return getString(c.MQTTTopic, "") }

func (c *ScannerConfig) GetCommandTimeout() time.Duration {
	return getDuration(c.CommandTimeout, scanner.DefaultCommandTimeout)
}

func (c *ScannerConfig) GetProbeTimeout() time.Duration {
	return getDuration(c.ProbeTimeout, scanner.DefaultProbeTimeout)
}

func (c *ScannerConfig) GetSettleDelay() time.Duration {
	return getDuration(c.SettleDelay, scanner.DefaultSettleDelay)
}

func (c *ScannerConfig) GetPollInterval() time.Duration {
	return getDuration(c.PollInterval, serialmux.DefaultPollInterval)
}

func (c *ScannerConfig) GetBufferCapacity() int {
	return getInt(c.BufferCapacity, scanner.DefaultScanBufferSize)
}

// GetOverflowPolicy returns the configured policy, OverflowTruncate by default.
func (c *ScannerConfig) GetOverflowPolicy() scanner.OverflowPolicy {
	if c.OverflowPolicy == nil {
		return scanner.OverflowTruncate
	}
	p, err := scanner.ParseOverflowPolicy(*c.OverflowPolicy)
	if err != nil {
		return scanner.OverflowTruncate
	}
	return p
}

// PortOptions returns the serial line settings. Unset fields are left zero
// for PortOptions.Normalize to default.
func (c *ScannerConfig) PortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{
		BaudRate: getInt(c.BaudRate, 0),
		DataBits: getInt(c.DataBits, 0),
		StopBits: getInt(c.StopBits, 0),
		Parity:   getString(c.Parity, ""),
	}
}

// MuxConfig builds the scan mux configuration. Clock, metrics and handshake
// hooks are left for the caller.
func (c *ScannerConfig) MuxConfig() serialmux.Config {
	return serialmux.Config{
		PollInterval:   c.GetPollInterval(),
		BufferCapacity: c.GetBufferCapacity(),
		Overflow:       c.GetOverflowPolicy(),
		Session: scanner.Options{
			CommandTimeout: c.GetCommandTimeout(),
			ProbeTimeout:   c.GetProbeTimeout(),
			SettleDelay:    c.GetSettleDelay(),
		},
	}
}
