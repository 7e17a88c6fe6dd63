package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial        SerialConfig        `yaml:"serial"`
	Stabilization StabilizationConfig `yaml:"stabilization"`
	Command       CommandConfig       `yaml:"command"`
	Log           LogConfig           `yaml:"log"`
	API           APIConfig           `yaml:"api"`
	Mock          MockConfig          `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port          string        `yaml:"port"`
	BaudRate      int           `yaml:"baud_rate"`
	Parity        string        `yaml:"parity"`         // none, odd or even
	DataBits      int           `yaml:"data_bits"`      // 7 or 8
	StopBits      string        `yaml:"stop_bits"`      // 1, 1.5 or 2
	ReadTimeout   time.Duration `yaml:"read_timeout"`   // Upper bound of a single blocking read
	FrameCapacity int           `yaml:"frame_capacity"` // Maximum telegram length in bytes
}

// StabilizationConfig contains the parameters deciding when a weight has settled.
// Weights are expressed in display units (one decimal place is significant).
type StabilizationConfig struct {
	SameCount  int     `yaml:"same_count"`  // Consecutive matching samples required
	ErrorLimit float64 `yaml:"error_limit"` // Tolerance for two samples to match
	MinWeight  float64 `yaml:"min_weight"`  // At or below this the scale is considered empty
}

// CommandConfig contains command/response exchange parameters.
type CommandConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Log output formats
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// LogConfig contains logging parameters.
type LogConfig struct {
	Debug  bool   `yaml:"debug"`
	Format string `yaml:"format"` // console or json
}

// APIConfig contains HTTP API parameters. An empty Listen address disables the API.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// MockConfig contains simulated scale configuration.
type MockConfig struct {
	ObjectWeight  float64       `yaml:"object_weight"`  // Weight of the simulated object
	Noise         float64       `yaml:"noise"`          // Peak noise amplitude while settled
	SampleRate    time.Duration `yaml:"sample_rate"`    // Interval between telegrams
	EmptyDuration time.Duration `yaml:"empty_duration"` // Time the scale stays empty
	SettleTime    time.Duration `yaml:"settle_time"`    // Time until the object stops swinging
	HoldDuration  time.Duration `yaml:"hold_duration"`  // Time the object stays on the scale
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:          "COM1", // Should be "/dev/ttyUSB0" or similar on Linux
			BaudRate:      9600,
			Parity:        "none",
			DataBits:      8,
			StopBits:      "1",
			ReadTimeout:   50 * time.Millisecond,
			FrameCapacity: 64,
		},
		Stabilization: StabilizationConfig{
			SameCount:  10,
			ErrorLimit: 0.1,
			MinWeight:  0.2,
		},
		Command: CommandConfig{
			Timeout: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Format: LogFormatConsole,
		},
		Mock: MockConfig{
			ObjectWeight:  125.4,
			Noise:         0.05,
			SampleRate:    50 * time.Millisecond,
			EmptyDuration: 2 * time.Second,
			SettleTime:    time.Second,
			HoldDuration:  4 * time.Second,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that cannot be fixed by falling back to defaults.
// Serial line settings are validated when the port is opened.
func (c *Config) Validate() error {
	if c.Stabilization.SameCount < 1 {
		return fmt.Errorf("invalid stabilization same_count %d: must be at least 1", c.Stabilization.SameCount)
	}
	if c.Stabilization.ErrorLimit < 0 {
		return fmt.Errorf("invalid stabilization error_limit %v: must not be negative", c.Stabilization.ErrorLimit)
	}
	if c.Serial.FrameCapacity < 0 {
		return errors.New("invalid serial frame_capacity: must not be negative")
	}
	switch c.Log.Format {
	case LogFormatConsole, LogFormatJSON:
	default:
		return fmt.Errorf("invalid log format %q: must be %s or %s", c.Log.Format, LogFormatConsole, LogFormatJSON)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.Parity == "" {
		c.Serial.Parity = def.Serial.Parity
	}
	if c.Serial.DataBits == 0 {
		c.Serial.DataBits = def.Serial.DataBits
	}
	if c.Serial.StopBits == "" {
		c.Serial.StopBits = def.Serial.StopBits
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = def.Serial.ReadTimeout
	}
	if c.Serial.FrameCapacity == 0 {
		c.Serial.FrameCapacity = def.Serial.FrameCapacity
	}

	// A zero error limit or min weight is a legitimate setting, only the count
	// is required.
	if c.Stabilization.SameCount == 0 {
		c.Stabilization.SameCount = def.Stabilization.SameCount
	}

	if c.Command.Timeout == 0 {
		c.Command.Timeout = def.Command.Timeout
	}

	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}

	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
	if c.Mock.EmptyDuration == 0 {
		c.Mock.EmptyDuration = def.Mock.EmptyDuration
	}
	if c.Mock.SettleTime == 0 {
		c.Mock.SettleTime = def.Mock.SettleTime
	}
	if c.Mock.HoldDuration == 0 {
		c.Mock.HoldDuration = def.Mock.HoldDuration
	}
	if c.Mock.ObjectWeight == 0 {
		c.Mock.ObjectWeight = def.Mock.ObjectWeight
	}
}
