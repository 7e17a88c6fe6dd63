package link

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/itohio/goweigh/pkg/config"
	"go.bug.st/serial"
)

// BaudRates lists the supported baud rates.
var BaudRates = []int{
	75, 110, 150, 300, 600, 1200, 2400, 4800, 9600, 14400, 19200,
	28800, 38400, 56000, 57600, 115200, 128000, 230400, 256000,
}

// Parity denotes the parity of a serial line.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

func (p Parity) String() string {
	switch p {
	case NoParity:
		return "None"
	case OddParity:
		return "Odd"
	case EvenParity:
		return "Even"
	}
	return fmt.Sprintf("Parity(%d)", int(p))
}

// StopBits denotes the number of stop bits of a serial line.
type StopBits int

const (
	OneStopBit StopBits = iota
	OnePointFiveStopBits
	TwoStopBits
)

func (s StopBits) String() string {
	switch s {
	case OneStopBit:
		return "One"
	case OnePointFiveStopBits:
		return "OnePointFive"
	case TwoStopBits:
		return "Two"
	}
	return fmt.Sprintf("StopBits(%d)", int(s))
}

// Config is the configuration applied when a port is opened. Changing it
// requires closing and reopening the link.
type Config struct {
	Port        string
	BaudRate    int
	Parity      Parity
	DataBits    int // 7 or 8
	StopBits    StopBits
	ReadTimeout time.Duration // Upper bound of a single blocking read
}

// DefaultConfig returns 9600 baud, 8 data bits, no parity and one stop bit on
// the given port.
func DefaultConfig(port string) Config {
	return Config{
		Port:        port,
		BaudRate:    9600,
		Parity:      NoParity,
		DataBits:    8,
		StopBits:    OneStopBit,
		ReadTimeout: DefaultReadTimeout,
	}
}

// ConfigFrom converts the file configuration to a link configuration.
func ConfigFrom(c config.SerialConfig) (Config, error) {
	parity, err := ParseParity(c.Parity)
	if err != nil {
		return Config{}, err
	}
	stopBits, err := ParseStopBits(c.StopBits)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:        c.Port,
		BaudRate:    c.BaudRate,
		Parity:      parity,
		DataBits:    c.DataBits,
		StopBits:    stopBits,
		ReadTimeout: c.ReadTimeout,
	}

	return cfg, cfg.Validate()
}

// ParseParity parses "none", "odd" or "even" (case insensitive).
func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "n", "":
		return NoParity, nil
	case "odd", "o":
		return OddParity, nil
	case "even", "e":
		return EvenParity, nil
	}
	return NoParity, fmt.Errorf("%w: unknown parity %q", ErrInvalidConfig, s)
}

// ParseStopBits parses "1", "1.5" or "2".
func ParseStopBits(s string) (StopBits, error) {
	switch strings.TrimSpace(s) {
	case "1", "":
		return OneStopBit, nil
	case "1.5":
		return OnePointFiveStopBits, nil
	case "2":
		return TwoStopBits, nil
	}
	return OneStopBit, fmt.Errorf("%w: unknown stop bits %q", ErrInvalidConfig, s)
}

// Validate checks the configuration against the supported values.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("%w: empty port name", ErrInvalidConfig)
	}
	if !slices.Contains(BaudRates, c.BaudRate) {
		return fmt.Errorf("%w: unsupported baud rate %d", ErrInvalidConfig, c.BaudRate)
	}
	if c.Parity < NoParity || c.Parity > EvenParity {
		return fmt.Errorf("%w: unsupported parity %v", ErrInvalidConfig, c.Parity)
	}
	if c.DataBits != 7 && c.DataBits != 8 {
		return fmt.Errorf("%w: unsupported data bits %d", ErrInvalidConfig, c.DataBits)
	}
	if c.StopBits < OneStopBit || c.StopBits > TwoStopBits {
		return fmt.Errorf("%w: unsupported stop bits %v", ErrInvalidConfig, c.StopBits)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("%w: negative read timeout", ErrInvalidConfig)
	}
	return nil
}

// String formats the configuration as "COM1 (9600,8,One,None)".
func (c Config) String() string {
	return fmt.Sprintf("%s (%d,%d,%v,%v)", c.Port, c.BaudRate, c.DataBits, c.StopBits, c.Parity)
}

func (c Config) mode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
	}

	switch c.Parity {
	case OddParity:
		mode.Parity = serial.OddParity
	case EvenParity:
		mode.Parity = serial.EvenParity
	default:
		mode.Parity = serial.NoParity
	}

	switch c.StopBits {
	case OnePointFiveStopBits:
		mode.StopBits = serial.OnePointFiveStopBits
	case TwoStopBits:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	return mode
}

// Ports returns the names of the serial ports present on the system.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// Exists reports whether a serial port with the given name is present.
func Exists(name string) bool {
	ports, err := Ports()
	if err != nil {
		return false
	}
	return slices.Contains(ports, name)
}
