// Package serial provides the serial transport used by the monitor: port
// configuration, a SerialPort abstraction over go.bug.st/serial, line framing
// and port enumeration.
package serial

import (
	"fmt"
	"runtime"
	"time"

	"go.bug.st/serial"
)

// SupportedBaudRates lists the rates accepted by SerialConfig.Validate
var SupportedBaudRates = []int{1200, 2400, 4800, 9600, 14400, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

// SerialConfig defines the configuration for serial port communication
type SerialConfig struct {
	Port     string        `json:"port" yaml:"port"`
	BaudRate int           `json:"baud_rate" yaml:"baud_rate"`
	DataBits int           `json:"data_bits" yaml:"data_bits"`
	StopBits int           `json:"stop_bits" yaml:"stop_bits"`
	Parity   string        `json:"parity" yaml:"parity"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
}

// Validate checks if the serial configuration is valid
func (c SerialConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}

	validBaud := false
	for _, rate := range SupportedBaudRates {
		if c.BaudRate == rate {
			validBaud = true
			break
		}
	}
	if !validBaud {
		return fmt.Errorf("invalid baud rate: %d", c.BaudRate)
	}

	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("data bits must be between 5 and 8, got: %d", c.DataBits)
	}

	if c.StopBits < 1 || c.StopBits > 2 {
		return fmt.Errorf("stop bits must be 1 or 2, got: %d", c.StopBits)
	}

	validParity := []string{"none", "odd", "even", "mark", "space"}
	validParityFound := false
	for _, p := range validParity {
		if c.Parity == p {
			validParityFound = true
			break
		}
	}
	if !validParityFound {
		return fmt.Errorf("invalid parity: %s", c.Parity)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}

	return nil
}

// WithBaudRate returns a copy of c using rate
func (c SerialConfig) WithBaudRate(rate int) SerialConfig {
	c.BaudRate = rate
	return c
}

// WithTimeout returns a copy of c using the given read timeout
func (c SerialConfig) WithTimeout(timeout time.Duration) SerialConfig {
	c.Timeout = timeout
	return c
}

// DefaultConfig returns the 9600 8-N-1 configuration the input board ships with
func DefaultConfig() SerialConfig {
	return SerialConfig{
		Port:     defaultPortName(),
		BaudRate: 9600,
		DataBits: 8,
		StopBits: 1,
		Parity:   "none",
		Timeout:  time.Second,
	}
}

func defaultPortName() string {
	switch runtime.GOOS {
	case "windows":
		return "COM1"
	case "darwin":
		return "/dev/cu.usbserial"
	default:
		return "/dev/ttyUSB0"
	}
}

// SerialPort interface defines the contract for serial port operations.
// Read returns 0 bytes and a nil error when the read timeout expires.
type SerialPort interface {
	Open(config SerialConfig) error
	Close() error
	Read(buffer []byte) (int, error)
	IsOpen() bool
	GetConfig() SerialConfig
	SetReadTimeout(timeout time.Duration) error
	ResetInputBuffer() error
}

// Factory creates an unopened port. Every open attempt uses a fresh port.
type Factory func() SerialPort

// CrossPlatformSerialPort implements SerialPort interface using go.bug.st/serial
type CrossPlatformSerialPort struct {
	port   serial.Port
	config SerialConfig
	isOpen bool
}

// NewCrossPlatformSerialPort creates a new cross-platform serial port instance
func NewCrossPlatformSerialPort() *CrossPlatformSerialPort {
	return &CrossPlatformSerialPort{
		isOpen: false,
	}
}

// NewSerialPort creates a new serial port instance. It satisfies Factory.
func NewSerialPort() SerialPort {
	return NewCrossPlatformSerialPort()
}

// Open opens the serial port with the given configuration
func (sp *CrossPlatformSerialPort) Open(config SerialConfig) error {
	if sp.isOpen {
		return NewSerialError(KindOpen, "open", config.Port, fmt.Errorf("serial port is already open"))
	}

	if err := config.Validate(); err != nil {
		return NewSerialError(KindOpen, "open", config.Port, fmt.Errorf("invalid configuration: %w", err))
	}

	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
		StopBits: convertStopBits(config.StopBits),
		Parity:   convertParity(config.Parity),
	}

	port, err := serial.Open(config.Port, mode)
	if err != nil {
		return NewSerialError(KindOpen, "open", config.Port, err)
	}

	if config.Timeout > 0 {
		if err := port.SetReadTimeout(config.Timeout); err != nil {
			port.Close()
			return NewSerialError(KindOpen, "set read timeout", config.Port, err)
		}
	}

	sp.port = port
	sp.config = config
	sp.isOpen = true

	return nil
}

// Close closes the serial port
func (sp *CrossPlatformSerialPort) Close() error {
	if !sp.isOpen {
		return fmt.Errorf("serial port is not open")
	}

	err := sp.port.Close()
	sp.port = nil
	sp.isOpen = false

	if err != nil {
		return NewSerialError(KindClose, "close", sp.config.Port, err)
	}

	return nil
}

// Read reads data from the serial port
func (sp *CrossPlatformSerialPort) Read(buffer []byte) (int, error) {
	if !sp.isOpen {
		return 0, NewSerialError(KindIO, "read", sp.config.Port, fmt.Errorf("serial port is not open"))
	}

	n, err := sp.port.Read(buffer)
	if err != nil {
		return n, NewSerialError(KindIO, "read", sp.config.Port, err)
	}

	return n, nil
}

// IsOpen returns true if the serial port is open
func (sp *CrossPlatformSerialPort) IsOpen() bool {
	return sp.isOpen
}

// GetConfig returns the current serial port configuration
func (sp *CrossPlatformSerialPort) GetConfig() SerialConfig {
	return sp.config
}

// SetReadTimeout sets the read timeout for the serial port
func (sp *CrossPlatformSerialPort) SetReadTimeout(timeout time.Duration) error {
	if !sp.isOpen {
		return fmt.Errorf("serial port is not open")
	}

	if err := sp.port.SetReadTimeout(timeout); err != nil {
		return NewSerialError(KindIO, "set read timeout", sp.config.Port, err)
	}

	sp.config.Timeout = timeout
	return nil
}

// ResetInputBuffer discards bytes received but not yet read
func (sp *CrossPlatformSerialPort) ResetInputBuffer() error {
	if !sp.isOpen {
		return fmt.Errorf("serial port is not open")
	}

	if err := sp.port.ResetInputBuffer(); err != nil {
		return NewSerialError(KindIO, "reset input buffer", sp.config.Port, err)
	}
	return nil
}

// convertStopBits converts our stop bits format to go.bug.st/serial format
func convertStopBits(stopBits int) serial.StopBits {
	switch stopBits {
	case 1:
		return serial.OneStopBit
	case 2:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}

// convertParity converts our parity format to go.bug.st/serial format
func convertParity(parity string) serial.Parity {
	switch parity {
	case "none":
		return serial.NoParity
	case "odd":
		return serial.OddParity
	case "even":
		return serial.EvenParity
	case "mark":
		return serial.MarkParity
	case "space":
		return serial.SpaceParity
	default:
		return serial.NoParity
	}
}
