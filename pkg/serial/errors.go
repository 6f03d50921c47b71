package serial

import (
	"errors"
	"fmt"

	"go.bug.st/serial"
)

// ErrorKind classifies a SerialError
type ErrorKind int

const (
	// KindOpen means the port could not be opened; the session never started
	KindOpen ErrorKind = iota
	// KindIO means a read failed on an open port; the session is over
	KindIO
	// KindClose means releasing the port failed
	KindClose
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindIO:
		return "io"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against a SerialError's kind
var (
	ErrPortOpen  = errors.New("serial port open failed")
	ErrPortIO    = errors.New("serial port i/o failed")
	ErrPortClose = errors.New("serial port close failed")
)

// SerialError represents a serial port specific error
type SerialError struct {
	Kind      ErrorKind
	Operation string
	Port      string
	Cause     error
}

// Error implements the error interface
func (e *SerialError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("serial %s operation failed on port %s: %v", e.Operation, e.Port, e.Cause)
	}
	return fmt.Sprintf("serial %s operation failed on port %s", e.Operation, e.Port)
}

// Unwrap returns the underlying cause
func (e *SerialError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel for the error's kind
func (e *SerialError) Is(target error) bool {
	switch target {
	case ErrPortOpen:
		return e.Kind == KindOpen
	case ErrPortIO:
		return e.Kind == KindIO
	case ErrPortClose:
		return e.Kind == KindClose
	}
	return false
}

// NewSerialError creates a new serial error
func NewSerialError(kind ErrorKind, operation, port string, cause error) *SerialError {
	return &SerialError{
		Kind:      kind,
		Operation: operation,
		Port:      port,
		Cause:     cause,
	}
}

// Hints returns troubleshooting suggestions for an open failure, based on
// the go.bug.st/serial error code when one is available.
func Hints(err error) []string {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return nil
	}

	switch portErr.Code() {
	case serial.PermissionDenied:
		return []string{
			"Check if you have permission to access the port",
			"On Linux: add your user to the 'dialout' group: sudo usermod -a -G dialout $USER",
		}
	case serial.PortBusy:
		return []string{
			"The port may be in use by another application",
			"Close other terminal programs or serial monitors",
		}
	case serial.PortNotFound:
		return []string{
			"The specified port does not exist",
			"Use 'serial-input-monitor list' to see available ports",
		}
	case serial.InvalidSerialPort:
		return []string{"The device is not a serial port"}
	}
	return nil
}
