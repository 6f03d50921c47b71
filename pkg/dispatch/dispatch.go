// Package dispatch forwards classified frames to an emulation backend.
package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"serial-input-monitor/pkg/frame"
	"serial-input-monitor/pkg/keycode"
)

// Backend performs keyboard and mouse emulation. Every call may fail
// independently; failures never stop the stream.
type Backend interface {
	Press(name string) error
	Release(name string) error
	ClickLeft() error
	ClickRight() error
	SetPosition(x, y int) error
	MoveRelative(dx, dy int) error
	Scroll(amount int) error
}

// BackendError is a rejected backend call
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Outcome is the result of dispatching one event
type Outcome struct {
	// Line is the log line for the event; set for every event, enabled or not
	Line string
	// Called reports whether the backend was invoked
	Called bool
	// Err is the backend failure, if any
	Err error
}

// ErrorLine renders Err for the log, or "" when the call succeeded
func (o Outcome) ErrorLine() string {
	if o.Err == nil {
		return ""
	}
	var be *BackendError
	if errors.As(o.Err, &be) {
		if strings.HasPrefix(be.Op, "press ") || strings.HasPrefix(be.Op, "release ") {
			return fmt.Sprintf("Keyboard emulation error: %v", be.Err)
		}
		return fmt.Sprintf("Mouse emulation error: %v", be.Err)
	}
	return fmt.Sprintf("Emulation error: %v", o.Err)
}

// Dispatcher routes events to a Backend behind an enable gate. It is safe
// for concurrent use; SetEnabled may be called from any goroutine.
type Dispatcher struct {
	backend Backend
	enabled atomic.Bool
	logger  *zap.Logger
}

// New creates a disabled dispatcher
func New(backend Backend, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{backend: backend, logger: logger}
}

// SetEnabled opens or closes the gate
func (d *Dispatcher) SetEnabled(enabled bool) {
	if d.enabled.Swap(enabled) != enabled {
		d.logger.Info("emulation gate changed", zap.Bool("enabled", enabled))
	}
}

// Enabled reports whether events reach the backend
func (d *Dispatcher) Enabled() bool {
	return d.enabled.Load()
}

// Dispatch renders ev as a log line and, when enabled, performs the
// matching backend call.
func (d *Dispatcher) Dispatch(ev frame.Event) Outcome {
	out := Outcome{Line: frame.Describe(ev)}
	if ev == nil || !d.Enabled() || d.backend == nil {
		return out
	}

	op, call := d.route(ev)
	if call == nil {
		return out
	}

	out.Called = true
	if err := d.invoke(op, call); err != nil {
		out.Err = err
		d.logger.Warn("backend call failed",
			zap.String("event", ev.Kind().String()),
			zap.String("op", op),
			zap.Error(err))
	}
	return out
}

// route selects the backend call for ev, or nil when ev has no action
func (d *Dispatcher) route(ev frame.Event) (string, func() error) {
	b := d.backend

	switch e := ev.(type) {
	case frame.KeyPressed:
		name := keycode.BackendName(e.Code)
		if name == "" {
			return "", nil
		}
		return "press " + name, func() error { return b.Press(name) }
	case frame.KeyReleased:
		name := keycode.BackendName(e.Code)
		if name == "" {
			return "", nil
		}
		return "release " + name, func() error { return b.Release(name) }
	case frame.MouseButton:
		if e.Action != frame.ActionPressed {
			return "", nil
		}
		switch e.Button {
		case frame.ButtonLeft:
			return "click left", b.ClickLeft
		case frame.ButtonRight:
			return "click right", b.ClickRight
		}
		return "", nil
	case frame.MouseScroll:
		return "scroll", func() error { return b.Scroll(e.Delta) }
	case frame.MousePosition:
		return "set position", func() error { return b.SetPosition(e.X, e.Y) }
	case frame.MouseMove:
		return "move relative", func() error { return b.MoveRelative(e.DX, e.DY) }
	case frame.UnknownFrame, frame.Comment:
		return "", nil
	}
	return "", nil
}

func (d *Dispatcher) invoke(op string, call func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &BackendError{Op: op, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if cerr := call(); cerr != nil {
		return &BackendError{Op: op, Err: cerr}
	}
	return nil
}
