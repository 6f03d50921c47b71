// Package emulation provides the keyboard and mouse backends the dispatcher
// drives.
package emulation

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"serial-input-monitor/pkg/dispatch"
)

// Backend names accepted by New
const (
	NameLog     = "log"
	NameNone    = "none"
	NameRobotgo = "robotgo"
)

// Names returns every backend name New accepts
func Names() []string {
	names := []string{NameLog, NameNone, NameRobotgo}
	sort.Strings(names)
	return names
}

// New creates the backend registered under name. An empty name selects the
// log backend.
func New(name string, logger *zap.Logger) (dispatch.Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameLog:
		return NewLogBackend(logger), nil
	case NameNone:
		return Nop{}, nil
	case NameRobotgo:
		return newRobotgo(logger)
	default:
		return nil, fmt.Errorf("unknown emulation backend %q (available: %s)", name, strings.Join(Names(), ", "))
	}
}

// Call is one recorded backend invocation
type Call struct {
	Op   string
	Name string
	X, Y int
}

// String returns the string representation of Call
func (c Call) String() string {
	switch c.Op {
	case "press", "release":
		return c.Op + " " + c.Name
	case "scroll":
		return fmt.Sprintf("scroll %d", c.X)
	case "set_position", "move_relative":
		return fmt.Sprintf("%s %d,%d", c.Op, c.X, c.Y)
	default:
		return c.Op
	}
}

// Recorder records calls instead of performing them. Ops listed in Fail
// return the mapped error.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	fail  map[string]error
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{fail: make(map[string]error)}
}

// FailOn makes every call to op return err
func (r *Recorder) FailOn(op string, err error) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[op] = err
	return r
}

// Calls returns a copy of the recorded calls
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Reset drops the recorded calls
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.fail[c.Op]
}

func (r *Recorder) Press(name string) error   { return r.record(Call{Op: "press", Name: name}) }
func (r *Recorder) Release(name string) error { return r.record(Call{Op: "release", Name: name}) }
func (r *Recorder) ClickLeft() error          { return r.record(Call{Op: "click_left"}) }
func (r *Recorder) ClickRight() error         { return r.record(Call{Op: "click_right"}) }
func (r *Recorder) Scroll(amount int) error   { return r.record(Call{Op: "scroll", X: amount}) }

func (r *Recorder) SetPosition(x, y int) error {
	return r.record(Call{Op: "set_position", X: x, Y: y})
}

func (r *Recorder) MoveRelative(dx, dy int) error {
	return r.record(Call{Op: "move_relative", X: dx, Y: dy})
}

// LogBackend writes each call to a zap logger. It is the dry-run backend
// used when no injection library is compiled in.
type LogBackend struct {
	logger *zap.Logger
}

// NewLogBackend creates a log backend
func NewLogBackend(logger *zap.Logger) *LogBackend {
	return &LogBackend{logger: logger.Named("emulation")}
}

func (b *LogBackend) log(c Call) error {
	b.logger.Info("emulate", zap.String("call", c.String()))
	return nil
}

func (b *LogBackend) Press(name string) error   { return b.log(Call{Op: "press", Name: name}) }
func (b *LogBackend) Release(name string) error { return b.log(Call{Op: "release", Name: name}) }
func (b *LogBackend) ClickLeft() error          { return b.log(Call{Op: "click_left"}) }
func (b *LogBackend) ClickRight() error         { return b.log(Call{Op: "click_right"}) }
func (b *LogBackend) Scroll(amount int) error   { return b.log(Call{Op: "scroll", X: amount}) }

func (b *LogBackend) SetPosition(x, y int) error {
	return b.log(Call{Op: "set_position", X: x, Y: y})
}

func (b *LogBackend) MoveRelative(dx, dy int) error {
	return b.log(Call{Op: "move_relative", X: dx, Y: dy})
}

// Nop discards every call
type Nop struct{}

func (Nop) Press(string) error          { return nil }
func (Nop) Release(string) error        { return nil }
func (Nop) ClickLeft() error            { return nil }
func (Nop) ClickRight() error           { return nil }
func (Nop) SetPosition(int, int) error  { return nil }
func (Nop) MoveRelative(int, int) error { return nil }
func (Nop) Scroll(int) error            { return nil }

var (
	_ dispatch.Backend = (*Recorder)(nil)
	_ dispatch.Backend = (*LogBackend)(nil)
	_ dispatch.Backend = Nop{}
)
