// Package serialtest provides an in-memory serial device for tests. A Device
// plays the role of the hardware behind a port name: it decides what each
// baud rate "hears" and lets tests feed frames or break the link while a
// port is open.
package serialtest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"serial-input-monitor/pkg/serial"
)

// ErrClosed is returned by reads on a closed port
var ErrClosed = errors.New("serialtest: port closed")

// Device is a scripted serial device shared by every Port it creates
type Device struct {
	mu       sync.Mutex
	streams  map[int][]byte
	openErr  map[int]error
	allErr   error
	active   map[*Port]struct{}
	opens    []int
	peakOpen int
}

// NewDevice creates a silent device
func NewDevice() *Device {
	return &Device{
		streams: make(map[int][]byte),
		openErr: make(map[int]error),
		active:  make(map[*Port]struct{}),
	}
}

// Script sets the bytes a port opened at baud receives right after opening.
// Each open replays the script from the start.
func (d *Device) Script(baud int, lines ...string) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()

	var b []byte
	for _, l := range lines {
		b = append(b, l...)
		b = append(b, '\n')
	}
	d.streams[baud] = b
	return d
}

// ScriptRaw is Script without line terminators
func (d *Device) ScriptRaw(baud int, raw []byte) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streams[baud] = append([]byte(nil), raw...)
	return d
}

// FailOpen makes opens at baud fail with err. baud 0 fails every open.
func (d *Device) FailOpen(baud int, err error) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	if baud == 0 {
		d.allErr = err
	} else {
		d.openErr[baud] = err
	}
	return d
}

// Factory returns a serial.Factory producing ports backed by d
func (d *Device) Factory() serial.Factory {
	return func() serial.SerialPort {
		return &Port{dev: d, wake: make(chan struct{}, 1)}
	}
}

// Feed appends lines to every open port
func (d *Device) Feed(lines ...string) {
	for _, p := range d.activePorts() {
		for _, l := range lines {
			p.push([]byte(l + "\n"))
		}
	}
}

// FeedRaw appends raw bytes to every open port
func (d *Device) FeedRaw(raw []byte) {
	for _, p := range d.activePorts() {
		p.push(raw)
	}
}

// Break makes the next read on every open port fail with err
func (d *Device) Break(err error) {
	for _, p := range d.activePorts() {
		p.fail(err)
	}
}

// Opens returns the baud rate of every successful open, in order
func (d *Device) Opens() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.opens...)
}

// OpenPorts returns how many ports are currently open
func (d *Device) OpenPorts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// PeakOpenPorts returns the largest number of ports open at the same time
func (d *Device) PeakOpenPorts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peakOpen
}

// WaitOpen blocks until a port is open or the timeout passes
func (d *Device) WaitOpen(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.OpenPorts() > 0 {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return d.OpenPorts() > 0
}

func (d *Device) activePorts() []*Port {
	d.mu.Lock()
	defer d.mu.Unlock()
	ports := make([]*Port, 0, len(d.active))
	for p := range d.active {
		ports = append(ports, p)
	}
	return ports
}

func (d *Device) attach(p *Port, baud int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.allErr != nil {
		return nil, d.allErr
	}
	if err, ok := d.openErr[baud]; ok {
		return nil, err
	}

	d.active[p] = struct{}{}
	d.opens = append(d.opens, baud)
	if len(d.active) > d.peakOpen {
		d.peakOpen = len(d.active)
	}
	return append([]byte(nil), d.streams[baud]...), nil
}

func (d *Device) detach(p *Port) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, p)
}

// Port is a serial.SerialPort backed by a Device
type Port struct {
	dev  *Device
	wake chan struct{}

	mu      sync.Mutex
	config  serial.SerialConfig
	open    bool
	stream  []byte
	input   []byte
	readErr error
	resets  int
}

// Open implements serial.SerialPort
func (p *Port) Open(config serial.SerialConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open {
		return serial.NewSerialError(serial.KindOpen, "open", config.Port, fmt.Errorf("serial port is already open"))
	}
	if err := config.Validate(); err != nil {
		return serial.NewSerialError(serial.KindOpen, "open", config.Port, err)
	}

	stream, err := p.dev.attach(p, config.BaudRate)
	if err != nil {
		return serial.NewSerialError(serial.KindOpen, "open", config.Port, err)
	}

	p.config = config
	p.open = true
	p.stream = stream
	p.input = nil
	p.readErr = nil
	return nil
}

// Close implements serial.SerialPort
func (p *Port) Close() error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return fmt.Errorf("serial port is not open")
	}
	p.open = false
	p.mu.Unlock()

	p.dev.detach(p)
	p.signal()
	return nil
}

// Read implements serial.SerialPort. It blocks up to the read timeout and
// returns 0, nil when nothing arrived.
func (p *Port) Read(buffer []byte) (int, error) {
	var timer <-chan time.Time

	for {
		p.mu.Lock()
		if !p.open {
			p.mu.Unlock()
			return 0, serial.NewSerialError(serial.KindIO, "read", p.config.Port, ErrClosed)
		}
		if p.readErr != nil {
			err := p.readErr
			p.mu.Unlock()
			return 0, serial.NewSerialError(serial.KindIO, "read", p.config.Port, err)
		}
		if len(p.input) == 0 && len(p.stream) > 0 {
			p.input, p.stream = p.stream, nil
		}
		if len(p.input) > 0 {
			n := copy(buffer, p.input)
			p.input = p.input[n:]
			p.mu.Unlock()
			return n, nil
		}
		timeout := p.config.Timeout
		p.mu.Unlock()

		if timeout <= 0 {
			return 0, nil
		}
		if timer == nil {
			timer = time.After(timeout)
		}
		select {
		case <-p.wake:
		case <-timer:
			return 0, nil
		}
	}
}

// IsOpen implements serial.SerialPort
func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// GetConfig implements serial.SerialPort
func (p *Port) GetConfig() serial.SerialConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config
}

// SetReadTimeout implements serial.SerialPort
func (p *Port) SetReadTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return fmt.Errorf("serial port is not open")
	}
	p.config.Timeout = timeout
	return nil
}

// ResetInputBuffer implements serial.SerialPort. Scripted data is still
// delivered afterwards, like a device that keeps transmitting.
func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return fmt.Errorf("serial port is not open")
	}
	p.input = nil
	p.resets++
	return nil
}

// Resets returns how many times the input buffer was cleared
func (p *Port) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

func (p *Port) push(b []byte) {
	p.mu.Lock()
	p.input = append(p.input, b...)
	p.mu.Unlock()
	p.signal()
}

func (p *Port) fail(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
	p.signal()
}

func (p *Port) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}
