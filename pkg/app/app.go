// Package app provides the main application controller. It owns the
// settings, the reader loop, the dispatcher and the log book, and applies
// the rules that tie them together: emulation only while a port is open,
// negotiated rates and the last port written back to the settings file.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"serial-input-monitor/pkg/config"
	"serial-input-monitor/pkg/dispatch"
	"serial-input-monitor/pkg/emulation"
	"serial-input-monitor/pkg/history"
	"serial-input-monitor/pkg/reader"
	"serial-input-monitor/pkg/serial"
)

// ErrPortNotOpen is returned by StartEmulation while no session is open
var ErrPortNotOpen = errors.New("open a serial port first")

// Sink receives every message in the order it was produced. Handle is
// never called concurrently.
type Sink interface {
	Handle(m reader.Message)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(m reader.Message)

// Handle implements Sink
func (f SinkFunc) Handle(m reader.Message) { f(m) }

// Option configures an Application
type Option func(*Application)

// WithLogger sets the diagnostic logger
func WithLogger(logger *zap.Logger) Option {
	return func(a *Application) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithFactory replaces the hardware port factory
func WithFactory(f serial.Factory) Option {
	return func(a *Application) { a.factory = f }
}

// WithBackend replaces the backend named in the settings
func WithBackend(b dispatch.Backend) Option {
	return func(a *Application) { a.backend = b }
}

// WithConfigPath makes the application write connection outcomes back to path
func WithConfigPath(path string) Option {
	return func(a *Application) { a.configPath = path }
}

// WithReaderOptions passes options through to the reader loop
func WithReaderOptions(opts ...reader.Option) Option {
	return func(a *Application) { a.readerOpts = append(a.readerOpts, opts...) }
}

// Application represents the main application controller
type Application struct {
	logger     *zap.Logger
	factory    serial.Factory
	backend    dispatch.Backend
	configPath string
	readerOpts []reader.Option

	dispatcher *dispatch.Dispatcher
	loop       *reader.Loop
	book       *history.Book

	// mu guards settings and port
	mu       sync.Mutex
	settings *config.Settings
	port     string

	// outMu serializes delivery to the book and the sink
	outMu sync.Mutex
	sink  Sink
}

// New creates an application from validated settings
func New(settings *config.Settings, opts ...Option) (*Application, error) {
	if settings == nil {
		settings = config.DefaultSettings()
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	a := &Application{
		logger:   zap.NewNop(),
		factory:  serial.NewSerialPort,
		settings: settings,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.backend == nil {
		backend, err := emulation.New(settings.Emulation.Backend, a.logger)
		if err != nil {
			return nil, err
		}
		a.backend = backend
	}

	a.book = history.NewBook(settings.Log.MaxLines, a.logger)
	if settings.Log.SaveToFile {
		if err := a.book.OpenFile(settings.Log.Filename); err != nil {
			return nil, err
		}
	}

	a.dispatcher = dispatch.New(a.backend, a.logger)
	a.loop = reader.New(a.factory, a.dispatcher, a.logger, a.readerOpts...)
	return a, nil
}

// Book returns the log book
func (a *Application) Book() *history.Book {
	return a.book
}

// Settings returns a copy of the current settings
func (a *Application) Settings() config.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.settings
}

// Options builds the open request for port from the current settings
func (a *Application) Options(port string) reader.Options {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.optionsLocked(port)
}

func (a *Application) optionsLocked(port string) reader.Options {
	s := a.settings
	return reader.Options{
		Port:         port,
		BaudRate:     s.PreferredBaudRate(),
		AutoDetect:   s.Serial.AutoDetectBaud,
		QuickProbe:   s.Serial.QuickProbe,
		Timeout:      s.GetTimeout(),
		ProbeTimeout: s.GetTestTimeout(),
		DataBits:     s.Serial.DataBits,
		StopBits:     s.Serial.StopBits,
		Parity:       s.Serial.Parity,
	}
}

// Connect starts a session on port, or on the last used port when port is
// empty. The outcome arrives through Run.
func (a *Application) Connect(port string) error {
	a.mu.Lock()
	if port == "" {
		port = a.settings.Serial.LastPort
	}
	opts := a.optionsLocked(port)
	a.mu.Unlock()

	return a.open(opts)
}

// ConnectProfile starts a session using a saved profile
func (a *Application) ConnectProfile(name string) error {
	a.mu.Lock()
	p, err := a.settings.Profile(name)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	opts := a.optionsLocked(p.Port)
	opts.BaudRate = p.BaudRate
	opts.AutoDetect = p.AutoDetect
	a.settings.TouchProfile(name)
	a.mu.Unlock()

	return a.open(opts)
}

func (a *Application) open(opts reader.Options) error {
	if err := a.loop.Open(opts); err != nil {
		return err
	}

	a.mu.Lock()
	a.port = opts.Port
	a.settings.Serial.LastPort = opts.Port
	a.mu.Unlock()
	a.persist()
	return nil
}

// Disconnect closes the session, if any, and waits for the port to be released
func (a *Application) Disconnect() error {
	a.dispatcher.SetEnabled(false)
	return a.loop.Close()
}

// Close disconnects and stops mirroring the log book to its file
func (a *Application) Close() error {
	err := a.Disconnect()
	if ferr := a.book.CloseFile(); err == nil {
		err = ferr
	}
	return err
}

// StartEmulation enables the backend. It fails while no port is open.
func (a *Application) StartEmulation() error {
	if a.loop.State() != reader.StateOpen {
		return ErrPortNotOpen
	}
	a.dispatcher.SetEnabled(true)
	a.note("Keyboard and mouse emulation STARTED")
	return nil
}

// StopEmulation disables the backend
func (a *Application) StopEmulation() {
	a.dispatcher.SetEnabled(false)
	a.note("Keyboard and mouse emulation STOPPED")
}

// Emulating reports whether events currently reach the backend
func (a *Application) Emulating() bool {
	return a.dispatcher.Enabled()
}

// Status is a snapshot for status bars and summaries
type Status struct {
	State     reader.State
	Port      string
	BaudRate  int
	SessionID string
	Since     time.Time
	Emulating bool
	LogLines  int
	Dropped   uint64
}

// Status returns the current state of the application
func (a *Application) Status() Status {
	st := Status{
		State:     a.loop.State(),
		Emulating: a.dispatcher.Enabled(),
		LogLines:  a.book.Len(),
		Dropped:   a.loop.Dropped(),
	}
	if s, ok := a.loop.Session(); ok {
		st.Port = s.Port
		st.BaudRate = s.BaudRate
		st.SessionID = s.ID
		st.Since = s.Opened
	} else {
		a.mu.Lock()
		st.Port = a.port
		a.mu.Unlock()
	}
	return st
}

// Run delivers messages to sink until ctx is cancelled, then closes the
// session and delivers what it produced while shutting down.
func (a *Application) Run(ctx context.Context, sink Sink) error {
	a.setSink(sink)
	defer a.setSink(nil)

	stopped := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(stopped)
		<-gctx.Done()
		return a.Disconnect()
	})
	g.Go(func() error {
		a.pump(stopped)
		return nil
	})

	return g.Wait()
}

func (a *Application) pump(stopped <-chan struct{}) {
	msgs := a.loop.Messages()
	for {
		select {
		case m := <-msgs:
			a.deliver(m)
			a.react(m)
		case <-stopped:
			for {
				select {
				case m := <-msgs:
					a.deliver(m)
					a.react(m)
				default:
					return
				}
			}
		}
	}
}

// react applies the control rules to lifecycle messages
func (a *Application) react(m reader.Message) {
	switch m := m.(type) {
	case reader.Opened:
		a.mu.Lock()
		start := a.settings.Emulation.StartEnabled
		a.mu.Unlock()
		if start {
			if err := a.StartEmulation(); err != nil {
				a.logger.Debug("auto start of emulation failed", zap.Error(err))
			}
		}
	case reader.Closed:
		a.dispatcher.SetEnabled(false)
	case reader.BaudDetected:
		a.note(fmt.Sprintf("Baud rate automatically detected: %d", m.Result.BaudRate))
		a.mu.Lock()
		a.settings.Serial.DetectedBaudRate = m.Result.BaudRate
		a.mu.Unlock()
		a.persist()
	}
}

// note publishes a line generated by the application itself
func (a *Application) note(text string) {
	a.deliver(reader.LogLine{Time: time.Now(), Text: text})
}

func (a *Application) deliver(m reader.Message) {
	a.outMu.Lock()
	defer a.outMu.Unlock()

	if line, ok := m.(reader.LogLine); ok {
		_, _ = a.book.Append(history.Entry{Timestamp: line.Time, Level: levelOf(line.Text), Text: line.Text})
	}
	if a.sink != nil {
		a.sink.Handle(m)
	}
}

func (a *Application) setSink(s Sink) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	a.sink = s
}

func (a *Application) persist() {
	if a.configPath == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.settings.Save(a.configPath); err != nil {
		a.logger.Warn("saving settings failed", zap.String("path", a.configPath), zap.Error(err))
	}
}

func levelOf(text string) history.Level {
	if strings.HasPrefix(text, "Error") || strings.Contains(text, "error: ") {
		return history.LevelError
	}
	return history.LevelInfo
}
