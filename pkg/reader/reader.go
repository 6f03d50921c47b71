// Package reader owns the serial port for one session at a time. It
// negotiates the baud rate, frames incoming bytes into lines, classifies
// them and hands each event to a dispatcher. Everything the control context
// needs to know arrives as a Message on a bounded channel.
package reader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"serial-input-monitor/pkg/baud"
	"serial-input-monitor/pkg/dispatch"
	"serial-input-monitor/pkg/frame"
	"serial-input-monitor/pkg/serial"
)

const (
	DefaultBuffer         = 1024
	DefaultIdleInterval   = 10 * time.Millisecond
	DefaultTimeout        = time.Second
	DefaultProbeTimeout   = 500 * time.Millisecond
	DefaultHandoffTimeout = time.Second
)

var (
	// ErrBusy is returned by Open while a session is negotiating or open
	ErrBusy = errors.New("reader: a session is already active")
	// ErrNoPort is returned by Open when Options.Port is empty
	ErrNoPort = errors.New("reader: no port specified")
)

// State is the session state machine: Closed -> Negotiating -> Open -> Closed
type State int32

const (
	StateClosed State = iota
	StateNegotiating
	StateOpen
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateNegotiating:
		return "negotiating"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Options describes one open request
type Options struct {
	Port string
	// BaudRate is used as is, or as the preferred rate when AutoDetect is set
	BaudRate   int
	AutoDetect bool
	// QuickProbe checks for any traffic first and skips negotiation on silence
	QuickProbe bool
	// Timeout bounds each negotiation candidate
	Timeout      time.Duration
	ProbeTimeout time.Duration
	// IdleInterval is the read timeout of the streaming port; it bounds
	// close latency
	IdleInterval  time.Duration
	MaxLineLength int

	DataBits int
	StopBits int
	Parity   string
}

func (o Options) withDefaults() Options {
	if o.BaudRate <= 0 {
		o.BaudRate = 9600
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = DefaultIdleInterval
	}
	return o
}

func (o Options) config() serial.SerialConfig {
	cfg := serial.DefaultConfig()
	cfg.Port = o.Port
	cfg.BaudRate = o.BaudRate
	cfg.Timeout = o.IdleInterval
	if o.DataBits > 0 {
		cfg.DataBits = o.DataBits
	}
	if o.StopBits > 0 {
		cfg.StopBits = o.StopBits
	}
	if o.Parity != "" {
		cfg.Parity = o.Parity
	}
	return cfg
}

// Session describes the open connection
type Session struct {
	ID       string
	Port     string
	BaudRate int
	Opened   time.Time
}

// Dispatcher receives every classified event
type Dispatcher interface {
	Dispatch(ev frame.Event) dispatch.Outcome
}

// Option configures a Loop
type Option func(*Loop)

// WithBuffer sets the message channel capacity
func WithBuffer(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.buffer = n
		}
	}
}

// WithHandoffTimeout bounds how long a lifecycle message waits for room in
// a full channel before it is dropped
func WithHandoffTimeout(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.handoff = d
		}
	}
}

// Loop runs at most one session at a time
type Loop struct {
	factory    serial.Factory
	dispatcher Dispatcher
	logger     *zap.Logger

	buffer  int
	handoff time.Duration
	msgs    chan Message
	dropped atomic.Uint64
	state   atomic.Int32

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	session *Session
}

// New creates a closed loop. A nil dispatcher only renders log lines.
func New(factory serial.Factory, dispatcher Dispatcher, logger *zap.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		factory:    factory,
		dispatcher: dispatcher,
		logger:     logger.Named("reader"),
		buffer:     DefaultBuffer,
		handoff:    DefaultHandoffTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.msgs = make(chan Message, l.buffer)

	done := make(chan struct{})
	close(done)
	l.done = done
	return l
}

// Messages returns the channel every notification is delivered on. It is
// never closed.
func (l *Loop) Messages() <-chan Message {
	return l.msgs
}

// Done returns a channel closed when the current session's goroutine exits
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// State returns the current state
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Session returns the open session, if any
func (l *Loop) Session() (Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return Session{}, false
	}
	return *l.session, true
}

// Dropped returns how many messages were discarded because the channel was full
func (l *Loop) Dropped() uint64 {
	return l.dropped.Load()
}

// Open starts a session in the background and returns once the reader
// goroutine is running. Progress and the outcome arrive on Messages.
func (l *Loop) Open(opts Options) error {
	if opts.Port == "" {
		return ErrNoPort
	}
	if !l.state.CompareAndSwap(int32(StateClosed), int32(StateNegotiating)) {
		return ErrBusy
	}
	opts = opts.withDefaults()

	l.mu.Lock()
	prev := l.done
	if l.cancel != nil {
		l.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()

	// the previous goroutine is Closed but may still be publishing that
	<-prev

	l.logger.Debug("session starting",
		zap.String("port", opts.Port),
		zap.Int("baud", opts.BaudRate),
		zap.Bool("auto_detect", opts.AutoDetect))

	go l.run(ctx, opts, done)
	return nil
}

// Close stops the session and waits for the reader goroutine to release the
// port. Closing a closed loop is a no-op.
func (l *Loop) Close() error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (l *Loop) run(ctx context.Context, opts Options, done chan struct{}) {
	var sessionErr error
	defer func() {
		l.setSession(nil)
		l.state.Store(int32(StateClosed))
		l.emit(StateChanged{Time: time.Now(), State: StateClosed})
		l.emit(Closed{Time: time.Now(), Port: opts.Port, Err: sessionErr})
		close(done)
	}()

	l.emit(StateChanged{Time: time.Now(), State: StateNegotiating})

	port, rate, err := l.establish(ctx, opts)
	if err != nil {
		if ctx.Err() != nil {
			l.log(fmt.Sprintf("Opening port %s cancelled", opts.Port))
			return
		}
		sessionErr = err
		l.log(fmt.Sprintf("Error opening port %s: %v", opts.Port, err))
		l.emit(ErrorOccurred{Time: time.Now(), Err: err})
		return
	}

	session := &Session{
		ID:       uuid.NewString(),
		Port:     opts.Port,
		BaudRate: rate,
		Opened:   time.Now(),
	}
	l.setSession(session)
	l.state.Store(int32(StateOpen))
	l.emit(StateChanged{Time: time.Now(), State: StateOpen})
	l.log(fmt.Sprintf("Port %s opened successfully at %d baud", opts.Port, rate))
	l.emit(Opened{Time: time.Now(), Port: opts.Port, BaudRate: rate, SessionID: session.ID})
	l.logger.Info("session open",
		zap.String("session", session.ID),
		zap.String("port", opts.Port),
		zap.Int("baud", rate))

	sessionErr = l.stream(ctx, port, opts)
	if err := port.Close(); err != nil {
		l.logger.Debug("closing port failed", zap.Error(err))
	}

	if sessionErr != nil {
		l.log(fmt.Sprintf("Serial reading error: %v", sessionErr))
		l.emit(ErrorOccurred{Time: time.Now(), Err: sessionErr})
	}
	l.log(fmt.Sprintf("Port %s closed", opts.Port))
	l.logger.Info("session closed", zap.String("session", session.ID), zap.Error(sessionErr))
}

// establish settles the baud rate and opens the streaming port
func (l *Loop) establish(ctx context.Context, opts Options) (serial.SerialPort, int, error) {
	cfg := opts.config()
	rate := opts.BaudRate

	l.log(fmt.Sprintf("Opening port %s...", opts.Port))

	if opts.AutoDetect {
		detect := true
		if opts.QuickProbe {
			if baud.QuickProbe(ctx, l.factory, cfg, opts.ProbeTimeout) {
				l.log("Data detected. Proceeding with baud rate detection...")
			} else {
				detect = false
				l.log("No data detected during quick test. Skipping auto-detection.")
				l.log(fmt.Sprintf("Using last known baud rate: %d", rate))
			}
		}

		if detect {
			l.log("Starting baud rate detection...")
			n := baud.NewNegotiator(l.factory, cfg, opts.Timeout, l.logger)
			n.Progress = l.log
			result, err := n.Negotiate(ctx, rate)
			if err != nil {
				return nil, 0, err
			}
			rate = result.BaudRate
			if result.Detected() {
				l.emit(BaudDetected{Time: time.Now(), Result: result})
			}
		}
	} else {
		l.log(fmt.Sprintf("Using configured baud rate: %d", rate))
	}

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	port := l.factory()
	if err := port.Open(cfg.WithBaudRate(rate)); err != nil {
		return nil, 0, err
	}
	return port, rate, nil
}

// stream reads lines until ctx is cancelled or the port fails. A nil
// return means the session was closed on request.
func (l *Loop) stream(ctx context.Context, port serial.SerialPort, opts Options) error {
	lines := serial.NewLineReader(port, opts.MaxLineLength)
	for {
		if ctx.Err() != nil {
			return nil
		}

		raw, ok, err := lines.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !ok {
			continue
		}

		if size := lines.Overflow(); size > 0 {
			l.handle(frame.Oversized(raw, size))
			continue
		}
		ev, ok := frame.ClassifyBytes(raw)
		if !ok {
			continue
		}
		l.handle(ev)
	}
}

func (l *Loop) handle(ev frame.Event) {
	if l.dispatcher == nil {
		l.log(frame.Describe(ev))
		return
	}
	out := l.dispatcher.Dispatch(ev)
	l.log(out.Line)
	if line := out.ErrorLine(); line != "" {
		l.log(line)
	}
}

func (l *Loop) setSession(s *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session = s
}

// log queues a log line without blocking; a full channel drops it
func (l *Loop) log(text string) {
	select {
	case l.msgs <- LogLine{Time: time.Now(), Text: text}:
	default:
		l.dropped.Add(1)
	}
}

// emit queues a lifecycle message, waiting up to the handoff timeout
func (l *Loop) emit(m Message) {
	select {
	case l.msgs <- m:
		return
	default:
	}

	t := time.NewTimer(l.handoff)
	defer t.Stop()
	select {
	case l.msgs <- m:
	case <-t.C:
		l.dropped.Add(1)
		l.logger.Warn("message handoff timed out", zap.String("message", fmt.Sprintf("%T", m)))
	}
}
