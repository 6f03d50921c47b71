// Package baud finds the baud rate an input board is transmitting at. The
// board has no handshake, so each candidate rate is opened in turn and the
// first one that produces readable frames wins.
package baud

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"serial-input-monitor/pkg/frame"
	"serial-input-monitor/pkg/serial"
)

// DefaultRates is the fixed probing priority
var DefaultRates = []int{9600, 115200, 57600, 38400, 19200, 14400, 4800, 2400, 1200}

// Confidence says how a negotiated rate was chosen
type Confidence int

const (
	// Fallback means no candidate produced any data; the preferred rate is used as is
	Fallback Confidence = iota
	// AnyData means the rate produced data that did not look like board frames
	AnyData
	// ValidData means the rate produced a plausible frame
	ValidData
)

// String returns the string representation of Confidence
func (c Confidence) String() string {
	switch c {
	case Fallback:
		return "fallback"
	case AnyData:
		return "any data"
	case ValidData:
		return "valid data"
	default:
		return "unknown"
	}
}

// Result is the outcome of one negotiation
type Result struct {
	BaudRate   int
	Confidence Confidence
	// Sample is the line that decided the result, empty for Fallback
	Sample string
}

// Detected reports whether the rate was confirmed by data on the wire
func (r Result) Detected() bool {
	return r.Confidence != Fallback
}

// Candidates returns rates with duplicates removed and preferred moved to
// the front. A preferred rate missing from rates is not added, so the
// order is left as is. A nil rates uses DefaultRates.
func Candidates(preferred int, rates []int) []int {
	if rates == nil {
		rates = DefaultRates
	}

	out := make([]int, 0, len(rates))
	seen := make(map[int]bool, len(rates))
	for _, r := range rates {
		if r == preferred && preferred > 0 {
			out = append(out, preferred)
			seen[preferred] = true
			break
		}
	}
	for _, r := range rates {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// Negotiator probes candidate rates one at a time
type Negotiator struct {
	// Factory creates the port for each test connection
	Factory serial.Factory
	// Base supplies the port name and framing; BaudRate and Timeout are overridden
	Base serial.SerialConfig
	// Timeout bounds the time spent on one candidate
	Timeout time.Duration
	// Attempts is the number of lines sampled per candidate
	Attempts int
	// AttemptDelay separates attempts; SettleDelay follows the buffer reset
	AttemptDelay time.Duration
	SettleDelay  time.Duration
	// Rates overrides DefaultRates
	Rates []int
	// Progress receives the user-facing log lines
	Progress func(line string)

	logger *zap.Logger
}

// NewNegotiator creates a negotiator with the standard sampling schedule
func NewNegotiator(factory serial.Factory, base serial.SerialConfig, timeout time.Duration, logger *zap.Logger) *Negotiator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Negotiator{
		Factory:      factory,
		Base:         base,
		Timeout:      timeout,
		Attempts:     3,
		AttemptDelay: 50 * time.Millisecond,
		SettleDelay:  50 * time.Millisecond,
		logger:       logger,
	}
}

func (n *Negotiator) progress(format string, args ...interface{}) {
	if n.Progress != nil {
		n.Progress(fmt.Sprintf(format, args...))
	}
}

// Negotiate tries every candidate in order and returns the first rate that
// yields data. Without any data it returns preferred with Fallback
// confidence. Test connections are opened strictly one after another and
// each is closed before the next is opened. The only error is ctx's.
func (n *Negotiator) Negotiate(ctx context.Context, preferred int) (Result, error) {
	n.progress("Auto-detecting baud rate...")

	candidates := Candidates(preferred, n.Rates)
	if preferred <= 0 && len(candidates) > 0 {
		preferred = candidates[0]
	}
	n.logger.Debug("baud negotiation started",
		zap.String("port", n.Base.Port),
		zap.Ints("candidates", candidates),
		zap.Duration("per_rate_timeout", n.Timeout))

	for i, rate := range candidates {
		if err := ctx.Err(); err != nil {
			return Result{BaudRate: preferred, Confidence: Fallback}, err
		}

		n.progress("Testing baud rate %d... (%d/%d)", rate, i+1, len(candidates))

		sample, valid, err := n.probe(ctx, rate)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{BaudRate: preferred, Confidence: Fallback}, ctxErr
			}
			n.progress("Baud rate %d failed: %v", rate, err)
			n.logger.Debug("baud candidate failed", zap.Int("baud", rate), zap.Error(err))
			continue
		}

		switch {
		case valid:
			n.progress("Baud rate %d detected (valid data received)", rate)
			return Result{BaudRate: rate, Confidence: ValidData, Sample: sample}, nil
		case sample != "":
			n.progress("Baud rate %d accepted (data detected)", rate)
			return Result{BaudRate: rate, Confidence: AnyData, Sample: sample}, nil
		case i < len(candidates)-1:
			n.progress("Baud rate %d - no data, trying next...", rate)
		default:
			n.progress("Baud rate %d - no data received", rate)
		}
	}

	n.progress("Auto-detection completed, using rate %d", preferred)
	return Result{BaudRate: preferred, Confidence: Fallback}, nil
}

// probe opens one test connection at rate and samples it. sample is the
// plausible line when valid is true, otherwise the first non-empty line.
func (n *Negotiator) probe(ctx context.Context, rate int) (sample string, valid bool, err error) {
	settle, gap, window := n.schedule()

	port := n.Factory()
	if err := port.Open(n.Base.WithBaudRate(rate).WithTimeout(window)); err != nil {
		return "", false, err
	}
	defer func() {
		if cerr := port.Close(); cerr != nil {
			n.logger.Debug("closing test connection failed", zap.Int("baud", rate), zap.Error(cerr))
		}
	}()

	if err := port.ResetInputBuffer(); err != nil {
		return "", false, err
	}
	if err := sleep(ctx, settle); err != nil {
		return "", false, err
	}

	lines := serial.NewLineReader(port, 0)
	for attempt := 0; attempt < n.Attempts; attempt++ {
		line, err := readLine(ctx, port, lines, window)
		if err != nil {
			return sample, false, err
		}
		if line != "" {
			n.progress("  Data received: %s", line)
			if frame.Plausible(line) {
				return line, true, nil
			}
			if sample == "" {
				sample = line
			}
		}
		if err := sleep(ctx, gap); err != nil {
			return sample, false, err
		}
	}
	return sample, false, nil
}

// schedule splits Timeout between the settle pause, the gaps between
// attempts and the read windows so a candidate never exceeds Timeout.
func (n *Negotiator) schedule() (settle, gap, window time.Duration) {
	attempts := n.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	settle, gap = n.SettleDelay, n.AttemptDelay
	pauses := settle + time.Duration(attempts)*gap
	if pauses > n.Timeout/2 {
		settle = n.Timeout / time.Duration(2*(attempts+1))
		gap = settle
		pauses = settle + time.Duration(attempts)*gap
	}

	window = (n.Timeout - pauses) / time.Duration(attempts)
	if window < time.Millisecond {
		window = time.Millisecond
	}
	return settle, gap, window
}

// readLine waits up to window for one non-empty line
func readLine(ctx context.Context, port serial.SerialPort, lines *serial.LineReader, window time.Duration) (string, error) {
	deadline := time.Now().Add(window)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", nil
		}
		if err := port.SetReadTimeout(remaining); err != nil {
			return "", err
		}

		raw, ok, err := lines.ReadLine()
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		if text := frame.Text(raw); text != "" {
			return text, nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// QuickProbe opens cfg once and reports whether any byte arrives within
// window, checking five times at even intervals. Failing to open counts as
// silence.
func QuickProbe(ctx context.Context, factory serial.Factory, cfg serial.SerialConfig, window time.Duration) bool {
	const checks = 5
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	interval := window / checks

	port := factory()
	if err := port.Open(cfg.WithTimeout(interval)); err != nil {
		return false
	}
	defer port.Close()

	if err := port.ResetInputBuffer(); err != nil {
		return false
	}

	buf := make([]byte, 64)
	for i := 0; i < checks; i++ {
		if ctx.Err() != nil {
			return false
		}
		n, err := port.Read(buf)
		if err != nil {
			return false
		}
		if n > 0 {
			return true
		}
	}
	return false
}
