package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"serial-input-monitor/pkg/reader"
)

// WriterSink prints log lines as "[15:04:05] text". Other messages are
// ignored; their text already arrives as log lines.
type WriterSink struct {
	w io.Writer
}

// NewWriterSink creates a sink printing to w
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Handle implements Sink
func (s *WriterSink) Handle(m reader.Message) {
	if line, ok := m.(reader.LogLine); ok {
		fmt.Fprintf(s.w, "[%s] %s\n", line.Time.Format("15:04:05"), line.Text)
	}
}

// Runner provides a high-level interface to run a headless session
type Runner struct {
	app  *Application
	port string
	out  io.Writer
	// Profile, when set, is connected instead of port
	Profile string
	// ExitOnClose ends Run when the session closes
	ExitOnClose bool
}

// NewRunner creates a runner for port. An empty port uses the last one.
func NewRunner(app *Application, port string, out io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	return &Runner{app: app, port: port, out: out, ExitOnClose: true}
}

// Run connects and prints messages until ctx is cancelled, a signal arrives
// or, with ExitOnClose, the session ends.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(r.out, "\nReceived interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	started := time.Now()
	var sink Sink = NewWriterSink(r.out)
	if r.ExitOnClose {
		inner := sink
		sink = SinkFunc(func(m reader.Message) {
			inner.Handle(m)
			if _, ok := m.(reader.Closed); ok {
				cancel()
			}
		})
	}

	if err := connect(r.app, r.port, r.Profile); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	err := r.app.Run(ctx, sink)
	r.printSessionSummary(time.Since(started))
	return err
}

// printSessionSummary prints a summary of the session
func (r *Runner) printSessionSummary(d time.Duration) {
	st := r.app.Status()
	stats := r.app.Book().Stats()

	fmt.Fprintf(r.out, "\n=== Session Summary ===\n")
	fmt.Fprintf(r.out, "Duration: %v\n", d.Round(time.Millisecond))
	fmt.Fprintf(r.out, "Log lines: %d (%d errors)\n", stats.TotalEntries+stats.Trimmed, stats.ErrorEntries)
	if st.Dropped > 0 {
		fmt.Fprintf(r.out, "Dropped messages: %d\n", st.Dropped)
	}
	fmt.Fprintf(r.out, "=====================\n")
}

// connect opens profile when given, otherwise port
func connect(a *Application, port, profile string) error {
	if profile != "" {
		return a.ConnectProfile(profile)
	}
	return a.Connect(port)
}
