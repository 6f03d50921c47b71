package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"serial-input-monitor/pkg/dispatch"
	"serial-input-monitor/pkg/emulation"
	"serial-input-monitor/pkg/frame"
	"serial-input-monitor/pkg/serial"
)

var (
	decodeDispatch bool
	decodeBackend  string
	decodeRaw      bool
)

// decodeCmd represents the decode command
var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Decode recorded frames without a serial port",
	Long: `Read frames from a file (or standard input) and print the log line
each one produces. With --dispatch the events are also replayed through
an emulation backend.

Examples:
  printf '1 1 41\n1 0 41\n0 6 -3\n' | serial-input-monitor decode
  serial-input-monitor decode capture.txt --dispatch --backend log`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeDispatch, "dispatch", false, "replay events through the emulation backend")
	decodeCmd.Flags().StringVar(&decodeBackend, "backend", "", "emulation backend (default emulation.backend)")
	decodeCmd.Flags().BoolVar(&decodeRaw, "raw", false, "print each frame before its description")
}

func runDecode(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var d *dispatch.Dispatcher
	if decodeDispatch {
		name := decodeBackend
		if name == "" {
			name = settings.Emulation.Backend
		}
		backend, err := emulation.New(name, logger)
		if err != nil {
			return err
		}
		d = dispatch.New(backend, logger)
		d.SetEnabled(true)
	}

	return decodeStream(in, cmd.OutOrStdout(), d, decodeRaw)
}

// decodeStream classifies every line of r and writes the resulting log
// lines to w. A nil d only describes the events.
func decodeStream(r io.Reader, w io.Writer, d *dispatch.Dispatcher, raw bool) error {
	// the extra newline terminates a final line without one
	lines := serial.NewLineReader(io.MultiReader(r, strings.NewReader("\n")), 0)

	for {
		line, ok, err := lines.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		var ev frame.Event
		if size := lines.Overflow(); size > 0 {
			ev = frame.Oversized(line, size)
		} else if ev, ok = frame.ClassifyBytes(line); !ok {
			continue
		}
		if raw {
			fmt.Fprintf(w, "%-16s ", frame.Text(line))
		}

		if d == nil {
			fmt.Fprintln(w, frame.Describe(ev))
			continue
		}
		out := d.Dispatch(ev)
		fmt.Fprintln(w, out.Line)
		if line := out.ErrorLine(); line != "" {
			fmt.Fprintln(w, line)
		}
	}
}
