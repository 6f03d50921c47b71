package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"serial-input-monitor/pkg/baud"
	"serial-input-monitor/pkg/serial"
)

var (
	detectTimeout   time.Duration
	detectPreferred int
	detectSave      bool
)

// detectCmd represents the detect command
var detectCmd = &cobra.Command{
	Use:   "detect <port>",
	Short: "Find the baud rate a device is sending at",
	Long: `Probe the standard baud rates one after another until the device on
the port produces a readable frame. The preferred rate (the last detected
one by default) is tried first.

Example:
  serial-input-monitor detect /dev/ttyUSB0 --save`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

func init() {
	detectCmd.Flags().DurationVarP(&detectTimeout, "timeout", "t", 0, "time spent on each rate (default serial.timeout)")
	detectCmd.Flags().IntVar(&detectPreferred, "preferred", 0, "rate to try first (default the last detected rate)")
	detectCmd.Flags().BoolVar(&detectSave, "save", false, "store the detected rate in the settings file")
}

func runDetect(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	port := args[0]

	timeout := detectTimeout
	if timeout <= 0 {
		timeout = settings.GetTimeout()
	}
	preferred := detectPreferred
	if preferred <= 0 {
		preferred = settings.PreferredBaudRate()
	}

	n := baud.NewNegotiator(serial.NewSerialPort, settings.SerialConfig(port), timeout, logger)
	n.Progress = func(line string) {
		fmt.Fprintln(out, line)
	}

	res, err := n.Negotiate(cmd.Context(), preferred)
	if err != nil {
		return err
	}
	printDetectResult(out, port, res)

	if !detectSave || !res.Detected() {
		return nil
	}
	settings.Serial.DetectedBaudRate = res.BaudRate
	if err := settings.Save(cfgFile); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	fmt.Fprintf(out, "Saved detected rate to %s\n", cfgFile)
	return nil
}

func printDetectResult(w io.Writer, port string, res baud.Result) {
	if !res.Detected() {
		fmt.Fprintf(w, "\nNo data on %s; falling back to %d baud\n", port, res.BaudRate)
		return
	}
	fmt.Fprintf(w, "\n%s: %d baud (%s)\n", port, res.BaudRate, res.Confidence)
	if res.Sample != "" {
		fmt.Fprintf(w, "Sample: %q\n", res.Sample)
	}
}
