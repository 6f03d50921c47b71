package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"serial-input-monitor/pkg/app"
	"serial-input-monitor/pkg/config"
	"serial-input-monitor/pkg/serial"
	"serial-input-monitor/pkg/ui"
)

const debugLogFile = "serial-input-monitor-debug.log"

var (
	monitorBaud       int
	monitorAutoDetect bool
	monitorQuickProbe bool
	monitorEmulate    bool
	monitorBackend    string
	monitorProfile    string
	monitorUI         string
	monitorCheck      bool
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor [port]",
	Short: "Decode input events from a serial port",
	Long: `Open a serial port, negotiate the baud rate and decode every frame the
device sends. Without a port the last used one is opened.

In the interactive console the emulation is toggled with the configured
hotkeys (F9 and F10 by default). In plain mode use --emulate to replay
events as soon as the port is open.

Examples:
  # Watch frames on COM3 with the console
  serial-input-monitor monitor COM3

  # Fixed baud rate, plain output, replay events
  serial-input-monitor monitor /dev/ttyUSB0 -b 115200 --auto-detect=false --ui plain --emulate

  # Use a saved profile
  serial-input-monitor monitor -p bench`,
	Aliases: []string{"connect", "open"},
	Args:    cobra.MaximumNArgs(1),
	RunE:    runMonitor,
}

func init() {
	monitorCmd.Flags().IntVarP(&monitorBaud, "baud", "b", 0, "baud rate (preferred rate when auto-detecting)")
	monitorCmd.Flags().BoolVar(&monitorAutoDetect, "auto-detect", true, "negotiate the baud rate")
	monitorCmd.Flags().BoolVar(&monitorQuickProbe, "quick-probe", true, "skip negotiation when the line is silent")
	monitorCmd.Flags().BoolVar(&monitorEmulate, "emulate", false, "start emulation as soon as the port is open")
	monitorCmd.Flags().StringVar(&monitorBackend, "backend", "", "emulation backend (log, none, robotgo)")
	monitorCmd.Flags().StringVarP(&monitorProfile, "profile", "p", "", "connect using a saved profile")
	monitorCmd.Flags().StringVar(&monitorUI, "ui", "auto", "output mode (auto, console, plain)")
	monitorCmd.Flags().BoolVar(&monitorCheck, "check", false, "test that the port opens before starting")
}

// applyMonitorFlags copies explicitly set flags over the loaded settings
func applyMonitorFlags(cmd *cobra.Command, s *config.Settings) error {
	flags := cmd.Flags()
	if flags.Changed("baud") {
		if monitorBaud <= 0 {
			return fmt.Errorf("baud rate must be positive, got %d", monitorBaud)
		}
		s.Serial.BaudRate = monitorBaud
		s.Serial.DetectedBaudRate = monitorBaud
	}
	if flags.Changed("auto-detect") {
		s.Serial.AutoDetectBaud = monitorAutoDetect
	}
	if flags.Changed("quick-probe") {
		s.Serial.QuickProbe = monitorQuickProbe
	}
	if flags.Changed("emulate") {
		s.Emulation.StartEnabled = monitorEmulate
	}
	if flags.Changed("backend") {
		s.Emulation.Backend = monitorBackend
	}
	return s.Validate()
}

// useConsole decides between the tcell console and plain output
func useConsole(mode string, out io.Writer) (bool, error) {
	switch strings.ToLower(mode) {
	case "console", "tui":
		return true, nil
	case "plain":
		return false, nil
	case "auto", "":
		f, ok := out.(*os.File)
		return ok && term.IsTerminal(int(f.Fd())), nil
	default:
		return false, fmt.Errorf("unknown ui mode %q (auto, console, plain)", mode)
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if err := applyMonitorFlags(cmd, settings); err != nil {
		return err
	}

	port := ""
	if len(args) > 0 {
		port = args[0]
	}
	if port == "" && monitorProfile == "" && settings.Serial.LastPort == "" {
		return errors.New("no port given and no port used before; see 'serial-input-monitor list'")
	}

	if monitorCheck {
		target := port
		if target == "" {
			target = settings.Serial.LastPort
		}
		if monitorProfile != "" {
			p, err := settings.Profile(monitorProfile)
			if err != nil {
				return err
			}
			target = p.Port
		}
		if err := testConnection(cmd.OutOrStdout(), settings.SerialConfig(target)); err != nil {
			return err
		}
	}

	console, err := useConsole(monitorUI, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	appLogger := logger
	if console {
		// the screen owns the terminal
		appLogger = zap.NewNop()
		if verbose || settings.Log.Debug {
			if appLogger, err = newLogger(settings.Log.Level, true, []string{debugLogFile}); err != nil {
				return err
			}
		}
	}

	application, err := app.New(settings,
		app.WithLogger(appLogger),
		app.WithConfigPath(cfgFile))
	if err != nil {
		return err
	}
	defer application.Close()

	if !console {
		runner := app.NewRunner(application, port, cmd.OutOrStdout())
		runner.Profile = monitorProfile
		return runner.Run(cmd.Context())
	}

	return runConsole(cmd.Context(), application, port, appLogger)
}

func runConsole(ctx context.Context, application *app.Application, port string, l *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("failed to create screen: %w", err)
	}

	s := application.Settings()
	if monitorProfile != "" {
		p, err := s.Profile(monitorProfile)
		if err != nil {
			return err
		}
		port = p.Port
	}
	if port == "" {
		port = s.Serial.LastPort
	}

	console, err := ui.NewConsole(screen, application, ui.Hotkeys{Start: s.Hotkeys.Start, Stop: s.Hotkeys.Stop}, port, l)
	if err != nil {
		return err
	}

	if monitorProfile != "" {
		err = application.ConnectProfile(monitorProfile)
	} else {
		err = application.Connect(port)
	}
	if err != nil {
		return err
	}

	return console.Run(ctx)
}

// testConnection opens and closes the port once, printing troubleshooting
// hints when that fails
func testConnection(w io.Writer, cfg serial.SerialConfig) error {
	fmt.Fprintf(w, "Testing connection to %s...\n", cfg.Port)

	sp := serial.NewSerialPort()
	if err := sp.Open(cfg); err != nil {
		writeOpenFailure(w, err)
		return err
	}
	defer sp.Close()

	actual := sp.GetConfig()
	fmt.Fprintf(w, "Connection successful: %s %d %d-%s-%d\n",
		actual.Port,
		actual.BaudRate,
		actual.DataBits,
		strings.ToUpper(actual.Parity[:1]),
		actual.StopBits)
	return nil
}

func writeOpenFailure(w io.Writer, err error) {
	fmt.Fprintf(w, "\nFailed to open serial port: %v\n", err)
	hints := serial.Hints(err)
	if len(hints) == 0 {
		return
	}
	fmt.Fprintf(w, "\nPossible solutions:\n")
	for _, h := range hints {
		fmt.Fprintf(w, "  - %s\n", h)
	}
}
