package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"serial-input-monitor/pkg/config"
)

var (
	// Root command flags
	cfgFile string
	verbose bool

	// Set up by PersistentPreRunE for every subcommand
	settings *config.Settings
	logger   = zap.NewNop()

	// Root command
	rootCmd = &cobra.Command{
		Use:   "serial-input-monitor",
		Short: "Turn input events from a serial device into keyboard and mouse actions",
		Long: `serial-input-monitor reads newline-terminated frames from a microcontroller
on a serial port, decodes them into keyboard and mouse events and, while
emulation is enabled, replays them on this machine.

The baud rate is negotiated automatically unless disabled, and every decoded
frame is logged in human-readable form.`,
		Version:           "1.0.0",
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(configCmd)
}

// setup loads the settings and builds the diagnostic logger
func setup(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		cfgFile = config.DefaultPath()
	}

	s, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	settings = s

	l, err := newLogger(s.Log.Level, verbose || s.Log.Debug, []string{"stderr"})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger = l
	logger.Debug("settings loaded", zap.String("path", cfgFile))
	return nil
}

// newLogger builds a production zap logger writing to paths. debug forces
// the debug level regardless of level.
func newLogger(level string, debug bool, paths []string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = paths
	cfg.ErrorOutputPaths = paths

	lvl := zapcore.WarnLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	if debug {
		lvl = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}
