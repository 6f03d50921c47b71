package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"serial-input-monitor/pkg/config"
)

var (
	// Config command flags
	configJSON        bool
	configForce       bool
	configPort        string
	configBaudRate    int
	configAutoDetect  bool
	configDescription string
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage settings and saved port profiles",
	Long: `Inspect and change the settings file, and manage named port profiles
for quick access to frequently used devices.`,
}

// showCmd prints the settings or one profile
var showCmd = &cobra.Command{
	Use:   "show [profile]",
	Short: "Show the settings or a saved profile",
	Long: `Display the effective settings as YAML, including environment overrides.
With a name, display that profile instead.

Example:
  serial-input-monitor config show
  serial-input-monitor config show bench --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runShowConfig,
}

var pathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file location",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), cfgFile)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a settings file with the defaults",
	Args:  cobra.NoArgs,
	RunE:  runInitConfig,
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Long: `Print the value stored under a dotted key.

Example:
  serial-input-monitor config get serial.baud_rate`,
	Args: cobra.ExactArgs(1),
	RunE: runGetConfig,
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Long: `Validate and store a value under a dotted key.

Example:
  serial-input-monitor config set hotkeys.start F5`,
	Args: cobra.ExactArgs(2),
	RunE: runSetConfig,
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the keys accepted by get and set",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, k := range config.Keys() {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
	},
}

// saveCmd saves a profile
var saveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Save a port profile",
	Long: `Save a port and baud rate under a name.

Example:
  serial-input-monitor config save bench -p COM3 -b 115200`,
	Args: cobra.ExactArgs(1),
	RunE: runSaveConfig,
}

// listConfigCmd lists all profiles
var listConfigCmd = &cobra.Command{
	Use:   "list",
	Short: "List all saved profiles",
	Args:  cobra.NoArgs,
	RunE:  runListConfigs,
}

// deleteCmd deletes a profile
var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a saved profile",
	Long: `Delete a saved port profile.

Example:
  serial-input-monitor config delete bench`,
	Aliases: []string{"rm", "remove"},
	Args:    cobra.ExactArgs(1),
	RunE:    runDeleteConfig,
}

func init() {
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(pathCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(getCmd)
	configCmd.AddCommand(setCmd)
	configCmd.AddCommand(keysCmd)
	configCmd.AddCommand(saveCmd)
	configCmd.AddCommand(listConfigCmd)
	configCmd.AddCommand(deleteCmd)

	showCmd.Flags().BoolVar(&configJSON, "json", false, "print JSON instead of YAML")
	initCmd.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite an existing file")

	saveCmd.Flags().StringVarP(&configPort, "port", "p", "", "serial port")
	saveCmd.Flags().IntVarP(&configBaudRate, "baud", "b", 9600, "baud rate")
	saveCmd.Flags().BoolVar(&configAutoDetect, "auto-detect", true, "negotiate the baud rate when connecting")
	saveCmd.Flags().StringVarP(&configDescription, "description", "d", "", "free-form description")
	saveCmd.MarkFlagRequired("port")
}

func runShowConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var v interface{} = settings
	if len(args) == 1 {
		p, err := settings.Profile(args[0])
		if err != nil {
			return err
		}
		if !configJSON {
			fmt.Fprint(out, describeProfile(args[0], p))
			return nil
		}
		v = p
	}

	if configJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgFile); err == nil && !configForce {
		return fmt.Errorf("%s already exists; use --force to overwrite", cfgFile)
	}
	if err := config.DefaultSettings().Save(cfgFile); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote default settings to %s\n", cfgFile)
	return nil
}

func runGetConfig(cmd *cobra.Command, args []string) error {
	v, err := settings.Get(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), v)
	return nil
}

func runSetConfig(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	if err := settings.Set(key, value); err != nil {
		return err
	}
	if err := settings.Save(cfgFile); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, value)
	return nil
}

func runSaveConfig(cmd *cobra.Command, args []string) error {
	name := args[0]
	p := config.Profile{
		Port:        configPort,
		BaudRate:    configBaudRate,
		AutoDetect:  configAutoDetect,
		Description: configDescription,
	}
	if err := settings.SaveProfile(name, p); err != nil {
		return err
	}
	if err := settings.Save(cfgFile); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Profile '%s' saved successfully.\n", name)
	fmt.Fprintf(out, "  Port: %s\n", p.Port)
	fmt.Fprintf(out, "  Baud Rate: %d\n", p.BaudRate)
	fmt.Fprintf(out, "  Auto Detect: %t\n", p.AutoDetect)
	return nil
}

func runListConfigs(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	names := settings.ProfileNames()
	if len(names) == 0 {
		fmt.Fprintln(out, "No saved profiles found.")
		fmt.Fprintln(out, "\nUse 'serial-input-monitor config save <name>' to save a profile.")
		return nil
	}

	fmt.Fprintf(out, "Found %d saved profile(s):\n\n", len(names))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPORT\tBAUD\tAUTO\tLAST USED\tCREATED")
	fmt.Fprintln(w, "----\t----\t----\t----\t---------\t-------")
	for _, name := range names {
		p := settings.Profiles[name]
		lastUsed := "Never"
		if !p.LastUsedAt.IsZero() {
			lastUsed = p.LastUsedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\t%s\n",
			name,
			p.Port,
			p.BaudRate,
			p.AutoDetect,
			lastUsed,
			p.CreatedAt.Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nUse 'serial-input-monitor monitor -p <name>' to connect using a profile.")
	return nil
}

func runDeleteConfig(cmd *cobra.Command, args []string) error {
	name := args[0]
	if err := settings.DeleteProfile(name); err != nil {
		return err
	}
	if err := settings.Save(cfgFile); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Profile '%s' deleted successfully.\n", name)
	return nil
}

// describeProfile renders one profile for show
func describeProfile(name string, p config.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Profile: %s\n", name)
	b.WriteString(strings.Repeat("=", len(name)+9) + "\n")
	fmt.Fprintf(&b, "Port:        %s\n", p.Port)
	fmt.Fprintf(&b, "Baud Rate:   %d\n", p.BaudRate)
	fmt.Fprintf(&b, "Auto Detect: %t\n", p.AutoDetect)
	if p.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", p.Description)
	}
	fmt.Fprintf(&b, "Created:     %s\n", p.CreatedAt.Format(time.RFC3339))
	if p.LastUsedAt.IsZero() {
		b.WriteString("Last Used:   Never\n")
	} else {
		fmt.Fprintf(&b, "Last Used:   %s\n", p.LastUsedAt.Format(time.RFC3339))
	}
	return b.String()
}
