package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"serial-input-monitor/pkg/serial"
)

var (
	listDetails bool
	listFormat  string
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available serial ports",
	Long: `List all available serial ports on the system.

This command scans the system for available serial ports and displays
them in a formatted list. On different platforms:
  - Windows: Lists COM ports
  - Linux: Lists /dev/tty* devices
  - macOS: Lists /dev/cu.* and /dev/tty.* devices`,
	Aliases: []string{"ls", "ports"},
	RunE:    runList,
}

func init() {
	listCmd.Flags().BoolVarP(&listDetails, "details", "d", false, "show detailed port information")
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table, csv, json)")
}

func runList(cmd *cobra.Command, args []string) error {
	portInfos, err := serial.GetDetailedPortsList()
	if err != nil {
		return fmt.Errorf("listing ports: %w", err)
	}
	return printPorts(cmd.OutOrStdout(), portInfos, listFormat, listDetails)
}

func printPorts(w io.Writer, portInfos []serial.PortInfo, format string, details bool) error {
	switch format {
	case "csv":
		return printPortsCSV(w, portInfos, details)
	case "json":
		return printPortsJSON(w, portInfos, details)
	case "table", "":
		printPortsTable(w, portInfos, details)
		return nil
	default:
		return fmt.Errorf("unknown format %q (table, csv, json)", format)
	}
}

func printPortsTable(w io.Writer, portInfos []serial.PortInfo, details bool) {
	if len(portInfos) == 0 {
		fmt.Fprintln(w, "No serial ports found.")
		return
	}

	fmt.Fprintf(w, "Found %d serial port(s):\n", len(portInfos))
	for _, portInfo := range portInfos {
		fmt.Fprintf(w, "  %s", portInfo.Name)

		if details && portInfo.IsUSB {
			fmt.Fprintf(w, " [USB]")
			if portInfo.VID != "" || portInfo.PID != "" {
				fmt.Fprintf(w, " VID:%s PID:%s", portInfo.VID, portInfo.PID)
			}
			if portInfo.Product != "" {
				fmt.Fprintf(w, " - %s", portInfo.Product)
			}
			if portInfo.SerialNumber != "" {
				fmt.Fprintf(w, " (SN: %s)", portInfo.SerialNumber)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "\nUse 'serial-input-monitor monitor <port>' to start decoding.")
}

func printPortsCSV(w io.Writer, portInfos []serial.PortInfo, details bool) error {
	out := csv.NewWriter(w)
	if details {
		_ = out.Write([]string{"port", "is_usb", "vid", "pid", "product", "serial_number"})
		for _, p := range portInfos {
			_ = out.Write([]string{p.Name, strconv.FormatBool(p.IsUSB), p.VID, p.PID, p.Product, p.SerialNumber})
		}
	} else {
		_ = out.Write([]string{"port"})
		for _, p := range portInfos {
			_ = out.Write([]string{p.Name})
		}
	}
	out.Flush()
	return out.Error()
}

func printPortsJSON(w io.Writer, portInfos []serial.PortInfo, details bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if details {
		if portInfos == nil {
			portInfos = []serial.PortInfo{}
		}
		return enc.Encode(portInfos)
	}

	names := make([]string, 0, len(portInfos))
	for _, p := range portInfos {
		names = append(names, p.Name)
	}
	return enc.Encode(names)
}
