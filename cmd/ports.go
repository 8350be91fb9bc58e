// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial devices",
	Long:  `List the serial devices of this machine, with USB identifiers where known.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		details, err := enumerator.GetDetailedPortsList()
		if err != nil {
			// no USB details on this platform, fall back to names
			names, err := serial.GetPortsList()
			if err != nil {
				return fmt.Errorf("list serial ports: %w", err)
			}
			for _, name := range names {
				details = append(details, &enumerator.PortDetails{Name: name})
			}
		}
		writePorts(cmd.OutOrStdout(), details)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func writePorts(w io.Writer, ports []*enumerator.PortDetails) {
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found")
		return
	}
	for _, p := range ports {
		if !p.IsUSB {
			fmt.Fprintln(w, p.Name)
			continue
		}
		fmt.Fprintf(w, "%s\tUSB %s:%s", p.Name, p.VID, p.PID)
		if p.Product != "" {
			fmt.Fprintf(w, " %s", p.Product)
		}
		if p.SerialNumber != "" {
			fmt.Fprintf(w, " (serial %s)", p.SerialNumber)
		}
		fmt.Fprintln(w)
	}
}
