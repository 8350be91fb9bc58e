// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ffutop/bms-gateway/internal/bms"
	"github.com/ffutop/bms-gateway/internal/config"
	"github.com/ffutop/bms-gateway/internal/poller"
	"github.com/ffutop/bms-gateway/internal/telemetry"
	"github.com/ffutop/bms-gateway/stream"
	"github.com/spf13/cobra"
)

var probeTimeout time.Duration

var probeCmd = &cobra.Command{
	Use:   "probe [port]",
	Short: "Run one poll cycle against a port and print the telemetry",
	Long: `Open the named port (the first configured one by default), run a single
poll cycle of its adapter and print the decoded battery.

Adapters that learn the pack layout on the first cycle, like daly, are
polled a second time.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second, "Give up after this long")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pc, err := findPort(cfg, args)
	if err != nil {
		return err
	}

	adapter, err := bms.New(pc.Adapter)
	if err != nil {
		return err
	}
	port, err := poller.NewPort(pc)
	if err != nil {
		return err
	}
	p := poller.New(pc, port, adapter, nil)

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()
	if err := p.Open(ctx); err != nil {
		return err
	}
	defer p.Close()

	n := len(adapter.Requests())
	b, err := p.Poll(ctx)
	// the first cycle taught the adapter the pack layout
	if err == nil && len(adapter.Requests()) > n {
		b, err = p.Poll(ctx)
	}
	if err != nil {
		return fmt.Errorf("probe %s: %w (%s)", pc.Name, err, formatStats(p.Stats()))
	}
	writeBattery(cmd.OutOrStdout(), b)
	fmt.Fprintf(cmd.OutOrStdout(), "Link:        %s\n", formatStats(p.Stats()))
	return nil
}

func formatStats(st stream.Stats) string {
	return fmt.Sprintf("%d frames, %d bytes skipped, %d windows dropped, %d invalid",
		st.Frames, st.BytesSkipped, st.WindowsDropped, st.ValidationFailures)
}

func findPort(cfg *config.Config, args []string) (config.PortConfig, error) {
	if len(args) == 0 {
		return cfg.Ports[0], nil
	}
	for _, p := range cfg.Ports {
		if p.Name == args[0] {
			return p, nil
		}
	}
	return config.PortConfig{}, fmt.Errorf("no port named %q", args[0])
}

func writeBattery(w io.Writer, b telemetry.Battery) {
	fmt.Fprintf(w, "Port:        %s\n", b.Port)
	fmt.Fprintf(w, "Voltage:     %.2f V\n", b.Voltage)
	fmt.Fprintf(w, "Current:     %.2f A\n", b.Current)
	fmt.Fprintf(w, "Power:       %.1f W\n", b.Power())
	fmt.Fprintf(w, "SOC:         %.0f %%\n", b.SOC)
	if b.SOH > 0 {
		fmt.Fprintf(w, "SOH:         %.0f %%\n", b.SOH)
	}
	fmt.Fprintf(w, "Capacity:    %.1f / %.1f Ah\n", b.RemainingCapacity, b.Capacity)
	fmt.Fprintf(w, "Cycles:      %d\n", b.Cycles)
	if len(b.Cells) > 0 {
		fmt.Fprintf(w, "Cells:       %s (min %.3f, max %.3f, delta %.0f mV)\n",
			joinFloats(b.Cells, "%.3f"), b.MinCellVoltage, b.MaxCellVoltage,
			(b.MaxCellVoltage-b.MinCellVoltage)*1000)
	}
	if len(b.Temperatures) > 0 {
		fmt.Fprintf(w, "Temps:       %s °C\n", joinFloats(b.Temperatures, "%.1f"))
	}
	fmt.Fprintf(w, "Charge:      %s\n", onOff(b.ChargeEnabled))
	fmt.Fprintf(w, "Discharge:   %s\n", onOff(b.DischargeEnabled))
	if b.MaxChargeCurrent > 0 || b.MaxDischargeCurrent > 0 {
		fmt.Fprintf(w, "Limits:      charge %.1f A, discharge %.1f A\n", b.MaxChargeCurrent, b.MaxDischargeCurrent)
	}
	if b.Alarms != 0 {
		fmt.Fprintf(w, "Alarms:      %s\n", b.Alarms)
	}
}

func joinFloats(values []float64, format string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf(format, v)
	}
	return strings.Join(parts, " ")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
