// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.bug.st/serial/enumerator"

	"github.com/ffutop/bms-gateway/internal/config"
	"github.com/ffutop/bms-gateway/internal/telemetry"
	"github.com/ffutop/bms-gateway/stream"
)

const minimalConfig = `
ports:
  - name: pack1
    type: tcp
    tcp:
      address: 192.168.1.50:8899
    adapter:
      name: JBD
inverter:
  upstreams:
    - type: tcp
      tcp:
        address: 0.0.0.0:502
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigCommand(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "--config", path, "--log-level", "error"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config command failed: %v", err)
	}

	for _, want := range []string{
		"name: pack1",
		"name: jbd",
		"poll_interval: 5s",
		"unit_id: 1",
		"parity: N",
		"type: memory",
		"level: error",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output lacks %q:\n%s", want, out.String())
		}
	}
}

func TestConfigCommand_Invalid(t *testing.T) {
	path := writeConfig(t, "ports: []\n")

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"config", "--config", path})
	if err := rootCmd.Execute(); err == nil {
		t.Error("expected an error for a config without ports")
	}
}

func TestFindPort(t *testing.T) {
	cfg := &config.Config{Ports: []config.PortConfig{{Name: "a"}, {Name: "b"}}}

	tests := []struct {
		args    []string
		want    string
		wantErr bool
	}{
		{nil, "a", false},
		{[]string{"b"}, "b", false},
		{[]string{"c"}, "", true},
	}
	for _, tt := range tests {
		p, err := findPort(cfg, tt.args)
		if (err != nil) != tt.wantErr {
			t.Errorf("findPort(%v) err = %v", tt.args, err)
			continue
		}
		if p.Name != tt.want {
			t.Errorf("findPort(%v) = %q, want %q", tt.args, p.Name, tt.want)
		}
	}
}

func TestWriteBattery(t *testing.T) {
	b := telemetry.Battery{
		Port:             "pack1",
		Voltage:          53.2,
		Current:          -10,
		SOC:              88,
		Capacity:         100,
		Cells:            []float64{3.325, 3.330},
		MinCellVoltage:   3.325,
		MaxCellVoltage:   3.330,
		Temperatures:     []float64{21.5},
		ChargeEnabled:    true,
		Alarms:           telemetry.AlarmCellOverVoltage,
		DischargeEnabled: false,
	}
	var out bytes.Buffer
	writeBattery(&out, b)

	for _, want := range []string{
		"Port:        pack1",
		"Voltage:     53.20 V",
		"Power:       -532.0 W",
		"SOC:         88 %",
		"3.325 3.330 (min 3.325, max 3.330, delta 5 mV)",
		"Temps:       21.5 °C",
		"Charge:      on",
		"Discharge:   off",
		"Alarms:",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output lacks %q:\n%s", want, out.String())
		}
	}
	if strings.Contains(out.String(), "SOH") {
		t.Error("unknown SOH printed")
	}
}

func TestWritePorts(t *testing.T) {
	var out bytes.Buffer
	writePorts(&out, nil)
	if !strings.Contains(out.String(), "No serial ports") {
		t.Errorf("empty list output = %q", out.String())
	}

	out.Reset()
	writePorts(&out, []*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1a86", PID: "7523", Product: "USB Serial"},
	})
	want := "/dev/ttyS0\n/dev/ttyUSB0\tUSB 1a86:7523 USB Serial\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestFormatStats(t *testing.T) {
	got := formatStats(stream.Stats{Frames: 2, WindowsDropped: 1, BytesSkipped: 7, ValidationFailures: 3})
	want := "2 frames, 7 bytes skipped, 1 windows dropped, 3 invalid"
	if got != want {
		t.Errorf("formatStats = %q, want %q", got, want)
	}
}
