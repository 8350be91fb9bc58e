// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

const sample = `
log:
  level: debug
ports:
  - name: pack1
    type: rtu
    serial:
      device: /dev/ttyUSB0
      parity: n
      rs485: true
    adapter:
      name: JBD
    exchange:
      max_no_data: 5
      receive_timeout: 2s
  - name: pack2
    type: tcp
    tcp:
      address: 192.168.1.50:8899
    poll_interval: 10s
    adapter:
      name: modbus
      address: 3
      registers:
        - field: soc
          address: 0x100
inverter:
  upstreams:
    - type: tcp
      tcp:
        address: 0.0.0.0:502
  persistence:
    type: file
    path: /var/lib/bmsgw/registers.bin
  limits:
    max_charge_current: 100
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sample), nil)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q", cfg.Log.Level)
	}
	if len(cfg.Ports) != 2 {
		t.Fatalf("got %d ports, want 2", len(cfg.Ports))
	}

	p := cfg.Ports[0]
	if p.Adapter.Name != "jbd" {
		t.Errorf("adapter name = %q, want lower-cased jbd", p.Adapter.Name)
	}
	if p.Serial.Parity != "N" || p.Serial.BaudRate != 9600 || p.Serial.DataBits != 8 || p.Serial.StopBits != 1 {
		t.Errorf("serial fixups not applied: %+v", p.Serial)
	}
	if !p.Serial.RS485 {
		t.Error("rs485 lost")
	}
	if p.PollInterval != 5*time.Second || p.ResetDelay != 5*time.Second {
		t.Errorf("interval defaults = %v / %v", p.PollInterval, p.ResetDelay)
	}
	if p.Exchange.MaxNoData != 5 || p.Exchange.ReceiveTimeout != 2*time.Second {
		t.Errorf("exchange = %+v", p.Exchange)
	}

	m := cfg.Ports[1]
	if m.PollInterval != 10*time.Second {
		t.Errorf("poll_interval = %v", m.PollInterval)
	}
	r := m.Adapter.Registers[0]
	if r.Address != 0x100 || r.Function != 3 || r.Count != 1 || r.Scale != 1 || r.Values != 1 {
		t.Errorf("register defaults = %+v", r)
	}

	if cfg.Inverter.UnitID != 1 {
		t.Errorf("unit_id default = %d", cfg.Inverter.UnitID)
	}
	if cfg.Inverter.StaleAfter != time.Minute {
		t.Errorf("stale_after default = %v", cfg.Inverter.StaleAfter)
	}
	if cfg.Inverter.Limits.MaxChargeCurrent != 100 {
		t.Errorf("limits = %+v", cfg.Inverter.Limits)
	}
}

func TestLoadConfig_Flags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "", "")
	flags.String("log-file", "", "")
	if err := flags.Parse([]string{"--log-level", "warn"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(writeConfig(t, sample), flags)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q, want the flag value", cfg.Log.Level)
	}
	// an unset flag leaves the file value alone
	if cfg.Log.File != "" {
		t.Errorf("log file = %q", cfg.Log.File)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"), nil); err == nil {
		t.Error("LoadConfig succeeded on a missing file")
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	body := strings.Replace(sample, "type: rtu", "type: can", 1)
	_, err := LoadConfig(writeConfig(t, body), nil)
	if err == nil || !strings.Contains(err.Error(), "unknown type") {
		t.Errorf("err = %v, want unknown type", err)
	}
}

func validConfig() Config {
	return Config{
		Ports: []PortConfig{{
			Name:    "p",
			Type:    "rtu",
			Serial:  SerialConfig{Device: "/dev/ttyUSB0"},
			Adapter: AdapterConfig{Name: "daly", Address: 0x40},
		}},
		Inverter: InverterConfig{UnitID: 1},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"Valid", func(c *Config) {}, ""},
		{"NoPorts", func(c *Config) { c.Ports = nil }, "no ports"},
		{"NoName", func(c *Config) { c.Ports[0].Name = "" }, "name is required"},
		{"Duplicate", func(c *Config) { c.Ports = append(c.Ports, c.Ports[0]) }, "duplicate"},
		{"NoDevice", func(c *Config) { c.Ports[0].Serial.Device = "" }, "serial.device"},
		{"NoTcpAddress", func(c *Config) { c.Ports[0].Type = "tcp" }, "tcp.address"},
		{"NoAdapter", func(c *Config) { c.Ports[0].Adapter.Name = "" }, "adapter.name"},
		{"AddressRange", func(c *Config) { c.Ports[0].Adapter.Address = 300 }, "out of range"},
		{"ModbusNoRegisters", func(c *Config) { c.Ports[0].Adapter.Name = "modbus" }, "at least one register"},
		{"RegisterCount", func(c *Config) {
			c.Ports[0].Adapter.Registers = []RegisterConfig{{Field: "soc", Function: 3, Count: 3}}
		}, "count"},
		{"RegisterFunction", func(c *Config) {
			c.Ports[0].Adapter.Registers = []RegisterConfig{{Field: "soc", Function: 6, Count: 1}}
		}, "function"},
		{"UnitID", func(c *Config) { c.Inverter.UnitID = 0 }, "unit_id"},
		{"UpstreamType", func(c *Config) { c.Inverter.Upstreams = []UpstreamConfig{{Type: "udp"}} }, "unknown type"},
		{"PersistencePath", func(c *Config) { c.Inverter.Persistence.Type = "mmap" }, "needs a path"},
		{"PersistenceType", func(c *Config) { c.Inverter.Persistence.Type = "sql" }, "unknown persistence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := Validate(&cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
