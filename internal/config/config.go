// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config defines the global configuration structure
type Config struct {
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Ports    []PortConfig   `mapstructure:"ports" yaml:"ports"`
	Inverter InverterConfig `mapstructure:"inverter" yaml:"inverter"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"` // debug, info, warn, error
	File  string `mapstructure:"file" yaml:"file"`   // Log file path, "-" for stdout
}

// PortConfig defines one BMS-facing port and the adapter polled over it.
type PortConfig struct {
	Name         string         `mapstructure:"name" yaml:"name"`
	Type         string         `mapstructure:"type" yaml:"type"`     // "rtu" (serial) or "tcp"
	Serial       SerialConfig   `mapstructure:"serial" yaml:"serial"` // Used if Type is "rtu"
	Tcp          TcpConfig      `mapstructure:"tcp" yaml:"tcp"`       // Used if Type is "tcp"
	Adapter      AdapterConfig  `mapstructure:"adapter" yaml:"adapter"`
	PollInterval time.Duration  `mapstructure:"poll_interval" yaml:"poll_interval"`
	ResetDelay   time.Duration  `mapstructure:"reset_delay" yaml:"reset_delay"` // Pause before reopening a failed port
	Exchange     ExchangeConfig `mapstructure:"exchange" yaml:"exchange"`
}

// AdapterConfig selects the BMS protocol spoken on a port.
type AdapterConfig struct {
	Name    string `mapstructure:"name" yaml:"name"`       // "jbd", "daly", "daly-can", "modbus"
	Address int    `mapstructure:"address" yaml:"address"` // Device address or Modbus unit id
	// Registers maps telemetry fields for the generic "modbus" adapter.
	Registers []RegisterConfig `mapstructure:"registers" yaml:"registers,omitempty"`
}

// RegisterConfig maps one telemetry field to device registers.
type RegisterConfig struct {
	Field    string  `mapstructure:"field" yaml:"field"`       // e.g. "voltage", "soc", "cell"
	Function uint32  `mapstructure:"function" yaml:"function"` // 3 or 4
	Address  uint32  `mapstructure:"address" yaml:"address"`
	Count    uint32  `mapstructure:"count" yaml:"count"` // Registers per value, 1 or 2
	Values   int     `mapstructure:"values" yaml:"values"`
	Scale    float64 `mapstructure:"scale" yaml:"scale"`
	Signed   bool    `mapstructure:"signed" yaml:"signed"`
}

// ExchangeConfig overrides the request/response thresholds of a port.
type ExchangeConfig struct {
	MaxInvalidFrames  int           `mapstructure:"max_invalid_frames" yaml:"max_invalid_frames"`
	MaxNoData         int           `mapstructure:"max_no_data" yaml:"max_no_data"`
	MaxRounds         int           `mapstructure:"max_rounds" yaml:"max_rounds"`
	MaxUnmatched      int           `mapstructure:"max_unmatched" yaml:"max_unmatched"`
	ReceiveTimeout    time.Duration `mapstructure:"receive_timeout" yaml:"receive_timeout"`
	ResendOnNoData    bool          `mapstructure:"resend_on_no_data" yaml:"resend_on_no_data"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial" yaml:"backoff_initial"`
	BackoffMax        time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
	BackoffJitter     bool          `mapstructure:"backoff_jitter" yaml:"backoff_jitter"`
}

// InverterConfig defines the register map served to the inverter.
type InverterConfig struct {
	UnitID      int               `mapstructure:"unit_id" yaml:"unit_id"`
	Upstreams   []UpstreamConfig  `mapstructure:"upstreams" yaml:"upstreams"`
	Persistence PersistenceConfig `mapstructure:"persistence" yaml:"persistence"`
	StaleAfter  time.Duration     `mapstructure:"stale_after" yaml:"stale_after"` // Drop BMS snapshots older than this
	Limits      LimitsConfig      `mapstructure:"limits" yaml:"limits"`
}

// LimitsConfig caps the charge parameters reported to the inverter.
type LimitsConfig struct {
	MaxChargeCurrent    float64 `mapstructure:"max_charge_current" yaml:"max_charge_current"`
	MaxDischargeCurrent float64 `mapstructure:"max_discharge_current" yaml:"max_discharge_current"`
	ChargeVoltage       float64 `mapstructure:"charge_voltage" yaml:"charge_voltage"`
	DischargeVoltage    float64 `mapstructure:"discharge_voltage" yaml:"discharge_voltage"`
}

// UpstreamConfig defines a master connecting to the gateway
type UpstreamConfig struct {
	Type   string       `mapstructure:"type" yaml:"type"`     // "tcp", "rtu"
	Tcp    TcpConfig    `mapstructure:"tcp" yaml:"tcp"`       // Used if Type is "tcp"
	Serial SerialConfig `mapstructure:"serial" yaml:"serial"` // Used if Type is "rtu"
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type" yaml:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path" yaml:"path"` // File path for "file/mmap" type
}

// TcpConfig defines TCP settings
type TcpConfig struct {
	Address string        `mapstructure:"address" yaml:"address"` // e.g. "0.0.0.0:502" or "192.168.1.100:8899"
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"` // Dial timeout
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device   string        `mapstructure:"device" yaml:"device"`
	BaudRate int           `mapstructure:"baud_rate" yaml:"baud_rate"`
	DataBits int           `mapstructure:"data_bits" yaml:"data_bits"`
	Parity   string        `mapstructure:"parity" yaml:"parity"`
	StopBits int           `mapstructure:"stop_bits" yaml:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485" yaml:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send" yaml:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send" yaml:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send" yaml:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send" yaml:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx" yaml:"rx_during_tx"`
}

// flagKeys binds command line flags over config keys.
var flagKeys = map[string]string{
	"log-level": "log.level",
	"log-file":  "log.file",
}

// LoadConfig loads configuration from file. Flags set on the command line
// override the file; flags may be nil.
func LoadConfig(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}
	v.SetEnvPrefix("BMSGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/bmsgw/")
		v.AddConfigPath("$HOME/.bmsgw")
		v.AddConfigPath(".")
	}

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("inverter.unit_id", 1)
	v.SetDefault("inverter.persistence.type", "memory")
	v.SetDefault("inverter.stale_after", time.Minute)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to find config file: %w", err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	Fixup(&config)

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// Fixup fills per-port defaults that viper cannot express for list items.
func Fixup(cfg *Config) {
	for i := range cfg.Ports {
		p := &cfg.Ports[i]
		p.Type = strings.ToLower(p.Type)
		p.Adapter.Name = strings.ToLower(p.Adapter.Name)
		if p.PollInterval == 0 {
			p.PollInterval = 5 * time.Second
		}
		if p.ResetDelay == 0 {
			p.ResetDelay = 5 * time.Second
		}
		if p.Tcp.Timeout == 0 {
			p.Tcp.Timeout = 5 * time.Second
		}
		fixupSerial(&p.Serial)
		for j := range p.Adapter.Registers {
			r := &p.Adapter.Registers[j]
			if r.Function == 0 {
				r.Function = 3
			}
			if r.Count == 0 {
				r.Count = 1
			}
			if r.Values == 0 {
				r.Values = 1
			}
			if r.Scale == 0 {
				r.Scale = 1
			}
		}
	}

	for i := range cfg.Inverter.Upstreams {
		u := &cfg.Inverter.Upstreams[i]
		u.Type = strings.ToLower(u.Type)
		fixupSerial(&u.Serial)
	}
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "" {
		s.Parity = "N"
	}
	if s.BaudRate == 0 {
		s.BaudRate = 9600
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
}
