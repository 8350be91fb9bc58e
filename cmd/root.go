// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package cmd is the bmsgw command line.
package cmd

import (
	"fmt"

	"github.com/ffutop/bms-gateway/internal/config"
	"github.com/ffutop/bms-gateway/internal/logging"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "bmsgw",
	Short: "BMS to inverter gateway",
	Long: `bmsgw polls battery management systems over RS485, RS232 or TCP
converters and serves the merged pack state to an inverter as Modbus
registers.

The configuration is read from --config or config.yaml in /etc/bmsgw/,
$HOME/.bmsgw or the working directory.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().String("log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "Override log file ('-' for stdout)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration and sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile, rootCmd.PersistentFlags())
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.Log.Level, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	return cfg, nil
}
