// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/ffutop/bms-gateway/internal/gateway"
	"github.com/ffutop/bms-gateway/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway",
	Long: `Poll every configured port and serve the pack state to the inverter
until SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runGateway,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Sync()

	g, err := gateway.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("Starting BMS gateway...",
		zap.Int("ports", len(g.Pollers)),
		zap.Int("upstreams", len(g.Upstreams)))
	if err := g.Start(ctx); err != nil {
		return err
	}
	logging.Info("Goodbye.")
	return nil
}
