// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ffutop/bms-gateway/internal/bms"
	"github.com/ffutop/bms-gateway/internal/config"
	"github.com/ffutop/bms-gateway/internal/inverter"
	"github.com/ffutop/bms-gateway/internal/logging"
	"github.com/ffutop/bms-gateway/internal/poller"
	"github.com/ffutop/bms-gateway/internal/registers"
	"github.com/ffutop/bms-gateway/internal/registers/persistence"
	"github.com/ffutop/bms-gateway/internal/telemetry"
	"github.com/ffutop/bms-gateway/transport"
	"github.com/ffutop/bms-gateway/transport/rtu"
	"github.com/ffutop/bms-gateway/transport/tcp"
	"go.uber.org/zap"
)

// refreshInterval re-encodes the register image without a new snapshot,
// so stale batteries drop out and control writes take effect.
const refreshInterval = time.Second

// Gateway bridges the BMS ports to the inverter.
// Pollers feed the aggregator, the encoder turns the pack view into
// registers and the upstreams serve them.
type Gateway struct {
	Pollers   []*poller.Poller
	Upstreams []transport.Upstream

	aggregator *telemetry.Aggregator
	storage    persistence.Storage
	img        *registers.Image
	encoder    *inverter.Encoder
	slave      *inverter.Slave
	log        *zap.Logger
}

// New builds a Gateway from cfg. The register image is loaded from the
// configured storage.
func New(cfg *config.Config) (*Gateway, error) {
	storage, err := persistence.New(cfg.Inverter.Persistence)
	if err != nil {
		return nil, err
	}
	img, err := persistence.Open(storage)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("gateway: load register image: %w", err)
	}

	g := &Gateway{
		aggregator: telemetry.NewAggregator(cfg.Inverter.StaleAfter),
		storage:    storage,
		img:        img,
		encoder:    inverter.NewEncoder(img, cfg.Inverter.Limits),
		slave:      inverter.NewSlave(byte(cfg.Inverter.UnitID), img),
		log:        logging.Named("gateway"),
	}

	for _, pc := range cfg.Ports {
		adapter, err := bms.New(pc.Adapter)
		if err != nil {
			storage.Close()
			return nil, fmt.Errorf("port %q: %w", pc.Name, err)
		}
		port, err := poller.NewPort(pc)
		if err != nil {
			storage.Close()
			return nil, fmt.Errorf("port %q: %w", pc.Name, err)
		}
		g.Pollers = append(g.Pollers, poller.New(pc, port, adapter, g.aggregator))
	}

	for i, uc := range cfg.Inverter.Upstreams {
		switch uc.Type {
		case "tcp":
			g.Upstreams = append(g.Upstreams, tcp.NewServer(uc.Tcp.Address))
		case "rtu":
			g.Upstreams = append(g.Upstreams, rtu.NewServer(uc.Serial, byte(cfg.Inverter.UnitID)))
		default:
			storage.Close()
			return nil, fmt.Errorf("inverter upstream #%d: unknown type %q", i, uc.Type)
		}
	}
	return g, nil
}

// Aggregator returns the shared pack view.
func (g *Gateway) Aggregator() *telemetry.Aggregator {
	return g.aggregator
}

// Start runs all pollers and upstreams until ctx is canceled, then shuts
// them down and flushes the register image.
func (g *Gateway) Start(ctx context.Context) error {
	// the inverter reads offline until the first poll completes
	g.refresh()

	var wg sync.WaitGroup
	for _, p := range g.Pollers {
		wg.Add(1)
		go func(p *poller.Poller) {
			defer wg.Done()
			g.log.Info("Starting poller", zap.String("port", p.Name()))
			if err := p.Run(ctx); err != nil {
				g.log.Error("Poller stopped with error", zap.String("port", p.Name()), zap.Error(err))
			}
		}(p)
	}

	for i, us := range g.Upstreams {
		wg.Add(1)
		go func(ups transport.Upstream, idx int) {
			defer wg.Done()
			g.log.Info("Starting upstream", zap.Int("index", idx))
			if err := ups.Start(ctx, g.slave.Handle); err != nil {
				g.log.Error("Upstream stopped with error", zap.Int("index", idx), zap.Error(err))
			}
		}(us, i)
	}

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-g.aggregator.Updates():
			g.refresh()
		case <-ticker.C:
			g.refresh()
		}
	}

	// Graceful shutdown
	for _, us := range g.Upstreams {
		us.Close()
	}
	wg.Wait()
	return g.close()
}

func (g *Gateway) refresh() {
	pack, ok := g.aggregator.Pack()
	if err := g.encoder.Encode(pack, ok); err != nil {
		g.log.Error("Failed to encode pack", zap.Error(err))
	}
}

func (g *Gateway) close() error {
	if err := g.storage.Save(g.img); err != nil {
		g.storage.Close()
		return fmt.Errorf("gateway: save register image: %w", err)
	}
	return g.storage.Close()
}
