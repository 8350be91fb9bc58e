// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package poller owns one BMS-facing port: it runs the adapter's poll cycle
// over an exchange session and resets the port when the session gives up.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ffutop/bms-gateway/exchange"
	"github.com/ffutop/bms-gateway/internal/bms"
	"github.com/ffutop/bms-gateway/internal/config"
	"github.com/ffutop/bms-gateway/internal/logging"
	"github.com/ffutop/bms-gateway/internal/telemetry"
	"github.com/ffutop/bms-gateway/queue"
	"github.com/ffutop/bms-gateway/stream"
	"github.com/ffutop/bms-gateway/transport"
	"github.com/ffutop/bms-gateway/transport/rtu"
	"github.com/ffutop/bms-gateway/transport/tcp"
	"go.uber.org/zap"
)

const (
	defaultInterval   = 5 * time.Second
	defaultResetDelay = 5 * time.Second
)

var (
	ErrDecode      = errors.New("poller: decode failed")
	ErrNotOpen     = errors.New("poller: port not open")
	ErrUnknownPort = errors.New("poller: unknown port type")
)

// Sink receives decoded snapshots. *telemetry.Aggregator is one.
type Sink interface {
	Publish(b telemetry.Battery)
	// Remove drops the snapshot of a port that is being reset.
	Remove(port string)
}

// NewPort builds the transport named by cfg.Type.
func NewPort(cfg config.PortConfig) (transport.Port, error) {
	switch cfg.Type {
	case "rtu":
		return rtu.NewPort(cfg.Serial), nil
	case "tcp":
		return tcp.NewPort(cfg.Tcp), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPort, cfg.Type)
	}
}

// ExchangeConfig maps the port thresholds onto a session config. Zero
// thresholds fall back to the session defaults.
func ExchangeConfig(c config.ExchangeConfig) exchange.Config {
	return exchange.Config{
		MaxInvalidFrames: c.MaxInvalidFrames,
		MaxNoData:        c.MaxNoData,
		MaxRounds:        c.MaxRounds,
		MaxUnmatched:     c.MaxUnmatched,
		ReceiveTimeout:   c.ReceiveTimeout,
		ResendOnNoData:   c.ResendOnNoData,
		Backoff: exchange.BackoffConfig{
			InitialDelay: c.BackoffInitial,
			Multiplier:   c.BackoffMultiplier,
			MaxDelay:     c.BackoffMax,
			Jitter:       c.BackoffJitter,
		},
	}
}

// Poller runs one sequential poll loop. Nothing else may use its port.
type Poller struct {
	name       string
	port       transport.Port
	adapter    bms.Adapter
	sink       Sink
	exchange   exchange.Config
	interval   time.Duration
	resetDelay time.Duration
	log        *zap.Logger

	q       *queue.Queue
	link    *stream.Link
	session *exchange.Session
}

// New creates a Poller for the port described by cfg.
func New(cfg config.PortConfig, port transport.Port, adapter bms.Adapter, sink Sink) *Poller {
	p := &Poller{
		name:       cfg.Name,
		port:       port,
		adapter:    adapter,
		sink:       sink,
		exchange:   ExchangeConfig(cfg.Exchange),
		interval:   cfg.PollInterval,
		resetDelay: cfg.ResetDelay,
		q:          queue.New(),
	}
	if p.name == "" {
		p.name = port.String()
	}
	if p.interval <= 0 {
		p.interval = defaultInterval
	}
	if p.resetDelay <= 0 {
		p.resetDelay = defaultResetDelay
	}
	p.log = logging.Named("poller").With(zap.String("port", p.name), zap.String("adapter", adapter.Name()))
	return p
}

func (p *Poller) Name() string {
	return p.name
}

// Open opens the port and binds a fresh session to it.
func (p *Poller) Open(ctx context.Context) error {
	p.q.Clear()
	if err := p.port.Open(ctx, p.q); err != nil {
		return fmt.Errorf("poller: open %s: %w", p.port, err)
	}
	link, err := stream.NewLink(p.port, p.q, p.adapter.Framing())
	if err != nil {
		p.port.Close()
		return err
	}
	p.link = link
	p.session = exchange.NewSession(link, p.exchange)
	p.session.Logger = p.log
	return nil
}

// Close closes the port. Buffered input is dropped on the next Open.
func (p *Poller) Close() error {
	p.session = nil
	return p.port.Close()
}

// Stats returns the resync counters of the current or last opened port.
func (p *Poller) Stats() stream.Stats {
	if p.link == nil {
		return stream.Stats{}
	}
	return p.link.Stats()
}

func statsFields(st stream.Stats) []zap.Field {
	return []zap.Field{
		zap.Uint64("frames", st.Frames),
		zap.Uint64("windows_dropped", st.WindowsDropped),
		zap.Uint64("bytes_skipped", st.BytesSkipped),
		zap.Uint64("validation_failures", st.ValidationFailures),
	}
}

// Poll runs one cycle of the adapter and returns the decoded snapshot.
// Decode failures wrap ErrDecode and leave the port usable; any other
// error means the port should be reset.
func (p *Poller) Poll(ctx context.Context) (telemetry.Battery, error) {
	b := telemetry.Battery{Port: p.name}
	if p.session == nil {
		return b, ErrNotOpen
	}
	for _, req := range p.adapter.Requests() {
		frames, err := p.session.Exchange(ctx, req)
		if err != nil {
			return b, err
		}
		if err := p.adapter.Decode(req, frames, &b); err != nil {
			return b, fmt.Errorf("%w: %s: %w", ErrDecode, req.Name, err)
		}
	}
	b.Summarize()
	b.Updated = time.Now()
	return b, nil
}

// Run polls until ctx is canceled, reopening the port after every
// terminal failure. The port's snapshot is withdrawn from the sink on
// every reset so the inverter stops counting the pack at once.
func (p *Poller) Run(ctx context.Context) error {
	for {
		err := p.Open(ctx)
		if err == nil {
			p.log.Info("port opened")
			err = p.loop(ctx)
			p.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		if p.sink != nil {
			p.sink.Remove(p.name)
		}

		fields := append(statsFields(p.Stats()), zap.Error(err), zap.Duration("delay", p.resetDelay))
		if exchange.IsTerminal(err) {
			p.log.Error("resetting port", fields...)
		} else {
			p.log.Warn("resetting port", fields...)
		}
		if !sleep(ctx, p.resetDelay) {
			return nil
		}
	}
}

func (p *Poller) loop(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		b, err := p.Poll(ctx)
		switch {
		case err == nil:
			if p.sink != nil {
				p.sink.Publish(b)
			}
			p.log.Debug("battery updated", append(statsFields(p.Stats()),
				zap.Float64("voltage", b.Voltage),
				zap.Float64("current", b.Current),
				zap.Float64("soc", b.SOC),
				zap.Stringer("alarms", b.Alarms))...)
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrDecode):
			p.log.Warn("poll cycle dropped", zap.Error(err))
		default:
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
