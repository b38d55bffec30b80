package ecoworthy

import (
	"context"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// Locator resolves a MAC address to a radio address seen during scanning
type Locator interface {
	Lookup(mac string) (bluetooth.Address, bool)
}

type bmsClient interface {
	Address() string
	Connected() bool
	Connect(addr bluetooth.Address) error
	Disconnect() error
	Update(ctx context.Context) (Data, error)
}

// Poller periodically reads the BMS and hands the result to a sink
type Poller struct {
	client       bmsClient
	locator      Locator
	sink         func(Data)
	logger       *zap.Logger
	pollInterval time.Duration
	timeout      time.Duration
}

// NewPoller creates a new BMS poller
func NewPoller(client *Client, locator Locator, sink func(Data), pollIntervalSeconds, timeoutSeconds int, logger *zap.Logger) *Poller {
	return &Poller{
		client:       client,
		locator:      locator,
		sink:         sink,
		logger:       logger,
		pollInterval: time.Duration(pollIntervalSeconds) * time.Second,
		timeout:      time.Duration(timeoutSeconds) * time.Second,
	}
}

// Start runs the polling loop until ctx is cancelled
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("starting ECO-WORTHY BMS poller",
		zap.String("mac", p.client.Address()),
		zap.Duration("poll_interval", p.pollInterval),
	)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("stopping ECO-WORTHY BMS poller")
			if err := p.client.Disconnect(); err != nil {
				p.logger.Warn("failed to disconnect from BMS", zap.Error(err))
			}
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	mac := p.client.Address()

	if !p.client.Connected() {
		addr, ok := p.locator.Lookup(mac)
		if !ok {
			p.logger.Debug("BMS not discovered yet", zap.String("mac", mac))
			return
		}
		if err := p.client.Connect(addr); err != nil {
			p.logger.Warn("failed to connect to BMS", zap.String("mac", mac), zap.Error(err))
			return
		}
	}

	updateCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	data, err := p.client.Update(updateCtx)
	if err != nil {
		p.logger.Warn("failed to read BMS, reconnecting on next poll", zap.String("mac", mac), zap.Error(err))
		if err := p.client.Disconnect(); err != nil {
			p.logger.Debug("disconnect failed", zap.Error(err))
		}
		return
	}

	p.logger.Info("bms_reading",
		zap.String("mac", mac),
		zap.Float64("voltage", data.Voltage),
		zap.Float64("current", data.Current),
		zap.Float64("level_percent", data.Level),
		zap.Int("cell_count", len(data.CellVoltages)),
	)
	p.sink(data)
}
