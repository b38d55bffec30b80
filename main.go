package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/victron/config"
	"github.com/mjasion/balena-home/victron/ecoworthy"
	"github.com/mjasion/balena-home/victron/pkg/buffer"
	pkgconfig "github.com/mjasion/balena-home/victron/pkg/config"
	pkgmetrics "github.com/mjasion/balena-home/victron/pkg/metrics"
	"github.com/mjasion/balena-home/victron/pkg/profiling"
	"github.com/mjasion/balena-home/victron/pkg/telemetry"
	"github.com/mjasion/balena-home/victron/pkg/types"
	"github.com/mjasion/balena-home/victron/publisher"
	"github.com/mjasion/balena-home/victron/scanner"
	"github.com/mjasion/balena-home/victron/victron"
)

func main() {
	configPath := flag.String("c", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := pkgconfig.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting Victron BLE monitoring service")
	cfg.PrintConfig(logger)

	profiler, err := profiling.Start(&cfg.Profiling, logger)
	if err != nil {
		logger.Error("failed to initialize profiler", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			logger.Error("failed to shutdown profiler", zap.Error(err))
		}
	}()

	ctx := context.Background()
	otelProviders, err := telemetry.InitProviders(ctx, &cfg.OpenTelemetry, logger)
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry providers", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := otelProviders.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown OpenTelemetry providers", zap.Error(err))
		}
	}()

	ctx, mainSpan := otel.Tracer("main").Start(ctx, "main.run")
	defer mainSpan.End()

	// engine must exist after InitProviders so its instruments bind to the real meter
	engine := victron.NewEngine(cfg.Validator(), cfg.BLE.RetainLastData, logger)
	scannerDevices := make([]scanner.DeviceConfig, len(cfg.BLE.Devices))
	for i, device := range cfg.BLE.Devices {
		scannerDevices[i] = scanner.DeviceConfig{Name: device.Name, MACAddress: device.MACAddress}
		if device.EncryptionKey != "" {
			engine.SetEncryptionKey(device.MACAddress, device.EncryptionKey)
		}
	}
	logger.Info("victron devices configured", zap.String("devices", scanner.FormatDevices(scannerDevices)))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	var (
		ringBuffer *buffer.RingBuffer[*types.Reading]
		pusher     *pkgmetrics.Pusher
		pub        *publisher.Publisher
	)
	if cfg.Prometheus.Enabled {
		ringBuffer = buffer.New[*types.Reading](cfg.Prometheus.BufferSize, logger)
		pusher = pkgmetrics.New(pkgmetrics.Config{
			URL:             cfg.Prometheus.URL,
			Username:        cfg.Prometheus.Username,
			Password:        cfg.Prometheus.Password,
			PushIntervalSec: cfg.Prometheus.PushIntervalSeconds,
			BatchSize:       cfg.Prometheus.BatchSize,
			TimeSeriesBuilder: pkgmetrics.CombineBuilders(
				pkgmetrics.BuildVictronTimeSeries,
				pkgmetrics.BuildBMSTimeSeries,
				pkgmetrics.BuildMetricTimeSeries,
			),
		}, ringBuffer, logger)
		pub = publisher.New(engine, ringBuffer, cfg.Prometheus.PublishIntervalSeconds, logger)

		wg.Add(2)
		go func() {
			defer wg.Done()
			pub.Start(ctx)
		}()
		go func() {
			defer wg.Done()
			pusher.Start(ctx)
		}()
	} else {
		logger.Info("prometheus publishing disabled")
	}

	bleScanner := scanner.New(scannerDevices, cfg.BLE.OnlyConfiguredDevices, logger)
	if pub != nil {
		bleScanner.ObserveWindows(pub.RecordWindow)
	}
	if err := bleScanner.Enable(); err != nil {
		logger.Error("BLE scanner failed", zap.Error(err))
		os.Exit(1)
	}

	scanCron, err := bleScanner.Schedule(ctx, engine,
		time.Duration(cfg.BLE.ScanIntervalSeconds)*time.Second,
		time.Duration(cfg.BLE.ScanDurationSeconds)*time.Second,
	)
	if err != nil {
		logger.Error("failed to schedule BLE scans", zap.Error(err))
		os.Exit(1)
	}

	if cfg.EcoWorthy.Enabled {
		client, err := ecoworthy.NewClient(bleScanner.Adapter(), cfg.EcoWorthy.MACAddress, logger)
		if err != nil {
			logger.Error("invalid ECO-WORTHY configuration", zap.Error(err))
			os.Exit(1)
		}

		sink := func(ecoworthy.Data) {}
		if pub != nil {
			sink = pub.PublishBMS
		}
		poller := ecoworthy.NewPoller(client, bleScanner, sink,
			cfg.EcoWorthy.PollIntervalSeconds, cfg.EcoWorthy.TimeoutSeconds, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Start(ctx)
		}()
	}

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context cancelled")
	}

	cancel()
	<-scanCron.Stop().Done()

	if pusher != nil {
		logger.Info("performing final metrics push")
		pub.Publish()

		finalCtx, finalCancel := context.WithTimeout(context.Background(), 10*time.Second)
		pusher.Flush(finalCtx)
		finalCancel()
	}

	logger.Info("waiting for goroutines to finish")
	wg.Wait()

	logger.Info("Victron BLE monitoring service stopped",
		zap.Int("known_devices", engine.DeviceCount()),
	)
}
