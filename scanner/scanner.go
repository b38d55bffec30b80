package scanner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/mjasion/balena-home/victron/ecoworthy"
	"github.com/mjasion/balena-home/victron/victron"
)

const stopRetryInterval = 10 * time.Millisecond

// DeviceConfig is a device the user registered by MAC address
type DeviceConfig struct {
	Name       string
	MACAddress string
}

// radio is the part of the BLE adapter a scan window needs
type radio interface {
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// Scanner collects Victron manufacturer data during bounded scan windows
type Scanner struct {
	adapter        *bluetooth.Adapter
	radio          radio
	devices        map[string]string // MAC address to configured name
	onlyConfigured bool
	logger         *zap.Logger
	onWindow       func(frames, processed int)

	mu         sync.Mutex
	batch      []victron.Advertisement
	discovered map[string]bool
	bms        map[string]bluetooth.Address
}

// New creates a new BLE scanner on the default adapter
func New(devices []DeviceConfig, onlyConfigured bool, logger *zap.Logger) *Scanner {
	s := newScanner(bluetooth.DefaultAdapter, devices, onlyConfigured, logger)
	s.adapter = bluetooth.DefaultAdapter
	return s
}

func newScanner(r radio, devices []DeviceConfig, onlyConfigured bool, logger *zap.Logger) *Scanner {
	macMap := make(map[string]string)
	for _, device := range devices {
		macMap[victron.NormalizeAddress(device.MACAddress)] = device.Name
	}

	return &Scanner{
		radio:          r,
		devices:        macMap,
		onlyConfigured: onlyConfigured,
		logger:         logger,
		discovered:     make(map[string]bool),
		bms:            make(map[string]bluetooth.Address),
	}
}

// Adapter returns the underlying BLE adapter
func (s *Scanner) Adapter() *bluetooth.Adapter {
	return s.adapter
}

// Enable initializes the BLE adapter
func (s *Scanner) Enable() error {
	s.logger.Info("initializing BLE adapter")

	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE adapter: %w", err)
	}

	s.logger.Info("BLE adapter initialized successfully",
		zap.Int("configured_devices", len(s.devices)),
		zap.Bool("only_configured_devices", s.onlyConfigured),
	)
	return nil
}

// ScanWindow scans for duration, or until ctx is done, and returns the
// Victron advertisements received in delivery order
func (s *Scanner) ScanWindow(ctx context.Context, duration time.Duration) ([]victron.Advertisement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.batch = nil
	s.mu.Unlock()

	windowCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	scanDone := make(chan struct{})
	stopperDone := make(chan struct{})
	go func() {
		defer close(stopperDone)
		select {
		case <-scanDone:
		case <-windowCtx.Done():
			s.stopScan(scanDone)
		}
	}()

	err := s.radio.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if windowCtx.Err() != nil {
			return
		}
		s.handle(result.Address, result.Address.String(), result.LocalName(), result.RSSI, result.ManufacturerData())
	})
	close(scanDone)
	// a late StopScan must not hit the next window's scan
	<-stopperDone

	if err != nil {
		return nil, fmt.Errorf("failed to start BLE scan: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.batch
	s.batch = nil
	return batch, nil
}

// stopScan keeps asking the radio to stop until Scan has returned. The
// radio rejects StopScan while a scan is still being set up.
func (s *Scanner) stopScan(scanDone <-chan struct{}) {
	ticker := time.NewTicker(stopRetryInterval)
	defer ticker.Stop()

	for {
		err := s.radio.StopScan()
		if err == nil {
			return
		}
		s.logger.Debug("BLE scan not stopped yet, retrying", zap.Error(err))

		select {
		case <-scanDone:
			return
		case <-ticker.C:
		}
	}
}

// handle runs on the radio stack goroutine; it only records what it sees
func (s *Scanner) handle(addr bluetooth.Address, mac, name string, rssi int16, mfr []bluetooth.ManufacturerDataElement) {
	mac = victron.NormalizeAddress(mac)
	configuredName, configured := s.devices[mac]
	displayName := name
	if displayName == "" {
		displayName = configuredName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ecoworthy.IsDevice(name) {
		s.bms[mac] = addr
		s.logDiscovery(mac, displayName, rssi, "ecoworthy")
	}

	if s.onlyConfigured && !configured {
		return
	}

	for _, md := range mfr {
		if md.CompanyID != victron.ManufacturerID {
			continue
		}

		// the radio stack strips the company id; the frame layout starts with it
		frame := make([]byte, 0, len(md.Data)+2)
		frame = append(frame, byte(md.CompanyID), byte(md.CompanyID>>8))
		frame = append(frame, md.Data...)

		s.batch = append(s.batch, victron.Advertisement{
			Address:          mac,
			Name:             name,
			ConfiguredName:   configuredName,
			RSSI:             rssi,
			ManufacturerData: frame,
		})
		s.logDiscovery(mac, displayName, rssi, "victron")
	}
}

// logDiscovery logs the first sighting of a device; callers hold s.mu
func (s *Scanner) logDiscovery(mac, name string, rssi int16, kind string) {
	if s.discovered[mac] {
		return
	}
	s.discovered[mac] = true

	s.logger.Info("device discovered",
		zap.String("kind", kind),
		zap.String("mac", mac),
		zap.String("name", name),
		zap.Int16("rssi_dbm", rssi),
		zap.String("signal", signalQuality(rssi)),
	)
}

// Lookup returns the radio address of an ECO-WORTHY BMS seen while scanning
func (s *Scanner) Lookup(mac string) (bluetooth.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.bms[victron.NormalizeAddress(mac)]
	return addr, ok
}

// ObserveWindows registers fn to receive the frame counts of every completed
// scan window. It must be called before Schedule.
func (s *Scanner) ObserveWindows(fn func(frames, processed int)) {
	s.onWindow = fn
}

// Ingester consumes the advertisements of one scan window
type Ingester interface {
	IngestBatch(ctx context.Context, ads []victron.Advertisement) int
}

// RunWindow scans once and hands the batch to the engine
func (s *Scanner) RunWindow(ctx context.Context, engine Ingester, duration time.Duration) {
	ctx, span := otel.Tracer("scanner").Start(ctx, "scanner.RunWindow",
		trace.WithAttributes(attribute.String("window", duration.String())),
	)
	defer span.End()

	start := time.Now()
	batch, err := s.ScanWindow(ctx, duration)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("scan window failed", zap.Error(err))
		return
	}

	processed := engine.IngestBatch(ctx, batch)
	s.logger.Info("scan window complete",
		zap.Int("frames", len(batch)),
		zap.Int("processed", processed),
		zap.Duration("elapsed", time.Since(start)),
	)
	if s.onWindow != nil {
		s.onWindow(len(batch), processed)
	}
}

func signalQuality(rssi int16) string {
	switch {
	case rssi >= -50:
		return "excellent"
	case rssi >= -60:
		return "good"
	case rssi >= -70:
		return "fair"
	case rssi >= -80:
		return "weak"
	default:
		return "very weak"
	}
}

// FormatDevices lists configured devices for startup logging
func FormatDevices(devices []DeviceConfig) string {
	parts := make([]string, 0, len(devices))
	for _, d := range devices {
		parts = append(parts, fmt.Sprintf("%s=%s", victron.NormalizeAddress(d.MACAddress), d.Name))
	}
	return strings.Join(parts, ", ")
}
