package victron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/victron/decoder"
	"github.com/mjasion/balena-home/victron/pkg/telemetry"
)

const instrumentationName = "github.com/mjasion/balena-home/victron/victron"

// Frame outcomes reported on the victron.frames counter
const (
	resultIgnored = "ignored"
	resultValid   = "valid"
	resultInvalid = "invalid"
)

// Advertisement is one manufacturer data block received from the radio
type Advertisement struct {
	Address          string
	Name             string // advertised local name, used for classification
	ConfiguredName   string // user label, display only
	RSSI             int16
	ManufacturerData []byte // includes the two company id bytes
}

// Engine turns Victron advertisements into device records
type Engine struct {
	registry  *Registry
	keys      *KeyStore
	validator decoder.Validator
	logger    *zap.Logger
	tracer    trace.Tracer
	frames    metric.Int64Counter
	now       func() time.Time
}

// NewEngine creates an engine with an empty registry and key store
func NewEngine(validator decoder.Validator, retainLastData bool, logger *zap.Logger) *Engine {
	frames, err := otel.Meter(instrumentationName).Int64Counter(
		"victron.frames",
		metric.WithDescription("Victron advertisements processed, by outcome"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		logger.Warn("failed to create frames counter", zap.Error(err))
		frames, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("victron.frames")
	}

	return &Engine{
		registry:  NewRegistry(retainLastData),
		keys:      NewKeyStore(),
		validator: validator,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		frames:    frames,
		now:       time.Now,
	}
}

// Registry exposes the device registry for read access
func (e *Engine) Registry() *Registry {
	return e.registry
}

// IngestBatch processes the advertisements of one scan window in order
// and returns how many of them were Victron frames
func (e *Engine) IngestBatch(ctx context.Context, ads []Advertisement) int {
	ctx, span := e.tracer.Start(ctx, "victron.IngestBatch",
		trace.WithAttributes(attribute.Int("batch.size", len(ads))),
	)
	defer span.End()

	processed := 0
	for _, ad := range ads {
		if e.Ingest(ctx, ad) {
			processed++
		}
	}

	span.SetAttributes(
		attribute.Int("batch.processed", processed),
		attribute.Int("registry.devices", e.registry.DeviceCount()),
	)
	return processed
}

// Ingest decodes one advertisement and commits the result to the registry.
// It returns false when the frame is not a Victron advertisement.
func (e *Engine) Ingest(ctx context.Context, ad Advertisement) bool {
	frame, err := ParseFrame(ad.ManufacturerData)
	if errors.Is(err, ErrNotVictron) || len(ad.ManufacturerData) < 2 {
		e.countFrame(ctx, resultIgnored)
		return false
	}

	logger := telemetry.WithTraceContext(ctx, e.logger)
	addr := NormalizeAddress(ad.Address)

	rec := DeviceRecord{
		Name:           ad.Name,
		Address:        addr,
		Family:         Classify(ad.Name),
		ManufacturerID: ManufacturerID,
		RSSI:           ad.RSSI,
		LastUpdate:     e.now(),
		RawData:        boundedRaw(ad.ManufacturerData),
	}

	// Names are not present in every advertisement; fall back to what we know
	if rec.Family == FamilyUnknown {
		if known, ok := e.registry.Device(addr); ok {
			if rec.Name == "" {
				rec.Name = known.Name
			}
			rec.Family = known.Family
		}
	}
	if rec.Name == "" {
		rec.Name = ad.ConfiguredName
	}

	if err != nil {
		rec.ErrorMessage = err.Error()
	} else {
		rec.ModelID = frame.ModelID
		rec.Encrypted = frame.Encrypted()
		e.decode(logger, frame, &rec)
	}

	if rec.DataValid {
		e.countFrame(ctx, resultValid)
		logger.Debug("victron_reading",
			zap.String("mac", rec.Address),
			zap.String("name", rec.Name),
			zap.String("family", rec.Family.String()),
			zap.Int16("rssi_dbm", rec.RSSI),
			zap.Bool("encrypted", rec.Encrypted),
			zap.Float64("voltage", rec.Voltage),
			zap.Float64("current", rec.Current),
			zap.Float64("soc", rec.SOC),
		)
	} else {
		e.countFrame(ctx, resultInvalid)
		logger.Warn("victron frame not decoded",
			zap.String("mac", rec.Address),
			zap.String("name", rec.Name),
			zap.String("family", rec.Family.String()),
			zap.String("reason", rec.ErrorMessage),
		)
	}

	e.registry.Commit(rec)
	return true
}

// decode fills rec from the frame payload and sets DataValid and ErrorMessage
func (e *Engine) decode(logger *zap.Logger, frame *Frame, rec *DeviceRecord) {
	var (
		records []decoder.Record
		skipped int
		err     error
	)

	if frame.Encrypted() {
		records, skipped, err = e.decodeEncrypted(logger, frame, rec)
	} else {
		records, skipped, err = decoder.DecodeRecords(frame.PlainPayload(), &rec.Measurements, e.validator)
	}

	rec.Records = records
	rec.Skipped = skipped
	if skipped > 0 {
		logger.Warn("oversized records dropped",
			zap.String("mac", rec.Address),
			zap.Int("skipped", skipped),
		)
	}

	if err != nil {
		rec.Measurements = decoder.Measurements{}
		rec.DataValid = false
		rec.ErrorMessage = err.Error()
		return
	}
	rec.DataValid = true
}

func (e *Engine) decodeEncrypted(logger *zap.Logger, frame *Frame, rec *DeviceRecord) ([]decoder.Record, int, error) {
	key, ok := e.keys.EncryptionKey(rec.Address)
	if !ok {
		return nil, 0, errors.New("device is encrypted: add its encryption key to the configuration or enable instant readout on the device")
	}

	dec, err := decoder.Decrypt(frame.Raw, key)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decrypt advertisement: %w", err)
	}

	if !dec.KeyMatch {
		logger.Warn("encryption key does not match advertisement",
			zap.String("mac", rec.Address),
			zap.Uint16("nonce", dec.Nonce),
		)
		rec.ErrorMessage = "encryption key check byte mismatch, readings may be wrong"
	}

	return decoder.Decode(rec.Family.Layout(), dec.Payload, &rec.Measurements, e.validator)
}

func (e *Engine) countFrame(ctx context.Context, result string) {
	e.frames.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// SetEncryptionKey registers the AES key of a device
func (e *Engine) SetEncryptionKey(addr, key string) {
	e.keys.SetEncryptionKey(addr, key)
}

// EncryptionKey returns the key registered for a device
func (e *Engine) EncryptionKey(addr string) (string, bool) {
	return e.keys.EncryptionKey(addr)
}

// ClearEncryptionKeys forgets every registered key
func (e *Engine) ClearEncryptionKeys() {
	e.keys.ClearEncryptionKeys()
}

// SetRetainLastData switches the registry between merge and replace
func (e *Engine) SetRetainLastData(retain bool) {
	e.registry.SetRetainLastData(retain)
}

// Devices returns a copy of every known device
func (e *Engine) Devices() map[string]DeviceRecord {
	return e.registry.Devices()
}

// Device returns a copy of one device
func (e *Engine) Device(addr string) (DeviceRecord, bool) {
	return e.registry.Device(addr)
}

// HasDevices reports whether any device has been decoded
func (e *Engine) HasDevices() bool {
	return e.registry.HasDevices()
}

// Addresses returns the known device addresses in sorted order
func (e *Engine) Addresses() []string {
	return e.registry.Addresses()
}

// DeviceCount returns the number of known devices
func (e *Engine) DeviceCount() int {
	return e.registry.DeviceCount()
}
