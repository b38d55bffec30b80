package publisher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mjasion/balena-home/victron/ecoworthy"
	"github.com/mjasion/balena-home/victron/pkg/buffer"
	"github.com/mjasion/balena-home/victron/pkg/types"
	"github.com/mjasion/balena-home/victron/victron"
)

// Source is the read-only view of the device registry
type Source interface {
	Devices() map[string]victron.DeviceRecord
	Addresses() []string
}

// Publisher snapshots the registry on an interval and queues one reading
// per device that has valid data newer than the last one it queued
type Publisher struct {
	source   Source
	buffer   *buffer.RingBuffer[*types.Reading]
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	published map[string]time.Time
}

// New creates a new registry publisher
func New(source Source, buf *buffer.RingBuffer[*types.Reading], intervalSeconds int, logger *zap.Logger) *Publisher {
	return &Publisher{
		source:    source,
		buffer:    buf,
		interval:  time.Duration(intervalSeconds) * time.Second,
		logger:    logger,
		published: make(map[string]time.Time),
	}
}

// Start publishes immediately and then on every tick until ctx is done
func (p *Publisher) Start(ctx context.Context) {
	p.logger.Info("starting registry publisher", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Publish()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("stopping registry publisher")
			return
		case <-ticker.C:
			p.Publish()
		}
	}
}

// Publish queues readings for updated devices and returns how many it queued.
// Registry gauges are queued on every call.
func (p *Publisher) Publish() int {
	devices := p.source.Devices()
	addrs := p.source.Addresses()
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	queued, valid := 0, 0
	for _, addr := range addrs {
		rec, ok := devices[addr]
		if !ok {
			// committed after the snapshot; picked up on the next call
			continue
		}
		if !rec.DataValid {
			if rec.ErrorMessage != "" {
				p.logger.Debug("skipping device without valid data",
					zap.String("mac", addr),
					zap.String("error", rec.ErrorMessage),
				)
			}
			continue
		}
		valid++
		if !rec.LastUpdate.After(p.published[addr]) {
			continue
		}
		p.published[addr] = rec.LastUpdate

		p.buffer.Add(&types.Reading{
			Type:    types.ReadingTypeVictron,
			Victron: VictronReading(rec),
		})
		queued++

		p.logger.Info("victron_reading",
			zap.String("mac", addr),
			zap.String("name", rec.Name),
			zap.String("family", rec.Family.String()),
			zap.Float64("voltage", rec.Voltage),
			zap.Bool("has_voltage", rec.HasVoltage),
			zap.String("state", victron.DeviceStateString(rec.DeviceState)),
			zap.String("alarm", victron.AlarmString(rec.AlarmState)),
			zap.Int16("rssi_dbm", rec.RSSI),
		)
	}

	p.queueMetric(now, "victron_known_devices", float64(len(devices)))
	p.queueMetric(now, "victron_valid_devices", float64(valid))
	p.queueMetric(now, "victron_buffer_dropped_total", float64(p.buffer.Dropped()))

	return queued
}

// RecordWindow queues the outcome of one scan window
func (p *Publisher) RecordWindow(frames, processed int) {
	now := time.Now()
	p.queueMetric(now, "victron_scan_frames", float64(frames))
	p.queueMetric(now, "victron_scan_processed", float64(processed))
}

func (p *Publisher) queueMetric(ts time.Time, name string, value float64) {
	p.buffer.Add(&types.Reading{
		Type: types.ReadingTypeMetric,
		Metric: &types.MetricReading{
			Timestamp: ts,
			Name:      name,
			Value:     value,
		},
	})
}

// PublishBMS queues one ECO-WORTHY BMS poll
func (p *Publisher) PublishBMS(data ecoworthy.Data) {
	p.buffer.Add(&types.Reading{
		Type: types.ReadingTypeBMS,
		BMS:  BMSReading(data),
	})
}

// VictronReading converts a device record into a reading holding only the
// measurements the device reported
func VictronReading(rec victron.DeviceRecord) *types.VictronReading {
	values := make(map[string]float64)
	set := func(ok bool, name string, v float64) {
		if ok {
			values[name] = v
		}
	}

	m := rec.Measurements
	set(m.HasVoltage, "voltage_volts", m.Voltage)
	set(m.HasCurrent, "current_amperes", m.Current)
	set(m.HasPower, "power_watts", m.Power)
	set(m.HasSOC, "state_of_charge_percent", m.SOC)
	set(m.HasTemperature, "temperature_celsius", m.Temperature)
	set(m.HasConsumedAh, "consumed_amp_hours", m.ConsumedAh)
	set(m.HasTimeToGo, "time_to_go_minutes", float64(m.TimeToGo))
	set(m.HasAuxVoltage, "aux_voltage_volts", m.AuxVoltage)
	set(m.HasMidVoltage, "midpoint_voltage_volts", m.MidVoltage)
	set(m.HasYieldToday, "yield_today_kwh", m.YieldToday)
	set(m.HasPVPower, "pv_power_watts", m.PVPower)
	set(m.HasLoadCurrent, "load_current_amperes", m.LoadCurrent)
	set(m.HasACOutVoltage, "ac_out_voltage_volts", m.ACOutVoltage)
	set(m.HasACOutCurrent, "ac_out_current_amperes", m.ACOutCurrent)
	set(m.HasACOutPower, "ac_out_power_watts", m.ACOutPower)
	set(m.HasInputVoltage, "input_voltage_volts", m.InputVoltage)
	set(m.HasOutputVoltage, "output_voltage_volts", m.OutputVoltage)

	values["device_state"] = float64(m.DeviceState)
	values["charger_error"] = float64(m.ChargerError)
	values["alarm_state"] = float64(m.AlarmState)
	values["off_reason"] = float64(m.OffReason)
	values["rssi_dbm"] = float64(rec.RSSI)

	return &types.VictronReading{
		Timestamp:  rec.LastUpdate,
		MAC:        rec.Address,
		DeviceName: rec.Name,
		Family:     rec.Family.String(),
		RSSI:       rec.RSSI,
		Values:     values,
	}
}

// BMSReading converts a BMS poll result into a reading
func BMSReading(d ecoworthy.Data) *types.BMSReading {
	ts := d.LastUpdate
	if ts.IsZero() {
		ts = time.Now()
	}
	return &types.BMSReading{
		Timestamp:      ts,
		MAC:            victron.NormalizeAddress(d.Address),
		Voltage:        d.Voltage,
		Current:        d.Current,
		Power:          d.Power,
		LevelPercent:   d.Level,
		HealthPercent:  d.Health,
		DesignCapacity: d.DesignCapacity,
		ProblemCode:    d.ProblemCode,
		CellVoltages:   append([]float64(nil), d.CellVoltages...),
		Temperatures:   append([]float64(nil), d.Temperatures...),
	}
}
