package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mjasion/balena-home/victron/pkg/types"
)

// BuildVictronTimeSeries builds one time series per device and reported value.
// Metric names are the value keys prefixed with "victron_".
func BuildVictronTimeSeries(ctx context.Context, readings []*types.Reading) ([]prompb.TimeSeries, error) {
	_, span := otel.Tracer("metrics").Start(ctx, "metrics.BuildVictronTimeSeries")
	defer span.End()

	type seriesKey struct {
		mac    string
		name   string
		family string
		metric string
	}
	grouped := make(map[seriesKey][]prompb.Sample)
	var order []seriesKey

	for _, r := range readings {
		if r.Type != types.ReadingTypeVictron || r.Victron == nil {
			continue
		}
		v := r.Victron

		for _, metric := range sortedKeys(v.Values) {
			key := seriesKey{mac: v.MAC, name: v.DeviceName, family: v.Family, metric: metric}
			if _, ok := grouped[key]; !ok {
				order = append(order, key)
			}
			grouped[key] = append(grouped[key], prompb.Sample{
				Value:     v.Values[metric],
				Timestamp: v.Timestamp.UnixMilli(),
			})
		}
	}

	if len(order) == 0 {
		span.SetStatus(codes.Ok, "no victron readings")
		return nil, nil
	}

	timeSeries := make([]prompb.TimeSeries, 0, len(order))
	for _, key := range order {
		timeSeries = append(timeSeries, prompb.TimeSeries{
			Labels: []prompb.Label{
				{Name: "__name__", Value: "victron_" + key.metric},
				{Name: "device_name", Value: key.name},
				{Name: "family", Value: key.family},
				{Name: "mac", Value: key.mac},
			},
			Samples: grouped[key],
		})
	}

	span.SetAttributes(attribute.Int("metrics.victron_time_series_count", len(timeSeries)))
	span.SetStatus(codes.Ok, "victron time series built")

	return timeSeries, nil
}

// BuildBMSTimeSeries builds time series for ECO-WORTHY BMS readings, with
// per-cell and per-sensor series labelled by index
func BuildBMSTimeSeries(ctx context.Context, readings []*types.Reading) ([]prompb.TimeSeries, error) {
	_, span := otel.Tracer("metrics").Start(ctx, "metrics.BuildBMSTimeSeries")
	defer span.End()

	type seriesKey struct {
		mac    string
		metric string
		index  string
	}
	grouped := make(map[seriesKey][]prompb.Sample)
	var order []seriesKey

	add := func(key seriesKey, value float64, ts int64) {
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], prompb.Sample{Value: value, Timestamp: ts})
	}

	for _, r := range readings {
		if r.Type != types.ReadingTypeBMS || r.BMS == nil {
			continue
		}
		b := r.BMS
		ts := b.Timestamp.UnixMilli()

		add(seriesKey{mac: b.MAC, metric: "bms_voltage_volts"}, b.Voltage, ts)
		add(seriesKey{mac: b.MAC, metric: "bms_current_amperes"}, b.Current, ts)
		add(seriesKey{mac: b.MAC, metric: "bms_power_watts"}, b.Power, ts)
		add(seriesKey{mac: b.MAC, metric: "bms_level_percent"}, b.LevelPercent, ts)
		add(seriesKey{mac: b.MAC, metric: "bms_health_percent"}, b.HealthPercent, ts)
		add(seriesKey{mac: b.MAC, metric: "bms_problem_code"}, float64(b.ProblemCode), ts)
		for i, v := range b.CellVoltages {
			add(seriesKey{mac: b.MAC, metric: "bms_cell_voltage_volts", index: fmt.Sprintf("%d", i+1)}, v, ts)
		}
		for i, t := range b.Temperatures {
			add(seriesKey{mac: b.MAC, metric: "bms_temperature_celsius", index: fmt.Sprintf("%d", i+1)}, t, ts)
		}
	}

	if len(order) == 0 {
		span.SetStatus(codes.Ok, "no bms readings")
		return nil, nil
	}

	timeSeries := make([]prompb.TimeSeries, 0, len(order))
	for _, key := range order {
		labels := []prompb.Label{
			{Name: "__name__", Value: key.metric},
			{Name: "mac", Value: key.mac},
		}
		if key.index != "" {
			name := "cell"
			if key.metric == "bms_temperature_celsius" {
				name = "sensor"
			}
			labels = append(labels, prompb.Label{Name: name, Value: key.index})
		}
		timeSeries = append(timeSeries, prompb.TimeSeries{Labels: labels, Samples: grouped[key]})
	}

	span.SetAttributes(attribute.Int("metrics.bms_time_series_count", len(timeSeries)))
	span.SetStatus(codes.Ok, "bms time series built")

	return timeSeries, nil
}

// BuildMetricTimeSeries builds Prometheus time series for generic metric readings
func BuildMetricTimeSeries(ctx context.Context, readings []*types.Reading) ([]prompb.TimeSeries, error) {
	_, span := otel.Tracer("metrics").Start(ctx, "metrics.BuildMetricTimeSeries")
	defer span.End()

	type metricKey struct {
		name   string
		labels string
	}
	grouped := make(map[metricKey][]*types.MetricReading)
	var order []metricKey

	for _, r := range readings {
		if r.Type != types.ReadingTypeMetric || r.Metric == nil {
			continue
		}
		key := metricKey{name: r.Metric.Name, labels: serializeLabels(r.Metric.Labels)}
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], r.Metric)
	}

	if len(order) == 0 {
		span.SetStatus(codes.Ok, "no metric readings")
		return nil, nil
	}

	timeSeries := make([]prompb.TimeSeries, 0, len(order))
	for _, key := range order {
		group := grouped[key]

		labels := []prompb.Label{{Name: "__name__", Value: key.name}}
		for _, k := range sortedKeys(group[0].Labels) {
			labels = append(labels, prompb.Label{Name: k, Value: group[0].Labels[k]})
		}

		samples := make([]prompb.Sample, 0, len(group))
		for _, r := range group {
			samples = append(samples, prompb.Sample{Value: r.Value, Timestamp: r.Timestamp.UnixMilli()})
		}

		timeSeries = append(timeSeries, prompb.TimeSeries{Labels: labels, Samples: samples})
	}

	span.SetAttributes(attribute.Int("metrics.generic_time_series_count", len(timeSeries)))
	span.SetStatus(codes.Ok, "generic time series built")

	return timeSeries, nil
}

// CombineBuilders combines multiple time series builders into one
func CombineBuilders(builders ...TimeSeriesBuilder) TimeSeriesBuilder {
	return func(ctx context.Context, readings []*types.Reading) ([]prompb.TimeSeries, error) {
		var all []prompb.TimeSeries

		for _, builder := range builders {
			if builder == nil {
				continue
			}

			timeSeries, err := builder(ctx, readings)
			if err != nil {
				return nil, err
			}
			all = append(all, timeSeries...)
		}

		return all, nil
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func serializeLabels(labels map[string]string) string {
	var b strings.Builder
	for _, k := range sortedKeys(labels) {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}
