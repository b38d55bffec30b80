package types

import "time"

// ReadingType identifies the type of metric reading
type ReadingType string

const (
	ReadingTypeVictron ReadingType = "victron"
	ReadingTypeBMS     ReadingType = "bms"
	ReadingTypeMetric  ReadingType = "metric"
)

// Reading is a union type that can hold different types of metric readings
type Reading struct {
	Type    ReadingType
	Victron *VictronReading
	BMS     *BMSReading
	Metric  *MetricReading
}

// VictronReading is a snapshot of one Victron device's valid measurements.
// Values only holds measurements the device actually reported.
type VictronReading struct {
	Timestamp  time.Time
	MAC        string
	DeviceName string
	Family     string
	RSSI       int16
	Values     map[string]float64
}

// BMSReading represents one ECO-WORTHY BMS poll
type BMSReading struct {
	Timestamp      time.Time
	MAC            string
	Voltage        float64
	Current        float64
	Power          float64
	LevelPercent   float64
	HealthPercent  float64
	DesignCapacity float64
	ProblemCode    uint16
	CellVoltages   []float64
	Temperatures   []float64
}

// MetricReading represents a generic metric reading
type MetricReading struct {
	Timestamp time.Time
	Name      string
	Value     float64
	Labels    map[string]string
}

// GetTimestamp returns the timestamp of the reading regardless of type
func (r *Reading) GetTimestamp() time.Time {
	switch r.Type {
	case ReadingTypeVictron:
		return r.Victron.Timestamp
	case ReadingTypeBMS:
		return r.BMS.Timestamp
	case ReadingTypeMetric:
		return r.Metric.Timestamp
	default:
		return time.Time{}
	}
}
