package decoder

// AuxMode selects how the shunt auxiliary input field is interpreted
type AuxMode uint8

const (
	AuxModeVoltage     AuxMode = 0
	AuxModeMidpoint    AuxMode = 1
	AuxModeTemperature AuxMode = 2
	AuxModeNone        AuxMode = 3
)

// Measurements holds every value a payload decoder can produce.
// A value is only meaningful when its Has flag is set; the flagless fields
// at the bottom are status codes that every decode pass writes.
type Measurements struct {
	Voltage    float64 // V
	HasVoltage bool

	Current    float64 // A
	HasCurrent bool

	Power    float64 // W
	HasPower bool

	SOC    float64 // %
	HasSOC bool

	Temperature    float64 // °C
	HasTemperature bool

	ConsumedAh    float64 // Ah
	HasConsumedAh bool

	TimeToGo    int // minutes
	HasTimeToGo bool

	AuxVoltage    float64 // V, starter battery
	HasAuxVoltage bool

	MidVoltage    float64 // V
	HasMidVoltage bool

	YieldToday    float64 // kWh
	HasYieldToday bool

	PVPower    float64 // W
	HasPVPower bool

	LoadCurrent    float64 // A
	HasLoadCurrent bool

	ACOutVoltage    float64 // V
	HasACOutVoltage bool

	ACOutCurrent    float64 // A
	HasACOutCurrent bool

	ACOutPower    float64 // W
	HasACOutPower bool

	InputVoltage    float64 // V
	HasInputVoltage bool

	OutputVoltage    float64 // V
	HasOutputVoltage bool

	AuxMode      AuxMode
	DeviceState  uint8
	ChargerError uint8
	AlarmState   uint16
	OffReason    uint32
	RelayState   uint8
}

// derivePower fills in power from voltage and current when the payload did not carry it
func (m *Measurements) derivePower() {
	if m.HasPower || !m.HasVoltage || !m.HasCurrent {
		return
	}
	m.Power = m.Voltage * m.Current
	m.HasPower = true
}

// MergeFrom copies the measurements available in src into m.
// Flagged values are copied only when src has them; status codes are always copied.
func (m *Measurements) MergeFrom(src *Measurements) {
	if src.HasVoltage {
		m.Voltage, m.HasVoltage = src.Voltage, true
	}
	if src.HasCurrent {
		m.Current, m.HasCurrent = src.Current, true
	}
	if src.HasPower {
		m.Power, m.HasPower = src.Power, true
	}
	if src.HasSOC {
		m.SOC, m.HasSOC = src.SOC, true
	}
	if src.HasTemperature {
		m.Temperature, m.HasTemperature = src.Temperature, true
	}
	if src.HasConsumedAh {
		m.ConsumedAh, m.HasConsumedAh = src.ConsumedAh, true
	}
	if src.HasTimeToGo {
		m.TimeToGo, m.HasTimeToGo = src.TimeToGo, true
	}
	if src.HasAuxVoltage {
		m.AuxVoltage, m.HasAuxVoltage = src.AuxVoltage, true
	}
	if src.HasMidVoltage {
		m.MidVoltage, m.HasMidVoltage = src.MidVoltage, true
	}
	if src.HasYieldToday {
		m.YieldToday, m.HasYieldToday = src.YieldToday, true
	}
	if src.HasPVPower {
		m.PVPower, m.HasPVPower = src.PVPower, true
	}
	if src.HasLoadCurrent {
		m.LoadCurrent, m.HasLoadCurrent = src.LoadCurrent, true
	}
	if src.HasACOutVoltage {
		m.ACOutVoltage, m.HasACOutVoltage = src.ACOutVoltage, true
	}
	if src.HasACOutCurrent {
		m.ACOutCurrent, m.HasACOutCurrent = src.ACOutCurrent, true
	}
	if src.HasACOutPower {
		m.ACOutPower, m.HasACOutPower = src.ACOutPower, true
	}
	if src.HasInputVoltage {
		m.InputVoltage, m.HasInputVoltage = src.InputVoltage, true
	}
	if src.HasOutputVoltage {
		m.OutputVoltage, m.HasOutputVoltage = src.OutputVoltage, true
	}

	m.AuxMode = src.AuxMode
	m.DeviceState = src.DeviceState
	m.ChargerError = src.ChargerError
	m.AlarmState = src.AlarmState
	m.OffReason = src.OffReason
	m.RelayState = src.RelayState
}
