package decoder

import "fmt"

// Layout identifies a fixed payload structure
type Layout int

const (
	LayoutGeneric Layout = iota
	LayoutShunt
	LayoutSolar
	LayoutDCDC
)

// String returns the layout name
func (l Layout) String() string {
	switch l {
	case LayoutShunt:
		return "shunt"
	case LayoutSolar:
		return "solar"
	case LayoutDCDC:
		return "dcdc"
	default:
		return "generic"
	}
}

// Nominal payload sizes of the fixed layouts
const (
	ShuntPayloadLen = 15
	SolarPayloadLen = 16
	DCDCPayloadLen  = 16
)

// Reserved raw values meaning "not available"
const (
	naUnsigned9  = 0x1FF
	naUnsigned10 = 0x3FF
	naSigned16   = 0x7FFF
	naUnsigned16 = 0xFFFF
	naUnsigned20 = 0xFFFFF
	naSigned22   = 0x1FFFFF
)

// Decode dispatches payload to the decoder for layout.
// Generic payloads are walked as a record stream and their records returned
// along with the number of oversized records that were dropped.
func Decode(layout Layout, payload []byte, m *Measurements, v Validator) ([]Record, int, error) {
	switch layout {
	case LayoutShunt:
		return nil, 0, DecodeShunt(payload, m, v)
	case LayoutSolar:
		return nil, 0, DecodeSolar(payload, m, v)
	case LayoutDCDC:
		return nil, 0, DecodeDCDC(payload, m, v)
	case LayoutGeneric:
		return DecodeRecords(payload, m, v)
	default:
		return nil, 0, fmt.Errorf("unknown payload layout %d", layout)
	}
}

// DecodeShunt decodes the battery monitor layout (15 bytes):
//
//	0-1   time to go, minutes
//	2-3   battery voltage, 0.01 V signed
//	4-5   alarm bitmask
//	6-7   aux value, meaning selected by bits 0-1 of byte 8
//	8-10  battery current, 22 bits from bit 2 of byte 8, 0.001 A signed
//	11-13 consumed Ah, 20 bits, 0.1 Ah
//	13-14 state of charge, 10 bits from bit 4 of byte 13, 0.1 %
func DecodeShunt(payload []byte, m *Measurements, v Validator) error {
	n := len(payload)

	if n >= 2 {
		if raw := Unsigned16(payload, 0); raw != naUnsigned16 {
			m.TimeToGo = int(raw)
			m.HasTimeToGo = true
		}
	}

	if n >= 4 {
		if raw := Signed16(payload, 2); raw != naSigned16 {
			volts := float64(raw) / 100
			if err := v.checkVoltage("voltage", volts); err != nil {
				return err
			}
			m.Voltage = volts
			m.HasVoltage = true
		}
	}

	if n >= 6 {
		m.AlarmState = Unsigned16(payload, 4)
	}

	if n >= 9 {
		m.AuxMode = AuxMode(payload[8] & 0x03)
		switch m.AuxMode {
		case AuxModeVoltage:
			if raw := Signed16(payload, 6); raw != naSigned16 {
				m.AuxVoltage = float64(raw) / 100
				m.HasAuxVoltage = true
			}
		case AuxModeMidpoint:
			if raw := Unsigned16(payload, 6); raw != naUnsigned16 {
				m.MidVoltage = float64(raw) / 100
				m.HasMidVoltage = true
			}
		case AuxModeTemperature:
			if raw := Unsigned16(payload, 6); raw != naUnsigned16 {
				celsius := float64(raw)/100 - 273.15
				if err := v.checkTemperature(celsius); err != nil {
					return err
				}
				m.Temperature = celsius
				m.HasTemperature = true
			}
		}
	}

	if n >= 11 {
		if Unsigned22(payload, 8) != naSigned22 {
			m.Current = float64(Signed22(payload, 8)) / 1000
			m.HasCurrent = true
			if m.HasVoltage {
				m.Power = m.Voltage * m.Current
				m.HasPower = true
			}
		}
	}

	if n >= 14 {
		if raw := Unsigned20(payload, 11); raw != naUnsigned20 {
			m.ConsumedAh = float64(raw) / 10
			m.HasConsumedAh = true
		}
	}

	if n >= 15 {
		if raw := Unsigned10(payload, 13); raw != naUnsigned10 {
			m.SOC = float64(raw) / 10
			m.HasSOC = true
		}
	}

	return nil
}

// DecodeSolar decodes the solar charger layout (16 bytes):
//
//	0     device state
//	1     charger error
//	2-3   battery voltage, 0.01 V signed
//	4-5   battery current, 0.1 A signed
//	6-7   yield today, 0.01 kWh
//	8-9   PV power, W
//	10-11 load current, 9 bits, 0.1 A
func DecodeSolar(payload []byte, m *Measurements, v Validator) error {
	n := len(payload)

	if n >= 1 {
		m.DeviceState = payload[0]
	}
	if n >= 2 {
		m.ChargerError = payload[1]
	}

	if n >= 4 {
		if raw := Signed16(payload, 2); raw != naSigned16 {
			volts := float64(raw) / 100
			if err := v.checkVoltage("voltage", volts); err != nil {
				return err
			}
			m.Voltage = volts
			m.HasVoltage = true
		}
	}

	if n >= 6 {
		if raw := Signed16(payload, 4); raw != naSigned16 {
			m.Current = float64(raw) / 10
			m.HasCurrent = true
			if m.HasVoltage {
				m.Power = m.Voltage * m.Current
				m.HasPower = true
			}
		}
	}

	if n >= 8 {
		if raw := Unsigned16(payload, 6); raw != naUnsigned16 {
			m.YieldToday = float64(raw) / 100
			m.HasYieldToday = true
		}
	}

	if n >= 10 {
		if raw := Unsigned16(payload, 8); raw != naUnsigned16 {
			m.PVPower = float64(raw)
			m.HasPVPower = true
		}
	}

	if n >= 12 {
		if raw := Unsigned9(payload, 10); raw != naUnsigned9 {
			m.LoadCurrent = float64(raw) / 10
			m.HasLoadCurrent = true
		}
	}

	return nil
}

// DecodeDCDC decodes the DC-DC converter layout (16 bytes):
//
//	0     device state
//	1     charger error
//	2-3   input voltage, 0.01 V
//	4-5   output voltage, 0.01 V signed
//	6-9   off reason bitmask
func DecodeDCDC(payload []byte, m *Measurements, v Validator) error {
	n := len(payload)

	if n >= 1 {
		m.DeviceState = payload[0]
	}
	if n >= 2 {
		m.ChargerError = payload[1]
	}

	if n >= 4 {
		if raw := Unsigned16(payload, 2); raw != naUnsigned16 {
			volts := float64(raw) / 100
			if err := v.checkVoltage("input voltage", volts); err != nil {
				return err
			}
			m.InputVoltage = volts
			m.HasInputVoltage = true
		}
	}

	if n >= 6 {
		if raw := Signed16(payload, 4); raw != naSigned16 {
			volts := float64(raw) / 100
			if err := v.checkVoltage("output voltage", volts); err != nil {
				return err
			}
			m.OutputVoltage = volts
			m.HasOutputVoltage = true
			// output side is what gets displayed as the device voltage
			m.Voltage = volts
			m.HasVoltage = true
		}
	}

	if n >= 10 {
		m.OffReason = Unsigned32(payload, 6)
	}

	return nil
}
