package decoder

// MaxRecordDataLen is the largest record body kept in the decoded record list
const MaxRecordDataLen = 8

// Record type codes of the generic type-length-value stream
const (
	RecordBatteryVoltage uint8 = 0x01
	RecordBatteryCurrent uint8 = 0x02
	RecordVoltage        uint8 = 0x03
	RecordCurrent        uint8 = 0x04
	RecordPower          uint8 = 0x05
	RecordSOC            uint8 = 0x06
	RecordTemperature    uint8 = 0x07
	RecordBatteryTemp    uint8 = 0x08
	RecordChargerVoltage uint8 = 0x09
	RecordChargerCurrent uint8 = 0x0A
	RecordDeviceState    uint8 = 0x0B
	RecordChargerError   uint8 = 0x0C
	RecordConsumedAh     uint8 = 0x0D
	RecordTimeToGo       uint8 = 0x0E
	RecordAlarm          uint8 = 0x0F
	RecordRelayState     uint8 = 0x10
	RecordACOutVoltage   uint8 = 0x11
	RecordACOutCurrent   uint8 = 0x12
	RecordACOutPower     uint8 = 0x13
	RecordInputVoltage   uint8 = 0x14
	RecordOutputVoltage  uint8 = 0x15
	RecordOffReason      uint8 = 0x16
)

const (
	recordHeaderLen = 2
	kelvinOffset    = 273.15
)

// Record is one parsed entry of a generic payload
type Record struct {
	Type   uint8
	Length uint8
	Data   []byte
}

// DecodeRecords walks a TLV stream and applies every known record to m.
//
// The walk stops silently at a truncated record. Records longer than
// MaxRecordDataLen are stepped over and counted in skipped instead of being
// returned. A record that fails validation stops the walk and its error is
// returned together with the records parsed so far.
func DecodeRecords(stream []byte, m *Measurements, v Validator) (records []Record, skipped int, err error) {
	for i := 0; i+recordHeaderLen <= len(stream); {
		typ := stream[i]
		length := int(stream[i+1])
		start := i + recordHeaderLen
		end := start + length
		if end > len(stream) {
			break
		}
		i = end

		if length > MaxRecordDataLen {
			skipped++
			continue
		}

		data := make([]byte, length)
		copy(data, stream[start:end])
		records = append(records, Record{Type: typ, Length: uint8(length), Data: data})

		if length == 0 || length > 4 {
			continue
		}
		if err := applyRecord(typ, data, m, v); err != nil {
			return records, skipped, err
		}
	}

	m.derivePower()
	return records, skipped, nil
}

func applyRecord(typ uint8, data []byte, m *Measurements, v Validator) error {
	switch typ {
	case RecordBatteryVoltage, RecordVoltage, RecordChargerVoltage:
		volts := DecodeValue(data, 0.01)
		if err := v.checkVoltage("voltage", volts); err != nil {
			return err
		}
		m.Voltage, m.HasVoltage = volts, true
	case RecordBatteryCurrent, RecordCurrent, RecordChargerCurrent:
		m.Current, m.HasCurrent = DecodeValue(data, 0.001), true
	case RecordPower:
		m.Power, m.HasPower = DecodeValue(data, 1), true
	case RecordSOC:
		m.SOC, m.HasSOC = DecodeValue(data, 0.01), true
	case RecordTemperature, RecordBatteryTemp:
		celsius := DecodeValue(data, 0.01) - kelvinOffset
		if err := v.checkTemperature(celsius); err != nil {
			return err
		}
		m.Temperature, m.HasTemperature = celsius, true
	case RecordDeviceState:
		m.DeviceState = uint8(decodeUnsigned(data))
	case RecordChargerError:
		m.ChargerError = uint8(decodeUnsigned(data))
	case RecordConsumedAh:
		m.ConsumedAh, m.HasConsumedAh = DecodeValue(data, 0.1), true
	case RecordTimeToGo:
		m.TimeToGo, m.HasTimeToGo = int(DecodeValue(data, 1)), true
	case RecordAlarm:
		m.AlarmState = uint16(decodeUnsigned(data))
	case RecordRelayState:
		m.RelayState = uint8(decodeUnsigned(data))
	case RecordACOutVoltage:
		m.ACOutVoltage, m.HasACOutVoltage = DecodeValue(data, 0.01), true
	case RecordACOutCurrent:
		m.ACOutCurrent, m.HasACOutCurrent = DecodeValue(data, 0.1), true
	case RecordACOutPower:
		m.ACOutPower, m.HasACOutPower = DecodeValue(data, 1), true
	case RecordInputVoltage:
		volts := DecodeValue(data, 0.01)
		if err := v.checkVoltage("input voltage", volts); err != nil {
			return err
		}
		m.InputVoltage, m.HasInputVoltage = volts, true
	case RecordOutputVoltage:
		volts := DecodeValue(data, 0.01)
		if err := v.checkVoltage("output voltage", volts); err != nil {
			return err
		}
		m.OutputVoltage, m.HasOutputVoltage = volts, true
	case RecordOffReason:
		m.OffReason = decodeUnsigned(data)
	}
	return nil
}

// DecodeValue interprets 1 to 4 little-endian bytes as a signed integer,
// sign-extended from the most significant byte, and multiplies it by scale.
// Any other length yields 0.
func DecodeValue(data []byte, scale float64) float64 {
	n := len(data)
	if n < 1 || n > 4 {
		return 0
	}
	raw := decodeUnsigned(data)
	if data[n-1]&0x80 != 0 && n < 4 {
		raw |= ^uint32(0) << (8 * n)
	}
	return float64(int32(raw)) * scale
}

func decodeUnsigned(data []byte) uint32 {
	var raw uint32
	for i := 0; i < len(data) && i < 4; i++ {
		raw |= uint32(data[i]) << (8 * i)
	}
	return raw
}
