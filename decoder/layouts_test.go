package decoder

import (
	"errors"
	"math"
	"testing"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestDecodeShunt_VoltageAndCurrent(t *testing.T) {
	// 50.00 V, +1.000 A, aux mode none; everything else unavailable
	payload := []byte{0xFF, 0xFF, 0x88, 0x13, 0x00, 0x00, 0xFF, 0xFF, 0xA3, 0x0F, 0x00, 0xFF, 0xFF, 0xFF, 0xFF}
	v := Validator{MaxVoltage: 60, MaxTemperature: DefaultMaxTemperature}

	var m Measurements
	if err := DecodeShunt(payload, &m, v); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !m.HasVoltage || !approxEqual(m.Voltage, 50.0) {
		t.Errorf("Expected voltage 50.00, got %v (has=%v)", m.Voltage, m.HasVoltage)
	}
	if !m.HasCurrent || !approxEqual(m.Current, 1.0) {
		t.Errorf("Expected current 1.000, got %v (has=%v)", m.Current, m.HasCurrent)
	}
	if !m.HasPower || !approxEqual(m.Power, 50.0) {
		t.Errorf("Expected power 50.0, got %v (has=%v)", m.Power, m.HasPower)
	}

	if m.HasTimeToGo || m.HasConsumedAh || m.HasSOC || m.HasTemperature || m.HasAuxVoltage || m.HasMidVoltage {
		t.Errorf("Expected other fields to be unavailable, got %+v", m)
	}
	if m.AuxMode != AuxModeNone {
		t.Errorf("Expected aux mode none, got %d", m.AuxMode)
	}
}

func TestDecodeShunt_AllFields(t *testing.T) {
	payload := []byte{
		0x78, 0x00, // 120 min
		0x00, 0x05, // 12.80 V
		0x01, 0x00, // low voltage alarm
		0x77, 0x74, // 298.15 K
		0x62, 0xF0, 0xFF, // aux mode temperature, -1.000 A
		0x7B, 0x00, // 12.3 Ah
		0xB0, 0x36, // 87.5 %
	}

	var m Measurements
	if err := DecodeShunt(payload, &m, DefaultValidator()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !m.HasTimeToGo || m.TimeToGo != 120 {
		t.Errorf("Expected time to go 120, got %d", m.TimeToGo)
	}
	if !approxEqual(m.Voltage, 12.8) {
		t.Errorf("Expected voltage 12.8, got %v", m.Voltage)
	}
	if m.AlarmState != 1 {
		t.Errorf("Expected alarm 1, got %d", m.AlarmState)
	}
	if m.AuxMode != AuxModeTemperature {
		t.Errorf("Expected aux mode temperature, got %d", m.AuxMode)
	}
	if !m.HasTemperature || !approxEqual(m.Temperature, 25.0) {
		t.Errorf("Expected temperature 25.0, got %v", m.Temperature)
	}
	if !approxEqual(m.Current, -1.0) {
		t.Errorf("Expected current -1.0, got %v", m.Current)
	}
	if !approxEqual(m.Power, -12.8) {
		t.Errorf("Expected power -12.8, got %v", m.Power)
	}
	if !m.HasConsumedAh || !approxEqual(m.ConsumedAh, 12.3) {
		t.Errorf("Expected consumed 12.3 Ah, got %v", m.ConsumedAh)
	}
	if !m.HasSOC || !approxEqual(m.SOC, 87.5) {
		t.Errorf("Expected SOC 87.5, got %v", m.SOC)
	}
}

func TestDecodeShunt_AuxModes(t *testing.T) {
	base := func(aux0, aux1, mode byte) []byte {
		return []byte{0xFF, 0xFF, 0x00, 0x05, 0x00, 0x00, aux0, aux1, mode, 0x00, 0x00}
	}

	t.Run("starter voltage", func(t *testing.T) {
		var m Measurements
		if err := DecodeShunt(base(0xE8, 0x04, 0x00), &m, DefaultValidator()); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if !m.HasAuxVoltage || !approxEqual(m.AuxVoltage, 12.56) {
			t.Errorf("Expected aux voltage 12.56, got %v", m.AuxVoltage)
		}
	})

	t.Run("midpoint voltage", func(t *testing.T) {
		var m Measurements
		if err := DecodeShunt(base(0x80, 0x02, 0x01), &m, DefaultValidator()); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if !m.HasMidVoltage || !approxEqual(m.MidVoltage, 6.4) {
			t.Errorf("Expected mid voltage 6.4, got %v", m.MidVoltage)
		}
	})

	t.Run("temperature unavailable", func(t *testing.T) {
		var m Measurements
		if err := DecodeShunt(base(0xFF, 0xFF, 0x02), &m, DefaultValidator()); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if m.HasTemperature {
			t.Errorf("Expected temperature unavailable, got %v", m.Temperature)
		}
	})

	t.Run("temperature too hot", func(t *testing.T) {
		// 333.15 K = 60 °C
		var m Measurements
		err := DecodeShunt(base(0x23, 0x82, 0x02), &m, DefaultValidator())
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("Expected validation error, got %v", err)
		}
		if verr.Field != "temperature" {
			t.Errorf("Expected temperature field, got %s", verr.Field)
		}
	})
}

func TestDecodeShunt_ValidationShortCircuits(t *testing.T) {
	payload := []byte{0x78, 0x00, 0x88, 0x13, 0x00, 0x00, 0xFF, 0xFF, 0xA3, 0x0F, 0x00, 0x7B, 0x00, 0xB0, 0x36}

	var m Measurements
	err := DecodeShunt(payload, &m, DefaultValidator())
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if verr.Field != "voltage" || !approxEqual(verr.Value, 50.0) {
		t.Errorf("Unexpected validation error %+v", verr)
	}

	// fields before the failing one are set, nothing after it
	if !m.HasTimeToGo {
		t.Error("Expected time to go to be decoded before the failure")
	}
	if m.HasVoltage || m.HasCurrent || m.HasSOC {
		t.Errorf("Expected decode to stop at voltage, got %+v", m)
	}
}

func TestDecodeShunt_Truncated(t *testing.T) {
	tests := []struct {
		name        string
		payload     []byte
		wantVoltage bool
		wantCurrent bool
	}{
		{"empty", nil, false, false},
		{"time to go only", []byte{0x78, 0x00, 0x00}, false, false},
		{"up to voltage", []byte{0x78, 0x00, 0x00, 0x05}, true, false},
		{"current missing last byte", []byte{0x78, 0x00, 0x00, 0x05, 0x00, 0x00, 0xFF, 0xFF, 0xA3, 0x0F}, true, false},
		{"up to current", []byte{0x78, 0x00, 0x00, 0x05, 0x00, 0x00, 0xFF, 0xFF, 0xA3, 0x0F, 0x00}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Measurements
			if err := DecodeShunt(tt.payload, &m, DefaultValidator()); err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if m.HasVoltage != tt.wantVoltage {
				t.Errorf("Expected HasVoltage=%v, got %v", tt.wantVoltage, m.HasVoltage)
			}
			if m.HasCurrent != tt.wantCurrent {
				t.Errorf("Expected HasCurrent=%v, got %v", tt.wantCurrent, m.HasCurrent)
			}
			if m.HasSOC || m.HasConsumedAh {
				t.Error("Expected SOC and consumed Ah to be unavailable")
			}
		})
	}
}

func TestDecodeShunt_CurrentWithoutVoltage(t *testing.T) {
	payload := []byte{0xFF, 0xFF, 0xFF, 0x7F, 0x00, 0x00, 0xFF, 0xFF, 0xA3, 0x0F, 0x00}

	var m Measurements
	if err := DecodeShunt(payload, &m, DefaultValidator()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !m.HasCurrent {
		t.Error("Expected current to be decoded")
	}
	if m.HasVoltage || m.HasPower {
		t.Error("Expected voltage and power to be unavailable")
	}
}

func TestDecodeSolar(t *testing.T) {
	payload := []byte{
		0x03,       // bulk
		0x00,       // no error
		0x46, 0x05, // 13.50 V
		0x34, 0x00, // 5.2 A
		0x7B, 0x00, // 1.23 kWh
		0x4B, 0x00, // 75 W
		0x0F, 0x00, // 1.5 A load
		0xFF, 0xFF, 0xFF, 0xFF,
	}

	var m Measurements
	if err := DecodeSolar(payload, &m, DefaultValidator()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if m.DeviceState != 3 || m.ChargerError != 0 {
		t.Errorf("Expected state 3 error 0, got %d/%d", m.DeviceState, m.ChargerError)
	}
	if !approxEqual(m.Voltage, 13.5) {
		t.Errorf("Expected voltage 13.5, got %v", m.Voltage)
	}
	if !approxEqual(m.Current, 5.2) {
		t.Errorf("Expected current 5.2, got %v", m.Current)
	}
	if !m.HasPower || !approxEqual(m.Power, 13.5*5.2) {
		t.Errorf("Expected derived power, got %v", m.Power)
	}
	if !m.HasYieldToday || !approxEqual(m.YieldToday, 1.23) {
		t.Errorf("Expected yield 1.23, got %v", m.YieldToday)
	}
	if !m.HasPVPower || m.PVPower != 75 {
		t.Errorf("Expected PV power 75, got %v", m.PVPower)
	}
	if !m.HasLoadCurrent || !approxEqual(m.LoadCurrent, 1.5) {
		t.Errorf("Expected load current 1.5, got %v", m.LoadCurrent)
	}
}

func TestDecodeSolar_Sentinels(t *testing.T) {
	payload := []byte{0x00, 0x00, 0x46, 0x05, 0xFF, 0x7F, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}

	var m Measurements
	if err := DecodeSolar(payload, &m, DefaultValidator()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !m.HasVoltage {
		t.Error("Expected voltage to be decoded")
	}
	if m.HasCurrent || m.HasPower || m.HasYieldToday || m.HasPVPower || m.HasLoadCurrent {
		t.Errorf("Expected sentinel fields to be unavailable, got %+v", m)
	}
}

func TestDecodeDCDC(t *testing.T) {
	payload := []byte{
		0x03, 0x00,
		0xEC, 0x04, // 12.60 V in
		0x28, 0x05, // 13.20 V out
		0x01, 0x00, 0x00, 0x00, // no input power
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	}

	var m Measurements
	if err := DecodeDCDC(payload, &m, DefaultValidator()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !m.HasInputVoltage || !approxEqual(m.InputVoltage, 12.6) {
		t.Errorf("Expected input voltage 12.6, got %v", m.InputVoltage)
	}
	if !m.HasOutputVoltage || !approxEqual(m.OutputVoltage, 13.2) {
		t.Errorf("Expected output voltage 13.2, got %v", m.OutputVoltage)
	}
	if !m.HasVoltage || m.Voltage != m.OutputVoltage {
		t.Errorf("Expected voltage to mirror output voltage, got %v", m.Voltage)
	}
	if m.OffReason != 1 {
		t.Errorf("Expected off reason 1, got %d", m.OffReason)
	}
}

func TestDecodeDCDC_InputRejected(t *testing.T) {
	payload := []byte{0x03, 0x00, 0xB9, 0x0B, 0x28, 0x05}

	var m Measurements
	err := DecodeDCDC(payload, &m, DefaultValidator())
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if verr.Field != "input voltage" {
		t.Errorf("Expected input voltage field, got %s", verr.Field)
	}
	if m.HasOutputVoltage {
		t.Error("Expected output voltage to be skipped after the failure")
	}
}

func TestDecode_Dispatch(t *testing.T) {
	payload := []byte{0x03, 0x00, 0xEC, 0x04, 0x28, 0x05}

	var m Measurements
	records, skipped, err := Decode(LayoutDCDC, payload, &m, DefaultValidator())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if records != nil || skipped != 0 {
		t.Errorf("Expected no records from a fixed layout, got %d/%d", len(records), skipped)
	}
	if !m.HasInputVoltage {
		t.Error("Expected DC-DC decoder to run")
	}

	if _, _, err := Decode(Layout(42), payload, &m, DefaultValidator()); err == nil {
		t.Error("Expected error for unknown layout")
	}
}

func TestLayout_String(t *testing.T) {
	tests := map[Layout]string{
		LayoutGeneric: "generic",
		LayoutShunt:   "shunt",
		LayoutSolar:   "solar",
		LayoutDCDC:    "dcdc",
	}
	for layout, want := range tests {
		if got := layout.String(); got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}
}
