package decoder

import "testing"

func TestMergeFrom_PartialACOutput(t *testing.T) {
	stored := Measurements{
		ACOutVoltage: 230, HasACOutVoltage: true,
		ACOutCurrent: 1.5, HasACOutCurrent: true,
		ACOutPower: 345, HasACOutPower: true,
	}

	// a frame that only carried the AC output voltage record
	var fresh Measurements
	if _, _, err := DecodeRecords([]byte{0x11, 0x02, 0xA0, 0x5A}, &fresh, DefaultValidator()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !fresh.HasACOutVoltage || fresh.HasACOutCurrent || fresh.HasACOutPower {
		t.Fatalf("Expected only the voltage flag, got %+v", fresh)
	}

	stored.MergeFrom(&fresh)

	if !approxEqual(stored.ACOutVoltage, 232) {
		t.Errorf("Expected voltage 232, got %v", stored.ACOutVoltage)
	}
	if stored.ACOutCurrent != 1.5 || stored.ACOutPower != 345 {
		t.Errorf("Expected current and power to be kept, got %v/%v", stored.ACOutCurrent, stored.ACOutPower)
	}
}

func TestMergeFrom_StatusAlwaysCopied(t *testing.T) {
	stored := Measurements{Voltage: 12.5, HasVoltage: true, DeviceState: 3, AlarmState: 1}
	stored.MergeFrom(&Measurements{DeviceState: 5})

	if stored.Voltage != 12.5 || !stored.HasVoltage {
		t.Errorf("Expected voltage to be kept, got %+v", stored)
	}
	if stored.DeviceState != 5 || stored.AlarmState != 0 {
		t.Errorf("Expected status codes from the fresh decode, got %d/%d", stored.DeviceState, stored.AlarmState)
	}
}
