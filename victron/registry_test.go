package victron

import (
	"sync"
	"testing"
	"time"

	"github.com/mjasion/balena-home/victron/decoder"
)

func validShuntRecord(addr string, volts, soc float64) DeviceRecord {
	return DeviceRecord{
		Name:    "SmartShunt",
		Address: addr,
		Family:  FamilySmartShunt,
		Measurements: decoder.Measurements{
			Voltage:    volts,
			HasVoltage: true,
			SOC:        soc,
			HasSOC:     true,
		},
		RSSI:       -70,
		LastUpdate: time.Now(),
		DataValid:  true,
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := map[string]string{
		"aa:bb:cc:dd:ee:ff":    "AA:BB:CC:DD:EE:FF",
		"  aa-bb-cc-dd-ee-ff ": "AA:BB:CC:DD:EE:FF",
		"AA:BB:CC:DD:EE:FF":    "AA:BB:CC:DD:EE:FF",
		"":                     "",
	}
	for in, want := range tests {
		if got := NormalizeAddress(in); got != want {
			t.Errorf("NormalizeAddress(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestRegistry_CommitInsert(t *testing.T) {
	reg := NewRegistry(true)

	if reg.HasDevices() {
		t.Fatal("Expected empty registry")
	}

	reg.Commit(validShuntRecord("aa:bb:cc:dd:ee:ff", 12.8, 90))

	if reg.DeviceCount() != 1 {
		t.Fatalf("Expected 1 device, got %d", reg.DeviceCount())
	}
	rec, ok := reg.Device("AA-BB-CC-DD-EE-FF")
	if !ok {
		t.Fatal("Expected device to be found by any address spelling")
	}
	if rec.Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Expected normalized address, got %s", rec.Address)
	}
	if rec.Voltage != 12.8 {
		t.Errorf("Expected voltage 12.8, got %v", rec.Voltage)
	}
}

func TestRegistry_RetainKeepsLastGood(t *testing.T) {
	reg := NewRegistry(true)
	addr := "AA:BB:CC:DD:EE:FF"

	reg.Commit(validShuntRecord(addr, 12.8, 90))

	later := time.Now().Add(time.Minute)
	reg.Commit(DeviceRecord{
		Address:      addr,
		RSSI:         -80,
		LastUpdate:   later,
		Encrypted:    true,
		DataValid:    false,
		ErrorMessage: "invalid voltage 50.00 (limit 30.00)",
		Measurements: decoder.Measurements{Voltage: 50, HasVoltage: true},
	})

	rec, _ := reg.Device(addr)
	if rec.Voltage != 12.8 || rec.SOC != 90 {
		t.Errorf("Expected previous measurements to survive, got V=%v SOC=%v", rec.Voltage, rec.SOC)
	}
	if !rec.DataValid {
		t.Error("Expected record to stay valid")
	}
	if rec.ErrorMessage == "" {
		t.Error("Expected diagnostic to be refreshed")
	}
	if rec.RSSI != -80 || !rec.LastUpdate.Equal(later) || !rec.Encrypted {
		t.Errorf("Expected provenance to follow the latest frame, got %+v", rec)
	}
	if rec.Name != "SmartShunt" || rec.Family != FamilySmartShunt {
		t.Errorf("Expected identity to be kept, got %q/%s", rec.Name, rec.Family)
	}
}

func TestRegistry_RetainMergesPartialUpdate(t *testing.T) {
	reg := NewRegistry(true)
	addr := "AA:BB:CC:DD:EE:FF"

	reg.Commit(validShuntRecord(addr, 12.8, 90))
	reg.Commit(DeviceRecord{
		Address:      addr,
		Family:       FamilySmartShunt,
		DataValid:    true,
		Measurements: decoder.Measurements{Current: -2.5, HasCurrent: true, AlarmState: 2},
	})

	rec, _ := reg.Device(addr)
	if !rec.HasVoltage || rec.Voltage != 12.8 {
		t.Errorf("Expected voltage to be kept, got %v", rec.Voltage)
	}
	if !rec.HasCurrent || rec.Current != -2.5 {
		t.Errorf("Expected current to be merged, got %v", rec.Current)
	}
	if rec.AlarmState != 2 {
		t.Errorf("Expected alarm to be copied, got %d", rec.AlarmState)
	}
	if rec.ErrorMessage != "" {
		t.Errorf("Expected diagnostic to be cleared, got %q", rec.ErrorMessage)
	}
}

func TestRegistry_ReplaceWhenNotRetaining(t *testing.T) {
	reg := NewRegistry(false)
	addr := "AA:BB:CC:DD:EE:FF"

	reg.Commit(validShuntRecord(addr, 12.8, 90))
	reg.Commit(DeviceRecord{Address: addr, DataValid: false, ErrorMessage: "boom"})

	rec, _ := reg.Device(addr)
	if rec.HasVoltage || rec.DataValid || rec.Name != "" {
		t.Errorf("Expected record to be replaced, got %+v", rec)
	}

	reg.SetRetainLastData(true)
	if !reg.RetainLastData() {
		t.Error("Expected retention to be enabled")
	}
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	reg := NewRegistry(true)
	addr := "AA:BB:CC:DD:EE:FF"

	rec := validShuntRecord(addr, 12.8, 90)
	rec.RawData = []byte{0xE1, 0x02}
	reg.Commit(rec)
	rec.RawData[0] = 0x00

	got, _ := reg.Device(addr)
	if got.RawData[0] != 0xE1 {
		t.Error("Expected registry to own its raw data")
	}

	got.RawData[0] = 0x00
	devices := reg.Devices()
	if devices[addr].RawData[0] != 0xE1 {
		t.Error("Expected Device to return a copy")
	}
}

func TestRegistry_Addresses(t *testing.T) {
	reg := NewRegistry(true)
	reg.Commit(validShuntRecord("CC:00:00:00:00:01", 12, 50))
	reg.Commit(validShuntRecord("AA:00:00:00:00:01", 12, 50))
	reg.Commit(validShuntRecord("BB:00:00:00:00:01", 12, 50))

	addrs := reg.Addresses()
	want := []string{"AA:00:00:00:00:01", "BB:00:00:00:00:01", "CC:00:00:00:00:01"}
	if len(addrs) != len(want) {
		t.Fatalf("Expected %d addresses, got %d", len(want), len(addrs))
	}
	for i := range want {
		if addrs[i] != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, addrs[i])
		}
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry(true)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Commit(validShuntRecord("AA:BB:CC:DD:EE:FF", float64(j%30), float64(i)))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = reg.Devices()
				_ = reg.Addresses()
			}
		}()
	}

	wg.Wait()

	if reg.DeviceCount() != 1 {
		t.Errorf("Expected 1 device, got %d", reg.DeviceCount())
	}
}

func TestKeyStore(t *testing.T) {
	keys := NewKeyStore()

	keys.SetEncryptionKey("aa-bb-cc-dd-ee-ff", "  0123456789abcdef0123456789abcdef ")

	key, ok := keys.EncryptionKey("AA:BB:CC:DD:EE:FF")
	if !ok {
		t.Fatal("Expected key to be found")
	}
	if key != "0123456789abcdef0123456789abcdef" {
		t.Errorf("Expected trimmed key, got %q", key)
	}
	if keys.Len() != 1 {
		t.Errorf("Expected 1 key, got %d", keys.Len())
	}

	keys.ClearEncryptionKeys()
	if _, ok := keys.EncryptionKey("AA:BB:CC:DD:EE:FF"); ok {
		t.Error("Expected keys to be cleared")
	}
}
