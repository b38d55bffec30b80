package ecoworthy

import (
	"math"
	"testing"

	"github.com/pkg/errors"
)

func withCRC(buf []byte) []byte {
	crc := Checksum(buf)
	return append(buf, byte(crc), byte(crc>>8))
}

func put16(buf []byte, off int, v uint16) {
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
}

// statusPacket builds an A1 notification: 13.28 V, -5.5 A, 87 %, 100 % health, 100 Ah
func statusPacket(prefix []byte) []byte {
	data := make([]byte, 53)
	put16(data, 16, 87)
	put16(data, 18, 100)
	put16(data, 20, 1328)
	put16(data, 22, uint16(0xFFFF-550+1))
	put16(data, 26, 10000)
	put16(data, 51, 0x0004)

	buf := append([]byte(nil), prefix...)
	buf = append(buf, HeaderA1)
	buf = append(buf, data...)
	return withCRC(buf)
}

// cellPacket builds an A2 notification with four cells and two sensors
func cellPacket() []byte {
	data := make([]byte, 86)
	put16(data, 14, 4)
	for i, mv := range []uint16{3320, 3321, 3319, 3322} {
		put16(data, 16+2*i, mv)
	}
	put16(data, 80, 2)
	put16(data, 82, 215)
	put16(data, 84, uint16(0xFFFF-25+1))

	return withCRC(append([]byte{HeaderA2}, data...))
}

func TestChecksum(t *testing.T) {
	if got := Checksum([]byte("123456789")); got != 0x4B37 {
		t.Errorf("Expected 0x4B37, got %#04x", got)
	}
}

func TestIsDevice(t *testing.T) {
	tests := map[string]bool{
		"ECO-WORTHY 02_1A2B": true,
		"DCHOUSE-12V100":     true,
		"BMS ECO-WORTHY 02_": true,
		"eco-worthy":         false,
		"SmartShunt":         false,
		"":                   false,
	}
	for name, want := range tests {
		if got := IsDevice(name); got != want {
			t.Errorf("IsDevice(%q): expected %v, got %v", name, want, got)
		}
	}
}

func TestParsePacket_Status(t *testing.T) {
	packet, err := ParsePacket(statusPacket(nil), nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if packet.Header != HeaderA1 {
		t.Errorf("Expected A1 header, got %#x", packet.Header)
	}
	if len(packet.Data) != 53 {
		t.Errorf("Expected 53 data bytes, got %d", len(packet.Data))
	}
}

func TestParsePacket_MACPrefix(t *testing.T) {
	mac, err := ParseMAC("aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	packet, err := ParsePacket(statusPacket(mac), mac)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if packet.Header != HeaderA1 || len(packet.Data) != 53 {
		t.Errorf("Unexpected packet %#x/%d", packet.Header, len(packet.Data))
	}

	// without knowing the MAC the prefix is read as a header
	if _, err := ParsePacket(statusPacket(mac), nil); !errors.Is(err, ErrUnknownHeader) {
		t.Errorf("Expected ErrUnknownHeader, got %v", err)
	}
}

func TestParsePacket_Errors(t *testing.T) {
	corrupted := statusPacket(nil)
	corrupted[10] ^= 0xFF

	tests := []struct {
		name string
		buf  []byte
		want error
	}{
		{"too short", []byte{HeaderA1, 0x00}, ErrPacketTooShort},
		{"unknown header", withCRC([]byte{0xB0, 0x01, 0x02}), ErrUnknownHeader},
		{"bad checksum", corrupted, ErrChecksum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePacket(tt.buf, nil); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestData_ApplyStatus(t *testing.T) {
	packet, err := ParsePacket(statusPacket(nil), nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var d Data
	if err := d.Apply(packet); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if d.Level != 87 || d.Health != 100 {
		t.Errorf("Expected level 87 health 100, got %v/%v", d.Level, d.Health)
	}
	if d.Voltage != 13.28 {
		t.Errorf("Expected voltage 13.28, got %v", d.Voltage)
	}
	if d.Current != -5.5 {
		t.Errorf("Expected current -5.5, got %v", d.Current)
	}
	if math.Abs(d.Power-(-73.04)) > 1e-9 {
		t.Errorf("Expected power -73.04, got %v", d.Power)
	}
	if d.DesignCapacity != 100 {
		t.Errorf("Expected capacity 100, got %v", d.DesignCapacity)
	}
	if d.ProblemCode != 4 {
		t.Errorf("Expected problem code 4, got %d", d.ProblemCode)
	}
	if !d.HasStatus || d.HasCells {
		t.Error("Expected only the status flag")
	}
}

func TestData_ApplyStatus_NoProblemCode(t *testing.T) {
	data := make([]byte, 52)
	put16(data, 20, 1200)
	packet, err := ParsePacket(withCRC(append([]byte{HeaderA1}, data...)), nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	d := Data{ProblemCode: 9}
	if err := d.Apply(packet); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if d.ProblemCode != 9 {
		t.Errorf("Expected problem code untouched, got %d", d.ProblemCode)
	}
}

func TestData_ApplyStatus_TooShort(t *testing.T) {
	packet, err := ParsePacket(withCRC(append([]byte{HeaderA1}, make([]byte, 40)...)), nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var d Data
	if err := d.Apply(packet); !errors.Is(err, ErrPacketTooShort) {
		t.Errorf("Expected ErrPacketTooShort, got %v", err)
	}
	if d.HasStatus {
		t.Error("Expected status flag to stay unset")
	}
}

func TestData_ApplyCells(t *testing.T) {
	packet, err := ParsePacket(cellPacket(), nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var d Data
	if err := d.Apply(packet); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	wantCells := []float64{3.32, 3.321, 3.319, 3.322}
	if len(d.CellVoltages) != len(wantCells) {
		t.Fatalf("Expected %d cells, got %d", len(wantCells), len(d.CellVoltages))
	}
	for i, want := range wantCells {
		if math.Abs(d.CellVoltages[i]-want) > 1e-9 {
			t.Errorf("Cell %d: expected %v, got %v", i, want, d.CellVoltages[i])
		}
	}

	if len(d.Temperatures) != 2 || d.Temperatures[0] != 21.5 || d.Temperatures[1] != -2.5 {
		t.Errorf("Unexpected temperatures %v", d.Temperatures)
	}
}

func TestData_ApplyCells_Caps(t *testing.T) {
	data := make([]byte, 100)
	put16(data, 14, 40)
	put16(data, 80, 9)

	packet, err := ParsePacket(withCRC(append([]byte{HeaderA2}, data...)), nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var d Data
	if err := d.Apply(packet); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(d.CellVoltages) != MaxCells {
		t.Errorf("Expected %d cells, got %d", MaxCells, len(d.CellVoltages))
	}
	if len(d.Temperatures) != MaxTemperatures {
		t.Errorf("Expected %d temperatures, got %d", MaxTemperatures, len(d.Temperatures))
	}
}

func TestParseMAC(t *testing.T) {
	mac, err := ParseMAC(" AA:BB:CC:DD:EE:FF ")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(mac) != 6 || mac[0] != 0xAA || mac[5] != 0xFF {
		t.Errorf("Unexpected MAC bytes %x", mac)
	}

	if _, err := ParseMAC("not-a-mac"); !errors.Is(err, ErrInvalidMAC) {
		t.Errorf("Expected ErrInvalidMAC, got %v", err)
	}
}
