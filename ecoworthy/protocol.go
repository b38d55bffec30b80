// Package ecoworthy reads ECO-WORTHY / DCHOUSE lithium battery BMS data.
//
// The BMS pushes two notification packets over GATT. Each packet is an
// optional copy of the device MAC, a header byte (0xA1 or 0xA2), the data and
// a little-endian Modbus CRC16 computed over everything before it.
package ecoworthy

import (
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sigurn/crc16"
)

const (
	HeaderA1 byte = 0xA1 // pack status
	HeaderA2 byte = 0xA2 // cells and temperatures

	macPrefixLen = 6
	crcLen       = 2

	minA1Len = 52
	minA2Len = 16

	MaxCells        = 16
	MaxTemperatures = 4
)

var (
	ErrChecksum       = errors.New("ecoworthy: checksum mismatch")
	ErrUnknownHeader  = errors.New("ecoworthy: unknown packet header")
	ErrPacketTooShort = errors.New("ecoworthy: packet too short")
	ErrInvalidMAC     = errors.New("ecoworthy: invalid MAC address")
)

var (
	modbusTable        = crc16.MakeTable(crc16.CRC16_MODBUS)
	devicePrefixes     = []string{"ECO-WORTHY", "DCHOUSE"}
	deviceNameFragment = "ECO-WORTHY 02_"
)

// IsDevice reports whether an advertised name belongs to an ECO-WORTHY BMS
func IsDevice(name string) bool {
	if name == "" {
		return false
	}
	for _, prefix := range devicePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return strings.Contains(name, deviceNameFragment)
}

// Checksum returns the Modbus CRC16 of data
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, modbusTable)
}

// Packet is a checksum-verified notification
type Packet struct {
	Header byte
	Data   []byte
}

// ParsePacket verifies and splits one notification. mac is the 6-byte device
// address the BMS may echo in front of the header; it may be nil.
func ParsePacket(buf []byte, mac []byte) (*Packet, error) {
	if len(buf) < 3 {
		return nil, errors.Wrapf(ErrPacketTooShort, "got %d bytes", len(buf))
	}

	start := 0
	if len(mac) == macPrefixLen && len(buf) > macPrefixLen && string(buf[:macPrefixLen]) == string(mac) {
		start = macPrefixLen
	}

	header := buf[start]
	if header != HeaderA1 && header != HeaderA2 {
		return nil, errors.Wrapf(ErrUnknownHeader, "header %#02x", header)
	}
	start++

	if len(buf) < start+crcLen {
		return nil, errors.Wrapf(ErrPacketTooShort, "got %d bytes", len(buf))
	}

	end := len(buf) - crcLen
	received := uint16(buf[end]) | uint16(buf[end+1])<<8
	if calculated := Checksum(buf[:end]); received != calculated {
		return nil, errors.Wrapf(ErrChecksum, "received %#04x, calculated %#04x", received, calculated)
	}

	return &Packet{
		Header: header,
		Data:   append([]byte(nil), buf[start:end]...),
	}, nil
}

// Data is the combined state of both packet types
type Data struct {
	Address string
	RSSI    int16

	Voltage        float64 // V
	Current        float64 // A, positive while charging
	Power          float64 // W
	Level          float64 // %
	Health         float64 // %
	DesignCapacity float64 // Ah
	ProblemCode    uint16

	CellVoltages []float64 // V
	Temperatures []float64 // °C

	HasStatus  bool // A1 seen
	HasCells   bool // A2 seen
	LastUpdate time.Time
}

// Apply folds a packet into d
func (d *Data) Apply(p *Packet) error {
	switch p.Header {
	case HeaderA1:
		return d.applyStatus(p.Data)
	case HeaderA2:
		return d.applyCells(p.Data)
	default:
		return errors.Wrapf(ErrUnknownHeader, "header %#02x", p.Header)
	}
}

func (d *Data) applyStatus(data []byte) error {
	if len(data) < minA1Len {
		return errors.Wrapf(ErrPacketTooShort, "status packet has %d bytes, need %d", len(data), minA1Len)
	}

	d.Level = float64(u16(data, 16))
	d.Health = float64(u16(data, 18))
	d.Voltage = float64(u16(data, 20)) / 100
	d.Current = float64(int16(u16(data, 22))) / 100
	d.DesignCapacity = float64(u16(data, 26)) / 100
	if len(data) >= 53 {
		d.ProblemCode = u16(data, 51)
	}
	d.Power = d.Voltage * d.Current

	d.HasStatus = true
	return nil
}

func (d *Data) applyCells(data []byte) error {
	if len(data) < minA2Len {
		return errors.Wrapf(ErrPacketTooShort, "cell packet has %d bytes, need %d", len(data), minA2Len)
	}

	count := int(u16(data, 14))
	if count > MaxCells {
		count = MaxCells
	}
	cells := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		off := 16 + 2*i
		if off+1 >= len(data) {
			break
		}
		cells = append(cells, float64(u16(data, off))/1000)
	}
	d.CellVoltages = cells

	d.Temperatures = nil
	if len(data) >= 82 {
		count := int(u16(data, 80))
		if count > MaxTemperatures {
			count = MaxTemperatures
		}
		temps := make([]float64, 0, count)
		for i := 0; i < count; i++ {
			off := 82 + 2*i
			if off+1 >= len(data) {
				break
			}
			temps = append(temps, float64(int16(u16(data, off)))/10)
		}
		d.Temperatures = temps
	}

	d.HasCells = true
	return nil
}

// ParseMAC converts a colon separated address into the 6 bytes the BMS echoes
func ParseMAC(addr string) ([]byte, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(addr))
	if err != nil || len(hw) != macPrefixLen {
		return nil, errors.Wrapf(ErrInvalidMAC, "%q", addr)
	}
	return []byte(hw), nil
}

func u16(data []byte, off int) uint16 {
	return uint16(data[off]) | uint16(data[off+1])<<8
}
