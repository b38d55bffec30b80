package victron

import (
	"errors"
	"fmt"

	"github.com/mjasion/balena-home/victron/decoder"
)

// ManufacturerID is the Bluetooth SIG company identifier of Victron Energy
const ManufacturerID uint16 = 0x02E1

const (
	readoutTypeOffset = 4
	plainPayloadStart = 5
	minFrameLen       = plainPayloadStart
)

var ErrNotVictron = errors.New("not a Victron advertisement")

// Frame is a parsed manufacturer data block
type Frame struct {
	ManufacturerID uint16
	ModelID        uint16
	ReadoutType    uint8
	Raw            []byte
}

// ParseFrame splits the fixed header of a manufacturer data block.
// data must start with the two company id bytes.
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: expected at least 2 bytes, got %d", decoder.ErrFrameTooShort, len(data))
	}

	manufacturer := decoder.Unsigned16(data, 0)
	if manufacturer != ManufacturerID {
		return nil, fmt.Errorf("%w: manufacturer %#04x", ErrNotVictron, manufacturer)
	}
	if len(data) < minFrameLen {
		return nil, fmt.Errorf("%w: expected at least %d bytes, got %d", decoder.ErrFrameTooShort, minFrameLen, len(data))
	}

	return &Frame{
		ManufacturerID: manufacturer,
		ModelID:        decoder.Unsigned16(data, 2),
		ReadoutType:    data[readoutTypeOffset],
		Raw:            data,
	}, nil
}

// Encrypted reports whether the payload needs a key to be read
func (f *Frame) Encrypted() bool {
	return f.ReadoutType != 0
}

// PlainPayload returns the record stream of an unencrypted frame
func (f *Frame) PlainPayload() []byte {
	return f.Raw[plainPayloadStart:]
}
