package decoder

import "encoding/binary"

// Bit-packed field helpers. All of them read little-endian data starting at
// byte offset off; callers must make sure the bytes exist.

// Signed16 reads a little-endian two's-complement 16-bit value
func Signed16(buf []byte, off int) int16 {
	return int16(binary.LittleEndian.Uint16(buf[off : off+2]))
}

// Unsigned16 reads a little-endian 16-bit value
func Unsigned16(buf []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(buf[off : off+2])
}

// Unsigned32 reads a little-endian 32-bit value
func Unsigned32(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off : off+4])
}

// Unsigned22 returns the raw 22-bit field that starts at bit 2 of buf[off]:
// bits 2-7 of byte 0, all of byte 1 and all of byte 2.
func Unsigned22(buf []byte, off int) uint32 {
	return uint32(buf[off]>>2) | uint32(buf[off+1])<<6 | uint32(buf[off+2])<<14
}

// Signed22 reads the same field as Unsigned22 as a two's-complement value.
// Bit 7 of byte 2 is the sign bit (bit 21 of the field).
func Signed22(buf []byte, off int) int32 {
	raw := Unsigned22(buf, off)
	value := int32(raw & 0x1FFFFF)
	if raw&0x200000 != 0 {
		value -= 1 << 21
	}
	return value
}

// Unsigned20 reads byte 0, byte 1 and the low nibble of byte 2
func Unsigned20(buf []byte, off int) uint32 {
	return uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2]&0x0F)<<16
}

// Unsigned10 reads the high nibble of byte 0 followed by the low 6 bits of byte 1
func Unsigned10(buf []byte, off int) uint16 {
	return uint16(buf[off]>>4) | uint16(buf[off+1]&0x3F)<<4
}

// Unsigned9 reads byte 0 plus bit 0 of byte 1 as the high bit
func Unsigned9(buf []byte, off int) uint16 {
	return uint16(buf[off]) | uint16(buf[off+1]&0x01)<<8
}
