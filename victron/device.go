package victron

import (
	"strings"
	"time"

	"github.com/mjasion/balena-home/victron/decoder"
)

// MaxRawDataLen bounds the raw advertisement bytes kept per device
const MaxRawDataLen = 32

// DeviceRecord is the last known state of one advertising device
type DeviceRecord struct {
	Name           string
	Address        string
	Family         DeviceFamily
	ModelID        uint16
	ManufacturerID uint16

	decoder.Measurements

	RSSI       int16
	LastUpdate time.Time
	RawData    []byte
	Records    []decoder.Record
	Skipped    int // oversized records dropped from Records

	Encrypted    bool
	DataValid    bool
	ErrorMessage string
}

// Clone returns a deep copy of the record
func (r DeviceRecord) Clone() DeviceRecord {
	out := r
	if r.RawData != nil {
		out.RawData = append([]byte(nil), r.RawData...)
	}
	if r.Records != nil {
		out.Records = make([]decoder.Record, len(r.Records))
		for i, rec := range r.Records {
			out.Records[i] = decoder.Record{
				Type:   rec.Type,
				Length: rec.Length,
				Data:   append([]byte(nil), rec.Data...),
			}
		}
	}
	return out
}

// NormalizeAddress upper-cases a radio address and uses ':' as separator
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.ReplaceAll(addr, "-", ":")
	return strings.ToUpper(addr)
}

func boundedRaw(frame []byte) []byte {
	n := len(frame)
	if n > MaxRawDataLen {
		n = MaxRawDataLen
	}
	return append([]byte(nil), frame[:n]...)
}
