package vm

import (
	"encoding/binary"
	"math"
)

// ---------------------------------------------------------------------------
// Image Value Encoding: Serialization format for constants in the image
// ---------------------------------------------------------------------------

// Image encoding tags. A constant is one tag byte followed by a payload
// whose size the tag alone determines.
const (
	imageTagNull  byte = 0x0 // no payload
	imageTagBool  byte = 0x1 // 1 byte, 0 or 1
	imageTagInt   byte = 0x2 // 8 bytes little-endian
	imageTagFloat byte = 0x3 // 8 bytes IEEE 754 bits, little-endian
	imageTagPtr   byte = 0x4 // never valid in an image
)

// payloadSize returns the payload length for a tag and whether the tag may
// appear in an image.
func payloadSize(tag byte) (int, bool) {
	switch tag {
	case imageTagNull:
		return 0, true
	case imageTagBool:
		return 1, true
	case imageTagInt, imageTagFloat:
		return 8, true
	default:
		return 0, false
	}
}

// appendValue appends the image encoding of v. It reports false for Ptr
// values, which have no image encoding.
func appendValue(buf []byte, v Value) ([]byte, bool) {
	switch v.kind {
	case KindNull:
		return append(buf, imageTagNull), true
	case KindBool:
		b, _ := v.AsBool()
		if b {
			return append(buf, imageTagBool, 1), true
		}
		return append(buf, imageTagBool, 0), true
	case KindInt:
		buf = append(buf, imageTagInt)
		return binary.LittleEndian.AppendUint64(buf, v.bits), true
	case KindFloat:
		buf = append(buf, imageTagFloat)
		return binary.LittleEndian.AppendUint64(buf, v.bits), true
	case KindPtr:
		return buf, false
	default:
		return buf, false
	}
}

// decodePayload builds a Value from a valid tag and its payload bytes.
func decodePayload(tag byte, payload []byte) Value {
	switch tag {
	case imageTagBool:
		return FromBool(payload[0] != 0)
	case imageTagInt:
		return FromInt(int64(binary.LittleEndian.Uint64(payload)))
	case imageTagFloat:
		return FromFloat(math.Float64frombits(binary.LittleEndian.Uint64(payload)))
	default:
		return Null
	}
}

// ---------------------------------------------------------------------------
// Little-endian helpers
// ---------------------------------------------------------------------------

// ReadUint16 reads a little-endian uint16.
func ReadUint16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }

// ReadUint32 reads a little-endian uint32.
func ReadUint32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

// ReadUint64 reads a little-endian uint64.
func ReadUint64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

// WriteUint16 writes a little-endian uint16.
func WriteUint16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }

// WriteUint32 writes a little-endian uint32.
func WriteUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }

// WriteUint64 writes a little-endian uint64.
func WriteUint64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }
