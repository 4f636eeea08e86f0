package tvm

import (
	"encoding/binary"
	"math"
)

// Little-endian encode/decode helpers for the machine's three scalar kinds,
// parametrized by word width (4 or 8 bytes) so the same codec serves either
// declared bit width of an image.

// decodeInt reads a W-byte little-endian two's-complement integer.
func decodeInt(b []byte, width int) int64 {
	if width == 4 {
		return int64(int32(binary.LittleEndian.Uint32(b)))
	}
	return int64(binary.LittleEndian.Uint64(b))
}

// encodeInt writes v as a W-byte little-endian two's-complement integer.
func encodeInt(b []byte, v int64, width int) {
	if width == 4 {
		binary.LittleEndian.PutUint32(b, uint32(v))
		return
	}
	binary.LittleEndian.PutUint64(b, uint64(v))
}

// decodeFloat reads a W-byte IEEE-754 float (float32 for W=4, float64 for W=8).
func decodeFloat(b []byte, width int) float64 {
	if width == 4 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// encodeFloat writes v as a W-byte IEEE-754 float.
func encodeFloat(b []byte, v float64, width int) {
	if width == 4 {
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		return
	}
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
}

// decodeChar reads the always-2-byte character slot.
func decodeChar(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

// encodeChar writes the always-2-byte character slot.
func encodeChar(b []byte, v uint16) {
	binary.LittleEndian.PutUint16(b, v)
}

// alignUp rounds n up to the next multiple of width.
func alignUp(n, width int) int {
	if n%width == 0 {
		return n
	}
	return (n/width + 1) * width
}
