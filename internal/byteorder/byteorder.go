package byteorder

import (
	"encoding/binary"
	"math"
)

// everything on the wire is little endian. the reference clients write
// with .net's BinaryWriter, which is little endian regardless of host, so
// this is what keeps us interoperable with them.
//
// decrypt names:
// u16 = 16 bit unsigned
// u32 = 32 bit unsigned
// f32 = ieee-754 binary32

var order = binary.LittleEndian

func AppendU16(buf []byte, val uint16) []byte {
	return order.AppendUint16(buf, val)
}

func AppendU32(buf []byte, val uint32) []byte {
	return order.AppendUint32(buf, val)
}

func AppendF32(buf []byte, val float32) []byte {
	return order.AppendUint32(buf, math.Float32bits(val))
}

func U16(buf []byte) uint16 {
	return order.Uint16(buf)
}

func U32(buf []byte) uint32 {
	return order.Uint32(buf)
}

func F32(buf []byte) float32 {
	return math.Float32frombits(order.Uint32(buf))
}
