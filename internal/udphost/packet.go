package udphost

import (
	"fmt"

	"github.com/blukai/circlesync/internal/byteorder"
)

const (
	HeaderSize = 4 // type (1) + channel (1) + sequence (2)
	// MaxPayload keeps datagrams below common mtus.
	MaxPayload = 1200
	MaxSize    = HeaderSize + MaxPayload
)

type packetType uint8

const (
	_ packetType = iota
	packetConnect
	packetAccept
	packetRefuse
	packetDisconnect
	packetPing
	packetPong
	packetAck
	packetReliable
	packetUnreliable
)

func (t packetType) String() string {
	switch t {
	case packetConnect:
		return "connect"
	case packetAccept:
		return "accept"
	case packetRefuse:
		return "refuse"
	case packetDisconnect:
		return "disconnect"
	case packetPing:
		return "ping"
	case packetPong:
		return "pong"
	case packetAck:
		return "ack"
	case packetReliable:
		return "reliable"
	case packetUnreliable:
		return "unreliable"
	default:
		return fmt.Sprintf("packetType(%d)", uint8(t))
	}
}

type header struct {
	typ     packetType
	channel uint8
	seq     uint16
}

func (h header) append(buf []byte) []byte {
	buf = append(buf, byte(h.typ), h.channel)
	return byteorder.AppendU16(buf, h.seq)
}

// packet builds a datagram out of a header and an optional payload.
func packet(h header, payload []byte) []byte {
	buf := make([]byte, 0, HeaderSize+len(payload))
	buf = h.append(buf)
	return append(buf, payload...)
}

func parseHeader(data []byte) (header, []byte, error) {
	if len(data) < HeaderSize {
		return header{}, nil, fmt.Errorf("datagram too short (got %d; want >= %d)", len(data), HeaderSize)
	}
	h := header{
		typ:     packetType(data[0]),
		channel: data[1],
		seq:     byteorder.U16(data[2:4]),
	}
	if h.typ < packetConnect || h.typ > packetUnreliable {
		return header{}, nil, fmt.Errorf("unknown packet type %d", data[0])
	}
	return h, data[HeaderSize:], nil
}

// seqNewer reports whether a was issued after b, accounting for wrap
// around.
func seqNewer(a, b uint16) bool {
	return int16(a-b) > 0
}
