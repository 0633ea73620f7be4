package protocol

import (
	"encoding"
	"errors"
	"fmt"

	"github.com/blukai/circlesync/internal/byteorder"
	"github.com/blukai/circlesync/internal/debug"
)

var ErrMalformedMessage = errors.New("malformed message")

// Kind is the first byte of every message.
type Kind uint8

const (
	_ Kind = iota
	// NOTE(blukai): sent by clients
	KindLogin
	// NOTE(blukai): sent by the server
	KindLoginAck
	KindLoginEvent
	// NOTE(blukai): sent by clients
	KindPositionUpdate
	// NOTE(blukai): sent by the server
	KindPositionEvent
	KindLogoutEvent

	kindMax
)

const (
	KindSize  = 1
	IDSize    = 4
	F32Size   = 4
	ShortSize = KindSize + IDSize             // 1 + 4 = 5
	LongSize  = KindSize + IDSize + 2*F32Size // 1 + 4 + 4 + 4 = 13
)

func (k Kind) Valid() bool {
	return k > 0 && k < kindMax
}

// Size returns number of bytes an encoded message of this kind occupies,
// or 0 for an unknown kind.
func (k Kind) Size() int {
	switch k {
	case KindLogin, KindLoginAck, KindLoginEvent, KindLogoutEvent:
		return ShortSize
	case KindPositionUpdate, KindPositionEvent:
		return LongSize
	default:
		return 0
	}
}

// Reliable reports whether messages of this kind go over the transport's
// reliable delivery. presence changes must arrive; positions are
// superseded by the next update anyway.
func (k Kind) Reliable() bool {
	switch k {
	case KindPositionUpdate, KindPositionEvent:
		return false
	default:
		return true
	}
}

func (k Kind) String() string {
	switch k {
	case KindLogin:
		return "Login"
	case KindLoginAck:
		return "LoginAck"
	case KindLoginEvent:
		return "LoginEvent"
	case KindPositionUpdate:
		return "PositionUpdate"
	case KindPositionEvent:
		return "PositionEvent"
	case KindLogoutEvent:
		return "LogoutEvent"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

type Position struct {
	X float32
	Y float32
}

type Message interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler

	Kind() Kind
	PeerID() uint32
}

// Encode returns wire representation of m. it's exactly m.Kind().Size()
// bytes long.
func Encode(m Message) []byte {
	data, err := m.MarshalBinary()
	debug.Assert(err == nil)
	debug.Assertf(len(data) == m.Kind().Size(), "%s encoded into %d bytes", m.Kind(), len(data))
	return data
}

// Decode parses a message out of data. data must be exactly what the
// transport received, decoding never looks past len(data). bytes after
// the kind's size are ignored.
func Decode(data []byte) (Message, error) {
	if len(data) < KindSize {
		return nil, fmt.Errorf("%w: empty", ErrMalformedMessage)
	}

	var m Message
	switch kind := Kind(data[0]); kind {
	case KindLogin:
		m = new(Login)
	case KindLoginAck:
		m = new(LoginAck)
	case KindLoginEvent:
		m = new(LoginEvent)
	case KindPositionUpdate:
		m = new(PositionUpdate)
	case KindPositionEvent:
		m = new(PositionEvent)
	case KindLogoutEvent:
		m = new(LogoutEvent)
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedMessage, uint8(kind))
	}

	if err := m.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return m, nil
}

func checkHeader(data []byte, want Kind) error {
	if len(data) < KindSize {
		return fmt.Errorf("%w: empty", ErrMalformedMessage)
	}
	if got := Kind(data[0]); got != want {
		return fmt.Errorf("%w: kind mismatch (got %s; want %s)", ErrMalformedMessage, got, want)
	}
	if len(data) < want.Size() {
		return fmt.Errorf(
			"%w: %s truncated (got %d; want %d bytes)",
			ErrMalformedMessage, want, len(data), want.Size(),
		)
	}
	return nil
}

func marshalShort(kind Kind, id uint32) []byte {
	buf := make([]byte, 0, ShortSize)
	buf = append(buf, byte(kind))
	buf = byteorder.AppendU32(buf, id)
	return buf
}

func unmarshalShort(data []byte, kind Kind) (uint32, error) {
	if err := checkHeader(data, kind); err != nil {
		return 0, err
	}
	return byteorder.U32(data[KindSize:ShortSize]), nil
}

func marshalLong(kind Kind, id uint32, pos Position) []byte {
	buf := make([]byte, 0, LongSize)
	buf = append(buf, byte(kind))
	buf = byteorder.AppendU32(buf, id)
	buf = byteorder.AppendF32(buf, pos.X)
	buf = byteorder.AppendF32(buf, pos.Y)
	return buf
}

func unmarshalLong(data []byte, kind Kind) (uint32, Position, error) {
	if err := checkHeader(data, kind); err != nil {
		return 0, Position{}, err
	}
	id := byteorder.U32(data[1:5])
	pos := Position{
		X: byteorder.F32(data[5:9]),
		Y: byteorder.F32(data[9:13]),
	}
	return id, pos, nil
}
