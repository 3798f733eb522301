// Package frame encodes and decodes single WebSocket frames (RFC 6455 §5.2).
//
// Server-to-client frames are never masked. The decoder accepts masked frames
// as well so that client traffic can be inspected with the same code.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Opcode identifies the frame type.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

const (
	finBit  = 0x80
	maskBit = 0x80

	// Length markers for the 7-bit payload length field.
	len16Marker = 126
	len64Marker = 127

	maxControlPayload = 125
)

var (
	// ErrShortFrame is returned when the buffer ends before the frame does.
	ErrShortFrame = errors.New("frame: short buffer")
	// ErrControlTooLarge is returned for control frames over 125 bytes.
	ErrControlTooLarge = errors.New("frame: control payload exceeds 125 bytes")
)

// Codec turns a text payload into the bytes written to a connection.
type Codec interface {
	Encode(payload []byte) []byte
}

// TextCodec produces single final unmasked text frames.
type TextCodec struct{}

// Encode implements Codec.
func (TextCodec) Encode(payload []byte) []byte {
	return Append(make([]byte, 0, HeaderLen(len(payload))+len(payload)), OpText, payload)
}

// HeaderLen returns the header size of an unmasked frame carrying n bytes.
func HeaderLen(n int) int {
	switch {
	case n < len16Marker:
		return 2
	case n <= 0xFFFF:
		return 4
	default:
		return 10
	}
}

// Append writes a final unmasked frame with the given opcode to dst.
func Append(dst []byte, op Opcode, payload []byte) []byte {
	dst = append(dst, finBit|byte(op))

	n := len(payload)
	switch {
	case n < len16Marker:
		dst = append(dst, byte(n))
	case n <= 0xFFFF:
		dst = append(dst, len16Marker)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, len64Marker)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}

	return append(dst, payload...)
}

// Control builds a control frame (close, ping, pong).
func Control(op Opcode, payload []byte) ([]byte, error) {
	if len(payload) > maxControlPayload {
		return nil, ErrControlTooLarge
	}
	return Append(make([]byte, 0, 2+len(payload)), op, payload), nil
}

// Frame is a decoded frame.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	Payload []byte
}

// Decode parses one frame from the start of b and returns it with the number
// of bytes consumed. Masked payloads are unmasked into a fresh slice.
func Decode(b []byte) (Frame, int, error) {
	if len(b) < 2 {
		return Frame{}, 0, ErrShortFrame
	}

	f := Frame{
		Fin:    b[0]&finBit != 0,
		Opcode: Opcode(b[0] & 0x0F),
		Masked: b[1]&maskBit != 0,
	}

	pos := 2
	var n uint64
	switch l := b[1] &^ maskBit; l {
	case len16Marker:
		if len(b) < pos+2 {
			return Frame{}, 0, ErrShortFrame
		}
		n = uint64(binary.BigEndian.Uint16(b[pos:]))
		pos += 2
	case len64Marker:
		if len(b) < pos+8 {
			return Frame{}, 0, ErrShortFrame
		}
		n = binary.BigEndian.Uint64(b[pos:])
		pos += 8
	default:
		n = uint64(l)
	}

	var key [4]byte
	if f.Masked {
		if len(b) < pos+4 {
			return Frame{}, 0, ErrShortFrame
		}
		copy(key[:], b[pos:pos+4])
		pos += 4
	}

	if n > uint64(len(b)-pos) {
		return Frame{}, 0, fmt.Errorf("%w: need %d payload bytes, have %d", ErrShortFrame, n, len(b)-pos)
	}
	end := pos + int(n)

	f.Payload = make([]byte, n)
	copy(f.Payload, b[pos:end])
	if f.Masked {
		for i := range f.Payload {
			f.Payload[i] ^= key[i%4]
		}
	}

	return f, end, nil
}
