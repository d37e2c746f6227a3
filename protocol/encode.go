package protocol

import (
	"errors"
	"math"
)

// ErrPayloadTooLarge is returned when an encoded payload would not fit in
// the 32-bit wire length field.
var ErrPayloadTooLarge = errors.New("protocol: payload too large to fit in a 32-bit wire length")

// Encoder builds one request frame at a time into a reusable buffer, the
// same "reset, serialize, split" pattern openssh-sftp-client's
// ssh_format::Serializer uses.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with a small initial capacity.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 256)}
}

// Reset clears the buffer while keeping its backing array.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

// Split returns a fresh copy of the buffer contents and resets the
// internal buffer so the Encoder can be reused for the next request
// without the caller's copy being invalidated.
func (e *Encoder) Split() []byte {
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	e.buf = e.buf[:0]
	return out
}

func (e *Encoder) reserve(n int) {
	if cap(e.buf)-len(e.buf) >= n {
		return
	}
	grown := make([]byte, len(e.buf), len(e.buf)+n+64)
	copy(grown, e.buf)
	e.buf = grown
}

func (e *Encoder) putByte(b byte) {
	e.reserve(1)
	e.buf = append(e.buf, b)
}

func (e *Encoder) putUint32(v uint32) {
	e.reserve(4)
	e.buf = append(e.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (e *Encoder) putUint64(v uint64) {
	e.reserve(8)
	e.putUint32(uint32(v >> 32))
	e.putUint32(uint32(v))
}

func (e *Encoder) putBytes(b []byte) error {
	if uint64(len(b)) > math.MaxUint32 {
		return ErrPayloadTooLarge
	}
	e.putUint32(uint32(len(b)))
	e.reserve(len(b))
	e.buf = append(e.buf, b...)
	return nil
}

func (e *Encoder) putString(s string) error { return e.putBytes([]byte(s)) }

// putHeaderPlaceholder writes a zero 4-byte length field the caller patches
// once the frame body is complete.
func (e *Encoder) putHeaderPlaceholder(packetType byte, id uint32) {
	e.putUint32(0)
	e.putByte(packetType)
	e.putUint32(id)
}

func (e *Encoder) patchLength() error {
	bodyLen := len(e.buf) - 4
	if bodyLen < 0 || uint64(bodyLen) > math.MaxUint32 {
		return ErrPayloadTooLarge
	}
	byteOrder.PutUint32(e.buf[0:4], uint32(bodyLen))
	return nil
}

// EncodeRequest serializes a full request frame: 4-byte length, 1-byte
// type, 4-byte id, then whatever body writes.
func (e *Encoder) EncodeRequest(packetType byte, id uint32, body func(*Encoder) error) ([]byte, error) {
	e.Reset()
	e.putHeaderPlaceholder(packetType, id)
	if body != nil {
		if err := body(e); err != nil {
			return nil, err
		}
	}
	if err := e.patchLength(); err != nil {
		return nil, err
	}
	return e.Split(), nil
}

// EncodeWriteHeader serializes only the header of a write request
// (handle, offset, and the 4-byte length of the data that follows),
// leaving the data itself to be appended by the caller. This is what lets
// send_write_request_zero_copy and send_write_request_direct_atomic avoid
// a second copy of the payload.
func (e *Encoder) EncodeWriteHeader(id uint32, handle Handle, offset uint64, dataLen uint32) ([]byte, error) {
	e.Reset()
	e.putHeaderPlaceholder(SSHFXPWrite, id)
	if err := e.putBytes(handle); err != nil {
		return nil, err
	}
	e.putUint64(offset)
	e.putUint32(dataLen)
	bodyLen := len(e.buf) - 4 + int(dataLen)
	if uint64(bodyLen) > math.MaxUint32 {
		return nil, ErrPayloadTooLarge
	}
	byteOrder.PutUint32(e.buf[0:4], uint32(bodyLen))
	return e.Split(), nil
}
