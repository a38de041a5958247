package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Multi-byte payload fields are big-endian on the bus.

// ErrShortPayload reports an unpack past the end of the payload.
var ErrShortPayload = errors.New("payload too short")

// PackU8 encodes v as a single byte.
func PackU8(v uint8) []byte { return []byte{v} }

// PackBool encodes v as a single 0/1 byte.
func PackBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// PackU16 encodes v as two big-endian bytes.
func PackU16(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}

// PackI16 encodes v as two big-endian bytes, two's complement.
func PackI16(v int16) []byte { return PackU16(uint16(v)) }

// PackU32 encodes v as four big-endian bytes.
func PackU32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

// PackFloat32 encodes v as an IEEE-754 single, big-endian.
func PackFloat32(v float32) []byte {
	return PackU32(math.Float32bits(v))
}

// UnpackU8 reads one byte at offset.
func UnpackU8(data []byte, offset int) (uint8, error) {
	if err := checkLen(data, offset, 1); err != nil {
		return 0, err
	}
	return data[offset], nil
}

// UnpackBool reads one byte at offset; any non-zero value is true.
func UnpackBool(data []byte, offset int) (bool, error) {
	b, err := UnpackU8(data, offset)
	return b != 0, err
}

// UnpackU16 reads two big-endian bytes at offset.
func UnpackU16(data []byte, offset int) (uint16, error) {
	if err := checkLen(data, offset, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(data[offset:]), nil
}

// UnpackI16 reads two big-endian bytes at offset, two's complement.
func UnpackI16(data []byte, offset int) (int16, error) {
	v, err := UnpackU16(data, offset)
	return int16(v), err
}

// UnpackU32 reads four big-endian bytes at offset.
func UnpackU32(data []byte, offset int) (uint32, error) {
	if err := checkLen(data, offset, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(data[offset:]), nil
}

// UnpackFloat32 reads a big-endian IEEE-754 single at offset.
func UnpackFloat32(data []byte, offset int) (float32, error) {
	v, err := UnpackU32(data, offset)
	return math.Float32frombits(v), err
}

func checkLen(data []byte, offset, need int) error {
	if offset < 0 || len(data) < offset+need {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortPayload, need, offset, len(data))
	}
	return nil
}

// Standard decode functions for command descriptors.

// DecodeU8 decodes a one byte unsigned value.
func DecodeU8(data []byte) (any, error) {
	return UnpackU8(data, 0)
}

// DecodeBool decodes a one byte flag.
func DecodeBool(data []byte) (any, error) {
	return UnpackBool(data, 0)
}

// DecodeU16 decodes a two byte big-endian unsigned value.
func DecodeU16(data []byte) (any, error) {
	return UnpackU16(data, 0)
}

// DecodeU32 decodes a four byte big-endian unsigned value.
func DecodeU32(data []byte) (any, error) {
	return UnpackU32(data, 0)
}

// DecodeFloat32 decodes a four byte big-endian IEEE-754 single.
func DecodeFloat32(data []byte) (any, error) {
	return UnpackFloat32(data, 0)
}

// DecodeBytes copies the raw reply.
func DecodeBytes(data []byte) (any, error) {
	raw := make([]byte, len(data))
	copy(raw, data)
	return raw, nil
}

// DecodeVersion decodes a three byte major.minor.patch revision.
func DecodeVersion(data []byte) (any, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("%w: need 3 bytes, have %d", ErrShortPayload, len(data))
	}
	return fmt.Sprintf("%d.%d.%d", data[0], data[1], data[2]), nil
}
