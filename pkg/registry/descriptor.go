package registry

import (
	"fmt"

	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// EncodeFunc converts a typed value into a control payload.
type EncodeFunc func(value any) ([]byte, error)

// Descriptor describes one command: where it lives on the bus and how
// its payloads are shaped.
type Descriptor struct {
	// Name is the command name, unique within a registry.
	Name string

	// RCA is the register address relative to the node window. Port and
	// polarization offsets are already baked in by the layer builder.
	RCA wire.RCA

	// Dir distinguishes monitor from control commands.
	Dir wire.Direction

	// ReplyLength, when non-zero, is the exact expected reply length
	// (monitor only).
	ReplyLength int

	// Decode converts reply bytes into a typed value (monitor only).
	Decode wire.DecodeFunc

	// Encode converts a typed value into the control payload (control
	// only).
	Encode EncodeFunc

	// Label is a human-readable description.
	Label string

	// Units names the physical unit of the value, when it has one.
	Units string
}

// validate checks structural invariants at composition time.
func (d Descriptor) validate() error {
	if d.Name == "" {
		return fmt.Errorf("descriptor at RCA 0x%05X has no name", uint32(d.RCA))
	}
	if !d.Dir.IsValid() {
		return fmt.Errorf("descriptor %s has invalid direction %d", d.Name, d.Dir)
	}
	if d.Dir == wire.Control && d.Encode == nil {
		return fmt.Errorf("control descriptor %s has no encoder", d.Name)
	}
	return nil
}

// Standard encoders for control descriptors. Each accepts the Go types a
// caller would naturally pass for the wire type.

// EncodeU8 encodes an unsigned byte value.
func EncodeU8(value any) ([]byte, error) {
	switch v := value.(type) {
	case uint8:
		return wire.PackU8(v), nil
	case int:
		if v < 0 || v > 0xFF {
			return nil, fmt.Errorf("value %d out of range for u8", v)
		}
		return wire.PackU8(uint8(v)), nil
	default:
		return nil, fmt.Errorf("cannot encode %T as u8", value)
	}
}

// EncodeBool encodes a flag as a 0/1 byte.
func EncodeBool(value any) ([]byte, error) {
	v, ok := value.(bool)
	if !ok {
		return nil, fmt.Errorf("cannot encode %T as bool", value)
	}
	return wire.PackBool(v), nil
}

// EncodeU16 encodes an unsigned 16-bit value, big-endian.
func EncodeU16(value any) ([]byte, error) {
	switch v := value.(type) {
	case uint16:
		return wire.PackU16(v), nil
	case int:
		if v < 0 || v > 0xFFFF {
			return nil, fmt.Errorf("value %d out of range for u16", v)
		}
		return wire.PackU16(uint16(v)), nil
	default:
		return nil, fmt.Errorf("cannot encode %T as u16", value)
	}
}

// EncodeU32 encodes an unsigned 32-bit value, big-endian.
func EncodeU32(value any) ([]byte, error) {
	switch v := value.(type) {
	case uint32:
		return wire.PackU32(v), nil
	case int:
		if v < 0 || int64(v) > 0xFFFFFFFF {
			return nil, fmt.Errorf("value %d out of range for u32", v)
		}
		return wire.PackU32(uint32(v)), nil
	default:
		return nil, fmt.Errorf("cannot encode %T as u32", value)
	}
}

// EncodeFloat32 encodes an IEEE-754 single, big-endian.
func EncodeFloat32(value any) ([]byte, error) {
	switch v := value.(type) {
	case float32:
		return wire.PackFloat32(v), nil
	case float64:
		return wire.PackFloat32(float32(v)), nil
	case int:
		return wire.PackFloat32(float32(v)), nil
	default:
		return nil, fmt.Errorf("cannot encode %T as float32", value)
	}
}

// EncodeBytes passes a raw payload through unchanged.
func EncodeBytes(value any) ([]byte, error) {
	v, ok := value.([]byte)
	if !ok {
		return nil, fmt.Errorf("cannot encode %T as raw bytes", value)
	}
	return append([]byte(nil), v...), nil
}
