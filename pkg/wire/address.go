package wire

import "fmt"

// NodeID identifies a physical device on the bus. Node ids are assigned
// by hardware straps and are stable for the lifetime of the device.
type NodeID uint8

// RCA is a relative CAN address: it distinguishes registers within the
// command set of one node.
type RCA uint32

// Address identifies one logical register on the bus.
// The (node, RCA) pair is unique per register.
type Address struct {
	Node NodeID
	RCA  RCA
}

// String returns the address in the conventional hex notation.
func (a Address) String() string {
	return fmt.Sprintf("node 0x%02X RCA 0x%05X", uint8(a.Node), uint32(a.RCA))
}

// Direction distinguishes read from write transactions.
type Direction uint8

const (
	// Monitor is a read: the request carries no payload and the reply
	// carries the register value.
	Monitor Direction = 1

	// Control is a write: the request carries a 1-8 byte payload and the
	// reply, when the transport provides one, is an acknowledgement.
	Control Direction = 2
)

// IsValid reports whether d is a known direction.
func (d Direction) IsValid() bool {
	return d == Monitor || d == Control
}

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case Monitor:
		return "monitor"
	case Control:
		return "control"
	default:
		return "unknown"
	}
}
