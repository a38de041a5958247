package bus

import (
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// Transaction is one monitor or control exchange with a register.
// Transactions are values: build one with a constructor, refine it with
// the With helpers, and reuse it freely.
type Transaction struct {
	// Name is the registry command name, for diagnostics. Optional.
	Name string

	// Addr is the target register.
	Addr wire.Address

	// Dir distinguishes monitor from control.
	Dir wire.Direction

	// Payload is the control payload (1-8 bytes, control only).
	Payload []byte

	// ReplyLength, when non-zero, is the exact expected reply length
	// (monitor only).
	ReplyLength int

	// Decode converts the reply bytes into a typed value (monitor only).
	// Nil leaves the raw bytes as the value.
	Decode wire.DecodeFunc
}

// NewMonitor builds a monitor transaction for the given register.
func NewMonitor(addr wire.Address) Transaction {
	return Transaction{Addr: addr, Dir: wire.Monitor}
}

// NewControl builds a control transaction carrying payload.
func NewControl(addr wire.Address, payload []byte) Transaction {
	return Transaction{Addr: addr, Dir: wire.Control, Payload: payload}
}

// WithName attaches a command name for diagnostics.
func (t Transaction) WithName(name string) Transaction {
	t.Name = name
	return t
}

// WithDecode attaches the expected reply length and decode function.
func (t Transaction) WithDecode(replyLength int, decode wire.DecodeFunc) Transaction {
	t.ReplyLength = replyLength
	t.Decode = decode
	return t
}

// Sequence is an ordered list of transactions executed as a unit.
type Sequence []Transaction

// Result is the outcome of one transaction.
type Result struct {
	// Name echoes the transaction's command name.
	Name string

	// Addr echoes the transaction's register.
	Addr wire.Address

	// Data is the raw reply payload (monitor success only).
	Data []byte

	// Value is the decoded reply (monitor success only).
	Value any

	// Err is the failure, a *Error matching the kind sentinels.
	Err error
}

// Failed reports whether the transaction failed.
func (r Result) Failed() bool { return r.Err != nil }

// Node is one device discovered on the bus.
type Node struct {
	// ID is the node's bus address.
	ID wire.NodeID

	// Serial is the 8-byte electronic serial number the node announced.
	Serial []byte
}
