package log

import (
	"time"

	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// Event represents a bus log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID uniquely identifies the bus session (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates traffic flow relative to the host.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// AdapterID names the bus adapter carrying the session.
	AdapterID string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Transaction *TransactionEvent `cbor:"11,keyasint,omitempty"` // Bus layer (completed exchanges)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Session state
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of traffic flow.
type Direction uint8

const (
	// DirectionIn indicates a frame received from the bus.
	DirectionIn Direction = 0
	// DirectionOut indicates a frame sent onto the bus.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the frame exchange layer (raw bus frames).
	LayerTransport Layer = 0
	// LayerBus is the transaction layer (encoded requests, decoded replies).
	LayerBus Layer = 1
	// LayerDevice is the device facade layer.
	LayerDevice Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerBus:
		return "BUS"
	case LayerDevice:
		return "DEVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryFrame indicates a raw frame crossing the transport.
	CategoryFrame Category = 0
	// CategoryTransaction indicates a completed monitor or control exchange.
	CategoryTransaction Category = 1
	// CategoryState indicates a session state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategoryTransaction:
		return "TRANSACTION"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures one raw frame at the transport layer.
type FrameEvent struct {
	// ID is the arbitration identifier.
	ID uint32 `cbor:"1,keyasint"`

	// Data is the frame payload (0-8 bytes).
	Data []byte `cbor:"2,keyasint,omitempty"`
}

// TransactionEvent captures a completed exchange at the bus layer.
type TransactionEvent struct {
	// Kind distinguishes monitor from control.
	Kind wire.Direction `cbor:"1,keyasint"`

	// Node is the target node id.
	Node wire.NodeID `cbor:"2,keyasint"`

	// RCA is the target relative CAN address.
	RCA wire.RCA `cbor:"3,keyasint"`

	// Name is the registry command name, when the transaction came
	// through a facade.
	Name string `cbor:"4,keyasint,omitempty"`

	// Payload is the control payload (control only).
	Payload []byte `cbor:"5,keyasint,omitempty"`

	// Reply is the raw reply payload (monitor only).
	Reply []byte `cbor:"6,keyasint,omitempty"`

	// Attempts is the number of physical exchanges performed (1 or 2).
	Attempts int `cbor:"7,keyasint"`

	// Elapsed is the wall time of the exchange, all attempts included.
	// Stored as nanoseconds.
	Elapsed time.Duration `cbor:"8,keyasint,omitempty"`

	// Err holds the failure message for unsuccessful transactions.
	Err string `cbor:"9,keyasint,omitempty"`
}

// StateChangeEvent captures session lifecycle events.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
