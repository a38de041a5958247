package device

import (
	"context"

	"github.com/ambus-protocol/ambus-go/pkg/bus"
	"github.com/ambus-protocol/ambus-go/pkg/registry"
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// Housekeeping monitor points every node answers.
const (
	rcaProtocolRev      wire.RCA = 0x30000
	rcaErrors           wire.RCA = 0x30001
	rcaTransactionCount wire.RCA = 0x30002
	rcaTemperature      wire.RCA = 0x30003
	rcaFirmwareRev      wire.RCA = 0x30004
	rcaResetDevice      wire.RCA = 0x31000
)

// ErrorStatus is a node's error report.
type ErrorStatus struct {
	Count uint8 // errors since power-up
	Last  uint8 // code of the most recent error
}

// GenericLayer describes the housekeeping points every node answers,
// regardless of what sits behind it.
func GenericLayer() registry.Layer {
	return registry.Layer{Name: "generic", Descriptors: []registry.Descriptor{
		{Name: "PROTOCOL_REV", RCA: rcaProtocolRev, Dir: wire.Monitor, ReplyLength: 3, Decode: wire.DecodeVersion,
			Label: "protocol revision"},
		{Name: "DEVICE_ERRORS", RCA: rcaErrors, Dir: wire.Monitor, ReplyLength: 4, Decode: decodeErrorStatus,
			Label: "error status"},
		{Name: "TRANS_COUNT", RCA: rcaTransactionCount, Dir: wire.Monitor, ReplyLength: 4, Decode: wire.DecodeU32,
			Label: "transactions since power-up"},
		{Name: "BOARD_TEMPERATURE", RCA: rcaTemperature, Dir: wire.Monitor, ReplyLength: 4, Decode: decodeBoardTemperature,
			Label: "interface board temperature", Units: "C"},
		{Name: "FIRMWARE_REV", RCA: rcaFirmwareRev, Dir: wire.Monitor, ReplyLength: 3, Decode: wire.DecodeVersion,
			Label: "firmware revision"},
		{Name: "RESET_DEVICE", RCA: rcaResetDevice, Dir: wire.Control, Encode: registry.EncodeU8,
			Label: "soft-reset the interface board"},
	}}
}

// decodeErrorStatus unpacks the 4-byte error report: count in byte 0,
// most recent error code in byte 3.
func decodeErrorStatus(data []byte) (any, error) {
	if len(data) < 4 {
		return nil, wire.ErrShortPayload
	}
	return ErrorStatus{Count: data[0], Last: data[3]}, nil
}

// decodeBoardTemperature converts the DS1820 sensor reading. Byte 0
// holds the magnitude in half-degree steps, byte 1 the sign.
func decodeBoardTemperature(data []byte) (any, error) {
	if len(data) < 2 {
		return nil, wire.ErrShortPayload
	}
	temp := float32(data[0] >> 1)
	if data[1] != 0 {
		temp = -temp - 1
	}
	if data[0]&0x01 != 0 {
		temp += 0.5
	}
	return temp, nil
}

// Generic is the personality shared by every node: the housekeeping
// monitor points.
type Generic struct {
	*Facade
}

// NewGeneric binds the generic personality to a node.
func NewGeneric(conn bus.Connection, node wire.NodeID) (*Generic, error) {
	f, err := New(conn, node, GenericLayer())
	if err != nil {
		return nil, err
	}
	return &Generic{Facade: f}, nil
}

// ProtocolRevision reads the node's protocol revision as "a.b.c".
func (g *Generic) ProtocolRevision(ctx context.Context) (string, error) {
	return monitorValue[string](ctx, g.Facade, "PROTOCOL_REV", 0)
}

// FirmwareRevision reads the interface firmware revision as "a.b.c".
func (g *Generic) FirmwareRevision(ctx context.Context) (string, error) {
	return monitorValue[string](ctx, g.Facade, "FIRMWARE_REV", 0)
}

// TransactionCount reads the number of transactions handled since
// power-up.
func (g *Generic) TransactionCount(ctx context.Context) (uint32, error) {
	return monitorValue[uint32](ctx, g.Facade, "TRANS_COUNT", 0)
}

// Temperature reads the interface board temperature in Celsius.
func (g *Generic) Temperature(ctx context.Context) (float32, error) {
	return monitorValue[float32](ctx, g.Facade, "BOARD_TEMPERATURE", 0)
}

// Errors reads the node's error report.
func (g *Generic) Errors(ctx context.Context) (ErrorStatus, error) {
	return monitorValue[ErrorStatus](ctx, g.Facade, "DEVICE_ERRORS", 0)
}

// Reset soft-resets the node's interface board. The node drops off the
// bus for its boot time, so callers should expect the next monitor to
// time out and retry.
func (g *Generic) Reset(ctx context.Context) error {
	return g.Control(ctx, "RESET_DEVICE", uint8(1))
}
