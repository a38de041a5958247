package transport

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Bridge protocol operations. A bridge server fronts one adapter; the
// client mirrors the Session interface over these messages.
const (
	// BridgeOpExchange performs a single frame exchange.
	BridgeOpExchange uint8 = 1
	// BridgeOpBroadcast performs a node-discovery broadcast.
	BridgeOpBroadcast uint8 = 2
	// BridgeOpBatch performs several exchanges in one round trip.
	BridgeOpBatch uint8 = 3
)

// Bridge protocol statuses.
const (
	// BridgeStatusOK indicates success.
	BridgeStatusOK uint8 = 0
	// BridgeStatusTimeout indicates no node reply within the timeout.
	BridgeStatusTimeout uint8 = 1
	// BridgeStatusBusOff indicates an adapter bus fault.
	BridgeStatusBusOff uint8 = 2
	// BridgeStatusClosed indicates the backing session is closed.
	BridgeStatusClosed uint8 = 3
	// BridgeStatusBadRequest indicates a malformed request.
	BridgeStatusBadRequest uint8 = 4
)

// RequestID 0 is reserved; correlation requires a non-zero id.
const reservedRequestID uint32 = 0

// BridgeFrame carries one bus frame over the bridge.
//
// CBOR encoding:
//
//	{
//	  1: id,     // uint32 arbitration identifier
//	  2: data    // 0-8 payload bytes
//	}
type BridgeFrame struct {
	ID   uint32 `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint,omitempty"`
}

// BridgeRequest is a client-to-server bridge message.
//
// CBOR encoding:
//
//	{
//	  1: requestId,  // uint32, non-zero, echoed in the response
//	  2: op,         // uint8: 1=Exchange, 2=Broadcast, 3=Batch
//	  3: timeoutMs,  // uint32 per-exchange reply timeout
//	  4: frames      // request frames (one for Exchange/Broadcast)
//	}
type BridgeRequest struct {
	RequestID uint32        `cbor:"1,keyasint"`
	Op        uint8         `cbor:"2,keyasint"`
	TimeoutMS uint32        `cbor:"3,keyasint"`
	Frames    []BridgeFrame `cbor:"4,keyasint,omitempty"`
}

// Validate checks if the request is valid.
func (r *BridgeRequest) Validate() error {
	if r.RequestID == reservedRequestID {
		return fmt.Errorf("requestId 0 is reserved")
	}
	switch r.Op {
	case BridgeOpExchange, BridgeOpBroadcast, BridgeOpBatch:
	default:
		return fmt.Errorf("invalid op: %d", r.Op)
	}
	if r.Op != BridgeOpBroadcast && len(r.Frames) == 0 {
		return fmt.Errorf("no frames in request")
	}
	return nil
}

// BridgeResult is the outcome of one exchange within a bridge response.
//
// CBOR encoding:
//
//	{
//	  1: status,  // uint8 per-exchange status
//	  2: frame    // reply frame (monitor success only)
//	}
type BridgeResult struct {
	Status uint8        `cbor:"1,keyasint"`
	Frame  *BridgeFrame `cbor:"2,keyasint,omitempty"`
}

// BridgeResponse is a server-to-client bridge message.
//
// CBOR encoding:
//
//	{
//	  1: requestId,  // uint32, matches the request
//	  2: status,     // uint8 whole-call status
//	  3: results     // positional per-exchange results, or broadcast replies
//	}
type BridgeResponse struct {
	RequestID uint32         `cbor:"1,keyasint"`
	Status    uint8          `cbor:"2,keyasint"`
	Results   []BridgeResult `cbor:"3,keyasint,omitempty"`
}

// bridgeEncMode is the CBOR encoder mode for bridge messages.
var bridgeEncMode cbor.EncMode

// bridgeDecMode is the CBOR decoder mode for bridge messages.
var bridgeDecMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	bridgeEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create bridge CBOR encoder mode: %v", err))
	}

	// Lenient decoding for forward compatibility
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	bridgeDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create bridge CBOR decoder mode: %v", err))
	}
}

// EncodeBridgeRequest encodes a bridge request to CBOR bytes.
func EncodeBridgeRequest(req *BridgeRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bridge request: %w", err)
	}
	return bridgeEncMode.Marshal(req)
}

// DecodeBridgeRequest decodes CBOR bytes into a bridge request.
func DecodeBridgeRequest(data []byte) (*BridgeRequest, error) {
	var req BridgeRequest
	if err := bridgeDecMode.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode bridge request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bridge request: %w", err)
	}
	return &req, nil
}

// EncodeBridgeResponse encodes a bridge response to CBOR bytes.
func EncodeBridgeResponse(resp *BridgeResponse) ([]byte, error) {
	return bridgeEncMode.Marshal(resp)
}

// DecodeBridgeResponse decodes CBOR bytes into a bridge response.
func DecodeBridgeResponse(data []byte) (*BridgeResponse, error) {
	var resp BridgeResponse
	if err := bridgeDecMode.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode bridge response: %w", err)
	}
	return &resp, nil
}

// statusToError maps a bridge status onto the transport sentinels.
func statusToError(status uint8) error {
	switch status {
	case BridgeStatusOK:
		return nil
	case BridgeStatusTimeout:
		return ErrTimeout
	case BridgeStatusBusOff:
		return ErrBusOff
	case BridgeStatusClosed:
		return ErrClosed
	default:
		return fmt.Errorf("bridge status %d", status)
	}
}

// errorToStatus maps a transport error onto a bridge status.
func errorToStatus(err error) uint8 {
	switch err {
	case nil:
		return BridgeStatusOK
	case ErrTimeout:
		return BridgeStatusTimeout
	case ErrBusOff:
		return BridgeStatusBusOff
	case ErrClosed:
		return BridgeStatusClosed
	default:
		return BridgeStatusBadRequest
	}
}
