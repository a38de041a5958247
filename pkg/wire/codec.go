package wire

import "fmt"

// EncodingError reports a transaction that cannot be represented on the
// wire. It indicates a caller bug and is never retried.
type EncodingError struct {
	Addr   Address
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s: %s", e.Addr, e.Reason)
}

// DecodingError reports a reply whose shape does not match the
// transaction's expectation. It is surfaced without retry; a persistent
// decoding error usually means a firmware/protocol mismatch.
type DecodingError struct {
	Addr   Address
	Reason string
	Cause  error
}

func (e *DecodingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode %s: %s: %v", e.Addr, e.Reason, e.Cause)
	}
	return fmt.Sprintf("decode %s: %s", e.Addr, e.Reason)
}

func (e *DecodingError) Unwrap() error { return e.Cause }

// DecodeFunc converts raw reply bytes into a typed value.
type DecodeFunc func(data []byte) (any, error)

// Codec performs the stateless transaction/frame mapping for one frame
// format. It carries no mutable state and is safe for concurrent use
// from any number of goroutines.
type Codec struct {
	format FrameFormat
}

// NewCodec returns a codec for the given format.
func NewCodec(format FrameFormat) Codec {
	return Codec{format: format}
}

// Format returns the codec's frame format.
func (c Codec) Format() FrameFormat { return c.format }

// EncodeMonitor builds the request frame for a monitor transaction.
// Monitor requests carry no payload.
func (c Codec) EncodeMonitor(addr Address) (Frame, error) {
	if err := c.checkAddress(addr); err != nil {
		return Frame{}, err
	}
	return Frame{ID: c.format.ArbitrationID(addr)}, nil
}

// EncodeControl builds the request frame for a control transaction.
// On this encoding a control request is distinguished from a monitor
// request by the presence of a payload, so an empty payload is not
// representable.
func (c Codec) EncodeControl(addr Address, payload []byte) (Frame, error) {
	if err := c.checkAddress(addr); err != nil {
		return Frame{}, err
	}
	if len(payload) == 0 {
		return Frame{}, &EncodingError{Addr: addr, Reason: "control payload is empty"}
	}
	if len(payload) > c.format.payloadLimit() {
		return Frame{}, &EncodingError{
			Addr:   addr,
			Reason: fmt.Sprintf("payload is %d bytes, limit %d", len(payload), c.format.payloadLimit()),
		}
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	return Frame{ID: c.format.ArbitrationID(addr), Data: data}, nil
}

// DecodeReply converts reply bytes into a typed value. expectLen, when
// non-zero, is the exact reply length; a mismatch fails with a
// DecodingError. A nil decode function leaves the raw bytes as the
// value.
func (c Codec) DecodeReply(addr Address, data []byte, expectLen int, decode DecodeFunc) (any, error) {
	if expectLen > 0 && len(data) != expectLen {
		return nil, &DecodingError{
			Addr:   addr,
			Reason: fmt.Sprintf("reply is %d bytes, want %d", len(data), expectLen),
		}
	}
	if decode == nil {
		raw := make([]byte, len(data))
		copy(raw, data)
		return raw, nil
	}
	v, err := decode(data)
	if err != nil {
		return nil, &DecodingError{Addr: addr, Reason: "decode function failed", Cause: err}
	}
	return v, nil
}

func (c Codec) checkAddress(addr Address) error {
	if addr.Node > c.format.MaxNode {
		return &EncodingError{
			Addr:   addr,
			Reason: fmt.Sprintf("node id exceeds 0x%02X", uint8(c.format.MaxNode)),
		}
	}
	if addr.RCA > c.format.MaxRCA() {
		return &EncodingError{
			Addr:   addr,
			Reason: fmt.Sprintf("RCA exceeds 0x%05X", uint32(c.format.MaxRCA())),
		}
	}
	return nil
}
