package bus

import (
	"errors"
	"fmt"

	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// Kind classifies transaction failures.
type Kind uint8

const (
	// KindEncoding: the transaction cannot be represented on the wire.
	KindEncoding Kind = iota + 1
	// KindDecoding: the reply does not match the expected shape.
	KindDecoding
	// KindUnknownCommand: the command name is not in the registry.
	KindUnknownCommand
	// KindTimeout: no reply within the timeout, after the retry.
	KindTimeout
	// KindTransport: the adapter or session failed. Fatal to the session.
	KindTransport
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindEncoding:
		return "encoding"
	case KindDecoding:
		return "decoding"
	case KindUnknownCommand:
		return "unknown command"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Kind sentinels. errors.Is(err, ErrTimeout) matches every *Error with
// Kind == KindTimeout, regardless of the underlying cause.
var (
	ErrEncoding       = errors.New("bus: transaction not encodable")
	ErrDecoding       = errors.New("bus: reply not decodable")
	ErrUnknownCommand = errors.New("bus: unknown command")
	ErrTimeout        = errors.New("bus: no reply within timeout")
	ErrTransport      = errors.New("bus: transport fault")
)

// sentinel returns the package sentinel for this kind.
func (k Kind) sentinel() error {
	switch k {
	case KindEncoding:
		return ErrEncoding
	case KindDecoding:
		return ErrDecoding
	case KindUnknownCommand:
		return ErrUnknownCommand
	case KindTimeout:
		return ErrTimeout
	case KindTransport:
		return ErrTransport
	default:
		return nil
	}
}

// Error is the failure of one transaction. It carries the command name
// (when known) and the bus address so callers can report which register
// misbehaved without tracking it themselves.
type Error struct {
	Kind Kind
	Addr wire.Address
	Name string

	cause error
}

// NewError builds a transaction error. Higher layers use it to report
// failures that never reach the bus, such as unknown command names.
func NewError(kind Kind, name string, addr wire.Address, cause error) *Error {
	return &Error{Kind: kind, Name: name, Addr: addr, cause: cause}
}
func (e *Error) Error() string {
	what := e.Name
	if what == "" {
		what = e.Addr.String()
	} else {
		what = fmt.Sprintf("%s (%s)", e.Name, e.Addr)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", what, e.Kind, e.cause)
	}
	return fmt.Sprintf("%s: %s", what, e.Kind)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}
