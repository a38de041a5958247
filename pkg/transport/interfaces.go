package transport

import (
	"errors"
	"time"

	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// Transport errors.
var (
	// ErrTimeout indicates no reply arrived within the exchange timeout.
	// Timeouts are per-transaction: the session stays usable.
	ErrTimeout = errors.New("transport: reply timeout")

	// ErrClosed indicates the session has been closed.
	ErrClosed = errors.New("transport: session closed")

	// ErrBusOff indicates the adapter reported a bus fault. The session
	// is no longer usable.
	ErrBusOff = errors.New("transport: bus off")

	// ErrAdapterBusy indicates another session already owns the adapter.
	ErrAdapterBusy = errors.New("transport: adapter busy")

	// ErrNoBatch indicates the session cannot batch exchanges.
	ErrNoBatch = errors.New("transport: batching not supported")
)

// Session is one open claim on a bus adapter. A monitor request (no
// payload) is answered by the addressed node; Exchange returns that
// reply. A control request (1-8 byte payload) is unacknowledged on the
// bus; Exchange returns an empty frame as soon as the request is sent.
//
// Implementations must be safe for concurrent use; exchanges are
// serialized internally.
type Session interface {
	// ID returns the session's unique identifier (UUID).
	ID() string

	// AdapterID returns the adapter this session claims.
	AdapterID() string

	// Exchange sends a request frame and, for monitor requests, waits up
	// to timeout for the matching reply.
	Exchange(req wire.Frame, timeout time.Duration) (wire.Frame, error)

	// Broadcast sends a frame at the discovery identifier and collects
	// every node reply that arrives within timeout. A quiet bus is not
	// an error: the result is simply empty.
	Broadcast(req wire.Frame, timeout time.Duration) ([]wire.Frame, error)

	// Close releases the adapter claim. Close is idempotent.
	Close() error
}

// BatchResult is the outcome of one exchange within a batch.
type BatchResult struct {
	// Frame is the reply (monitor) or empty (control).
	Frame wire.Frame

	// Err is the per-exchange failure, typically ErrTimeout. The error
	// return of ExchangeBatch itself is reserved for adapter faults.
	Err error
}

// BatchExchanger is implemented by sessions that can submit several
// exchanges in one adapter round trip. Results are positional: result i
// belongs to request i.
type BatchExchanger interface {
	ExchangeBatch(reqs []wire.Frame, timeout time.Duration) ([]BatchResult, error)
}
