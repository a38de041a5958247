package bus

import "context"

// Connection executes transactions on one bus session. Implementations
// are safe for concurrent use; transactions never interleave.
//
// Monitor and Control report failures inside the Result rather than as a
// second return: a failed transaction is an outcome, not an exception,
// and sequences depend on per-item outcomes.
type Connection interface {
	// Monitor reads a register.
	Monitor(ctx context.Context, t Transaction) Result

	// Control writes a register.
	Control(ctx context.Context, t Transaction) Result

	// RunSequence executes the transactions in order. The result slice
	// is positional and always full-length: failed items carry their
	// error at their index while the rest proceed.
	RunSequence(ctx context.Context, seq Sequence) []Result

	// FindNodes broadcasts the discovery frame and reports every node
	// that answered. An empty bus is not an error.
	FindNodes(ctx context.Context) ([]Node, error)

	// Close releases the underlying session. Close is idempotent.
	Close() error
}
