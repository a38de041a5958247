package bus

import (
	"context"
	"errors"

	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// Runner executes sequences one transaction at a time, in submission
// order. The bus carries no transaction identifiers, so requests within
// a sequence are never pipelined past each other.
//
// Failure law: an encoding, decoding or timeout failure is recorded at
// its index and the remaining transactions still run; a transport fault
// fails every remaining transaction immediately.
type Runner struct {
	exec func(ctx context.Context, t Transaction) Result
}

// NewRunner builds a runner over a connection. Conn and BatchConn embed
// this behavior already; NewRunner serves custom Connection
// implementations.
func NewRunner(conn Connection) *Runner {
	return &Runner{exec: func(ctx context.Context, t Transaction) Result {
		if t.Dir == wire.Control {
			return conn.Control(ctx, t)
		}
		return conn.Monitor(ctx, t)
	}}
}

// Run executes the sequence. The result slice is positional and always
// len(seq) long.
func (r *Runner) Run(ctx context.Context, seq Sequence) []Result {
	results := make([]Result, len(seq))

	var fatal error
	for i, t := range seq {
		if fatal != nil {
			results[i] = Result{
				Name: t.Name,
				Addr: t.Addr,
				Err:  NewError(KindTransport, t.Name, t.Addr, fatal),
			}
			continue
		}

		results[i] = r.exec(ctx, t)
		if results[i].Err != nil && errors.Is(results[i].Err, ErrTransport) {
			fatal = results[i].Err
		}
	}
	return results
}
