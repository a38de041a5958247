package bus

import (
	"context"
	"errors"
	"time"

	"github.com/ambus-protocol/ambus-go/pkg/transport"
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// BatchConn executes sequences in one adapter round trip. Single
// transactions behave exactly as on Conn; only RunSequence differs, and
// the results must be indistinguishable from Conn's given the same wire
// replies.
type BatchConn struct {
	*Conn
	batcher transport.BatchExchanger
}

// NewBatchConn wraps a batching-capable session. Sessions without batch
// support are rejected with transport.ErrNoBatch; use NewConn instead.
func NewBatchConn(session transport.Session, cfg Config) (*BatchConn, error) {
	batcher, ok := session.(transport.BatchExchanger)
	if !ok {
		return nil, transport.ErrNoBatch
	}
	return &BatchConn{
		Conn:    NewConn(session, cfg),
		batcher: batcher,
	}, nil
}

// RunSequence encodes the whole sequence up front, submits it in one
// ExchangeBatch call, retries the timed-out subset once in a second
// call, and decodes the replies in place.
func (c *BatchConn) RunSequence(ctx context.Context, seq Sequence) []Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	results := make([]Result, len(seq))

	// Encode everything first; per-item encoding failures never reach
	// the adapter.
	frames := make([]wire.Frame, 0, len(seq))
	pending := make([]int, 0, len(seq))
	for i, t := range seq {
		results[i] = Result{Name: t.Name, Addr: t.Addr}
		frame, err := c.encode(t)
		if err != nil {
			results[i].Err = NewError(KindEncoding, t.Name, t.Addr, err)
			c.logTransaction(t, results[i], 0, time.Since(start))
			continue
		}
		frames = append(frames, frame)
		pending = append(pending, i)
	}

	if c.dead != nil {
		c.failPending(seq, results, pending, c.dead)
		return results
	}
	if len(pending) == 0 {
		return results
	}

	timeout, terr := c.timeoutFor(ctx)
	if terr != nil {
		for _, i := range pending {
			results[i].Err = NewError(KindTimeout, seq[i].Name, seq[i].Addr, terr)
		}
		return results
	}

	batch, err := c.batcher.ExchangeBatch(frames, timeout)
	if err != nil || len(batch) != len(frames) {
		if err == nil {
			err = errors.New("batch result length mismatch")
		}
		c.markDead(err)
		c.failPending(seq, results, pending, err)
		return results
	}

	// First pass: settle successes, collect timed-out items for the one
	// silent retry.
	retryFrames := make([]wire.Frame, 0)
	retryIdx := make([]int, 0)
	for j, r := range batch {
		i := pending[j]
		switch {
		case r.Err == nil:
			c.settle(&results[i], seq[i], r.Frame)
			c.logTransaction(seq[i], results[i], 1, time.Since(start))
		case errors.Is(r.Err, transport.ErrTimeout) && c.cfg.Retries > 0:
			retryFrames = append(retryFrames, frames[j])
			retryIdx = append(retryIdx, i)
		case errors.Is(r.Err, transport.ErrTimeout):
			results[i].Err = NewError(KindTimeout, seq[i].Name, seq[i].Addr, r.Err)
			c.logTransaction(seq[i], results[i], 1, time.Since(start))
		default:
			// A fatal fault fails everything still unsettled, the items
			// already queued for retry included: their retry round can
			// never run on a dead session.
			c.markDead(r.Err)
			c.failPending(seq, results, retryIdx, r.Err)
			c.failPending(seq, results, pending[j:], r.Err)
			return results
		}
	}

	if len(retryIdx) == 0 {
		return results
	}

	retry, err := c.batcher.ExchangeBatch(retryFrames, timeout)
	if err != nil || len(retry) != len(retryFrames) {
		if err == nil {
			err = errors.New("batch result length mismatch")
		}
		c.markDead(err)
		c.failPending(seq, results, retryIdx, err)
		return results
	}

	for j, r := range retry {
		i := retryIdx[j]
		switch {
		case r.Err == nil:
			c.settle(&results[i], seq[i], r.Frame)
		case errors.Is(r.Err, transport.ErrTimeout):
			results[i].Err = NewError(KindTimeout, seq[i].Name, seq[i].Addr, r.Err)
		default:
			c.markDead(r.Err)
			results[i].Err = NewError(KindTransport, seq[i].Name, seq[i].Addr, r.Err)
		}
		c.logTransaction(seq[i], results[i], 2, time.Since(start))
	}
	return results
}

// settle fills a successful result, decoding monitor replies.
func (c *BatchConn) settle(res *Result, t Transaction, reply wire.Frame) {
	if t.Dir != wire.Monitor {
		return
	}
	res.Data = reply.Data
	value, err := c.codec.DecodeReply(t.Addr, reply.Data, t.ReplyLength, t.Decode)
	if err != nil {
		res.Err = NewError(KindDecoding, t.Name, t.Addr, err)
		return
	}
	res.Value = value
}

// failPending marks every index in pending as a transport failure. The
// callers only pass indexes that have not settled yet.
func (c *BatchConn) failPending(seq Sequence, results []Result, pending []int, cause error) {
	for _, i := range pending {
		results[i].Err = NewError(KindTransport, seq[i].Name, seq[i].Addr, cause)
	}
}

// Compile-time interface satisfaction check.
var _ Connection = (*BatchConn)(nil)
