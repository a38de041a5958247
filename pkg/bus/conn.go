package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ambus-protocol/ambus-go/pkg/log"
	"github.com/ambus-protocol/ambus-go/pkg/transport"
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// Defaults applied by Config.withDefaults.
const (
	// DefaultTimeout is the per-exchange reply timeout. Monitor replies
	// on a healthy bus arrive within a few milliseconds; 150ms absorbs
	// slow firmware paths without stalling sweeps on a dead register.
	DefaultTimeout = 150 * time.Millisecond

	// DefaultRetries is the number of silent timeout retries. Exactly
	// one: a second consecutive timeout means the register is not
	// answering, not that the frame was lost.
	DefaultRetries = 1
)

// Config configures a connection.
type Config struct {
	// Format is the frame format. Zero value means wire.DefaultFormat().
	Format wire.FrameFormat

	// Timeout is the per-exchange reply timeout. 0 means DefaultTimeout.
	Timeout time.Duration

	// Retries is the number of silent retries after a reply timeout.
	// 0 means DefaultRetries; negative disables retrying.
	Retries int

	// Logger receives traffic events. Nil disables logging.
	Logger log.Logger
}

func (c Config) withDefaults() Config {
	if c.Format.NodeStride == 0 {
		c.Format = wire.DefaultFormat()
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retries == 0 {
		c.Retries = DefaultRetries
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.Logger == nil {
		c.Logger = log.NoopLogger{}
	}
	return c
}

// Conn executes transactions one adapter exchange at a time. It works on
// every transport.Session.
type Conn struct {
	session transport.Session
	codec   wire.Codec
	cfg     Config
	logger  log.Logger

	mu   sync.Mutex
	dead error // first fatal transport error, nil while healthy
}

// NewConn wraps a session in a connection.
func NewConn(session transport.Session, cfg Config) *Conn {
	cfg = cfg.withDefaults()
	c := &Conn{
		session: session,
		codec:   wire.NewCodec(cfg.Format),
		cfg:     cfg,
		logger:  cfg.Logger,
	}
	c.logState("", "open", "")
	return c
}

// Monitor reads a register.
func (c *Conn) Monitor(ctx context.Context, t Transaction) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doLocked(ctx, t)
}

// Control writes a register.
func (c *Conn) Control(ctx context.Context, t Transaction) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doLocked(ctx, t)
}

// RunSequence executes the transactions in order under a single lock, so
// concurrent callers cannot interleave their traffic into the sequence.
func (c *Conn) RunSequence(ctx context.Context, seq Sequence) []Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	runner := Runner{exec: c.doLocked}
	return runner.Run(ctx, seq)
}

// FindNodes broadcasts the discovery frame and collects the answers.
func (c *Conn) FindNodes(ctx context.Context) ([]Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dead != nil {
		return nil, NewError(KindTransport, "", wire.Address{}, c.dead)
	}

	timeout, err := c.timeoutFor(ctx)
	if err != nil {
		return nil, NewError(KindTimeout, "", wire.Address{}, err)
	}

	req := wire.Frame{ID: c.codec.Format().BroadcastID()}
	replies, err := c.session.Broadcast(req, timeout)
	if err != nil {
		c.markDead(err)
		return nil, NewError(KindTransport, "", wire.Address{}, err)
	}

	nodes := make([]Node, 0, len(replies))
	for _, reply := range replies {
		addr, ok := c.codec.Format().AddressOf(reply.ID)
		if !ok || addr.RCA != 0 {
			continue
		}
		nodes = append(nodes, Node{ID: addr.Node, Serial: reply.Data})
	}
	return nodes, nil
}

// Close releases the session. The connection fails fast afterwards.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if errors.Is(c.dead, transport.ErrClosed) {
		return nil
	}
	c.dead = transport.ErrClosed
	c.logState("open", "closed", "")
	return c.session.Close()
}

// doLocked executes one transaction. The caller holds c.mu.
func (c *Conn) doLocked(ctx context.Context, t Transaction) Result {
	start := time.Now()
	res := Result{Name: t.Name, Addr: t.Addr}

	req, encErr := c.encode(t)
	if encErr != nil {
		res.Err = NewError(KindEncoding, t.Name, t.Addr, encErr)
		c.logTransaction(t, res, 0, time.Since(start))
		return res
	}

	if c.dead != nil {
		res.Err = NewError(KindTransport, t.Name, t.Addr, c.dead)
		return res
	}

	attempts := 0
	maxAttempts := 1 + c.cfg.Retries
	var reply wire.Frame
	for {
		timeout, err := c.timeoutFor(ctx)
		if err != nil {
			res.Err = NewError(KindTimeout, t.Name, t.Addr, err)
			c.logTransaction(t, res, attempts, time.Since(start))
			return res
		}

		attempts++
		reply, err = c.session.Exchange(req, timeout)
		if err == nil {
			break
		}
		if errors.Is(err, transport.ErrTimeout) {
			if attempts < maxAttempts && ctx.Err() == nil {
				continue
			}
			res.Err = NewError(KindTimeout, t.Name, t.Addr, err)
			c.logTransaction(t, res, attempts, time.Since(start))
			return res
		}
		c.markDead(err)
		res.Err = NewError(KindTransport, t.Name, t.Addr, err)
		c.logTransaction(t, res, attempts, time.Since(start))
		return res
	}

	if t.Dir == wire.Monitor {
		res.Data = reply.Data
		value, err := c.codec.DecodeReply(t.Addr, reply.Data, t.ReplyLength, t.Decode)
		if err != nil {
			res.Err = NewError(KindDecoding, t.Name, t.Addr, err)
		} else {
			res.Value = value
		}
	}
	c.logTransaction(t, res, attempts, time.Since(start))
	return res
}

// encode builds the request frame for a transaction.
func (c *Conn) encode(t Transaction) (wire.Frame, error) {
	switch t.Dir {
	case wire.Monitor:
		return c.codec.EncodeMonitor(t.Addr)
	case wire.Control:
		return c.codec.EncodeControl(t.Addr, t.Payload)
	default:
		return wire.Frame{}, &wire.EncodingError{Addr: t.Addr, Reason: "invalid direction"}
	}
}

// timeoutFor caps the configured timeout by the context deadline. It
// returns the bare context error; callers wrap it with the failing
// transaction's name and address.
func (c *Conn) timeoutFor(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	timeout := c.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		remain := time.Until(deadline)
		if remain <= 0 {
			return 0, context.DeadlineExceeded
		}
		if remain < timeout {
			timeout = remain
		}
	}
	return timeout, nil
}

// markDead records the first fatal transport error.
func (c *Conn) markDead(cause error) {
	if c.dead == nil {
		c.dead = cause
		c.logState("open", "dead", cause.Error())
	}
}

func (c *Conn) logTransaction(t Transaction, res Result, attempts int, elapsed time.Duration) {
	event := log.Event{
		Timestamp: time.Now(),
		SessionID: c.session.ID(),
		Direction: log.DirectionOut,
		Layer:     log.LayerBus,
		Category:  log.CategoryTransaction,
		AdapterID: c.session.AdapterID(),
		Transaction: &log.TransactionEvent{
			Kind:     t.Dir,
			Node:     t.Addr.Node,
			RCA:      t.Addr.RCA,
			Name:     t.Name,
			Payload:  t.Payload,
			Reply:    res.Data,
			Attempts: attempts,
			Elapsed:  elapsed,
		},
	}
	if res.Err != nil {
		event.Transaction.Err = res.Err.Error()
	}
	c.logger.Log(event)
}

func (c *Conn) logState(oldState, newState, reason string) {
	c.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: c.session.ID(),
		Direction: log.DirectionOut,
		Layer:     log.LayerBus,
		Category:  log.CategoryState,
		AdapterID: c.session.AdapterID(),
		StateChange: &log.StateChangeEvent{
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// Compile-time interface satisfaction check.
var _ Connection = (*Conn)(nil)
