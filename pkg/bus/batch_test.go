package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ambus-protocol/ambus-go/pkg/transport"
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// newTestBatchConn wires a BatchConn to a fresh SimBus with one node.
func newTestBatchConn(t *testing.T, cfg Config) (*BatchConn, *transport.SimBus, *transport.SimNode) {
	t.Helper()

	simBus := transport.NewSimBus(wire.DefaultFormat())
	node := simBus.AddNode(0x13, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	session, err := simBus.Open("sim-batch-" + t.Name())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Millisecond
	}
	conn, err := NewBatchConn(session, cfg)
	if err != nil {
		t.Fatalf("NewBatchConn failed: %v", err)
	}
	return conn, simBus, node
}

func TestBatchRunSequence(t *testing.T) {
	conn, _, node := newTestBatchConn(t, Config{})
	node.SetRegister(0x100, wire.PackU16(100))
	node.SetRegister(0x101, wire.PackU16(101))

	seq := Sequence{
		NewMonitor(wire.Address{Node: 0x13, RCA: 0x100}).WithDecode(2, wire.DecodeU16),
		NewMonitor(wire.Address{Node: 0x13, RCA: 0x101}).WithDecode(2, wire.DecodeU16),
		NewControl(wire.Address{Node: 0x13, RCA: 0x102}, []byte{0x07}),
	}

	results := conn.RunSequence(context.Background(), seq)
	if results[0].Value.(uint16) != 100 || results[1].Value.(uint16) != 101 {
		t.Errorf("values: %v, %v", results[0].Value, results[1].Value)
	}
	if results[2].Failed() {
		t.Errorf("control failed: %v", results[2].Err)
	}
	if stored, ok := node.Register(0x102); !ok || stored[0] != 0x07 {
		t.Errorf("control payload not applied: %v, %v", stored, ok)
	}
}

func TestBatchRetriesTimedOutSubset(t *testing.T) {
	conn, simBus, node := newTestBatchConn(t, Config{})
	node.SetRegister(0x100, []byte{1})
	node.SetRegister(0x101, []byte{2})
	node.SilenceNext(0x101, 1)

	seq := Sequence{
		NewMonitor(wire.Address{Node: 0x13, RCA: 0x100}),
		NewMonitor(wire.Address{Node: 0x13, RCA: 0x101}),
	}

	results := conn.RunSequence(context.Background(), seq)
	if results[0].Failed() || results[1].Failed() {
		t.Fatalf("results: %v, %v", results[0].Err, results[1].Err)
	}
	if results[1].Data[0] != 2 {
		t.Errorf("retried reply: %v", results[1].Data)
	}
	// Only the silent item is retried: 2 + 1 frames total.
	if got := len(simBus.Sent()); got != 3 {
		t.Errorf("sent %d frames, want 3", got)
	}
}

func TestBatchPersistentTimeout(t *testing.T) {
	conn, _, node := newTestBatchConn(t, Config{})
	node.SetRegister(0x100, []byte{1})
	node.SetRegister(0x101, []byte{2})
	node.Silence(0x101)

	seq := Sequence{
		NewMonitor(wire.Address{Node: 0x13, RCA: 0x100}),
		NewMonitor(wire.Address{Node: 0x13, RCA: 0x101}),
	}

	results := conn.RunSequence(context.Background(), seq)
	if results[0].Failed() {
		t.Errorf("index 0 failed: %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, ErrTimeout) {
		t.Errorf("index 1: got %v, want ErrTimeout", results[1].Err)
	}
}

func TestBatchEncodingErrorStaysLocal(t *testing.T) {
	conn, simBus, node := newTestBatchConn(t, Config{})
	node.SetRegister(0x100, []byte{1})

	seq := Sequence{
		NewMonitor(wire.Address{Node: 0x13, RCA: 0x40000}), // RCA too wide
		NewMonitor(wire.Address{Node: 0x13, RCA: 0x100}),
	}

	results := conn.RunSequence(context.Background(), seq)
	if !errors.Is(results[0].Err, ErrEncoding) {
		t.Errorf("index 0: got %v, want ErrEncoding", results[0].Err)
	}
	if results[1].Failed() {
		t.Errorf("index 1 failed: %v", results[1].Err)
	}
	if got := len(simBus.Sent()); got != 1 {
		t.Errorf("sent %d frames, want 1", got)
	}
}

func TestBatchTransportFault(t *testing.T) {
	conn, simBus, node := newTestBatchConn(t, Config{})
	node.SetRegister(0x100, []byte{1})
	simBus.SetBusOff(true)

	seq := Sequence{
		NewMonitor(wire.Address{Node: 0x13, RCA: 0x100}),
		NewMonitor(wire.Address{Node: 0x13, RCA: 0x100}),
	}
	results := conn.RunSequence(context.Background(), seq)
	for i, res := range results {
		if !errors.Is(res.Err, ErrTransport) {
			t.Errorf("index %d: got %v, want ErrTransport", i, res.Err)
		}
	}

	// Dead afterwards, including the single-transaction path.
	simBus.SetBusOff(false)
	res := conn.Monitor(context.Background(), NewMonitor(wire.Address{Node: 0x13, RCA: 0x100}))
	if !errors.Is(res.Err, ErrTransport) {
		t.Errorf("fail-fast: got %v, want ErrTransport", res.Err)
	}
}

// TestBatchConnMatchesConn checks substitutability: identical sequences
// against identically scripted buses produce identical outcomes on both
// connection types.
func TestBatchConnMatchesConn(t *testing.T) {
	script := func(node *transport.SimNode) {
		node.SetRegister(0x100, wire.PackU16(7))
		node.SetRegister(0x102, []byte{0xAA}) // wrong length for the decode
		// 0x101 stays silent.
	}
	seq := Sequence{
		NewMonitor(wire.Address{Node: 0x13, RCA: 0x100}).WithDecode(2, wire.DecodeU16),
		NewMonitor(wire.Address{Node: 0x13, RCA: 0x101}),
		NewMonitor(wire.Address{Node: 0x13, RCA: 0x102}).WithDecode(2, wire.DecodeU16),
		NewControl(wire.Address{Node: 0x13, RCA: 0x103}, []byte{1}),
	}

	plain, _, plainNode := newTestConn(t, Config{})
	script(plainNode)
	batch, _, batchNode := newTestBatchConn(t, Config{})
	script(batchNode)

	plainResults := plain.RunSequence(context.Background(), seq)
	batchResults := batch.RunSequence(context.Background(), seq)

	for i := range seq {
		p, b := plainResults[i], batchResults[i]
		if (p.Err == nil) != (b.Err == nil) {
			t.Errorf("index %d: plain err %v, batch err %v", i, p.Err, b.Err)
			continue
		}
		if p.Err != nil {
			var pk, bk *Error
			errors.As(p.Err, &pk)
			errors.As(b.Err, &bk)
			if pk.Kind != bk.Kind {
				t.Errorf("index %d: plain kind %v, batch kind %v", i, pk.Kind, bk.Kind)
			}
			continue
		}
		if p.Value != b.Value {
			t.Errorf("index %d: plain value %v, batch value %v", i, p.Value, b.Value)
		}
	}
}

// scriptedBatchSession returns canned per-item results from
// ExchangeBatch, for fault patterns SimBus cannot produce in one call.
type scriptedBatchSession struct {
	results []transport.BatchResult
}

func (s *scriptedBatchSession) ID() string        { return "scripted" }
func (s *scriptedBatchSession) AdapterID() string { return "scripted" }
func (s *scriptedBatchSession) Close() error      { return nil }

func (s *scriptedBatchSession) Exchange(wire.Frame, time.Duration) (wire.Frame, error) {
	return wire.Frame{}, transport.ErrTimeout
}

func (s *scriptedBatchSession) Broadcast(wire.Frame, time.Duration) ([]wire.Frame, error) {
	return nil, nil
}

func (s *scriptedBatchSession) ExchangeBatch(reqs []wire.Frame, _ time.Duration) ([]transport.BatchResult, error) {
	return s.results[:len(reqs)], nil
}

// A fatal fault after a timed-out item must fail the timed-out item
// too, not leave it looking like a success with no value.
func TestBatchFaultFailsQueuedRetries(t *testing.T) {
	session := &scriptedBatchSession{results: []transport.BatchResult{
		{Err: transport.ErrTimeout},
		{Err: transport.ErrBusOff},
	}}
	conn, err := NewBatchConn(session, Config{})
	if err != nil {
		t.Fatalf("NewBatchConn failed: %v", err)
	}

	first := wire.Address{Node: 0x01, RCA: 0x10}
	seq := Sequence{
		NewMonitor(first).WithName("FIRST"),
		NewMonitor(wire.Address{Node: 0x01, RCA: 0x20}).WithName("SECOND"),
	}

	results := conn.RunSequence(context.Background(), seq)
	for i, res := range results {
		if !errors.Is(res.Err, ErrTransport) {
			t.Errorf("index %d: got %v, want ErrTransport", i, res.Err)
		}
		if res.Value != nil {
			t.Errorf("index %d: unexpected value %v", i, res.Value)
		}
	}

	var busErr *Error
	if !errors.As(results[0].Err, &busErr) {
		t.Fatalf("index 0 not a *Error: %v", results[0].Err)
	}
	if busErr.Name != "FIRST" || busErr.Addr != first {
		t.Errorf("attribution: name %q addr %v", busErr.Name, busErr.Addr)
	}
	if !errors.Is(results[0].Err, transport.ErrBusOff) {
		t.Errorf("cause not preserved: %v", results[0].Err)
	}
}

// sessionOnly hides a SimSession's batch capability.
type sessionOnly struct{ transport.Session }

func TestNewBatchConnRequiresBatchSupport(t *testing.T) {
	simBus := transport.NewSimBus(wire.DefaultFormat())
	session, err := simBus.Open("sim-nobatch-" + t.Name())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	defer session.Close()

	_, err = NewBatchConn(sessionOnly{session}, Config{})
	if !errors.Is(err, transport.ErrNoBatch) {
		t.Errorf("got %v, want ErrNoBatch", err)
	}
}
