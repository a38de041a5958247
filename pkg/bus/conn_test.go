package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ambus-protocol/ambus-go/pkg/transport"
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// newTestConn wires a Conn to a fresh SimBus with one node.
func newTestConn(t *testing.T, cfg Config) (*Conn, *transport.SimBus, *transport.SimNode) {
	t.Helper()

	simBus := transport.NewSimBus(wire.DefaultFormat())
	node := simBus.AddNode(0x13, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	session, err := simBus.Open("sim-bus-" + t.Name())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Millisecond
	}
	return NewConn(session, cfg), simBus, node
}

func TestConnMonitor(t *testing.T) {
	conn, _, node := newTestConn(t, Config{})
	node.SetRegister(0x2008, wire.PackFloat32(2.5))

	trans := NewMonitor(wire.Address{Node: 0x13, RCA: 0x2008}).
		WithName("SIS_VOLTAGE").
		WithDecode(4, wire.DecodeFloat32)

	res := conn.Monitor(context.Background(), trans)
	if res.Failed() {
		t.Fatalf("monitor failed: %v", res.Err)
	}
	if res.Value.(float32) != 2.5 {
		t.Errorf("value: got %v, want 2.5", res.Value)
	}
	if res.Name != "SIS_VOLTAGE" {
		t.Errorf("name: got %q", res.Name)
	}
}

func TestConnControl(t *testing.T) {
	conn, _, node := newTestConn(t, Config{})

	trans := NewControl(wire.Address{Node: 0x13, RCA: 0x2100E}, []byte{0x01}).
		WithName("SET_FE_MODE")

	res := conn.Control(context.Background(), trans)
	if res.Failed() {
		t.Fatalf("control failed: %v", res.Err)
	}

	stored, ok := node.Register(0x2100E)
	if !ok || stored[0] != 0x01 {
		t.Errorf("payload not applied: %v, %v", stored, ok)
	}
}

func TestConnRetriesTimeoutExactlyOnce(t *testing.T) {
	t.Run("second attempt succeeds", func(t *testing.T) {
		conn, simBus, node := newTestConn(t, Config{})
		node.SetRegister(0x2008, []byte{0xAA})
		node.SilenceNext(0x2008, 1)

		res := conn.Monitor(context.Background(), NewMonitor(wire.Address{Node: 0x13, RCA: 0x2008}))
		if res.Failed() {
			t.Fatalf("monitor failed despite retry: %v", res.Err)
		}
		if got := len(simBus.Sent()); got != 2 {
			t.Errorf("physical attempts: got %d, want 2", got)
		}
	})

	t.Run("persistent silence fails after one retry", func(t *testing.T) {
		conn, simBus, node := newTestConn(t, Config{})
		node.SetRegister(0x2008, []byte{0xAA})
		node.Silence(0x2008)

		res := conn.Monitor(context.Background(), NewMonitor(wire.Address{Node: 0x13, RCA: 0x2008}))
		if !errors.Is(res.Err, ErrTimeout) {
			t.Fatalf("got %v, want ErrTimeout", res.Err)
		}
		if got := len(simBus.Sent()); got != 2 {
			t.Errorf("physical attempts: got %d, want exactly 2", got)
		}
	})

	t.Run("retries disabled", func(t *testing.T) {
		conn, simBus, node := newTestConn(t, Config{Retries: -1})
		node.SetRegister(0x2008, []byte{0xAA})
		node.Silence(0x2008)

		res := conn.Monitor(context.Background(), NewMonitor(wire.Address{Node: 0x13, RCA: 0x2008}))
		if !errors.Is(res.Err, ErrTimeout) {
			t.Fatalf("got %v, want ErrTimeout", res.Err)
		}
		if got := len(simBus.Sent()); got != 1 {
			t.Errorf("physical attempts: got %d, want 1", got)
		}
	})
}

func TestConnTransportFaultIsFatal(t *testing.T) {
	conn, simBus, node := newTestConn(t, Config{})
	node.SetRegister(0x2008, []byte{0xAA})
	simBus.SetBusOff(true)

	addr := wire.Address{Node: 0x13, RCA: 0x2008}
	res := conn.Monitor(context.Background(), NewMonitor(addr))
	if !errors.Is(res.Err, ErrTransport) {
		t.Fatalf("got %v, want ErrTransport", res.Err)
	}

	// The session is dead: later calls fail fast without bus traffic.
	simBus.SetBusOff(false)
	res = conn.Monitor(context.Background(), NewMonitor(addr))
	if !errors.Is(res.Err, ErrTransport) {
		t.Fatalf("fail-fast: got %v, want ErrTransport", res.Err)
	}
	if got := len(simBus.Sent()); got != 0 {
		t.Errorf("dead connection still sent %d frames", got)
	}

	if _, err := conn.FindNodes(context.Background()); !errors.Is(err, ErrTransport) {
		t.Errorf("FindNodes on dead connection: got %v, want ErrTransport", err)
	}
}

func TestConnEncodingErrorNeverReachesBus(t *testing.T) {
	conn, simBus, _ := newTestConn(t, Config{})

	res := conn.Monitor(context.Background(), NewMonitor(wire.Address{Node: 0x13, RCA: 0x40000}))
	if !errors.Is(res.Err, ErrEncoding) {
		t.Fatalf("got %v, want ErrEncoding", res.Err)
	}
	if got := len(simBus.Sent()); got != 0 {
		t.Errorf("unencodable transaction sent %d frames", got)
	}

	// Empty control payload is equally unencodable.
	res = conn.Control(context.Background(), NewControl(wire.Address{Node: 0x13, RCA: 0x2100E}, nil))
	if !errors.Is(res.Err, ErrEncoding) {
		t.Errorf("got %v, want ErrEncoding", res.Err)
	}
}

func TestConnDecodingError(t *testing.T) {
	conn, _, node := newTestConn(t, Config{})
	node.SetRegister(0x2008, []byte{0xAA}) // 1 byte where 4 are expected

	trans := NewMonitor(wire.Address{Node: 0x13, RCA: 0x2008}).WithDecode(4, wire.DecodeFloat32)
	res := conn.Monitor(context.Background(), trans)
	if !errors.Is(res.Err, ErrDecoding) {
		t.Fatalf("got %v, want ErrDecoding", res.Err)
	}
	// The raw reply is still available for diagnostics.
	if len(res.Data) != 1 || res.Data[0] != 0xAA {
		t.Errorf("raw reply lost: %v", res.Data)
	}

	var busErr *Error
	if !errors.As(res.Err, &busErr) {
		t.Fatal("error is not *Error")
	}
	if busErr.Addr != trans.Addr {
		t.Errorf("error address: got %v, want %v", busErr.Addr, trans.Addr)
	}
}

func TestConnFindNodes(t *testing.T) {
	conn, simBus, _ := newTestConn(t, Config{})
	simBus.AddNode(0x05, []byte{9, 9, 9, 9, 9, 9, 9, 9})

	nodes, err := conn.FindNodes(context.Background())
	if err != nil {
		t.Fatalf("FindNodes failed: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("found %d nodes, want 2", len(nodes))
	}
	if nodes[0].ID != 0x05 || nodes[1].ID != 0x13 {
		t.Errorf("node order: got 0x%02X, 0x%02X", uint8(nodes[0].ID), uint8(nodes[1].ID))
	}
	if len(nodes[0].Serial) != 8 {
		t.Errorf("serial length: got %d, want 8", len(nodes[0].Serial))
	}
}

func TestConnContextDeadline(t *testing.T) {
	conn, _, node := newTestConn(t, Config{Timeout: time.Second})
	node.SetRegister(0x2008, []byte{0xAA})
	node.Silence(0x2008)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := conn.Monitor(ctx, NewMonitor(wire.Address{Node: 0x13, RCA: 0x2008}))
	if !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", res.Err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("context deadline did not cap the wait: %v", elapsed)
	}
}

func TestConnContextCancelled(t *testing.T) {
	conn, _, node := newTestConn(t, Config{})
	node.SetRegister(0x2008, []byte{0xAA})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := conn.Monitor(ctx, NewMonitor(wire.Address{Node: 0x13, RCA: 0x2008}))
	if res.Err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

// A context failure is still attributed to the transaction that hit
// it, not reported against an empty name and the zero address.
func TestConnContextErrorCarriesAddress(t *testing.T) {
	conn, _, node := newTestConn(t, Config{})
	node.SetRegister(0x30003, []byte{0, 0, 0, 0})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	addr := wire.Address{Node: 0x13, RCA: 0x30003}
	res := conn.Monitor(ctx, NewMonitor(addr).WithName("SIS_VOLTAGE"))
	if !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", res.Err)
	}

	var busErr *Error
	if !errors.As(res.Err, &busErr) {
		t.Fatalf("not a *Error: %v", res.Err)
	}
	if busErr.Name != "SIS_VOLTAGE" || busErr.Addr != addr {
		t.Errorf("attribution: name %q addr %v", busErr.Name, busErr.Addr)
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Errorf("cause not preserved: %v", res.Err)
	}
}

func TestConnCloseIsIdempotent(t *testing.T) {
	conn, _, _ := newTestConn(t, Config{})

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	res := conn.Monitor(context.Background(), NewMonitor(wire.Address{Node: 0x13, RCA: 0x2008}))
	if !errors.Is(res.Err, ErrTransport) {
		t.Errorf("closed connection: got %v, want ErrTransport", res.Err)
	}
}

func TestErrorKindMatching(t *testing.T) {
	err := NewError(KindTimeout, "SIS_VOLTAGE", wire.Address{Node: 0x13, RCA: 0x2008}, transport.ErrTimeout)

	if !errors.Is(err, ErrTimeout) {
		t.Error("does not match ErrTimeout")
	}
	if errors.Is(err, ErrTransport) {
		t.Error("matches the wrong sentinel")
	}
	if !errors.Is(err, transport.ErrTimeout) {
		t.Error("cause not unwrapped")
	}
}
