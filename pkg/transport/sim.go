package transport

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// SimBus is an in-process simulated bus. Nodes are scriptable register
// maps; monitor requests read them, control requests write them or
// trigger handlers. SimBus backs the test suites and the ambus-sim tool.
type SimBus struct {
	mu      sync.Mutex
	format  wire.FrameFormat
	nodes   map[wire.NodeID]*SimNode
	latency time.Duration
	busOff  bool
	sent    []wire.Frame
}

// NewSimBus creates a simulated bus using the given frame format.
func NewSimBus(format wire.FrameFormat) *SimBus {
	return &SimBus{
		format: format,
		nodes:  make(map[wire.NodeID]*SimNode),
	}
}

// AddNode attaches a node with the given serial number (8 bytes by
// convention) and returns it for scripting.
func (b *SimBus) AddNode(id wire.NodeID, serial []byte) *SimNode {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := &SimNode{
		id:        id,
		serial:    append([]byte(nil), serial...),
		registers: make(map[wire.RCA][]byte),
		silent:    make(map[wire.RCA]int),
		onControl: make(map[wire.RCA]func([]byte)),
	}
	b.nodes[id] = n
	return n
}

// Node returns the node with the given id, or nil.
func (b *SimBus) Node(id wire.NodeID) *SimNode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nodes[id]
}

// SetLatency adds a fixed delay to every exchange.
func (b *SimBus) SetLatency(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latency = d
}

// SetBusOff injects a bus fault. Every subsequent exchange fails with
// ErrBusOff until cleared.
func (b *SimBus) SetBusOff(off bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.busOff = off
}

// Sent returns the frames transmitted so far, in bus order.
func (b *SimBus) Sent() []wire.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]wire.Frame(nil), b.sent...)
}

// Open claims the named adapter and returns a session on this bus.
func (b *SimBus) Open(adapterID string) (*SimSession, error) {
	if err := claimAdapter(adapterID); err != nil {
		return nil, err
	}
	return &SimSession{
		id:        uuid.NewString(),
		adapterID: adapterID,
		bus:       b,
	}, nil
}

// SimNode is one simulated device on a SimBus.
type SimNode struct {
	mu        sync.Mutex
	id        wire.NodeID
	serial    []byte
	registers map[wire.RCA][]byte
	silent    map[wire.RCA]int
	onControl map[wire.RCA]func([]byte)
}

// SetRegister scripts the reply payload for monitor requests at rca.
func (n *SimNode) SetRegister(rca wire.RCA, data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.registers[rca] = append([]byte(nil), data...)
}

// Register returns the current payload at rca.
func (n *SimNode) Register(rca wire.RCA) ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	data, ok := n.registers[rca]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// OnControl installs a handler invoked with the payload of control
// requests at rca. Without a handler the payload is stored at rca.
func (n *SimNode) OnControl(rca wire.RCA, fn func(payload []byte)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onControl[rca] = fn
}

// Silence makes the node drop all monitor requests at rca.
func (n *SimNode) Silence(rca wire.RCA) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.silent[rca] = -1
}

// SilenceNext makes the node drop the next count monitor requests at
// rca, then answer normally. Used to exercise retry paths.
func (n *SimNode) SilenceNext(rca wire.RCA, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.silent[rca] = count
}

// Unsilence restores normal replies at rca.
func (n *SimNode) Unsilence(rca wire.RCA) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.silent, rca)
}

// dropMonitor reports whether this monitor request should be dropped,
// consuming one silence credit when counted.
func (n *SimNode) dropMonitor(rca wire.RCA) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	remaining, ok := n.silent[rca]
	if !ok {
		return false
	}
	if remaining < 0 {
		return true
	}
	if remaining == 0 {
		delete(n.silent, rca)
		return false
	}
	if remaining == 1 {
		delete(n.silent, rca)
	} else {
		n.silent[rca] = remaining - 1
	}
	return true
}

// handleControl applies a control payload.
func (n *SimNode) handleControl(rca wire.RCA, payload []byte) {
	n.mu.Lock()
	fn := n.onControl[rca]
	if fn == nil {
		n.registers[rca] = append([]byte(nil), payload...)
	}
	n.mu.Unlock()

	if fn != nil {
		fn(append([]byte(nil), payload...))
	}
}

// monitorReply returns the scripted reply, or ok=false when the node
// stays quiet for this rca.
func (n *SimNode) monitorReply(rca wire.RCA) ([]byte, bool) {
	if n.dropMonitor(rca) {
		return nil, false
	}
	return n.Register(rca)
}

// SimSession is an open claim on a SimBus adapter.
type SimSession struct {
	id        string
	adapterID string
	bus       *SimBus

	mu     sync.Mutex
	closed bool
}

// ID returns the session identifier.
func (s *SimSession) ID() string { return s.id }

// AdapterID returns the claimed adapter name.
func (s *SimSession) AdapterID() string { return s.adapterID }

// Exchange performs one request on the simulated bus.
func (s *SimSession) Exchange(req wire.Frame, timeout time.Duration) (wire.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchangeLocked(req, timeout)
}

func (s *SimSession) exchangeLocked(req wire.Frame, timeout time.Duration) (wire.Frame, error) {
	if s.closed {
		return wire.Frame{}, ErrClosed
	}

	s.bus.mu.Lock()
	busOff := s.bus.busOff
	latency := s.bus.latency
	if !busOff {
		s.bus.sent = append(s.bus.sent, req)
	}
	s.bus.mu.Unlock()

	if busOff {
		return wire.Frame{}, ErrBusOff
	}
	if latency > 0 {
		time.Sleep(latency)
	}

	addr, ok := s.bus.format.AddressOf(req.ID)
	if !ok {
		// Broadcast or malformed identifier: nothing addressed replies.
		if len(req.Data) > 0 {
			return wire.Frame{}, nil
		}
		time.Sleep(timeout)
		return wire.Frame{}, ErrTimeout
	}

	node := s.bus.Node(addr.Node)

	// Control: apply and return, the bus carries no acknowledgement.
	if len(req.Data) > 0 {
		if node != nil {
			node.handleControl(addr.RCA, req.Data)
		}
		return wire.Frame{}, nil
	}

	// Monitor: reply only if the node exists and the register is scripted.
	if node != nil {
		if data, ok := node.monitorReply(addr.RCA); ok {
			return wire.Frame{ID: req.ID, Data: data}, nil
		}
	}
	time.Sleep(timeout)
	return wire.Frame{}, ErrTimeout
}

// Broadcast sends the discovery frame; every attached node answers with
// its serial number at the base of its identifier window.
func (s *SimSession) Broadcast(req wire.Frame, timeout time.Duration) ([]wire.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	s.bus.mu.Lock()
	if s.bus.busOff {
		s.bus.mu.Unlock()
		return nil, ErrBusOff
	}
	s.bus.sent = append(s.bus.sent, req)

	// Replies arrive in arbitration order: lowest identifier first.
	var replies []wire.Frame
	for node := wire.NodeID(0); ; node++ {
		if n, ok := s.bus.nodes[node]; ok {
			replies = append(replies, wire.Frame{
				ID:   s.bus.format.ArbitrationID(wire.Address{Node: node, RCA: 0}),
				Data: append([]byte(nil), n.serial...),
			})
		}
		if node == s.bus.format.MaxNode {
			break
		}
	}
	s.bus.mu.Unlock()

	return replies, nil
}

// ExchangeBatch performs the exchanges back to back on the simulated
// bus. Per-exchange timeouts land in the results; only a bus fault fails
// the whole call.
func (s *SimSession) ExchangeBatch(reqs []wire.Frame, timeout time.Duration) ([]BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	results := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		frame, err := s.exchangeLocked(req, timeout)
		if err == ErrBusOff || err == ErrClosed {
			return nil, err
		}
		results[i] = BatchResult{Frame: frame, Err: err}
	}
	return results, nil
}

// Close releases the adapter claim.
func (s *SimSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	releaseAdapter(s.adapterID)
	return nil
}

// Compile-time interface satisfaction checks.
var (
	_ Session        = (*SimSession)(nil)
	_ BatchExchanger = (*SimSession)(nil)
)
