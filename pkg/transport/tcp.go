package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ambus-protocol/ambus-go/pkg/log"
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// readGrace is added on top of the exchange timeout when waiting for the
// bridge server's answer, covering network and server turnaround.
const readGrace = 2 * time.Second

// TCPSession is a client session on a bus adapter exposed over TCP by a
// bridge server. Requests are correlated by id: answers to requests that
// already timed out locally are recognized as stale and discarded.
type TCPSession struct {
	id        string
	adapterID string
	conn      net.Conn
	framer    *Framer

	mu     sync.Mutex
	nextID uint32
	closed bool
	logger log.Logger
}

// Dial connects to a bridge server and claims the adapter behind it.
// The adapter claim is local to this process and keyed by the address.
func Dial(addr string) (*TCPSession, error) {
	adapterID := "tcp:" + addr
	if err := claimAdapter(adapterID); err != nil {
		return nil, err
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		releaseAdapter(adapterID)
		return nil, fmt.Errorf("failed to connect to bridge: %w", err)
	}

	return &TCPSession{
		id:        uuid.NewString(),
		adapterID: adapterID,
		conn:      conn,
		framer:    NewFramer(conn),
		logger:    log.NoopLogger{},
	}, nil
}

// ID returns the session identifier.
func (s *TCPSession) ID() string { return s.id }

// AdapterID returns the claimed adapter name.
func (s *TCPSession) AdapterID() string { return s.adapterID }

// SetLogger configures traffic logging for this session.
// Pass nil to disable logging.
func (s *TCPSession) SetLogger(logger log.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger == nil {
		logger = log.NoopLogger{}
	}
	s.logger = logger
}

// Exchange performs one frame exchange through the bridge.
func (s *TCPSession) Exchange(req wire.Frame, timeout time.Duration) (wire.Frame, error) {
	results, err := s.roundTrip(BridgeOpExchange, []wire.Frame{req}, timeout)
	if err != nil {
		return wire.Frame{}, err
	}
	if len(results) != 1 {
		return wire.Frame{}, fmt.Errorf("bridge returned %d results, want 1", len(results))
	}
	if err := statusToError(results[0].Status); err != nil {
		return wire.Frame{}, err
	}
	return bridgeToFrame(results[0].Frame), nil
}

// Broadcast performs a node-discovery broadcast through the bridge.
func (s *TCPSession) Broadcast(req wire.Frame, timeout time.Duration) ([]wire.Frame, error) {
	results, err := s.roundTrip(BridgeOpBroadcast, []wire.Frame{req}, timeout)
	if err != nil {
		return nil, err
	}
	replies := make([]wire.Frame, 0, len(results))
	for _, r := range results {
		if r.Status == BridgeStatusOK && r.Frame != nil {
			replies = append(replies, bridgeToFrame(r.Frame))
		}
	}
	return replies, nil
}

// ExchangeBatch submits the exchanges in one bridge round trip.
func (s *TCPSession) ExchangeBatch(reqs []wire.Frame, timeout time.Duration) ([]BatchResult, error) {
	results, err := s.roundTrip(BridgeOpBatch, reqs, timeout)
	if err != nil {
		return nil, err
	}
	if len(results) != len(reqs) {
		return nil, fmt.Errorf("bridge returned %d results, want %d", len(results), len(reqs))
	}
	out := make([]BatchResult, len(results))
	for i, r := range results {
		out[i] = BatchResult{
			Frame: bridgeToFrame(r.Frame),
			Err:   statusToError(r.Status),
		}
	}
	return out, nil
}

// roundTrip sends one bridge request and waits for the matching
// response, discarding stale answers to earlier requests.
func (s *TCPSession) roundTrip(op uint8, frames []wire.Frame, timeout time.Duration) ([]BridgeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	s.nextID++
	req := &BridgeRequest{
		RequestID: s.nextID,
		Op:        op,
		TimeoutMS: uint32(timeout / time.Millisecond),
		Frames:    framesToBridge(frames),
	}

	data, err := EncodeBridgeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := s.framer.WriteFrame(data); err != nil {
		return nil, fmt.Errorf("bridge write failed: %w", err)
	}
	for _, f := range frames {
		s.logFrame(f, log.DirectionOut)
	}

	deadline := time.Now().Add(time.Duration(len(frames))*timeout + readGrace)
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("bridge deadline failed: %w", err)
	}

	for {
		payload, err := s.framer.ReadFrame()
		if err != nil {
			return nil, fmt.Errorf("bridge read failed: %w", err)
		}
		resp, err := DecodeBridgeResponse(payload)
		if err != nil {
			return nil, err
		}
		if resp.RequestID != req.RequestID {
			// Stale answer to a request that already failed locally.
			continue
		}
		if err := statusToError(resp.Status); err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			if r.Status == BridgeStatusOK && r.Frame != nil && len(r.Frame.Data) > 0 {
				s.logFrame(bridgeToFrame(r.Frame), log.DirectionIn)
			}
		}
		return resp.Results, nil
	}
}

func (s *TCPSession) logFrame(f wire.Frame, dir log.Direction) {
	s.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: s.id,
		Direction: dir,
		Layer:     log.LayerTransport,
		Category:  log.CategoryFrame,
		AdapterID: s.adapterID,
		Frame:     &log.FrameEvent{ID: f.ID, Data: f.Data},
	})
}

// Close closes the connection and releases the adapter claim.
func (s *TCPSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	releaseAdapter(s.adapterID)
	return s.conn.Close()
}

func framesToBridge(frames []wire.Frame) []BridgeFrame {
	out := make([]BridgeFrame, len(frames))
	for i, f := range frames {
		out[i] = BridgeFrame{ID: f.ID, Data: f.Data}
	}
	return out
}

func bridgeToFrame(f *BridgeFrame) wire.Frame {
	if f == nil {
		return wire.Frame{}
	}
	return wire.Frame{ID: f.ID, Data: f.Data}
}

// Compile-time interface satisfaction checks.
var (
	_ Session        = (*TCPSession)(nil)
	_ BatchExchanger = (*TCPSession)(nil)
)
