package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// startBridge brings up a SimBus behind a bridge server on a loopback
// port and returns the dialed client session.
func startBridge(t *testing.T, bus *SimBus) *TCPSession {
	t.Helper()

	backend, err := bus.Open("sim-bridge-" + t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	server, err := NewServer(ServerConfig{Address: "127.0.0.1:0", Backend: backend})
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { server.Stop() })

	session, err := Dial(server.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func TestTCPSessionExchange(t *testing.T) {
	bus := NewSimBus(simFormat())
	node := bus.AddNode(0x13, nil)
	node.SetRegister(0x30003, []byte{0x50, 0x00})

	session := startBridge(t, bus)

	req := wire.Frame{ID: simFormat().ArbitrationID(wire.Address{Node: 0x13, RCA: 0x30003})}
	reply, err := session.Exchange(req, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, req.ID, reply.ID)
	assert.Equal(t, []byte{0x50, 0x00}, reply.Data)

	// Control passes through as well.
	ctl := wire.Frame{
		ID:   simFormat().ArbitrationID(wire.Address{Node: 0x13, RCA: 0x2100E}),
		Data: []byte{0x01},
	}
	_, err = session.Exchange(ctl, 50*time.Millisecond)
	require.NoError(t, err)

	stored, ok := node.Register(0x2100E)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01}, stored)
}

func TestTCPSessionTimeoutPassthrough(t *testing.T) {
	bus := NewSimBus(simFormat())
	node := bus.AddNode(0x13, nil)
	node.SetRegister(0x2008, []byte{0xAA})
	node.Silence(0x2008)

	session := startBridge(t, bus)

	req := wire.Frame{ID: simFormat().ArbitrationID(wire.Address{Node: 0x13, RCA: 0x2008})}
	_, err := session.Exchange(req, 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTCPSessionBroadcast(t *testing.T) {
	bus := NewSimBus(simFormat())
	bus.AddNode(0x13, []byte{1, 1, 1, 1, 1, 1, 1, 1})
	bus.AddNode(0x05, []byte{2, 2, 2, 2, 2, 2, 2, 2})

	session := startBridge(t, bus)

	replies, err := session.Broadcast(wire.Frame{ID: simFormat().BroadcastID()}, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, []byte{2, 2, 2, 2, 2, 2, 2, 2}, replies[0].Data)
}

func TestTCPSessionBatch(t *testing.T) {
	bus := NewSimBus(simFormat())
	node := bus.AddNode(0x13, nil)
	node.SetRegister(0x0001, []byte{1})

	session := startBridge(t, bus)

	reqs := []wire.Frame{
		{ID: simFormat().ArbitrationID(wire.Address{Node: 0x13, RCA: 0x0001})},
		{ID: simFormat().ArbitrationID(wire.Address{Node: 0x13, RCA: 0x0002})},
	}
	results, err := session.ExchangeBatch(reqs, 5*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, []byte{1}, results[0].Frame.Data)
	assert.ErrorIs(t, results[1].Err, ErrTimeout)
}

func TestTCPSessionBusOffIsFatal(t *testing.T) {
	bus := NewSimBus(simFormat())
	bus.AddNode(0x13, nil)

	session := startBridge(t, bus)
	bus.SetBusOff(true)

	req := wire.Frame{ID: simFormat().ArbitrationID(wire.Address{Node: 0x13, RCA: 0x0001})}
	_, err := session.Exchange(req, 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrBusOff)
}

func TestTCPSessionDiscardsStaleReplies(t *testing.T) {
	// A hand-rolled server that answers with a stale request id before
	// the real one.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		framer := NewFramer(conn)

		payload, err := framer.ReadFrame()
		if err != nil {
			return
		}
		req, err := DecodeBridgeRequest(payload)
		if err != nil {
			return
		}

		stale, _ := EncodeBridgeResponse(&BridgeResponse{
			RequestID: req.RequestID + 1000,
			Status:    BridgeStatusOK,
			Results:   []BridgeResult{{Status: BridgeStatusOK, Frame: &BridgeFrame{ID: 1, Data: []byte{0xEE}}}},
		})
		framer.WriteFrame(stale)

		fresh, _ := EncodeBridgeResponse(&BridgeResponse{
			RequestID: req.RequestID,
			Status:    BridgeStatusOK,
			Results:   []BridgeResult{{Status: BridgeStatusOK, Frame: &BridgeFrame{ID: req.Frames[0].ID, Data: []byte{0x42}}}},
		})
		framer.WriteFrame(fresh)
	}()

	session, err := Dial(listener.Addr().String())
	require.NoError(t, err)
	defer session.Close()

	req := wire.Frame{ID: simFormat().ArbitrationID(wire.Address{Node: 0x13, RCA: 0x0001})}
	reply, err := session.Exchange(req, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x42}, reply.Data, "stale reply must be discarded")
}

func TestDialClaimsAdapter(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	first, err := Dial(listener.Addr().String())
	require.NoError(t, err)

	_, err = Dial(listener.Addr().String())
	assert.ErrorIs(t, err, ErrAdapterBusy)

	require.NoError(t, first.Close())
	second, err := Dial(listener.Addr().String())
	require.NoError(t, err)
	second.Close()
}
